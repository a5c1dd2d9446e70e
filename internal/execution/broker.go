// Package execution turns live strategy decisions into orders.
//
// Broker abstracts order placement. PaperBroker fills orders locally with
// simulated slippage and commission, using the same sizing arithmetic as the
// backtest simulator. Trader sits between the strategy engine and a Broker.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order statuses.
const (
	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
)

// ErrOrderRejected is returned (wrapped) when a broker refuses an order.
var ErrOrderRejected = errors.New("order rejected")

// Order is a market order. Buys are sized by Notional (quote currency to
// spend, commission included); sells by Qty.
type Order struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Qty      decimal.Decimal `json:"qty"`
	Notional decimal.Decimal `json:"notional"`
	Price    float64         `json:"price"` // reference price, e.g. the signal bar close
	Strategy string          `json:"strategy"`
	Reason   string          `json:"reason"`
}

// OrderResult represents the outcome of an order placement.
type OrderResult struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Order      Order           `json:"order"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	FillQty    decimal.Decimal `json:"fill_qty"`
	Slippage   decimal.Decimal `json:"slippage"`
	Commission decimal.Decimal `json:"commission"`
	CashAfter  decimal.Decimal `json:"cash_after"`
	FilledAt   time.Time       `json:"filled_at"`
}

// Broker places orders and reports account state.
type Broker interface {
	PlaceOrder(ctx context.Context, o Order) (OrderResult, error)
	Position(symbol string) decimal.Decimal
	Cash() decimal.Decimal
	// Equity is cash plus the symbol position at price, read atomically.
	Equity(symbol string, price float64) decimal.Decimal
}
