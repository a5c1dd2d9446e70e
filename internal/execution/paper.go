package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PaperBroker simulates order execution without real broker calls.
//
// A buy spends its Notional: units = notional × (1 − commission) / fill.
// A sell returns units × fill × (1 − commission). Fill prices are the
// reference price moved against the order by slippageBps.
type PaperBroker struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	fills     []OrderResult
	orderSeq  int64

	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)
	keep        decimal.Decimal
	commission  decimal.Decimal
	now         func() time.Time
}

// NewPaperBroker creates a paper broker holding initialCash.
func NewPaperBroker(initialCash decimal.Decimal, commissionRate float64, slippageBps int64) *PaperBroker {
	c := decimal.NewFromFloat(commissionRate)
	return &PaperBroker{
		cash:        initialCash,
		positions:   make(map[string]decimal.Decimal),
		fills:       make([]OrderResult, 0, 64),
		slippageBps: slippageBps,
		commission:  c,
		keep:        decimal.NewFromInt(1).Sub(c),
		now:         time.Now,
	}
}

func (p *PaperBroker) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *PaperBroker) Position(symbol string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// Equity marks the account to market at price for symbol.
func (p *PaperBroker) Equity(symbol string, price float64) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash.Add(p.positions[symbol].Mul(decimal.NewFromFloat(price)))
}

// Fills returns a snapshot of all fills.
func (p *PaperBroker) Fills() []OrderResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]OrderResult, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, o Order) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	if o.Price <= 0 {
		return p.reject(o, fmt.Sprintf("invalid reference price %v", o.Price))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderSeq++
	res := OrderResult{
		OrderID:  fmt.Sprintf("PAPER-%d", p.orderSeq),
		Order:    o,
		FilledAt: p.now().UTC(),
	}

	ref := decimal.NewFromFloat(o.Price)
	slip := ref.Mul(decimal.NewFromInt(p.slippageBps)).Div(bpsDivisor)

	switch o.Side {
	case SideBuy:
		if !o.Notional.IsPositive() {
			return p.rejectLocked(res, "buy notional must be positive")
		}
		if o.Notional.GreaterThan(p.cash) {
			return p.rejectLocked(res, fmt.Sprintf("notional %s exceeds cash %s", o.Notional, p.cash))
		}
		res.FillPrice = ref.Add(slip) // buy higher
		res.Commission = o.Notional.Mul(p.commission)
		res.FillQty = o.Notional.Mul(p.keep).Div(res.FillPrice)
		p.cash = p.cash.Sub(o.Notional)
		p.positions[o.Symbol] = p.positions[o.Symbol].Add(res.FillQty)

	case SideSell:
		held := p.positions[o.Symbol]
		if !o.Qty.IsPositive() || o.Qty.GreaterThan(held) {
			return p.rejectLocked(res, fmt.Sprintf("sell qty %s with position %s", o.Qty, held))
		}
		res.FillPrice = ref.Sub(slip) // sell lower
		gross := o.Qty.Mul(res.FillPrice)
		res.Commission = gross.Mul(p.commission)
		res.FillQty = o.Qty
		p.cash = p.cash.Add(gross.Sub(res.Commission))
		p.positions[o.Symbol] = held.Sub(o.Qty)

	default:
		return p.rejectLocked(res, fmt.Sprintf("unknown side %q", o.Side))
	}

	res.Status = StatusFilled
	res.Slippage = slip
	res.CashAfter = p.cash
	res.Message = fmt.Sprintf("paper filled at %s", res.FillPrice.StringFixed(8))
	p.fills = append(p.fills, res)

	log.Printf("[paper] %s %s %s qty=%s price=%s (slip=%s fee=%s) order=%s reason=%s",
		o.Side, o.Strategy, o.Symbol, res.FillQty.StringFixed(8), res.FillPrice, slip,
		res.Commission, res.OrderID, o.Reason)
	return res, nil
}

func (p *PaperBroker) reject(o Order, msg string) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderSeq++
	return p.rejectLocked(OrderResult{OrderID: fmt.Sprintf("PAPER-%d", p.orderSeq), Order: o, FilledAt: p.now().UTC()}, msg)
}

func (p *PaperBroker) rejectLocked(res OrderResult, msg string) (OrderResult, error) {
	res.Status = StatusRejected
	res.Message = msg
	res.CashAfter = p.cash
	log.Printf("[paper] rejected %s %s: %s", res.Order.Side, res.Order.Symbol, msg)
	return res, fmt.Errorf("%w: %s", ErrOrderRejected, msg)
}
