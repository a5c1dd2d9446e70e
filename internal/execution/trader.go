package execution

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/model"
	"macd-backtester/internal/notification"
	"macd-backtester/internal/strategy"
)

// SignalPublisher receives every decision, acted on or not.
// *redis.Publisher satisfies it.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, d strategy.Decision) error
}

// FillRecorder persists fills. *Journal satisfies it.
type FillRecorder interface {
	RecordFill(res OrderResult) error
}

// TraderConfig wires a Trader. Broker is required; the rest are optional.
type TraderConfig struct {
	Broker         Broker
	SizingFraction float64
	Journal        FillRecorder
	Notifier       notification.Notifier
	Publisher      SignalPublisher
	Risk           *RiskManager

	// OnOrder is called after every placement attempt (for metrics).
	OnOrder func(side Side, status string)
}

// Trader maps strategy decisions to orders with the same position rules as
// the backtest simulator: buy only when flat, sell everything only when long,
// ignore everything else.
type Trader struct {
	cfg      TraderConfig
	sizing   decimal.Decimal
	resultCh chan OrderResult
}

// NewTrader validates cfg and creates a Trader.
func NewTrader(cfg TraderConfig, resultBufferSize int) (*Trader, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("%w: trader needs a broker", model.ErrInvalidParameter)
	}
	if !(cfg.SizingFraction > 0 && cfg.SizingFraction <= 1) {
		return nil, fmt.Errorf("%w: position_sizing_fraction=%v must be in (0, 1]", model.ErrInvalidParameter, cfg.SizingFraction)
	}
	return &Trader{
		cfg:      cfg,
		sizing:   decimal.NewFromFloat(cfg.SizingFraction),
		resultCh: make(chan OrderResult, resultBufferSize),
	}, nil
}

// Results returns the channel of filled orders. It is closed when Run returns.
func (t *Trader) Results() <-chan OrderResult {
	return t.resultCh
}

// Run consumes decisions until ctx is cancelled or decisions is closed.
func (t *Trader) Run(ctx context.Context, decisions <-chan strategy.Decision) {
	defer close(t.resultCh)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-decisions:
			if !ok {
				return
			}
			res, err := t.Handle(ctx, d)
			if err != nil {
				log.Printf("[trader] %s %s: %v", d.Signal, d.Symbol, err)
				continue
			}
			if res == nil {
				continue
			}
			select {
			case t.resultCh <- *res:
			default:
				log.Printf("[trader] result channel full, dropping %s", res.OrderID)
			}
		}
	}
}

// Handle applies one decision. It returns (nil, nil) when the decision does
// not fit the current position.
func (t *Trader) Handle(ctx context.Context, d strategy.Decision) (*OrderResult, error) {
	if t.cfg.Publisher != nil {
		if err := t.cfg.Publisher.PublishSignal(ctx, d); err != nil {
			log.Printf("[trader] publish %s: %v", d.Symbol, err)
		}
	}

	held := t.cfg.Broker.Position(d.Symbol)
	var order Order
	switch {
	case d.Signal == model.SignalEnterLong && held.IsZero():
		notional := t.cfg.Broker.Cash().Mul(t.sizing)
		if t.cfg.Risk != nil {
			var err error
			if notional, err = t.cfg.Risk.CheckEntry(notional); err != nil {
				t.notify(ctx, notification.AlertWarning, "Entry blocked", err.Error())
				return nil, err
			}
		}
		order = Order{Symbol: d.Symbol, Side: SideBuy, Notional: notional}
	case d.Signal == model.SignalExitLong && held.IsPositive():
		order = Order{Symbol: d.Symbol, Side: SideSell, Qty: held}
	default:
		log.Printf("[trader] ignoring %s on %s (position %s)", d.Signal, d.Symbol, held)
		return nil, nil
	}
	order.Price = d.Price
	order.Strategy = d.StrategyName
	order.Reason = d.Reason

	res, err := t.cfg.Broker.PlaceOrder(ctx, order)
	if t.cfg.OnOrder != nil {
		status := res.Status
		if status == "" {
			status = "ERROR"
		}
		t.cfg.OnOrder(order.Side, status)
	}
	if err != nil {
		if errors.Is(err, ErrOrderRejected) {
			t.notify(ctx, notification.AlertWarning, "Order rejected", err.Error())
		}
		return nil, err
	}

	if t.cfg.Journal != nil {
		if err := t.cfg.Journal.RecordFill(res); err != nil {
			log.Printf("[trader] journal %s: %v", res.OrderID, err)
		}
	}
	t.notify(ctx, notification.AlertInfo,
		fmt.Sprintf("%s %s", order.Side, order.Symbol),
		fmt.Sprintf("%s qty=%s @ %s, cash %s (%s)", res.OrderID, res.FillQty.StringFixed(8),
			res.FillPrice.StringFixed(4), res.CashAfter.StringFixed(2), d.Reason))
	return &res, nil
}

// Mark updates the risk guard with the account value at price.
func (t *Trader) Mark(symbol string, price float64) decimal.Decimal {
	eq := t.cfg.Broker.Equity(symbol, price)
	if t.cfg.Risk != nil {
		t.cfg.Risk.Mark(eq)
	}
	return eq
}

func (t *Trader) notify(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if t.cfg.Notifier == nil {
		return
	}
	if err := t.cfg.Notifier.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		log.Printf("[trader] notify: %v", err)
	}
}
