// Package strategy turns MACD indicator output into discrete trade signals.
//
// GenerateSignals is the pure batch form used by the backtester. The
// Strategy interface and Engine are the streaming form used by the paper
// trader: bars are routed to registered strategies and their Decisions are
// collected on a channel. Both share the Crossover rule.
package strategy

import (
	"context"
	"time"

	"macd-backtester/internal/model"
)

// Decision is a non-HOLD signal emitted by a streaming strategy.
type Decision struct {
	StrategyName string       `json:"strategy_name"`
	Symbol       string       `json:"symbol"`
	Signal       model.Signal `json:"signal"`
	Price        float64      `json:"price"` // close of the bar that produced it
	TS           time.Time    `json:"ts"`
	Histogram    float64      `json:"histogram"`
	Reason       string       `json:"reason"`
}

// Strategy is the interface that all streaming strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnBar is called for each closed bar, in order.
	// Return a Decision if the strategy wants to act, or nil to hold.
	OnBar(bar model.Bar) *Decision
}

// Engine manages registered strategies and routes bars to them.
type Engine struct {
	strategies []Strategy
	decisionCh chan Decision
}

// NewEngine creates a new strategy engine.
func NewEngine(decisionBufferSize int) *Engine {
	return &Engine{
		decisionCh: make(chan Decision, decisionBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Decisions returns the channel of decisions emitted by strategies.
// It is closed when Run returns.
func (e *Engine) Decisions() <-chan Decision {
	return e.decisionCh
}

// Run consumes bars and routes them to all registered strategies.
// Blocks until ctx is cancelled or barCh is closed.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar) {
	defer close(e.decisionCh)
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			for _, s := range e.strategies {
				d := s.OnBar(bar)
				if d == nil {
					continue
				}
				select {
				case e.decisionCh <- *d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
