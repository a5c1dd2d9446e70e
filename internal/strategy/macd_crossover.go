package strategy

import (
	"fmt"
	"log"

	"macd-backtester/internal/indicator"
	"macd-backtester/internal/model"
)

// MACDCrossover is the streaming form of the histogram crossover rule.
//
// Buy signal: histogram crosses above zero (MACD crosses above its signal line)
// Sell signal: histogram crosses to or below zero
type MACDCrossover struct {
	name   string
	symbol string
	macd   *indicator.MACD
	prev   indicator.MACDPoint
	bars   int
}

// NewMACDCrossover creates a streaming MACD crossover strategy for symbol.
func NewMACDCrossover(symbol string, fast, slow, signal int) (*MACDCrossover, error) {
	m, err := indicator.NewMACD(fast, slow, signal)
	if err != nil {
		return nil, err
	}
	return &MACDCrossover{
		name:   fmt.Sprintf("MACD_Crossover_%d_%d_%d", fast, slow, signal),
		symbol: symbol,
		macd:   m,
	}, nil
}

func (s *MACDCrossover) Name() string {
	return s.name
}

// Warm reports whether the indicator has left its warm-up region.
func (s *MACDCrossover) Warm() bool { return s.prev.Ready }

// WarmUp is the number of bars needed before the first tradable point.
func (s *MACDCrossover) WarmUp() int { return s.macd.WarmUp() + 1 }

// Peek returns the histogram a bar closing at price would produce, without
// advancing the indicator.
func (s *MACDCrossover) Peek(price float64) float64 { return s.macd.Peek(price) }

// Last returns the latest MACD point.
func (s *MACDCrossover) Last() indicator.MACDPoint { return s.prev }

func (s *MACDCrossover) OnBar(bar model.Bar) *Decision {
	cur := s.macd.Next(bar.Close)
	s.bars++

	defer func() {
		s.prev = cur
	}()

	sig := Crossover(s.prev, cur)
	if sig == model.SignalHold {
		return nil
	}

	reason := "MACD histogram crossed above zero"
	if sig == model.SignalExitLong {
		reason = "MACD histogram crossed to or below zero"
	}
	log.Printf("[strategy] %s: %s on %s at %.4f (hist %.6f → %.6f, bar %d)",
		s.name, sig, s.symbol, bar.Close, s.prev.Histogram, cur.Histogram, s.bars)

	return &Decision{
		StrategyName: s.name,
		Symbol:       s.symbol,
		Signal:       sig,
		Price:        bar.Close,
		TS:           bar.TS,
		Histogram:    cur.Histogram,
		Reason:       reason,
	}
}
