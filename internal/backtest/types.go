// Package backtest replays a price series bar by bar against MACD signals,
// tracking a single long-only position with fractional sizing.
//
// Cash, units and PnL are kept in shopspring/decimal so that the cash ≥ 0
// invariant holds exactly; statistics are derived in float64 afterwards.
package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/model"
	"macd-backtester/internal/report"
)

// Position is the mutable state of a run. It lives only inside Simulate.
type Position struct {
	Cash       decimal.Decimal
	Units      decimal.Decimal
	EntryPrice decimal.Decimal
	EntryIndex int
	EntryTime  time.Time
	Open       bool
}

// Trade is a closed round trip.
type Trade struct {
	EntryIndex int             `json:"entry_bar_index"`
	ExitIndex  int             `json:"exit_bar_index"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Size       decimal.Decimal `json:"size"`
	PnL        decimal.Decimal `json:"pnl"`
	ReturnPct  float64         `json:"return_pct"` // pnl relative to units × entry_price
}

// OpenTrade is a position still held when the series ends. It is not
// force-closed and is excluded from closed-trade statistics.
type OpenTrade struct {
	EntryIndex    int             `json:"entry_bar_index"`
	EntryTime     time.Time       `json:"entry_time"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Size          decimal.Decimal `json:"size"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// EquityPoint is the mark-to-market state after processing one bar.
type EquityPoint struct {
	Index  int             `json:"index"`
	TS     time.Time       `json:"ts"`
	Close  decimal.Decimal `json:"close"`
	Cash   decimal.Decimal `json:"cash"`
	Units  decimal.Decimal `json:"units"`
	Equity decimal.Decimal `json:"equity"`
}

// Result is the immutable outcome of one run.
type Result struct {
	Params  model.StrategyParams `json:"params"`
	Equity  []EquityPoint        `json:"equity"`
	Trades  []Trade              `json:"trades"`
	Open    *OpenTrade           `json:"open,omitempty"`
	Signals []model.Signal       `json:"-"`
	Stats   report.Statistics    `json:"stats"`

	// Entries and Exits count signals that were actually applied.
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
}

// FinalEquity returns the last equity point, or the initial cash when the
// run has no bars.
func (r *Result) FinalEquity() decimal.Decimal {
	if len(r.Equity) == 0 {
		return r.Params.InitialCash
	}
	return r.Equity[len(r.Equity)-1].Equity
}

func (r *Result) reportInput(bars []model.Bar) report.Input {
	in := report.Input{
		InitialCash:    r.Params.InitialCash.InexactFloat64(),
		Equity:         make([]float64, len(r.Equity)),
		Times:          make([]time.Time, len(r.Equity)),
		TradePnL:       make([]float64, len(r.Trades)),
		TradeReturnPct: make([]float64, len(r.Trades)),
	}
	for i, p := range r.Equity {
		in.Equity[i] = p.Equity.InexactFloat64()
		in.Times[i] = p.TS
		if p.Units.IsPositive() {
			in.BarsInPosition++
		}
	}
	for i, t := range r.Trades {
		in.TradePnL[i] = t.PnL.InexactFloat64()
		in.TradeReturnPct[i] = t.ReturnPct
	}
	if len(bars) > 0 {
		in.FirstClose = bars[0].Close
		in.LastClose = bars[len(bars)-1].Close
	}
	return in
}
