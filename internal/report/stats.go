// Package report derives summary statistics from a finished backtest.
//
// Summarize is a pure function of its Input; it never modifies the slices it
// receives. The backtest package builds the Input from its decimal ledger so
// this package stays free of simulator types.
package report

import (
	"math"
	"sort"
	"time"
)

// Input is the float view of a finished run that Summarize needs.
type Input struct {
	InitialCash    float64
	Equity         []float64   // one per bar
	Times          []time.Time // aligned with Equity
	TradePnL       []float64   // closed trades only
	TradeReturnPct []float64   // closed trades only
	BarsInPosition int
	FirstClose     float64
	LastClose      float64
}

// Statistics is the fixed-shape summary of one backtest.
type Statistics struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Bars  int       `json:"bars"`

	InitialCash      float64 `json:"initial_cash"`
	FinalEquity      float64 `json:"final_equity"`
	PeakEquity       float64 `json:"peak_equity"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	BuyHoldReturnPct float64 `json:"buy_hold_return_pct"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`  // positive, e.g. 12.5 = 12.5% below peak
	MaxDrawdownBars  int     `json:"max_drawdown_bars"` // longest stretch below a previous peak
	ExposurePct      float64 `json:"exposure_pct"`

	TradeCount           int     `json:"trade_count"`
	WinRate              float64 `json:"win_rate"` // 0..1
	BestTradePct         float64 `json:"best_trade_pct"`
	WorstTradePct        float64 `json:"worst_trade_pct"`
	AvgTradePct          float64 `json:"avg_trade_pct"`
	ProfitFactor         float64 `json:"profit_factor"`
	ProfitFactorInfinite bool    `json:"profit_factor_infinite"`
	Expectancy           float64 `json:"expectancy"`

	Sharpe  float64 `json:"sharpe"`
	Sortino float64 `json:"sortino"`
}

// Summarize computes Statistics from a run.
func Summarize(in Input) Statistics {
	st := Statistics{
		Bars:        len(in.Equity),
		InitialCash: in.InitialCash,
		TradeCount:  len(in.TradePnL),
	}
	if len(in.Times) > 0 {
		st.Start = in.Times[0]
		st.End = in.Times[len(in.Times)-1]
	}

	if len(in.Equity) > 0 {
		st.FinalEquity = in.Equity[len(in.Equity)-1]
		st.PeakEquity, st.MaxDrawdownPct, st.MaxDrawdownBars = drawdown(in.Equity)
		st.ExposurePct = float64(in.BarsInPosition) / float64(len(in.Equity)) * 100
	} else {
		st.FinalEquity = in.InitialCash
		st.PeakEquity = in.InitialCash
	}
	if in.InitialCash > 0 {
		st.TotalReturnPct = (st.FinalEquity/in.InitialCash - 1) * 100
	}
	if in.FirstClose > 0 {
		st.BuyHoldReturnPct = (in.LastClose/in.FirstClose - 1) * 100
	}

	tradeStats(&st, in.TradePnL, in.TradeReturnPct)

	returns := barReturns(in.Equity)
	ann := math.Sqrt(periodsPerYear(in.Times))
	st.Sharpe = sharpe(returns) * ann
	st.Sortino = sortino(returns) * ann
	return st
}

// drawdown walks the curve once, tracking the running peak.
func drawdown(equity []float64) (peak, maxPct float64, maxBars int) {
	peak = equity[0]
	under := 0
	for _, e := range equity {
		if e >= peak {
			peak = e
			under = 0
			continue
		}
		under++
		if under > maxBars {
			maxBars = under
		}
		if peak > 0 {
			if dd := (peak - e) / peak * 100; dd > maxPct {
				maxPct = dd
			}
		}
	}
	return peak, maxPct, maxBars
}

func tradeStats(st *Statistics, pnl, retPct []float64) {
	if len(pnl) == 0 {
		return
	}
	wins := 0
	var grossWin, grossLoss, total float64
	for _, p := range pnl {
		total += p
		switch {
		case p > 0:
			wins++
			grossWin += p
		case p < 0:
			grossLoss -= p
		}
	}
	st.WinRate = float64(wins) / float64(len(pnl))
	st.Expectancy = total / float64(len(pnl))

	switch {
	case grossLoss > 0:
		st.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		st.ProfitFactorInfinite = true
	}

	if len(retPct) > 0 {
		st.BestTradePct, st.WorstTradePct = retPct[0], retPct[0]
		var sum float64
		for _, r := range retPct {
			sum += r
			st.BestTradePct = math.Max(st.BestTradePct, r)
			st.WorstTradePct = math.Min(st.WorstTradePct, r)
		}
		st.AvgTradePct = sum / float64(len(retPct))
	}
}

func barReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// sharpe is the per-bar mean/stdev of returns (sample stdev, zero risk-free).
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var ss float64
	for _, r := range returns {
		ss += (r - m) * (r - m)
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	if sd == 0 {
		return 0
	}
	return m / sd
}

func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var down float64
	for _, r := range returns {
		if r < 0 {
			down += r * r
		}
	}
	if down == 0 {
		return 0
	}
	return mean(returns) / math.Sqrt(down/float64(len(returns)))
}

// periodsPerYear infers the bar frequency from the median spacing.
// Returns 1 when it cannot be inferred, leaving ratios per-bar.
func periodsPerYear(times []time.Time) float64 {
	if len(times) < 2 {
		return 1
	}
	gaps := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		if d := times[i].Sub(times[i-1]); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return 1
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]
	return float64(365*24*time.Hour) / float64(median)
}
