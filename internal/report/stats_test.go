package report

import (
	"math"
	"testing"
	"time"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func hourly(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * time.Hour)
	}
	return ts
}

func TestSummarize_ReturnAndDrawdown(t *testing.T) {
	// Peak 120 → trough 90 = 25% drawdown, then recovery to 110.
	equity := []float64{100, 120, 100, 90, 110}
	st := Summarize(Input{
		InitialCash: 100,
		Equity:      equity,
		Times:       hourly(len(equity)),
		FirstClose:  50,
		LastClose:   55,
	})

	assertClose(t, "total return", st.TotalReturnPct, 10.0, 1e-9)
	assertClose(t, "max drawdown", st.MaxDrawdownPct, 25.0, 1e-9)
	assertClose(t, "peak", st.PeakEquity, 120, 1e-9)
	assertClose(t, "buy&hold", st.BuyHoldReturnPct, 10.0, 1e-9)
	if st.MaxDrawdownBars != 3 {
		t.Errorf("MaxDrawdownBars = %d, want 3", st.MaxDrawdownBars)
	}
	if st.Bars != 5 || !st.Start.Equal(hourly(1)[0]) {
		t.Errorf("bars/start not set: %+v", st)
	}
}

func TestSummarize_NoTrades(t *testing.T) {
	equity := []float64{10000, 10000, 10000}
	st := Summarize(Input{InitialCash: 10000, Equity: equity, Times: hourly(3)})

	if st.WinRate != 0 || math.IsNaN(st.WinRate) {
		t.Errorf("WinRate = %v, want 0", st.WinRate)
	}
	if st.TradeCount != 0 {
		t.Errorf("TradeCount = %d, want 0", st.TradeCount)
	}
	if st.TotalReturnPct != 0 || st.MaxDrawdownPct != 0 {
		t.Errorf("flat curve: return=%v dd=%v", st.TotalReturnPct, st.MaxDrawdownPct)
	}
	if st.Sharpe != 0 || st.Sortino != 0 {
		t.Errorf("flat curve ratios should be 0: sharpe=%v sortino=%v", st.Sharpe, st.Sortino)
	}
}

func TestSummarize_TradeStats(t *testing.T) {
	st := Summarize(Input{
		InitialCash:    1000,
		Equity:         []float64{1000, 1030},
		TradePnL:       []float64{50, -20, 0},
		TradeReturnPct: []float64{5, -2, 0},
		BarsInPosition: 1,
	})

	if st.TradeCount != 3 {
		t.Errorf("TradeCount = %d", st.TradeCount)
	}
	assertClose(t, "win rate", st.WinRate, 1.0/3.0, 1e-12)
	assertClose(t, "profit factor", st.ProfitFactor, 2.5, 1e-12)
	assertClose(t, "expectancy", st.Expectancy, 10, 1e-12)
	assertClose(t, "best", st.BestTradePct, 5, 1e-12)
	assertClose(t, "worst", st.WorstTradePct, -2, 1e-12)
	assertClose(t, "avg", st.AvgTradePct, 1, 1e-12)
	assertClose(t, "exposure", st.ExposurePct, 50, 1e-12)
}

func TestSummarize_ProfitFactorWithoutLosses(t *testing.T) {
	st := Summarize(Input{InitialCash: 100, Equity: []float64{100, 110}, TradePnL: []float64{10}, TradeReturnPct: []float64{10}})
	if !st.ProfitFactorInfinite || st.ProfitFactor != 0 {
		t.Errorf("expected infinite flag, got pf=%v inf=%v", st.ProfitFactor, st.ProfitFactorInfinite)
	}
}

func TestSharpe_AnnualizedByBarSpacing(t *testing.T) {
	equity := []float64{100, 101, 100.5, 102, 101.5, 103}
	perBar := sharpe(barReturns(equity))
	if perBar <= 0 {
		t.Fatalf("per-bar sharpe should be positive, got %v", perBar)
	}

	st := Summarize(Input{InitialCash: 100, Equity: equity, Times: hourly(len(equity))})
	assertClose(t, "annualized sharpe", st.Sharpe, perBar*math.Sqrt(365*24), 1e-9)

	noTimes := Summarize(Input{InitialCash: 100, Equity: equity})
	assertClose(t, "per-bar sharpe", noTimes.Sharpe, perBar, 1e-12)
}

func TestSummarize_DoesNotMutateInput(t *testing.T) {
	equity := []float64{100, 90, 95}
	pnl := []float64{-5, 3}
	Summarize(Input{InitialCash: 100, Equity: equity, TradePnL: pnl})
	if equity[1] != 90 || pnl[0] != -5 {
		t.Error("Summarize modified its input")
	}
}
