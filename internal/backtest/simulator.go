package backtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/model"
	"macd-backtester/internal/report"
)

var hundred = decimal.NewFromInt(100)

// simulator holds the per-run state. One simulator serves exactly one run
// and is driven from a single goroutine.
type simulator struct {
	pos       Position
	sizing    decimal.Decimal
	keep      decimal.Decimal // 1 − commission
	trades    []Trade
	equity    []EquityPoint
	entries   int
	exits     int
	lastClose decimal.Decimal
}

func newSimulator(p model.StrategyParams, bars int) *simulator {
	return &simulator{
		pos:    Position{Cash: p.InitialCash},
		sizing: decimal.NewFromFloat(p.SizingFraction),
		keep:   decimal.NewFromInt(1).Sub(decimal.NewFromFloat(p.CommissionRate)),
		trades: make([]Trade, 0, 16),
		equity: make([]EquityPoint, 0, bars),
	}
}

// Simulate replays bars with their aligned signals and returns the result
// with statistics attached. It fails fast on invalid input and never
// returns a partial result.
func Simulate(bars []model.Bar, signals []model.Signal, params model.StrategyParams) (*Result, error) {
	if err := params.ValidateExecution(); err != nil {
		return nil, err
	}
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}
	if len(signals) != len(bars) {
		return nil, fmt.Errorf("%w: %d signals for %d bars", model.ErrInvalidSeries, len(signals), len(bars))
	}

	sim := newSimulator(params, len(bars))
	for i, bar := range bars {
		if err := sim.step(i, bar, signals[i]); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Params:  params,
		Equity:  sim.equity,
		Trades:  sim.trades,
		Open:    sim.openTrade(),
		Signals: signals,
		Entries: sim.entries,
		Exits:   sim.exits,
	}
	res.Stats = report.Summarize(res.reportInput(bars))
	return res, nil
}

// step applies one bar: act on the signal, check invariants, then mark to
// market. Signals that do not fit the current position are ignored.
func (s *simulator) step(i int, bar model.Bar, sig model.Signal) error {
	price := decimal.NewFromFloat(bar.Close)

	switch {
	case sig == model.SignalEnterLong && !s.pos.Open:
		s.enter(i, bar.TS, price)
	case sig == model.SignalExitLong && s.pos.Open:
		s.exit(i, bar.TS, price)
	}

	if s.pos.Cash.IsNegative() || s.pos.Units.IsNegative() {
		return fmt.Errorf("%w: bar %d cash=%s units=%s", model.ErrSimulationInvariant, i, s.pos.Cash, s.pos.Units)
	}
	if s.pos.Open != s.pos.Units.IsPositive() {
		return fmt.Errorf("%w: bar %d open=%v units=%s", model.ErrSimulationInvariant, i, s.pos.Open, s.pos.Units)
	}

	s.lastClose = price
	s.equity = append(s.equity, EquityPoint{
		Index:  i,
		TS:     bar.TS,
		Close:  price,
		Cash:   s.pos.Cash,
		Units:  s.pos.Units,
		Equity: s.pos.Cash.Add(s.pos.Units.Mul(price)),
	})
	return nil
}

// enter commits cash × sizing. Commission comes out of the position size,
// so the whole spend leaves cash and units = spend × (1 − c) / price.
func (s *simulator) enter(i int, ts time.Time, price decimal.Decimal) {
	spend := s.pos.Cash.Mul(s.sizing)
	units := spend.Mul(s.keep).Div(price)
	if !units.IsPositive() {
		return
	}
	s.pos.Cash = s.pos.Cash.Sub(spend)
	s.pos.Units = units
	s.pos.EntryPrice = price
	s.pos.EntryIndex = i
	s.pos.EntryTime = ts
	s.pos.Open = true
	s.entries++
}

// exit sells the whole position at price less commission.
func (s *simulator) exit(i int, ts time.Time, price decimal.Decimal) {
	proceeds := s.pos.Units.Mul(price).Mul(s.keep)
	cost := s.pos.Units.Mul(s.pos.EntryPrice)
	pnl := proceeds.Sub(cost)

	t := Trade{
		EntryIndex: s.pos.EntryIndex,
		ExitIndex:  i,
		EntryTime:  s.pos.EntryTime,
		ExitTime:   ts,
		EntryPrice: s.pos.EntryPrice,
		ExitPrice:  price,
		Size:       s.pos.Units,
		PnL:        pnl,
	}
	if cost.IsPositive() {
		t.ReturnPct = pnl.Div(cost).Mul(hundred).InexactFloat64()
	}
	s.trades = append(s.trades, t)

	s.pos.Cash = s.pos.Cash.Add(proceeds)
	s.pos.Units = decimal.Zero
	s.pos.EntryPrice = decimal.Zero
	s.pos.Open = false
	s.exits++
}

func (s *simulator) openTrade() *OpenTrade {
	if !s.pos.Open {
		return nil
	}
	return &OpenTrade{
		EntryIndex:    s.pos.EntryIndex,
		EntryTime:     s.pos.EntryTime,
		EntryPrice:    s.pos.EntryPrice,
		Size:          s.pos.Units,
		LastPrice:     s.lastClose,
		UnrealizedPnL: s.pos.Units.Mul(s.lastClose.Sub(s.pos.EntryPrice)),
	}
}
