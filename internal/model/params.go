package model

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// StrategyParams is the full configuration of one MACD backtest run.
type StrategyParams struct {
	FastPeriod     int             `json:"fast_period"`
	SlowPeriod     int             `json:"slow_period"`
	SignalPeriod   int             `json:"signal_period"`
	InitialCash    decimal.Decimal `json:"initial_cash"`
	SizingFraction float64         `json:"position_sizing_fraction"`
	CommissionRate float64         `json:"commission_rate"`
}

// DefaultParams returns the classic 12/26/9 setup with 10000 starting cash,
// full sizing and no commission.
func DefaultParams() StrategyParams {
	return StrategyParams{
		FastPeriod:     12,
		SlowPeriod:     26,
		SignalPeriod:   9,
		InitialCash:    decimal.NewFromInt(10000),
		SizingFraction: 1.0,
		CommissionRate: 0,
	}
}

// ValidatePeriods checks only the indicator periods.
func ValidatePeriods(fast, slow, signal int) error {
	if fast < 1 {
		return fmt.Errorf("%w: fast_period=%d must be >= 1", ErrInvalidParameter, fast)
	}
	if fast >= slow {
		return fmt.Errorf("%w: fast_period=%d must be < slow_period=%d", ErrInvalidParameter, fast, slow)
	}
	if signal < 1 {
		return fmt.Errorf("%w: signal_period=%d must be >= 1", ErrInvalidParameter, signal)
	}
	return nil
}

// ValidateExecution checks the cash, sizing and commission settings.
func (p StrategyParams) ValidateExecution() error {
	if !p.InitialCash.IsPositive() {
		return fmt.Errorf("%w: initial_cash=%s must be > 0", ErrInvalidParameter, p.InitialCash)
	}
	if math.IsNaN(p.SizingFraction) || p.SizingFraction <= 0 || p.SizingFraction > 1 {
		return fmt.Errorf("%w: position_sizing_fraction=%v must be in (0, 1]", ErrInvalidParameter, p.SizingFraction)
	}
	if math.IsNaN(p.CommissionRate) || p.CommissionRate < 0 || p.CommissionRate >= 1 {
		return fmt.Errorf("%w: commission_rate=%v must be in [0, 1)", ErrInvalidParameter, p.CommissionRate)
	}
	return nil
}

// Validate checks every constraint on the parameters.
func (p StrategyParams) Validate() error {
	if err := ValidatePeriods(p.FastPeriod, p.SlowPeriod, p.SignalPeriod); err != nil {
		return err
	}
	return p.ValidateExecution()
}

// WithPeriods returns a copy of p with the indicator periods replaced.
func (p StrategyParams) WithPeriods(fast, slow, signal int) StrategyParams {
	p.FastPeriod, p.SlowPeriod, p.SignalPeriod = fast, slow, signal
	return p
}

func (p StrategyParams) String() string {
	return fmt.Sprintf("MACD(%d,%d,%d) cash=%s size=%.2f comm=%.4f",
		p.FastPeriod, p.SlowPeriod, p.SignalPeriod, p.InitialCash.StringFixed(2), p.SizingFraction, p.CommissionRate)
}
