package optimizer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
)

// Config is a named parameter set for side-by-side comparison.
type Config struct {
	Name   string               `json:"name"`
	Params model.StrategyParams `json:"params"`
}

// Comparison is the outcome of one named configuration.
type Comparison struct {
	Name   string           `json:"name"`
	Result *backtest.Result `json:"result,omitempty"`
	Err    string           `json:"error,omitempty"`
}

// DefaultConfigs returns the standard, fast and slow MACD setups on top of
// base's cash and commission.
func DefaultConfigs(base model.StrategyParams) []Config {
	mk := func(name string, f, s, sig int, size float64) Config {
		p := base.WithPeriods(f, s, sig)
		p.SizingFraction = size
		return Config{Name: name, Params: p}
	}
	return []Config{
		mk("standard", 12, 26, 9, 0.8),
		mk("fast", 8, 21, 5, 0.6),
		mk("slow", 15, 30, 12, 1.0),
	}
}

// Compare runs each configuration on the same bars. A failing configuration
// is reported in its Comparison and does not stop the others.
func Compare(ctx context.Context, bars []model.Bar, configs []Config) ([]Comparison, error) {
	out := make([]Comparison, 0, len(configs))
	for i, c := range configs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("config_%d", i+1)
		}
		res, err := backtest.Run(bars, c.Params)
		if err != nil {
			out = append(out, Comparison{Name: name, Err: err.Error()})
			continue
		}
		out = append(out, Comparison{Name: name, Result: res})
	}
	return out, nil
}

// BestComparison returns the comparison with the highest final equity.
func BestComparison(cs []Comparison) (Comparison, bool) {
	var best Comparison
	var bestEq decimal.Decimal
	found := false
	for _, c := range cs {
		if c.Result == nil {
			continue
		}
		eq := c.Result.FinalEquity()
		if !found || eq.GreaterThan(bestEq) {
			best, bestEq, found = c, eq, true
		}
	}
	return best, found
}
