package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"macd-backtester/config"
	"macd-backtester/internal/model"
)

// paramFlags are the strategy overrides shared by backtest, optimize and
// compare. Precedence: flag > --config file > environment.
type paramFlags struct {
	fast, slow, signal int
	cash               float64
	size               float64
	commission         float64
}

func (p *paramFlags) register(cmd *cobra.Command, periods bool) {
	fs := cmd.Flags()
	if periods {
		fs.IntVar(&p.fast, "fast", 12, "Fast EMA period")
		fs.IntVar(&p.slow, "slow", 26, "Slow EMA period")
		fs.IntVar(&p.signal, "signal", 9, "Signal EMA period")
	}
	fs.Float64Var(&p.cash, "cash", 10000, "Initial cash")
	fs.Float64Var(&p.size, "size", 1.0, "Fraction of cash spent per entry (0, 1]")
	fs.Float64Var(&p.commission, "commission", 0.002, "Commission rate per fill [0, 1)")
}

// resolve builds validated params and returns the strategy file, if any.
func (p *paramFlags) resolve(cmd *cobra.Command) (model.StrategyParams, *config.StrategyFile, error) {
	base, err := state.cfg.StrategyParams()
	if err != nil {
		return model.StrategyParams{}, nil, err
	}
	var sf *config.StrategyFile
	if flagConfig != "" {
		sf, err = config.LoadStrategyFile(flagConfig)
		if err != nil {
			return model.StrategyParams{}, nil, err
		}
		if base, err = sf.Params(base); err != nil {
			return model.StrategyParams{}, nil, err
		}
	}

	fs := cmd.Flags()
	if fs.Changed("fast") {
		base.FastPeriod = p.fast
	}
	if fs.Changed("slow") {
		base.SlowPeriod = p.slow
	}
	if fs.Changed("signal") {
		base.SignalPeriod = p.signal
	}
	if fs.Changed("cash") {
		base.InitialCash = decimal.NewFromFloat(p.cash)
	}
	if fs.Changed("size") {
		base.SizingFraction = p.size
	}
	if fs.Changed("commission") {
		base.CommissionRate = p.commission
	}
	if err := base.Validate(); err != nil {
		return model.StrategyParams{}, nil, err
	}
	return base, sf, nil
}
