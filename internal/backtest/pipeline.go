package backtest

import (
	"macd-backtester/internal/indicator"
	"macd-backtester/internal/model"
	"macd-backtester/internal/strategy"
)

// Run executes the full pipeline for one parameter set:
// validate → MACD → signals → simulate → summarize.
// It shares nothing with other calls and is safe to run concurrently on the
// same bars.
func Run(bars []model.Bar, params model.StrategyParams) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}
	frame, err := indicator.ComputeMACD(model.Closes(bars), params.FastPeriod, params.SlowPeriod, params.SignalPeriod)
	if err != nil {
		return nil, err
	}
	return Simulate(bars, strategy.GenerateSignals(frame), params)
}
