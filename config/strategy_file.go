package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
)

// StrategyFile is the on-disk strategy configuration (YAML).
//
//	strategy:
//	  fast_period: 12
//	  slow_period: 26
//	  signal_period: 9
//	  initial_cash: 10000
//	  position_sizing_fraction: 0.8
//	  commission_rate: 0.002
//	objective: sharpe
//	grid:
//	  fast:   {start: 8,  stop: 16, step: 1}
//	  slow:   {start: 20, stop: 30, step: 1}
//	  signal: {start: 6,  stop: 12, step: 1}
//
// Unknown keys are rejected.
type StrategyFile struct {
	Strategy  StrategySection      `yaml:"strategy"`
	Objective string               `yaml:"objective"`
	Grid      *optimizer.GridSpec  `yaml:"grid"`
	Cells     []optimizer.ParamSet `yaml:"cells"` // explicit grid, used instead of Grid when set
}

// StrategySection mirrors model.StrategyParams with YAML-friendly types.
// Pointer fields distinguish "absent" from zero so defaults can fill in.
type StrategySection struct {
	FastPeriod     *int     `yaml:"fast_period"`
	SlowPeriod     *int     `yaml:"slow_period"`
	SignalPeriod   *int     `yaml:"signal_period"`
	InitialCash    *float64 `yaml:"initial_cash"`
	SizingFraction *float64 `yaml:"position_sizing_fraction"`
	CommissionRate *float64 `yaml:"commission_rate"`
}

// LoadStrategyFile reads path and validates it.
func LoadStrategyFile(path string) (*StrategyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	return ParseStrategyFile(raw)
}

// ParseStrategyFile decodes YAML strictly and validates the result.
func ParseStrategyFile(raw []byte) (*StrategyFile, error) {
	var f StrategyFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: strategy file: %v", model.ErrInvalidParameter, err)
	}
	if _, err := f.Params(model.DefaultParams()); err != nil {
		return nil, err
	}
	if f.Objective != "" {
		if _, err := optimizer.ObjectiveByName(f.Objective); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
		}
	}
	return &f, nil
}

// Params overlays the file's strategy section on base and validates.
func (f *StrategyFile) Params(base model.StrategyParams) (model.StrategyParams, error) {
	p := base
	s := f.Strategy
	if s.FastPeriod != nil {
		p.FastPeriod = *s.FastPeriod
	}
	if s.SlowPeriod != nil {
		p.SlowPeriod = *s.SlowPeriod
	}
	if s.SignalPeriod != nil {
		p.SignalPeriod = *s.SignalPeriod
	}
	if s.InitialCash != nil {
		p.InitialCash = decimal.NewFromFloat(*s.InitialCash)
	}
	if s.SizingFraction != nil {
		p.SizingFraction = *s.SizingFraction
	}
	if s.CommissionRate != nil {
		p.CommissionRate = *s.CommissionRate
	}
	if err := p.Validate(); err != nil {
		return model.StrategyParams{}, err
	}
	return p, nil
}

// OptimizerGrid returns the explicit cells if given, else the expanded
// range spec, else the default sweep.
func (f *StrategyFile) OptimizerGrid() optimizer.Grid {
	if len(f.Cells) > 0 {
		return optimizer.Grid(f.Cells)
	}
	if f.Grid != nil {
		return optimizer.Expand(*f.Grid)
	}
	return optimizer.Expand(optimizer.DefaultGridSpec())
}
