// Package optimizer sweeps MACD parameter grids over a price series.
//
// Every grid cell runs the full backtest pipeline independently; cells are
// evaluated by a bounded worker pool and reduced by an objective function.
// Invalid or failing cells are recorded and skipped, never fatal.
package optimizer

import (
	"fmt"

	"macd-backtester/internal/model"
)

// ParamSet is one (fast, slow, signal) grid cell.
type ParamSet struct {
	Fast   int `json:"fast" yaml:"fast"`
	Slow   int `json:"slow" yaml:"slow"`
	Signal int `json:"signal" yaml:"signal"`
}

func (p ParamSet) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.Fast, p.Slow, p.Signal)
}

// Validate reports why a cell cannot be evaluated.
func (p ParamSet) Validate() error {
	return model.ValidatePeriods(p.Fast, p.Slow, p.Signal)
}

// Grid is an explicit, ordered enumeration of cells. Order decides ties.
type Grid []ParamSet

// Range is a half-open integer range [Start, Stop) walked by Step.
type Range struct {
	Start int `json:"start" yaml:"start"`
	Stop  int `json:"stop" yaml:"stop"`
	Step  int `json:"step" yaml:"step"`
}

func (r Range) values() []int {
	step := r.Step
	if step <= 0 {
		step = 1
	}
	var out []int
	for v := r.Start; v < r.Stop; v += step {
		out = append(out, v)
	}
	return out
}

// GridSpec describes a grid as three ranges.
type GridSpec struct {
	Fast   Range `json:"fast" yaml:"fast"`
	Slow   Range `json:"slow" yaml:"slow"`
	Signal Range `json:"signal" yaml:"signal"`
}

// DefaultGridSpec is the classic sweep: fast 8–15, slow 20–29, signal 6–11.
func DefaultGridSpec() GridSpec {
	return GridSpec{
		Fast:   Range{Start: 8, Stop: 16, Step: 1},
		Slow:   Range{Start: 20, Stop: 30, Step: 1},
		Signal: Range{Start: 6, Stop: 12, Step: 1},
	}
}

// Expand enumerates the spec fast-major, then slow, then signal. Cells with
// fast >= slow are kept; Optimize skips and records them.
func Expand(spec GridSpec) Grid {
	var g Grid
	for _, f := range spec.Fast.values() {
		for _, s := range spec.Slow.values() {
			for _, sig := range spec.Signal.values() {
				g = append(g, ParamSet{Fast: f, Slow: s, Signal: sig})
			}
		}
	}
	return g
}
