package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
	"macd-backtester/internal/report"
)

// ErrNoResults is returned when no grid cell could be evaluated.
var ErrNoResults = errors.New("optimizer: no grid cell produced a result")

// Evaluation is one successfully evaluated cell.
type Evaluation struct {
	Index  int               `json:"index"`
	Params ParamSet          `json:"params"`
	Score  float64           `json:"score"`
	Stats  report.Statistics `json:"stats"`
	result *backtest.Result
}

// Result returns the full backtest result of this cell.
func (e Evaluation) Result() *backtest.Result { return e.result }

// CellError records a cell that was skipped or failed.
type CellError struct {
	Index  int      `json:"index"`
	Params ParamSet `json:"params"`
	Reason string   `json:"reason"`
	Err    error    `json:"-"`
}

// Outcome is the reduced result of a sweep.
type Outcome struct {
	Best       ParamSet         `json:"best"`
	BestScore  float64          `json:"best_score"`
	BestResult *backtest.Result `json:"-"`
	Evaluated  []Evaluation     `json:"evaluated"` // grid order
	Skipped    []CellError      `json:"skipped"`
	Failed     []CellError      `json:"failed"`
	Cancelled  bool             `json:"cancelled"`
	Elapsed    time.Duration    `json:"elapsed"`
}

type options struct {
	workers  int
	progress func(Evaluation)
	onCell   func(status string)
}

// Option configures Optimize.
type Option func(*options)

// WithWorkers bounds the worker pool. n <= 0 means runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithProgress registers a callback invoked once per evaluated cell, from
// the worker goroutine that evaluated it.
func WithProgress(fn func(Evaluation)) Option {
	return func(o *options) { o.progress = fn }
}

// WithCellHook registers a callback receiving "evaluated", "skipped",
// "failed" or "discarded" for each cell. Used for metrics.
func WithCellHook(fn func(status string)) Option {
	return func(o *options) { o.onCell = fn }
}

type cellOutcome struct {
	done bool
	eval Evaluation
	err  error
}

// Optimize evaluates every valid cell of grid against bars, using base for
// cash, sizing and commission, and returns the cell maximizing obj. Ties go
// to the earliest cell in grid order.
//
// Cancelling ctx stops scheduling and discards cells still in flight; the
// partial Outcome is returned together with ctx.Err().
func Optimize(ctx context.Context, bars []model.Bar, grid Grid, base model.StrategyParams, obj Objective, opts ...Option) (*Outcome, error) {
	start := time.Now()
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	if obj == nil {
		obj, _ = ObjectiveByName("")
	}
	if err := base.ValidateExecution(); err != nil {
		return nil, err
	}
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}

	out := &Outcome{}
	var valid []int
	for i, p := range grid {
		if err := p.Validate(); err != nil {
			out.Skipped = append(out.Skipped, CellError{Index: i, Params: p, Reason: err.Error(), Err: err})
			o.hook("skipped")
			continue
		}
		valid = append(valid, i)
	}

	// Each worker writes only to its own cell's slot.
	slots := make([]cellOutcome, len(grid))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				p := grid[idx]
				res, err := backtest.Run(bars, base.WithPeriods(p.Fast, p.Slow, p.Signal))
				if ctx.Err() != nil {
					o.hook("discarded")
					continue
				}
				if err != nil {
					slots[idx] = cellOutcome{done: true, err: err}
					continue
				}
				ev := Evaluation{Index: idx, Params: p, Score: obj(res.Stats), Stats: res.Stats, result: res}
				slots[idx] = cellOutcome{done: true, eval: ev}
				if o.progress != nil {
					o.progress(ev)
				}
			}
		}()
	}

feed:
	for _, idx := range valid {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	for idx, s := range slots {
		if !s.done {
			continue
		}
		if s.err != nil {
			out.Failed = append(out.Failed, CellError{Index: idx, Params: grid[idx], Reason: s.err.Error(), Err: s.err})
			o.hook("failed")
			continue
		}
		out.Evaluated = append(out.Evaluated, s.eval)
		o.hook("evaluated")
	}

	best, found := pickBest(out.Evaluated)
	if found {
		out.Best = best.Params
		out.BestScore = best.Score
		out.BestResult = best.result
	}
	out.Elapsed = time.Since(start)

	log.Printf("[optimizer] %d cells: %d evaluated, %d skipped, %d failed in %v",
		len(grid), len(out.Evaluated), len(out.Skipped), len(out.Failed), out.Elapsed)

	if err := ctx.Err(); err != nil {
		out.Cancelled = true
		return out, err
	}
	if !found {
		return out, fmt.Errorf("%w (%d skipped, %d failed)", ErrNoResults, len(out.Skipped), len(out.Failed))
	}
	return out, nil
}

// pickBest reduces evaluations (in grid order) to the highest score; a
// later cell wins only with a strictly higher score. NaN never wins.
func pickBest(evals []Evaluation) (Evaluation, bool) {
	var best Evaluation
	found := false
	for _, ev := range evals {
		if math.IsNaN(ev.Score) {
			continue
		}
		if !found || ev.Score > best.Score {
			best = ev
			found = true
		}
	}
	return best, found
}

// Top returns up to n evaluations ordered by score descending, grid order
// breaking ties. NaN scores sort last. n <= 0 returns all of them.
func Top(evals []Evaluation, n int) []Evaluation {
	out := make([]Evaluation, len(evals))
	copy(out, evals)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Score, out[j].Score
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func (o options) hook(status string) {
	if o.onCell != nil {
		o.onCell(status)
	}
}
