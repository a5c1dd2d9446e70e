package optimizer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"macd-backtester/internal/model"
	"macd-backtester/internal/report"
)

func waveBars(n int) []model.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + 12*math.Sin(float64(i)/8) + 4*math.Sin(float64(i)/2.7) + float64(i)/20
		bars[i] = model.Bar{TS: base.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return bars
}

func TestOptimize_SkipsMalformedCell(t *testing.T) {
	grid := Grid{
		{Fast: 12, Slow: 26, Signal: 9},
		{Fast: 30, Slow: 10, Signal: 9}, // fast > slow
		{Fast: 8, Slow: 21, Signal: 5},
		{Fast: 5, Slow: 35, Signal: 5},
	}

	out, err := Optimize(context.Background(), waveBars(300), grid, model.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(out.Evaluated) != 3 {
		t.Errorf("evaluated = %d, want 3", len(out.Evaluated))
	}
	if len(out.Skipped) != 1 || out.Skipped[0].Index != 1 {
		t.Errorf("skipped = %+v, want cell 1", out.Skipped)
	}
	if !errors.Is(out.Skipped[0].Err, model.ErrInvalidParameter) {
		t.Errorf("skip reason should be ErrInvalidParameter: %v", out.Skipped[0].Err)
	}
	for i := 1; i < len(out.Evaluated); i++ {
		if out.Evaluated[i].Index <= out.Evaluated[i-1].Index {
			t.Error("evaluations not in grid order")
		}
	}

	// The winner must carry the maximum score and its own full result.
	for _, ev := range out.Evaluated {
		if ev.Score > out.BestScore {
			t.Errorf("cell %v scored %.4f above best %.4f", ev.Params, ev.Score, out.BestScore)
		}
	}
	if out.BestResult == nil || out.BestResult.Params.FastPeriod != out.Best.Fast {
		t.Errorf("best result does not match best params %v", out.Best)
	}
}

func TestOptimize_TiesGoToEarliestCell(t *testing.T) {
	grid := Grid{
		{Fast: 9, Slow: 3, Signal: 2}, // invalid
		{Fast: 6, Slow: 13, Signal: 4},
		{Fast: 5, Slow: 10, Signal: 3},
		{Fast: 6, Slow: 13, Signal: 4},
	}
	flat := func(report.Statistics) float64 { return 1 }

	for _, workers := range []int{1, 4} {
		out, err := Optimize(context.Background(), waveBars(120), grid, model.DefaultParams(), flat, WithWorkers(workers))
		if err != nil {
			t.Fatal(err)
		}
		if out.Best != grid[1] {
			t.Errorf("workers=%d: best = %v, want %v", workers, out.Best, grid[1])
		}
	}
}

func TestOptimize_IsolatesFailingCells(t *testing.T) {
	grid := Grid{
		{Fast: 5, Slow: 10, Signal: 3},
		{Fast: 12, Slow: 80, Signal: 9}, // needs 80 bars
	}
	out, err := Optimize(context.Background(), waveBars(50), grid, model.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("one good cell should be enough: %v", err)
	}
	if len(out.Evaluated) != 1 || len(out.Failed) != 1 {
		t.Fatalf("evaluated=%d failed=%d", len(out.Evaluated), len(out.Failed))
	}
	if !errors.Is(out.Failed[0].Err, model.ErrInsufficientData) {
		t.Errorf("failure should be ErrInsufficientData: %v", out.Failed[0].Err)
	}
}

func TestOptimize_DeterministicAcrossWorkerCounts(t *testing.T) {
	bars := waveBars(400)
	grid := Expand(GridSpec{
		Fast:   Range{Start: 6, Stop: 12, Step: 2},
		Slow:   Range{Start: 18, Stop: 30, Step: 4},
		Signal: Range{Start: 5, Stop: 10, Step: 2},
	})

	one, err := Optimize(context.Background(), bars, grid, model.DefaultParams(), nil, WithWorkers(1))
	if err != nil {
		t.Fatal(err)
	}
	many, err := Optimize(context.Background(), bars, grid, model.DefaultParams(), nil, WithWorkers(8))
	if err != nil {
		t.Fatal(err)
	}

	if one.Best != many.Best || one.BestScore != many.BestScore {
		t.Errorf("best differs: %v/%.6f vs %v/%.6f", one.Best, one.BestScore, many.Best, many.BestScore)
	}
	if len(one.Evaluated) != len(many.Evaluated) {
		t.Fatalf("evaluated %d vs %d", len(one.Evaluated), len(many.Evaluated))
	}
	for i := range one.Evaluated {
		if one.Evaluated[i].Params != many.Evaluated[i].Params || one.Evaluated[i].Score != many.Evaluated[i].Score {
			t.Errorf("cell %d differs", i)
		}
	}
}

func TestOptimize_CancelKeepsCompletedResults(t *testing.T) {
	grid := Expand(GridSpec{
		Fast:   Range{Start: 4, Stop: 8, Step: 1},
		Slow:   Range{Start: 12, Stop: 16, Step: 1},
		Signal: Range{Start: 3, Stop: 5, Step: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	out, err := Optimize(ctx, waveBars(200), grid, model.DefaultParams(), nil,
		WithWorkers(1),
		WithProgress(func(Evaluation) { once.Do(cancel) }),
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !out.Cancelled {
		t.Error("Outcome.Cancelled not set")
	}
	if len(out.Evaluated) != 1 {
		t.Errorf("evaluated = %d, want only the cell completed before cancel", len(out.Evaluated))
	}
	if out.Best != grid[0] || out.BestResult == nil {
		t.Errorf("completed cell should still be reported as best: %v", out.Best)
	}
}

func TestOptimize_PreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Optimize(ctx, waveBars(100), Grid{{Fast: 5, Slow: 10, Signal: 3}}, model.DefaultParams(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out.Evaluated) != 0 {
		t.Errorf("nothing should be evaluated after cancel, got %d", len(out.Evaluated))
	}
}

func TestOptimize_NoValidCells(t *testing.T) {
	_, err := Optimize(context.Background(), waveBars(100), Grid{{Fast: 10, Slow: 5, Signal: 3}}, model.DefaultParams(), nil)
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestOptimize_HooksAndProgress(t *testing.T) {
	grid := Grid{
		{Fast: 5, Slow: 10, Signal: 3},
		{Fast: 10, Slow: 5, Signal: 3},
		{Fast: 6, Slow: 12, Signal: 4},
	}
	var progress int32
	var mu sync.Mutex
	statuses := map[string]int{}

	_, err := Optimize(context.Background(), waveBars(100), grid, model.DefaultParams(), nil,
		WithWorkers(2),
		WithProgress(func(Evaluation) { atomic.AddInt32(&progress, 1) }),
		WithCellHook(func(s string) {
			mu.Lock()
			statuses[s]++
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if progress != 2 {
		t.Errorf("progress calls = %d, want 2", progress)
	}
	if statuses["evaluated"] != 2 || statuses["skipped"] != 1 {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestOptimize_InvalidBaseParams(t *testing.T) {
	base := model.DefaultParams()
	base.SizingFraction = 2
	if _, err := Optimize(context.Background(), waveBars(100), Grid{{5, 10, 3}}, base, nil); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestExpand_DefaultGrid(t *testing.T) {
	g := Expand(DefaultGridSpec())
	if len(g) != 8*10*6 {
		t.Fatalf("len = %d, want 480", len(g))
	}
	if g[0] != (ParamSet{8, 20, 6}) || g[1] != (ParamSet{8, 20, 7}) {
		t.Errorf("unexpected order: %v %v", g[0], g[1])
	}
	if last := g[len(g)-1]; last != (ParamSet{15, 29, 11}) {
		t.Errorf("last cell = %v", last)
	}
}

func TestObjectiveByName(t *testing.T) {
	st := report.Statistics{TotalReturnPct: 12, MaxDrawdownPct: 7, WinRate: 0.5, ProfitFactorInfinite: true}

	tests := []struct {
		name string
		want float64
	}{
		{"", 12},
		{"return", 12},
		{"RETURN", 12},
		{"drawdown", -7},
		{"win_rate", 0.5},
		{"profit_factor", 1e9},
	}
	for _, tt := range tests {
		obj, err := ObjectiveByName(tt.name)
		if err != nil {
			t.Fatalf("%q: %v", tt.name, err)
		}
		if got := obj(st); got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, err := ObjectiveByName("alpha"); err == nil {
		t.Error("expected error for unknown objective")
	}
}

func TestPickBest_IgnoresNaN(t *testing.T) {
	evals := []Evaluation{
		{Index: 0, Score: math.NaN()},
		{Index: 1, Score: -3},
		{Index: 2, Score: -3},
	}
	best, ok := pickBest(evals)
	if !ok || best.Index != 1 {
		t.Errorf("best = %+v ok=%v, want index 1", best, ok)
	}
}

func TestTop_OrdersByScore(t *testing.T) {
	evals := []Evaluation{
		{Index: 0, Score: 1},
		{Index: 1, Score: math.NaN()},
		{Index: 2, Score: 5},
		{Index: 3, Score: 5},
		{Index: 4, Score: -2},
	}
	top := Top(evals, 3)
	if len(top) != 3 || top[0].Index != 2 || top[1].Index != 3 || top[2].Index != 0 {
		t.Errorf("unexpected order: %+v", top)
	}
	all := Top(evals, 0)
	if len(all) != 5 || all[4].Index != 1 {
		t.Errorf("NaN must sort last: %+v", all)
	}
	if evals[0].Index != 0 || evals[2].Index != 2 {
		t.Error("input must not be reordered")
	}
}

func TestCompare_DefaultConfigs(t *testing.T) {
	configs := DefaultConfigs(model.DefaultParams())
	configs = append(configs, Config{Params: model.DefaultParams().WithPeriods(12, 500, 9)})

	cs, err := Compare(context.Background(), waveBars(300), configs)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 4 {
		t.Fatalf("comparisons = %d, want 4", len(cs))
	}
	for _, c := range cs[:3] {
		if c.Result == nil {
			t.Errorf("%s failed: %s", c.Name, c.Err)
		}
	}
	if cs[3].Err == "" || cs[3].Name != "config_4" {
		t.Errorf("oversized config should fail by name: %+v", cs[3])
	}
	if _, ok := BestComparison(cs); !ok {
		t.Error("expected a best comparison")
	}
	if cs[0].Result.Params.SizingFraction != 0.8 {
		t.Errorf("standard config sizing = %v", cs[0].Result.Params.SizingFraction)
	}
}
