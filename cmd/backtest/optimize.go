package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"macd-backtester/internal/logger"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/report"
	redisstore "macd-backtester/internal/store/redis"
)

var (
	optParams      paramFlags
	optObjective   string
	optWorkers     int
	optTop         int
	optFastRange   string
	optSlowRange   string
	optSignalRange string
	optSaveBest    bool
	optJSON        bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Sweep a MACD parameter grid",
	Long: "Evaluate every (fast, slow, signal) cell of a grid in parallel and rank them by an objective.\n" +
		"Ranges are start:stop[:step] with stop exclusive, e.g. --fast-range=8:16.",
	Args: cobra.NoArgs,
	RunE: runOptimize,
}

func init() {
	optParams.register(optimizeCmd, false)
	fs := optimizeCmd.Flags()
	fs.StringVar(&optObjective, "objective", "", "Objective: "+strings.Join(optimizer.ObjectiveNames(), ", ")+" (default $OPTIMIZER_OBJECTIVE)")
	fs.IntVar(&optWorkers, "workers", 0, "Worker goroutines (default $OPTIMIZER_WORKERS, 0 = NumCPU)")
	fs.IntVar(&optTop, "top", 10, "Rows of the ranking to print")
	fs.StringVar(&optFastRange, "fast-range", "", "Fast period range start:stop[:step]")
	fs.StringVar(&optSlowRange, "slow-range", "", "Slow period range start:stop[:step]")
	fs.StringVar(&optSignalRange, "signal-range", "", "Signal period range start:stop[:step]")
	fs.BoolVar(&optSaveBest, "save-best", false, "Publish the winning cell to Redis (needs REDIS_ADDR)")
	fs.BoolVar(&optJSON, "json", false, "Print the outcome as JSON")

	rootCmd.AddCommand(optimizeCmd)
}

// parseRange parses start:stop[:step].
func parseRange(s string) (optimizer.Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return optimizer.Range{}, fmt.Errorf("%w: range %q must be start:stop[:step]", model.ErrInvalidParameter, s)
	}
	nums := make([]int, 3)
	nums[2] = 1
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return optimizer.Range{}, fmt.Errorf("%w: range %q: %v", model.ErrInvalidParameter, s, err)
		}
		nums[i] = n
	}
	if nums[2] <= 0 || nums[1] <= nums[0] {
		return optimizer.Range{}, fmt.Errorf("%w: range %q is empty", model.ErrInvalidParameter, s)
	}
	return optimizer.Range{Start: nums[0], Stop: nums[1], Step: nums[2]}, nil
}

// resolveGrid picks the grid: range flags, then the strategy file, then the
// default sweep. Unset range flags keep the default range for that axis.
func resolveGrid(fast, slow, signal string, fileGrid func() optimizer.Grid) (optimizer.Grid, error) {
	if fast == "" && slow == "" && signal == "" {
		if fileGrid != nil {
			return fileGrid(), nil
		}
		return optimizer.Expand(optimizer.DefaultGridSpec()), nil
	}
	spec := optimizer.DefaultGridSpec()
	for _, axis := range []struct {
		flag string
		dst  *optimizer.Range
	}{{fast, &spec.Fast}, {slow, &spec.Slow}, {signal, &spec.Signal}} {
		if axis.flag == "" {
			continue
		}
		r, err := parseRange(axis.flag)
		if err != nil {
			return nil, err
		}
		*axis.dst = r
	}
	return optimizer.Expand(spec), nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	base, sf, err := optParams.resolve(cmd)
	if err != nil {
		return err
	}

	objName := optObjective
	if objName == "" && sf != nil {
		objName = sf.Objective
	}
	if objName == "" {
		objName = state.cfg.Objective
	}
	obj, err := optimizer.ObjectiveByName(objName)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
	}

	var fileGrid func() optimizer.Grid
	if sf != nil {
		fileGrid = sf.OptimizerGrid
	}
	grid, err := resolveGrid(optFastRange, optSlowRange, optSignalRange, fileGrid)
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	symbol := strings.ToUpper(flagSymbol)
	ctx := logger.WithRunID(cmd.Context(), logger.NewRunID("optimize", symbol, time.Now()))

	maxSlow := 0
	for _, p := range grid {
		if p.Slow+p.Signal > maxSlow {
			maxSlow = p.Slow + p.Signal
		}
	}
	bars, err := sess.bars(ctx, maxSlow)
	if err != nil {
		return err
	}

	workers := optWorkers
	if !cmd.Flags().Changed("workers") {
		workers = state.cfg.OptimizerWorkers
	}

	var done atomic.Int64
	step := int64(len(grid)/10) + 1
	progress := func(ev optimizer.Evaluation) {
		if n := done.Add(1); n%step == 0 {
			state.log.Info("optimizer progress", append(logger.Attrs(ctx),
				slog.Int64("evaluated", n),
				slog.Int("cells", len(grid)),
			)...)
		}
	}

	state.log.Info("optimizer start", append(logger.Attrs(ctx),
		slog.Int("cells", len(grid)),
		slog.Int("bars", len(bars)),
		slog.String("objective", strings.ToLower(objName)),
	)...)
	out, err := optimizer.Optimize(ctx, bars, grid, base, obj,
		optimizer.WithWorkers(workers), optimizer.WithProgress(progress))
	if err != nil {
		if out != nil && len(out.Failed) > 0 {
			state.log.Warn("first failed cell", slog.String("params", out.Failed[0].Params.String()), slog.String("reason", out.Failed[0].Reason))
		}
		return err
	}

	if optJSON {
		if err := printJSON(os.Stdout, out); err != nil {
			return err
		}
	} else {
		fmt.Printf("%d cells: %d evaluated, %d skipped, %d failed in %v\n\n",
			len(grid), len(out.Evaluated), len(out.Skipped), len(out.Failed), out.Elapsed.Round(time.Millisecond))
		printTop(os.Stdout, strings.ToLower(objName), optimizer.Top(out.Evaluated, optTop))
		fmt.Println()
		printSummary(os.Stdout, "BEST PARAMETERS "+out.Best.String(), symbol, flagInterval, out.BestResult)
	}

	if optSaveBest {
		if err := saveBest(ctx, symbol, out.Best, out.BestResult.Stats); err != nil {
			state.log.Warn("save best failed", slog.Any("error", err))
		}
	}
	return nil
}

func saveBest(ctx context.Context, symbol string, ps optimizer.ParamSet, st report.Statistics) error {
	if !state.cfg.RedisEnabled() {
		return fmt.Errorf("REDIS_ADDR is not set")
	}
	pub, err := redisstore.New(redisstore.Config{
		Addr:     state.cfg.RedisAddr,
		Password: state.cfg.RedisPassword,
		DB:       state.cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer pub.Close()
	if err := pub.SaveBest(ctx, symbol, ps, st); err != nil {
		return err
	}
	if pub.Pending() > 0 {
		return fmt.Errorf("redis unavailable, best params not written")
	}
	state.log.Info("best params saved", slog.String("key", redisstore.BestParamsKey(symbol)))
	return nil
}
