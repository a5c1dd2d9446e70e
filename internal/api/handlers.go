package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
)

const (
	defaultTop     = 10
	defaultRuns    = 50
	maxRunsPerPage = 500
)

// health handles GET /api/v1/health
func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	report, code := s.deps.Health.Snapshot()
	c.JSON(code, report)
}

// loadBars resolves the series of a request. Inline bars are used as is;
// otherwise the store is queried and an empty result is an invalid series.
func (s *Server) loadBars(req *SeriesRequest) ([]model.Bar, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if len(req.Bars) > 0 {
		return req.Bars, nil
	}
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("%w: send bars, or symbol and interval", model.ErrInvalidSeries)
	}
	if s.deps.Bars == nil {
		return nil, errNoStore
	}
	var from, to time.Time
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}
	bars, err := s.deps.Bars.ReadBars(req.Symbol, req.Interval, from, to)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no stored bars for %s %s", model.ErrInvalidSeries, req.Symbol, req.Interval)
	}
	return bars, nil
}

// runBacktest handles POST /api/v1/backtest
func (s *Server) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	bars, err := s.loadBars(&req.SeriesRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	params := req.Params.apply(s.deps.Base)

	start := time.Now()
	res, err := backtest.Run(bars, params)
	s.observeBacktest(len(bars), res, err, time.Since(start))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := newBacktestResponse(req.SeriesRequest, len(bars), res, req.IncludeEquity)
	if req.Save {
		if s.deps.Saver == nil {
			unavailable(c, "run storage")
			return
		}
		id, err := s.deps.Saver.SaveRun(req.Symbol, req.Interval, res)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.RunID = id
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) observeBacktest(bars int, res *backtest.Result, err error, elapsed time.Duration) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	if err != nil {
		m.BacktestRuns.WithLabelValues("error").Inc()
		return
	}
	m.BacktestRuns.WithLabelValues("ok").Inc()
	m.BacktestDuration.Observe(elapsed.Seconds())
	m.BarsProcessed.Add(float64(bars))
	m.TradesSimulated.Add(float64(len(res.Trades)))
}

// objective resolves the requested objective, falling back to the server
// default and then to total return.
func (s *Server) objective(name string) (string, optimizer.Objective, error) {
	if name == "" {
		name = s.deps.Objective
	}
	if name == "" {
		name = "return"
	}
	name = strings.ToLower(name)
	obj, err := optimizer.ObjectiveByName(name)
	return name, obj, err
}

// optimize runs one sweep with the server's worker and metrics settings.
func (s *Server) optimize(ctx context.Context, bars []model.Bar, grid optimizer.Grid, base model.StrategyParams, obj optimizer.Objective, workers int, progress func(optimizer.Evaluation)) (*optimizer.Outcome, error) {
	if workers <= 0 {
		workers = s.deps.Workers
	}
	opts := []optimizer.Option{optimizer.WithWorkers(workers)}
	if progress != nil {
		opts = append(opts, optimizer.WithProgress(progress))
	}
	if m := s.deps.Metrics; m != nil {
		opts = append(opts, optimizer.WithCellHook(m.CellHook()))
		m.OptimizerRunning.Inc()
		defer m.OptimizerRunning.Dec()
		start := time.Now()
		defer func() { m.OptimizerDuration.Observe(time.Since(start).Seconds()) }()
	}
	return optimizer.Optimize(ctx, bars, grid, base, obj, opts...)
}

// finishSweep records the winner in metrics and, when a sink is configured
// and the series is named, in redis.
func (s *Server) finishSweep(ctx context.Context, symbol, objective string, out *optimizer.Outcome, resp *OptimizeResponse) {
	if out.BestResult == nil {
		return
	}
	label := symbol
	if label == "" {
		label = "inline"
	}
	if m := s.deps.Metrics; m != nil {
		m.OptimizerBest.WithLabelValues(label, objective).Set(out.BestScore)
	}
	if s.deps.Best == nil || symbol == "" {
		return
	}
	if err := s.deps.Best.SaveBest(ctx, symbol, out.Best, out.BestResult.Stats); err != nil {
		s.log.Warn("save best params failed", slog.String("symbol", symbol), slog.Any("error", err))
		return
	}
	resp.SavedBest = true
}

// runOptimize handles POST /api/v1/optimize
func (s *Server) runOptimize(c *gin.Context) {
	var req OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	resp, err := s.sweep(c.Request.Context(), &req, nil)
	if err != nil {
		writeSweepError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// sweepError carries the partial outcome of a failed sweep.
type sweepError struct {
	err error
	out *optimizer.Outcome
}

func (e *sweepError) Error() string { return e.err.Error() }
func (e *sweepError) Unwrap() error { return e.err }

// sweep validates req, runs it and builds the response. It is shared by the
// REST and websocket routes.
func (s *Server) sweep(ctx context.Context, req *OptimizeRequest, progress func(optimizer.Evaluation)) (*OptimizeResponse, error) {
	name, obj, err := s.objective(req.Objective)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidParameter, err)
	}
	bars, err := s.loadBars(&req.SeriesRequest)
	if err != nil {
		return nil, err
	}
	base := req.Base.apply(s.deps.Base)
	grid := req.grid()

	out, err := s.optimize(ctx, bars, grid, base, obj, req.Workers, progress)
	if err != nil {
		return nil, &sweepError{err: err, out: out}
	}
	top := req.Top
	if top <= 0 {
		top = defaultTop
	}
	resp := newOptimizeResponse(name, len(grid), out, top)
	s.finishSweep(ctx, req.Symbol, name, out, &resp)
	return &resp, nil
}

func sweepErrorBody(err error) (int, ErrorResponse) {
	status, code := classify(err)
	var details map[string]interface{}
	if se, ok := err.(*sweepError); ok && se.out != nil {
		details = map[string]interface{}{
			"skipped": len(se.out.Skipped),
			"failed":  len(se.out.Failed),
		}
		if len(se.out.Failed) > 0 {
			details["first_failure"] = se.out.Failed[0].Reason
		}
	}
	return status, errorBody(code, err.Error(), details)
}

func writeSweepError(c *gin.Context, err error) {
	status, body := sweepErrorBody(err)
	c.JSON(status, body)
}

// runCompare handles POST /api/v1/compare
func (s *Server) runCompare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	bars, err := s.loadBars(&req.SeriesRequest)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := model.ValidateSeries(bars); err != nil {
		respondError(c, err)
		return
	}
	configs := req.Configs
	if len(configs) == 0 {
		configs = optimizer.DefaultConfigs(req.Base.apply(s.deps.Base))
	}

	cs, err := optimizer.Compare(c.Request.Context(), bars, configs)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := CompareResponse{Rows: make([]CompareRow, 0, len(cs))}
	for i, cmp := range cs {
		row := CompareRow{Name: cmp.Name, Params: configs[i].Params, Error: cmp.Err}
		if cmp.Result != nil {
			eq := cmp.Result.FinalEquity()
			st := cmp.Result.Stats
			row.FinalEquity = &eq
			row.Stats = &st
		}
		resp.Rows = append(resp.Rows, row)
	}
	if best, ok := optimizer.BestComparison(cs); ok {
		resp.Best = best.Name
	}
	c.JSON(http.StatusOK, resp)
}

// listObjectives handles GET /api/v1/objectives
func (s *Server) listObjectives(c *gin.Context) {
	name, _, err := s.objective("")
	if err != nil {
		name = "return"
	}
	c.JSON(http.StatusOK, gin.H{"objectives": optimizer.ObjectiveNames(), "default": name})
}

// listRuns handles GET /api/v1/runs?limit=N
func (s *Server) listRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "run storage")
		return
	}
	limit := defaultRuns
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		if n > maxRunsPerPage {
			n = maxRunsPerPage
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// runTrades handles GET /api/v1/runs/:id/trades
func (s *Server) runTrades(c *gin.Context) {
	if s.deps.Runs == nil {
		unavailable(c, "run storage")
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "INVALID_REQUEST", "run id must be a positive integer")
		return
	}
	ok, err := s.deps.Runs.RunExists(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", fmt.Sprintf("run %d not found", id), nil))
		return
	}
	trades, err := s.deps.Runs.RunTrades(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "trades": trades})
}

// latestSignal handles GET /api/v1/signals/:symbol/latest
func (s *Server) latestSignal(c *gin.Context) {
	if s.deps.Signals == nil {
		unavailable(c, "signal cache")
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	d, err := s.deps.Signals.LatestSignal(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("UNAVAILABLE", err.Error(), nil))
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", "no signal recorded for "+symbol, nil))
		return
	}
	c.JSON(http.StatusOK, d)
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, errorBody("UNAVAILABLE", what+" is not configured", nil))
}
