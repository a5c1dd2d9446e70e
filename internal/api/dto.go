package api

import (
	"time"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/report"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SeriesRequest selects the price series: inline bars win, otherwise bars
// are loaded from the store by symbol and interval.
type SeriesRequest struct {
	Bars     []model.Bar `json:"bars"`
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval"`
	From     *time.Time  `json:"from"`
	To       *time.Time  `json:"to"`
}

// ParamsRequest overrides individual fields of the server's default params.
type ParamsRequest struct {
	FastPeriod     *int             `json:"fast_period"`
	SlowPeriod     *int             `json:"slow_period"`
	SignalPeriod   *int             `json:"signal_period"`
	InitialCash    *decimal.Decimal `json:"initial_cash"`
	SizingFraction *float64         `json:"position_sizing_fraction"`
	CommissionRate *float64         `json:"commission_rate"`
}

func (p *ParamsRequest) apply(base model.StrategyParams) model.StrategyParams {
	if p == nil {
		return base
	}
	if p.FastPeriod != nil {
		base.FastPeriod = *p.FastPeriod
	}
	if p.SlowPeriod != nil {
		base.SlowPeriod = *p.SlowPeriod
	}
	if p.SignalPeriod != nil {
		base.SignalPeriod = *p.SignalPeriod
	}
	if p.InitialCash != nil {
		base.InitialCash = *p.InitialCash
	}
	if p.SizingFraction != nil {
		base.SizingFraction = *p.SizingFraction
	}
	if p.CommissionRate != nil {
		base.CommissionRate = *p.CommissionRate
	}
	return base
}

// BacktestRequest is the body of POST /api/v1/backtest.
type BacktestRequest struct {
	SeriesRequest
	Params        *ParamsRequest `json:"params"`
	Save          bool           `json:"save"`
	IncludeEquity bool           `json:"include_equity"`
}

// BacktestResponse summarizes one run.
type BacktestResponse struct {
	RunID       int64                  `json:"run_id,omitempty"`
	Symbol      string                 `json:"symbol,omitempty"`
	Interval    string                 `json:"interval,omitempty"`
	Params      model.StrategyParams   `json:"params"`
	Bars        int                    `json:"bars"`
	FinalEquity decimal.Decimal        `json:"final_equity"`
	Stats       report.Statistics      `json:"stats"`
	Entries     int                    `json:"entries"`
	Exits       int                    `json:"exits"`
	Trades      []backtest.Trade       `json:"trades"`
	Open        *backtest.OpenTrade    `json:"open,omitempty"`
	Equity      []backtest.EquityPoint `json:"equity,omitempty"`
}

func newBacktestResponse(series SeriesRequest, bars int, res *backtest.Result, withEquity bool) BacktestResponse {
	out := BacktestResponse{
		Symbol:      series.Symbol,
		Interval:    series.Interval,
		Params:      res.Params,
		Bars:        bars,
		FinalEquity: res.FinalEquity(),
		Stats:       res.Stats,
		Entries:     res.Entries,
		Exits:       res.Exits,
		Trades:      res.Trades,
		Open:        res.Open,
	}
	if out.Trades == nil {
		out.Trades = []backtest.Trade{}
	}
	if withEquity {
		out.Equity = res.Equity
	}
	return out
}

// OptimizeRequest is the body of POST /api/v1/optimize and the first
// message of the optimize stream. Cells, when set, replace Grid.
type OptimizeRequest struct {
	SeriesRequest
	Base      *ParamsRequest       `json:"base"`
	Grid      *optimizer.GridSpec  `json:"grid"`
	Cells    []optimizer.ParamSet `json:"cells"`
	Objective string               `json:"objective"`
	Workers   int                  `json:"workers"`
	Top      int                  `json:"top"`
}

func (r *OptimizeRequest) grid() optimizer.Grid {
	if len(r.Cells) > 0 {
		return optimizer.Grid(r.Cells)
	}
	if r.Grid != nil {
		return optimizer.Expand(*r.Grid)
	}
	return optimizer.Expand(optimizer.DefaultGridSpec())
}

// OptimizeResponse summarizes a sweep.
type OptimizeResponse struct {
	Objective string                 `json:"objective"`
	Cells     int                    `json:"cells"`
	Best      optimizer.ParamSet     `json:"best"`
	BestScore float64                `json:"best_score"`
	BestStats report.Statistics      `json:"best_stats"`
	Evaluated int                    `json:"evaluated"`
	Skipped   []optimizer.CellError  `json:"skipped"`
	Failed    []optimizer.CellError  `json:"failed"`
	Top       []optimizer.Evaluation `json:"top"`
	ElapsedMs int64                  `json:"elapsed_ms"`
	SavedBest bool                   `json:"saved_best"`
	Cancelled bool                   `json:"cancelled,omitempty"`
}

func newOptimizeResponse(objective string, cells int, out *optimizer.Outcome, top int) OptimizeResponse {
	resp := OptimizeResponse{
		Objective: objective,
		Cells:     cells,
		Best:      out.Best,
		BestScore: out.BestScore,
		Evaluated: len(out.Evaluated),
		Skipped:   out.Skipped,
		Failed:    out.Failed,
		Top:       optimizer.Top(out.Evaluated, top),
		ElapsedMs: out.Elapsed.Milliseconds(),
		Cancelled: out.Cancelled,
	}
	if out.BestResult != nil {
		resp.BestStats = out.BestResult.Stats
	}
	if resp.Skipped == nil {
		resp.Skipped = []optimizer.CellError{}
	}
	if resp.Failed == nil {
		resp.Failed = []optimizer.CellError{}
	}
	return resp
}

// CompareRequest is the body of POST /api/v1/compare. Without configs the
// standard, fast and slow setups are compared.
type CompareRequest struct {
	SeriesRequest
	Base    *ParamsRequest     `json:"base"`
	Configs []optimizer.Config `json:"configs"`
}

// CompareRow is one line of a comparison.
type CompareRow struct {
	Name        string               `json:"name"`
	Params      model.StrategyParams `json:"params"`
	FinalEquity *decimal.Decimal     `json:"final_equity,omitempty"`
	Stats       *report.Statistics   `json:"stats,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// CompareResponse lists every configuration and names the best one.
type CompareResponse struct {
	Rows []CompareRow `json:"rows"`
	Best string       `json:"best,omitempty"`
}
