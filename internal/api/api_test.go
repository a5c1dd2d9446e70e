package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/metrics"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/report"
	"macd-backtester/internal/store/sqlite"
	"macd-backtester/internal/strategy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func waveBars(n int) []model.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + 12*math.Sin(float64(i)/8) + 4*math.Sin(float64(i)/2.7)
		bars[i] = model.Bar{TS: base.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

type fakeStore struct {
	bars   []model.Bar
	runs   []sqlite.RunRecord
	trades map[int64][]backtest.Trade
	panics bool
}

func (f *fakeStore) ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	if f.panics {
		panic("boom")
	}
	if symbol != "BTCUSDT" || interval != "1h" {
		return nil, nil
	}
	return f.bars, nil
}

func (f *fakeStore) ListRuns(limit int) ([]sqlite.RunRecord, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeStore) RunTrades(id int64) ([]backtest.Trade, error) { return f.trades[id], nil }

func (f *fakeStore) RunExists(id int64) (bool, error) {
	_, ok := f.trades[id]
	return ok, nil
}

type fakeSaver struct {
	symbol string
	saved  *backtest.Result
}

func (f *fakeSaver) SaveRun(symbol, interval string, res *backtest.Result) (int64, error) {
	f.symbol, f.saved = symbol, res
	return 7, nil
}

type fakeCache struct {
	best     map[string]optimizer.ParamSet
	decision *strategy.Decision
}

func (f *fakeCache) SaveBest(_ context.Context, symbol string, ps optimizer.ParamSet, _ report.Statistics) error {
	if f.best == nil {
		f.best = map[string]optimizer.ParamSet{}
	}
	f.best[symbol] = ps
	return nil
}

func (f *fakeCache) LatestSignal(_ context.Context, symbol string) (*strategy.Decision, error) {
	if f.decision == nil || f.decision.Symbol != symbol {
		return nil, nil
	}
	return f.decision, nil
}

func newTestServer(deps Deps) *Server {
	if deps.Base.InitialCash.IsZero() {
		deps.Base = model.DefaultParams()
	}
	deps.Workers = 2
	return NewServer(deps)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealth_WithoutStatus(t *testing.T) {
	rec := do(t, newTestServer(Deps{}).Engine(), http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBacktest_InlineBars(t *testing.T) {
	bars := waveBars(300)
	fast, slow, sig := 5, 13, 4
	srv := newTestServer(Deps{})

	rec := do(t, srv.Engine(), http.MethodPost, "/api/v1/backtest", BacktestRequest{
		SeriesRequest: SeriesRequest{Bars: bars},
		Params:        &ParamsRequest{FastPeriod: &fast, SlowPeriod: &slow, SignalPeriod: &sig},
		IncludeEquity: true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	want, err := backtest.Run(bars, model.DefaultParams().WithPeriods(fast, slow, sig))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Bars != 300 || len(resp.Equity) != 300 {
		t.Errorf("bars=%d equity=%d", resp.Bars, len(resp.Equity))
	}
	if len(resp.Trades) != len(want.Trades) || resp.Entries != want.Entries || resp.Exits != want.Exits {
		t.Errorf("trades %d/%d entries %d/%d", len(resp.Trades), len(want.Trades), resp.Entries, want.Entries)
	}
	if !resp.FinalEquity.Equal(want.FinalEquity()) {
		t.Errorf("final equity %s, want %s", resp.FinalEquity, want.FinalEquity())
	}
	if resp.Params.FastPeriod != fast || resp.Params.SlowPeriod != slow {
		t.Errorf("params not applied: %+v", resp.Params)
	}
	if resp.RunID != 0 {
		t.Error("unsaved run must not carry an id")
	}
}

func TestBacktest_Errors(t *testing.T) {
	fast, slow := 26, 12
	cases := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed json", `{"bars": [`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"fast >= slow", BacktestRequest{
			SeriesRequest: SeriesRequest{Bars: waveBars(100)},
			Params:        &ParamsRequest{FastPeriod: &fast, SlowPeriod: &slow},
		}, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"short series", BacktestRequest{SeriesRequest: SeriesRequest{Bars: waveBars(10)}}, http.StatusUnprocessableEntity, "INSUFFICIENT_DATA"},
		{"no series", BacktestRequest{}, http.StatusUnprocessableEntity, "INVALID_SERIES"},
		{"symbol without store", BacktestRequest{SeriesRequest: SeriesRequest{Symbol: "BTCUSDT", Interval: "1h"}}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	h := newTestServer(Deps{}).Engine()
	for _, tc := range cases {
		rec := do(t, h, http.MethodPost, "/api/v1/backtest", tc.body)
		if rec.Code != tc.status {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.status, rec.Body.String())
			continue
		}
		if got := decodeError(t, rec).Code; got != tc.code {
			t.Errorf("%s: code %s, want %s", tc.name, got, tc.code)
		}
	}
}

func TestBacktest_FromStoreAndSave(t *testing.T) {
	store := &fakeStore{bars: waveBars(200)}
	saver := &fakeSaver{}
	h := newTestServer(Deps{Bars: store, Saver: saver}).Engine()

	rec := do(t, h, http.MethodPost, "/api/v1/backtest", BacktestRequest{
		SeriesRequest: SeriesRequest{Symbol: "btcusdt", Interval: "1h"},
		Save:          true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID != 7 || resp.Symbol != "BTCUSDT" || resp.Bars != 200 {
		t.Errorf("unexpected response: id=%d symbol=%s bars=%d", resp.RunID, resp.Symbol, resp.Bars)
	}
	if saver.symbol != "BTCUSDT" || saver.saved == nil {
		t.Errorf("run not saved: %+v", saver)
	}
	if resp.Equity != nil {
		t.Error("equity curve must be omitted unless requested")
	}

	rec = do(t, h, http.MethodPost, "/api/v1/backtest", BacktestRequest{SeriesRequest: SeriesRequest{Symbol: "ETHUSDT", Interval: "1h"}})
	if rec.Code != http.StatusUnprocessableEntity || decodeError(t, rec).Code != "INVALID_SERIES" {
		t.Errorf("empty store result: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBacktest_SaveWithoutStore(t *testing.T) {
	h := newTestServer(Deps{}).Engine()
	rec := do(t, h, http.MethodPost, "/api/v1/backtest", BacktestRequest{SeriesRequest: SeriesRequest{Bars: waveBars(100)}, Save: true})
	if rec.Code != http.StatusServiceUnavailable || decodeError(t, rec).Code != "UNAVAILABLE" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOptimize_ExplicitCells(t *testing.T) {
	store := &fakeStore{bars: waveBars(300)}
	cache := &fakeCache{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := newTestServer(Deps{Bars: store, Best: cache, Metrics: m}).Engine()

	rec := do(t, h, http.MethodPost, "/api/v1/optimize", OptimizeRequest{
		SeriesRequest: SeriesRequest{Symbol: "BTCUSDT", Interval: "1h"},
		Cells: []optimizer.ParamSet{
			{Fast: 12, Slow: 26, Signal: 9},
			{Fast: 30, Slow: 10, Signal: 9},
			{Fast: 5, Slow: 13, Signal: 4},
		},
		Objective: "Sharpe",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp OptimizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Objective != "sharpe" || resp.Cells != 3 || resp.Evaluated != 2 || len(resp.Skipped) != 1 {
		t.Errorf("unexpected summary: %+v", resp)
	}
	if resp.Skipped[0].Index != 1 {
		t.Errorf("skipped index %d, want 1", resp.Skipped[0].Index)
	}
	if len(resp.Top) != 2 || resp.Top[0].Params != resp.Best {
		t.Errorf("top must lead with the best cell: %+v", resp.Top)
	}
	if !resp.SavedBest || cache.best["BTCUSDT"] != resp.Best {
		t.Errorf("best not saved: %v %+v", resp.SavedBest, cache.best)
	}
	if got := testutil.ToFloat64(m.OptimizerCells.WithLabelValues("evaluated")); got != 2 {
		t.Errorf("evaluated cells metric = %v", got)
	}
	if got := testutil.ToFloat64(m.APIRequests.WithLabelValues("/api/v1/optimize", "200")); got != 1 {
		t.Errorf("request metric = %v", got)
	}
}

func TestOptimize_Errors(t *testing.T) {
	h := newTestServer(Deps{}).Engine()

	rec := do(t, h, http.MethodPost, "/api/v1/optimize", OptimizeRequest{
		SeriesRequest: SeriesRequest{Bars: waveBars(100)},
		Cells:         []optimizer.ParamSet{{Fast: 9, Slow: 9, Signal: 3}, {Fast: 0, Slow: 5, Signal: 3}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	detail := decodeError(t, rec)
	if detail.Code != "NO_RESULTS" || detail.Details["skipped"] != float64(2) {
		t.Errorf("unexpected error: %+v", detail)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/optimize", OptimizeRequest{
		SeriesRequest: SeriesRequest{Bars: waveBars(100)},
		Objective:     "calmar",
	})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "INVALID_PARAMETER" {
		t.Errorf("unknown objective: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCompare_Defaults(t *testing.T) {
	h := newTestServer(Deps{}).Engine()
	rec := do(t, h, http.MethodPost, "/api/v1/compare", CompareRequest{SeriesRequest: SeriesRequest{Bars: waveBars(300)}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp CompareResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 3 || resp.Rows[0].Name != "standard" || resp.Best == "" {
		t.Errorf("unexpected comparison: %+v", resp)
	}
	for _, r := range resp.Rows {
		if r.Error != "" || r.FinalEquity == nil {
			t.Errorf("row %s failed: %s", r.Name, r.Error)
		}
	}
}

func TestRuns(t *testing.T) {
	store := &fakeStore{
		runs:   []sqlite.RunRecord{{ID: 2, Symbol: "BTCUSDT"}, {ID: 1, Symbol: "BTCUSDT"}},
		trades: map[int64][]backtest.Trade{1: {{EntryIndex: 3, ExitIndex: 9}}},
	}
	h := newTestServer(Deps{Runs: store}).Engine()

	rec := do(t, h, http.MethodGet, "/api/v1/runs?limit=1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("list: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/runs?limit=-4", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/runs/1/trades", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"exit_bar_index":9`) {
		t.Errorf("trades: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/runs/99/trades", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/runs/abc/trades", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: %d", rec.Code)
	}

	if rec := do(t, newTestServer(Deps{}).Engine(), http.MethodGet, "/api/v1/runs", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no store: %d", rec.Code)
	}
}

func TestLatestSignal(t *testing.T) {
	cache := &fakeCache{decision: &strategy.Decision{Symbol: "BTCUSDT", Signal: model.SignalEnterLong, Price: 101.5}}
	h := newTestServer(Deps{Signals: cache}).Engine()

	rec := do(t, h, http.MethodGet, "/api/v1/signals/btcusdt/latest", nil)
	var d strategy.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if d.Signal != model.SignalEnterLong || d.Price != 101.5 {
		t.Errorf("unexpected decision: %+v", d)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/signals/ETHUSDT/latest", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown symbol: %d", rec.Code)
	}
}

func TestRecovery_ReturnsErrorBody(t *testing.T) {
	h := newTestServer(Deps{Bars: &fakeStore{panics: true}}).Engine()
	rec := do(t, h, http.MethodPost, "/api/v1/backtest", BacktestRequest{SeriesRequest: SeriesRequest{Symbol: "BTCUSDT", Interval: "1h"}})
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec).Code != "INTERNAL_ERROR" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CORS(t *testing.T) {
	h := newTestServer(Deps{}).Handler([]string{"http://dash.local"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Errorf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin must not be allowed, got %q", got)
	}
}

func TestStreamOptimize(t *testing.T) {
	ts := httptest.NewServer(newTestServer(Deps{}).Engine())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/optimize/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(OptimizeRequest{
		SeriesRequest: SeriesRequest{Bars: waveBars(300)},
		Grid: &optimizer.GridSpec{
			Fast:   optimizer.Range{Start: 4, Stop: 8, Step: 2},
			Slow:   optimizer.Range{Start: 6, Stop: 20, Step: 6},
			Signal: optimizer.Range{Start: 3, Stop: 5, Step: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// fast {4,6} × slow {6,12,18} × signal {3,4}; (6,6,*) is skipped.
	const wantCells = 10
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	cells := 0
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read after %d cells: %v", cells, err)
		}
		switch msg.Type {
		case "cell":
			cells++
			if msg.Total != wantCells || msg.Cell == nil {
				t.Errorf("bad cell frame: %+v", msg)
			}
		case "done":
			if cells != wantCells || msg.Result == nil || msg.Result.Evaluated != wantCells || len(msg.Result.Skipped) != 2 {
				t.Errorf("done after %d cells: %+v", cells, msg.Result)
			}
			return
		default:
			t.Fatalf("unexpected frame: %+v", msg)
		}
	}
}

func TestStreamOptimize_BadRequest(t *testing.T) {
	ts := httptest.NewServer(newTestServer(Deps{}).Engine())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/optimize/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(OptimizeRequest{SeriesRequest: SeriesRequest{Bars: waveBars(50)}, Objective: "nope"}); err != nil {
		t.Fatal(err)
	}
	var msg StreamMessage
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "error" || msg.Error == nil || msg.Error.Code != "INVALID_PARAMETER" {
		t.Errorf("unexpected frame: %+v", msg)
	}
}
