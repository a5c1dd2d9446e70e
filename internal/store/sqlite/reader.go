package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
	"macd-backtester/internal/report"

	_ "github.com/mattn/go-sqlite3"
)

// RunRecord is one row of backtest_runs.
type RunRecord struct {
	ID          int64                `json:"id"`
	Symbol      string               `json:"symbol"`
	Interval    string               `json:"interval"`
	Params      model.StrategyParams `json:"params"`
	FinalEquity decimal.Decimal      `json:"final_equity"`
	TradeCount  int                  `json:"trade_count"`
	Stats       report.Statistics    `json:"stats"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Reader provides read-only access to SQLite for backtests and run history.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadBars reads stored bars for symbol/interval within [from, to], ordered by
// timestamp ascending. A zero from or to leaves that side open.
func (r *Reader) ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	lo := int64(0)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	hi := int64(1<<63 - 1)
	if !to.IsZero() {
		hi = to.UnixMilli()
	}

	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM price_bars
		WHERE symbol = ? AND interval = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, interval, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query price_bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsMilli int64
		var vol sql.NullFloat64
		if err := rows.Scan(&tsMilli, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan price_bars: %w", err)
		}
		b.TS = time.UnixMilli(tsMilli).UTC()
		b.Volume = vol.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarTime returns the newest stored bar time, or the zero time when none exist.
func (r *Reader) LastBarTime(symbol, interval string) (time.Time, error) {
	var ts sql.NullInt64
	err := r.db.QueryRow(
		`SELECT MAX(ts) FROM price_bars WHERE symbol = ? AND interval = ?`,
		symbol, interval,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite last bar: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// ListRuns returns the most recent runs first.
func (r *Reader) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, symbol, interval, fast_period, slow_period, signal_period,
			initial_cash, sizing_fraction, commission_rate, final_equity,
			trade_count, stats, created_at
		FROM backtest_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest_runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var stats string
		var created int64
		err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Interval,
			&rec.Params.FastPeriod, &rec.Params.SlowPeriod, &rec.Params.SignalPeriod,
			&rec.Params.InitialCash, &rec.Params.SizingFraction, &rec.Params.CommissionRate,
			&rec.FinalEquity, &rec.TradeCount, &stats, &created)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan backtest_runs: %w", err)
		}
		if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats for run %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// RunTrades returns the closed trades of a run in the order they happened.
func (r *Reader) RunTrades(runID int64) ([]backtest.Trade, error) {
	rows, err := r.db.Query(`
		SELECT entry_index, exit_index, entry_ts, exit_ts, entry_price, exit_price, size, pnl, return_pct
		FROM backtest_trades
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query backtest_trades: %w", err)
	}
	defer rows.Close()

	trades := []backtest.Trade{}
	for rows.Next() {
		var t backtest.Trade
		var entryTS, exitTS int64
		err := rows.Scan(&t.EntryIndex, &t.ExitIndex, &entryTS, &exitTS,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.PnL, &t.ReturnPct)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan backtest_trades: %w", err)
		}
		t.EntryTime = time.UnixMilli(entryTS).UTC()
		t.ExitTime = time.UnixMilli(exitTS).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RunExists reports whether a run id is stored.
func (r *Reader) RunExists(runID int64) (bool, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM backtest_runs WHERE id = ?`, runID).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite run exists: %w", err)
	}
	return n > 0, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
