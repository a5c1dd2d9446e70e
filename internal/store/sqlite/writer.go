package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/trading_data.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			symbol   TEXT    NOT NULL,
			interval TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			PRIMARY KEY (symbol, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol           TEXT    NOT NULL,
			interval         TEXT    NOT NULL,
			fast_period      INTEGER NOT NULL,
			slow_period      INTEGER NOT NULL,
			signal_period    INTEGER NOT NULL,
			initial_cash     TEXT    NOT NULL,
			sizing_fraction  REAL    NOT NULL,
			commission_rate  REAL    NOT NULL,
			final_equity     TEXT    NOT NULL,
			total_return_pct REAL    NOT NULL,
			trade_count      INTEGER NOT NULL,
			stats            TEXT    NOT NULL,
			created_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS backtest_trades (
			run_id      INTEGER NOT NULL REFERENCES backtest_runs(id),
			seq         INTEGER NOT NULL,
			entry_index INTEGER NOT NULL,
			exit_index  INTEGER NOT NULL,
			entry_ts    INTEGER NOT NULL,
			exit_ts     INTEGER NOT NULL,
			entry_price TEXT    NOT NULL,
			exit_price  TEXT    NOT NULL,
			size        TEXT    NOT NULL,
			pnl         TEXT    NOT NULL,
			return_pct  REAL    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, symbol, interval string, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.SaveBars(symbol, interval, batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveBars inserts bars in a single transaction. Bars already stored for the
// same (symbol, interval, ts) are left untouched.
func (w *Writer) SaveBars(symbol, interval string, bars []model.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO price_bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare price_bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, interval, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert price_bars: %w", err)
		}
	}

	return tx.Commit()
}

// SaveRun stores a backtest result and its closed trades, returning the run id.
func (w *Writer) SaveRun(symbol, interval string, res *backtest.Result) (int64, error) {
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return 0, fmt.Errorf("marshal stats: %w", err)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	p := res.Params
	out, err := tx.Exec(`
		INSERT INTO backtest_runs (symbol, interval, fast_period, slow_period, signal_period,
			initial_cash, sizing_fraction, commission_rate, final_equity, total_return_pct,
			trade_count, stats, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, symbol, interval, p.FastPeriod, p.SlowPeriod, p.SignalPeriod,
		p.InitialCash.String(), p.SizingFraction, p.CommissionRate,
		res.FinalEquity().String(), res.Stats.TotalReturnPct,
		len(res.Trades), string(stats), time.Now().Unix())
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite insert backtest_runs: %w", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite run id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO backtest_trades (run_id, seq, entry_index, exit_index, entry_ts, exit_ts,
			entry_price, exit_price, size, pnl, return_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare backtest_trades: %w", err)
	}
	defer stmt.Close()

	for i, t := range res.Trades {
		_, err := stmt.Exec(id, i, t.EntryIndex, t.ExitIndex, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
			t.EntryPrice.String(), t.ExitPrice.String(), t.Size.String(), t.PnL.String(), t.ReturnPct)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert backtest_trades: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit run: %w", err)
	}
	log.Printf("[sqlite] saved run %d (%s %s, %d trades)", id, symbol, interval, len(res.Trades))
	return id, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
