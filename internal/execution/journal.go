package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists paper fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS paper_fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		side        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		qty         TEXT NOT NULL,
		price       TEXT NOT NULL,
		slippage    TEXT NOT NULL DEFAULT '0',
		commission  TEXT NOT NULL DEFAULT '0',
		cash_after  TEXT NOT NULL,
		reason      TEXT,
		filled_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_paper_fills_symbol ON paper_fills(symbol);
	CREATE INDEX IF NOT EXISTS idx_paper_fills_filled_at ON paper_fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists a filled order.
func (j *Journal) RecordFill(res OrderResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO paper_fills (order_id, strategy, side, symbol, qty, price, slippage, commission, cash_after, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID,
		res.Order.Strategy,
		string(res.Order.Side),
		res.Order.Symbol,
		res.FillQty.String(),
		res.FillPrice.String(),
		res.Slippage.String(),
		res.Commission.String(),
		res.CashAfter.String(),
		res.Order.Reason,
		res.FilledAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// FillRecord represents a row from the paper_fills table.
type FillRecord struct {
	ID         int64           `json:"id"`
	OrderID    string          `json:"order_id"`
	Strategy   string          `json:"strategy"`
	Side       Side            `json:"side"`
	Symbol     string          `json:"symbol"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Slippage   decimal.Decimal `json:"slippage"`
	Commission decimal.Decimal `json:"commission"`
	CashAfter  decimal.Decimal `json:"cash_after"`
	Reason     string          `json:"reason"`
	FilledAt   time.Time       `json:"filled_at"`
}

// Fills returns the last N fills, newest first.
func (j *Journal) Fills(limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, strategy, side, symbol, qty, price, slippage, commission, cash_after, reason, filled_at
		 FROM paper_fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		var reason sql.NullString
		var filledAt int64
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Strategy, &f.Side, &f.Symbol, &f.Qty, &f.Price,
			&f.Slippage, &f.Commission, &f.CashAfter, &reason, &filledAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		f.Reason = reason.String
		f.FilledAt = time.UnixMilli(filledAt).UTC()
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
