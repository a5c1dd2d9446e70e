package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/marketdata/binance"
	"macd-backtester/internal/model"
	sqlitestore "macd-backtester/internal/store/sqlite"
)

// localStore pairs the SQLite writer and reader over one database file.
type localStore struct {
	writer *sqlitestore.Writer
	reader *sqlitestore.Reader
}

func openStore(path string) (*localStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		return nil, err
	}
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &localStore{writer: w, reader: r}, nil
}

func (s *localStore) ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	return s.reader.ReadBars(symbol, interval, from, to)
}

func (s *localStore) SaveBars(symbol, interval string, bars []model.Bar) error {
	return s.writer.SaveBars(symbol, interval, bars)
}

func (s *localStore) SaveRun(symbol, interval string, res *backtest.Result) (int64, error) {
	return s.writer.SaveRun(symbol, interval, res)
}

func (s *localStore) Close() {
	s.reader.Close()
	s.writer.Close()
}

type barStore interface {
	ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error)
	SaveBars(symbol, interval string, bars []model.Bar) error
}

type fetchFunc func(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Bar, error)

// barLoader resolves a series from the store, Binance or both.
type barLoader struct {
	source string // store | binance | auto
	store  barStore
	fetch  fetchFunc
	log    *slog.Logger
}

func newBarLoader(source string, store barStore, client *binance.Client, lg *slog.Logger) (*barLoader, error) {
	switch source {
	case "store", "binance", "auto":
	default:
		return nil, fmt.Errorf("%w: unknown source %q (want store, binance or auto)", model.ErrInvalidParameter, source)
	}
	return &barLoader{source: source, store: store, fetch: client.Klines, log: lg}, nil
}

// Load returns the bars of [from, to). In auto mode the store is used when it
// covers most of the window and has at least minBars bars; otherwise the
// window is fetched, stored and re-read so the result is de-duplicated.
func (l *barLoader) Load(ctx context.Context, symbol, interval string, from, to time.Time, minBars int) ([]model.Bar, error) {
	if l.source == "binance" {
		bars, err := l.fetch(ctx, symbol, interval, from, to)
		if err != nil {
			return nil, err
		}
		if err := l.store.SaveBars(symbol, interval, bars); err != nil {
			l.log.Warn("caching fetched bars failed", slog.Any("error", err))
		}
		return nonEmpty(bars, symbol, interval)
	}

	stored, err := l.store.ReadBars(symbol, interval, from, to.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	if l.source == "store" || l.covers(stored, interval, from, to, minBars) {
		return nonEmpty(stored, symbol, interval)
	}

	l.log.Info("store short of window, fetching",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("stored", len(stored)),
	)
	fetched, err := l.fetch(ctx, symbol, interval, from, to)
	if err != nil {
		if len(stored) > 0 {
			l.log.Warn("fetch failed, using stored bars", slog.Any("error", err))
			return stored, nil
		}
		return nil, err
	}
	if err := l.store.SaveBars(symbol, interval, fetched); err != nil {
		return nil, err
	}
	merged, err := l.store.ReadBars(symbol, interval, from, to.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	return nonEmpty(merged, symbol, interval)
}

func (l *barLoader) covers(stored []model.Bar, interval string, from, to time.Time, minBars int) bool {
	if len(stored) < minBars {
		return false
	}
	step, err := binance.IntervalDuration(interval)
	if err != nil {
		return len(stored) > 0
	}
	expected := int(to.Sub(from) / step)
	return len(stored)*10 >= expected*9
}

func nonEmpty(bars []model.Bar, symbol, interval string) ([]model.Bar, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s %s in window", model.ErrInvalidSeries, symbol, interval)
	}
	return bars, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD or RFC3339)", s)
	}
	return t.UTC(), nil
}

// window resolves --from/--to/--days against now.
func window(fromStr, toStr string, days int, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if toStr != "" {
		t, err := parseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	if fromStr != "" {
		t, err := parseDate(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must be after start date")
	}
	return from, to, nil
}

// session opens the store and builds the loader from the global flags.
type session struct {
	store  *localStore
	loader *barLoader
	from   time.Time
	to     time.Time
}

func openSession() (*session, error) {
	from, to, err := window(flagFrom, flagTo, flagDays, time.Now())
	if err != nil {
		return nil, err
	}
	store, err := openStore(flagDB)
	if err != nil {
		return nil, err
	}
	loader, err := newBarLoader(flagSource, store, binance.New(state.cfg.BinanceBaseURL), state.log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{store: store, loader: loader, from: from, to: to}, nil
}

func (s *session) bars(ctx context.Context, minBars int) ([]model.Bar, error) {
	symbol := strings.ToUpper(flagSymbol)
	return s.loader.Load(ctx, symbol, flagInterval, s.from, s.to, minBars)
}

func (s *session) Close() { s.store.Close() }
