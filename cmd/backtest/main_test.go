package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
)

func hourly(from time.Time, closes ...float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{TS: from.Add(time.Duration(i) * time.Hour), Close: c}
	}
	return bars
}

type memStore struct {
	bars  []model.Bar
	saves int
}

func (m *memStore) ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range m.bars {
		if !b.TS.Before(from) && !b.TS.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) SaveBars(symbol, interval string, bars []model.Bar) error {
	m.saves++
	seen := map[time.Time]bool{}
	for _, b := range m.bars {
		seen[b.TS] = true
	}
	for _, b := range bars {
		if !seen[b.TS] {
			m.bars = append(m.bars, b)
		}
	}
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBarLoader_AutoFetchesWhenShort(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(10 * time.Hour)
	store := &memStore{bars: hourly(from, 1, 2, 3)}
	fetches := 0
	l := &barLoader{source: "auto", store: store, log: quietLogger(),
		fetch: func(_ context.Context, _, _ string, start, end time.Time) ([]model.Bar, error) {
			fetches++
			return hourly(start, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10), nil
		}}

	bars, err := l.Load(context.Background(), "BTCUSDT", "1h", from, to, 5)
	if err != nil {
		t.Fatal(err)
	}
	if fetches != 1 || store.saves != 1 {
		t.Errorf("fetches=%d saves=%d, want 1/1", fetches, store.saves)
	}
	if len(bars) != 10 {
		t.Errorf("expected 10 merged bars, got %d", len(bars))
	}

	// Now the store covers the window and is used as is.
	if _, err := l.Load(context.Background(), "BTCUSDT", "1h", from, to, 5); err != nil {
		t.Fatal(err)
	}
	if fetches != 1 {
		t.Errorf("covered window must not refetch, fetches=%d", fetches)
	}
}

func TestBarLoader_FallsBackToStoreOnFetchError(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{bars: hourly(from, 1, 2)}
	l := &barLoader{source: "auto", store: store, log: quietLogger(),
		fetch: func(context.Context, string, string, time.Time, time.Time) ([]model.Bar, error) {
			return nil, errors.New("offline")
		}}

	bars, err := l.Load(context.Background(), "BTCUSDT", "1h", from, from.Add(48*time.Hour), 30)
	if err != nil || len(bars) != 2 {
		t.Errorf("expected stored bars, got %d %v", len(bars), err)
	}

	l.store = &memStore{}
	if _, err := l.Load(context.Background(), "BTCUSDT", "1h", from, from.Add(48*time.Hour), 30); err == nil {
		t.Error("empty store and failed fetch must error")
	}
}

func TestBarLoader_StoreOnly(t *testing.T) {
	l := &barLoader{source: "store", store: &memStore{}, log: quietLogger(),
		fetch: func(context.Context, string, string, time.Time, time.Time) ([]model.Bar, error) {
			t.Fatal("store mode must not fetch")
			return nil, nil
		}}
	now := time.Now()
	if _, err := l.Load(context.Background(), "BTCUSDT", "1h", now.Add(-time.Hour), now, 1); !errors.Is(err, model.ErrInvalidSeries) {
		t.Errorf("expected ErrInvalidSeries, got %v", err)
	}
	if _, err := newBarLoader("ftp", nil, nil, quietLogger()); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("unknown source: %v", err)
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	from, to, err := window("", "", 30, now)
	if err != nil || !to.Equal(now) || !from.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("days window: %v %v %v", from, to, err)
	}

	from, to, err = window("2024-01-01", "2024-02-01T00:00:00Z", 0, now)
	if err != nil || from.Month() != time.January || to.Month() != time.February {
		t.Errorf("explicit window: %v %v %v", from, to, err)
	}

	if _, _, err := window("2024-02-01", "2024-01-01", 0, now); err == nil {
		t.Error("inverted window must fail")
	}
	if _, _, err := window("01/02/2024", "", 0, now); err == nil {
		t.Error("bad date must fail")
	}
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		in      string
		want    optimizer.Range
		wantErr bool
	}{
		{"8:16", optimizer.Range{Start: 8, Stop: 16, Step: 1}, false},
		{"20:40:5", optimizer.Range{Start: 20, Stop: 40, Step: 5}, false},
		{"10", optimizer.Range{}, true},
		{"10:5", optimizer.Range{}, true},
		{"1:5:0", optimizer.Range{}, true},
		{"a:b", optimizer.Range{}, true},
	}
	for _, tc := range cases {
		got, err := parseRange(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err=%v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("%q: got %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestResolveGrid(t *testing.T) {
	g, err := resolveGrid("", "", "", nil)
	if err != nil || len(g) != 8*10*6 {
		t.Errorf("default grid: %d %v", len(g), err)
	}

	g, err = resolveGrid("5:7", "20:22", "9:10", nil)
	if err != nil || len(g) != 4 || g[0] != (optimizer.ParamSet{Fast: 5, Slow: 20, Signal: 9}) {
		t.Errorf("flag grid: %+v %v", g, err)
	}

	file := func() optimizer.Grid { return optimizer.Grid{{Fast: 3, Slow: 6, Signal: 2}} }
	g, err = resolveGrid("", "", "", file)
	if err != nil || len(g) != 1 {
		t.Errorf("file grid: %+v %v", g, err)
	}
}

func TestPrintSummary(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	res, err := backtest.Run(hourly(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes...), model.DefaultParams().WithPeriods(3, 6, 3))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printSummary(&buf, "BACKTEST COMPLETE", "BTCUSDT", "1h", res)
	out := buf.String()
	for _, want := range []string{"BACKTEST COMPLETE", "BTCUSDT 1h", "3 / 6 / 3", "Final equity:", "╚"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
