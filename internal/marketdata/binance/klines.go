package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"macd-backtester/internal/model"
)

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration maps a kline interval name to its length.
// Calendar months ("1M") are not supported.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported interval %q", model.ErrInvalidParameter, interval)
	}
	return d, nil
}

// Klines fetches closed bars for symbol with open time in [start, end),
// paging forward pageLimit bars per request. A zero end means now. The bar
// still forming at request time is dropped.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Bar, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if end.IsZero() || end.After(now) {
		end = now
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s not after start %s", model.ErrInvalidParameter,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var out []model.Bar
	cursor := start
	for cursor.Before(end) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", interval)
		q.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
		q.Set("limit", strconv.Itoa(pageLimit))

		var raw [][]json.Number
		if err := c.fetchJSON(ctx, c.buildURL("/api/v3/klines", q), &raw); err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		if len(raw) == 0 {
			break
		}

		var last time.Time
		for _, row := range raw {
			bar, closeTime, ok := parseKline(row)
			if !ok {
				continue
			}
			last = bar.TS
			if bar.TS.Before(start) || !bar.TS.Before(end) || !closeTime.Before(now) {
				continue
			}
			if n := len(out); n > 0 && !bar.TS.After(out[n-1].TS) {
				continue
			}
			out = append(out, bar)
		}
		if last.IsZero() || len(raw) < pageLimit {
			break
		}
		next := last.Add(step)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}

	log.Printf("[binance] fetched %d %s %s bars", len(out), symbol, interval)
	return out, nil
}

// Recent fetches the last n closed bars.
func (c *Client) Recent(ctx context.Context, symbol, interval string, n int) ([]model.Bar, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	end := c.now()
	// One extra bar covers the forming bar that Klines drops.
	bars, err := c.Klines(ctx, symbol, interval, end.Add(-time.Duration(n+1)*step), end)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// parseKline decodes one row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.Number) (model.Bar, time.Time, bool) {
	if len(row) < 7 {
		return model.Bar{}, time.Time{}, false
	}
	openMs, err := row[0].Int64()
	if err != nil {
		return model.Bar{}, time.Time{}, false
	}
	closeMs, err := row[6].Int64()
	if err != nil {
		return model.Bar{}, time.Time{}, false
	}
	var vals [5]float64
	for i := range vals {
		f, err := strconv.ParseFloat(row[i+1].String(), 64)
		if err != nil {
			return model.Bar{}, time.Time{}, false
		}
		vals[i] = f
	}
	return model.Bar{
		TS:     time.UnixMilli(openMs).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, time.UnixMilli(closeMs).UTC(), true
}
