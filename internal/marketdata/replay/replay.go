// Package replay provides a bar replayer that reads historical data from
// the store and emits it at configurable speed for paper trading dry runs.
package replay

import (
	"context"
	"log"
	"time"

	"macd-backtester/internal/model"
)

// maxGap caps the sleep between two replayed bars.
const maxGap = 5 * time.Second

// Source is the read side the replayer needs; *sqlite.Reader satisfies it.
type Source interface {
	ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error)
}

// Replayer reads stored bars and replays them at a speed multiplier.
type Replayer struct {
	source Source
}

// New creates a Replayer backed by source.
func New(source Source) *Replayer {
	return &Replayer{source: source}
}

// Run replays bars for symbol/interval with TS >= from into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
// as possible. outCh is not closed. Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, symbol, interval string, from time.Time, speed float64, outCh chan<- model.Bar) (int, error) {
	bars, err := r.source.ReadBars(symbol, interval, from, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		log.Printf("[replay] no %s %s bars found", symbol, interval)
		return 0, nil
	}
	if err := model.ValidateSeries(bars); err != nil {
		return 0, err
	}

	log.Printf("[replay] loaded %d %s %s bars, speed=%.1fx", len(bars), symbol, interval, speed)

	emitted := 0
	for i, b := range bars {
		if speed > 0 && i > 0 {
			gap := time.Duration(float64(b.TS.Sub(bars[i-1].TS)) / speed)
			if gap > maxGap {
				gap = maxGap
			}
			select {
			case <-ctx.Done():
				return emitted, ctx.Err()
			case <-time.After(gap):
			}
		}

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case outCh <- b:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
