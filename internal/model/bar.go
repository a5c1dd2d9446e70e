package model

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV price bar for a single symbol and interval.
// Bars are immutable once recorded; a series is ordered by TS ascending.
type Bar struct {
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ValidateSeries checks the ordering guarantees the backtest core relies on:
// non-empty, strictly ascending timestamps and finite positive closes.
// Gaps between bars are tolerated.
func ValidateSeries(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty series", ErrInvalidSeries)
	}
	for i, b := range bars {
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Close <= 0 {
			return fmt.Errorf("%w: bar %d has invalid close %v", ErrInvalidSeries, i, b.Close)
		}
		if i > 0 && !b.TS.After(bars[i-1].TS) {
			return fmt.Errorf("%w: bar %d ts %s not after bar %d ts %s",
				ErrInvalidSeries, i, b.TS.Format(time.RFC3339), i-1, bars[i-1].TS.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes extracts the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
