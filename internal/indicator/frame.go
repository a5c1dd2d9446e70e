package indicator

import (
	"fmt"

	"macd-backtester/internal/model"
)

// Frame is the MACD output aligned 1:1 with the input price series.
type Frame struct {
	Fast   int         `json:"fast"`
	Slow   int         `json:"slow"`
	Signal int         `json:"signal"`
	Points []MACDPoint `json:"points"`
}

// Len returns the number of points.
func (f Frame) Len() int { return len(f.Points) }

// FirstReady returns the index of the first point with a defined histogram,
// or -1 if the series never leaves warm-up.
func (f Frame) FirstReady() int {
	for i, p := range f.Points {
		if p.Ready {
			return i
		}
	}
	return -1
}

// ComputeMACD runs MACD(fast, slow, signal) over prices.
// The first slow-1 points have MACDReady=false and the first
// slow+signal-2 points have Ready=false.
func ComputeMACD(prices []float64, fast, slow, signal int) (Frame, error) {
	m, err := NewMACD(fast, slow, signal)
	if err != nil {
		return Frame{}, err
	}
	if len(prices) < slow {
		return Frame{}, fmt.Errorf("%w: %d prices, slow_period=%d needs at least %d",
			model.ErrInsufficientData, len(prices), slow, slow)
	}

	points := make([]MACDPoint, len(prices))
	for i, p := range prices {
		points[i] = m.Next(p)
	}
	return Frame{Fast: fast, Slow: slow, Signal: signal, Points: points}, nil
}
