package strategy

import (
	"macd-backtester/internal/indicator"
	"macd-backtester/internal/model"
)

// Crossover applies the histogram zero-line rule to two consecutive points:
// ≤0 → >0 is ENTER_LONG, >0 → ≤0 is EXIT_LONG. Anything else, including a
// pair where either point is still warming up, is HOLD.
func Crossover(prev, cur indicator.MACDPoint) model.Signal {
	if !prev.Ready || !cur.Ready {
		return model.SignalHold
	}
	switch {
	case prev.Histogram <= 0 && cur.Histogram > 0:
		return model.SignalEnterLong
	case prev.Histogram > 0 && cur.Histogram <= 0:
		return model.SignalExitLong
	}
	return model.SignalHold
}

// GenerateSignals returns one Signal per frame point. Signals ignore the
// current position; the simulator drops the ones it cannot apply.
func GenerateSignals(frame indicator.Frame) []model.Signal {
	out := make([]model.Signal, len(frame.Points))
	for i := range frame.Points {
		if i == 0 {
			out[i] = model.SignalHold
			continue
		}
		out[i] = Crossover(frame.Points[i-1], frame.Points[i])
	}
	return out
}
