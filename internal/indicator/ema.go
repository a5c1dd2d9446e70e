package indicator

import "strconv"

// EMA calculates Exponential Moving Average.
// O(1) per update, with no window storage.
//
// The first Value is the simple average of the first period inputs; after
// that each input moves the average by multiplier = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(value float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += value
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// Written as a delta so an unchanged input leaves the average bit-identical.
	e.current += e.multiplier * (value - e.current)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Period returns the smoothing period.
func (e *EMA) Period() int { return e.period }

// Peek computes what Value() would be with an additional input without mutating state.
func (e *EMA) Peek(value float64) float64 {
	switch {
	case e.count+1 < e.period:
		return (e.sum + value) / float64(e.count+1)
	case e.count+1 == e.period:
		return (e.sum + value) / float64(e.period)
	}
	return e.current + e.multiplier*(value-e.current)
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
