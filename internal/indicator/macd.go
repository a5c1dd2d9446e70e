package indicator

import (
	"fmt"

	"macd-backtester/internal/model"
)

// MACDPoint is the MACD family value for one bar.
// MACDReady is set once the slow EMA is seeded; Ready once the signal line
// is seeded too, at which point Signal and Histogram are meaningful.
type MACDPoint struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	MACDReady bool    `json:"macd_ready"`
	Ready     bool    `json:"ready"`
}

// MACD is a streaming MACD(fast, slow, signal) indicator.
// The MACD line is fastEMA − slowEMA, the signal line an EMA of the MACD
// line, and the histogram their difference.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	point  MACDPoint
}

// NewMACD creates a streaming MACD. Periods must satisfy
// 1 <= fast < slow and signal >= 1.
func NewMACD(fast, slow, signal int) (*MACD, error) {
	if err := model.ValidatePeriods(fast, slow, signal); err != nil {
		return nil, err
	}
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fast.Period(), m.slow.Period(), m.signal.Period())
}

// Update feeds the next close.
func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.slow.Ready() {
		m.point = MACDPoint{}
		return
	}

	line := m.fast.Value() - m.slow.Value()
	m.signal.Update(line)

	p := MACDPoint{MACD: line, MACDReady: true}
	if m.signal.Ready() {
		p.Signal = m.signal.Value()
		p.Histogram = line - p.Signal
		p.Ready = true
	}
	m.point = p
}

// Next is Update followed by Point.
func (m *MACD) Next(price float64) MACDPoint {
	m.Update(price)
	return m.Point()
}

// Point returns the latest MACD point.
func (m *MACD) Point() MACDPoint { return m.point }

// Value returns the latest histogram value.
func (m *MACD) Value() float64 { return m.point.Histogram }
func (m *MACD) Ready() bool    { return m.point.Ready }

// Peek returns the histogram the next price would produce, or 0 if the
// signal line would still be warming up.
func (m *MACD) Peek(price float64) float64 {
	if m.slow.count+1 < m.slow.period || m.signal.count+1 < m.signal.period {
		return 0
	}
	line := m.fast.Peek(price) - m.slow.Peek(price)
	return line - m.signal.Peek(line)
}

// WarmUp returns the number of bars before the first Ready point.
func (m *MACD) WarmUp() int {
	return m.slow.Period() + m.signal.Period() - 2
}

// Reset clears all state.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.point = MACDPoint{}
}
