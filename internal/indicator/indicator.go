// Package indicator provides the moving-average family used by the MACD
// strategy.
//
// Indicators are streaming: they receive one value per bar and expose the
// current result. Batch helpers such as ComputeMACD are built on the same
// streaming types, so the backtest and the live trader share one
// implementation.
package indicator

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_9", "MACD_12_26_9").
	Name() string

	// Update feeds the next value (usually a bar close) and recalculates.
	Update(value float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if value were added next,
	// WITHOUT mutating internal state.
	Peek(value float64) float64
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*MACD)(nil)
)
