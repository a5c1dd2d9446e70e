package model

import "errors"

// Error taxonomy shared by the backtest core. Callers match with errors.Is;
// the wrapped message carries the offending values.
var (
	// ErrInsufficientData: price history shorter than the indicator warm-up.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidSeries: empty, malformed or out-of-order price input.
	ErrInvalidSeries = errors.New("invalid series")

	// ErrInvalidParameter: strategy configuration violates its constraints.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrSimulationInvariant: the simulator reached an impossible state
	// (negative cash or units). Always a defect.
	ErrSimulationInvariant = errors.New("simulation invariant violated")
)

// ErrorCode maps an error from the core onto a stable string code used by
// the API and the CLI. Unknown errors map to "INTERNAL_ERROR".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return "INSUFFICIENT_DATA"
	case errors.Is(err, ErrInvalidSeries):
		return "INVALID_SERIES"
	case errors.Is(err, ErrInvalidParameter):
		return "INVALID_PARAMETER"
	case errors.Is(err, ErrSimulationInvariant):
		return "SIMULATION_INVARIANT"
	default:
		return "INTERNAL_ERROR"
	}
}
