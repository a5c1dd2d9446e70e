package model

// Signal is the per-bar trade instruction emitted by the signal generator.
type Signal string

const (
	SignalEnterLong Signal = "ENTER_LONG"
	SignalExitLong  Signal = "EXIT_LONG"
	SignalHold      Signal = "HOLD"
)

// Count returns how many entries of s equal want.
func Count(s []Signal, want Signal) int {
	n := 0
	for _, v := range s {
		if v == want {
			n++
		}
	}
	return n
}
