package execution

import (
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"
)

// RiskLimits are the paper trader's guard rails. Zero disables a limit.
type RiskLimits struct {
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`   // halt new entries beyond this peak-to-trough loss (0-100)
	MaxOrderNotional float64 `json:"max_order_notional"` // cap on cash spent by one buy
}

// RiskStatus is a point-in-time view of the guard.
type RiskStatus struct {
	Equity      decimal.Decimal `json:"equity"`
	PeakEquity  decimal.Decimal `json:"peak_equity"`
	DrawdownPct float64         `json:"drawdown_pct"`
	Halted      bool            `json:"halted"`
	Limits      RiskLimits      `json:"limits"`
}

// RiskManager tracks marked-to-market equity and vetoes entries that would
// break a limit. Exits are never blocked.
type RiskManager struct {
	mu     sync.RWMutex
	limits RiskLimits

	equity     decimal.Decimal
	peakEquity decimal.Decimal
}

// NewRiskManager creates a RiskManager with the given limits and starting equity.
func NewRiskManager(limits RiskLimits, initialEquity decimal.Decimal) *RiskManager {
	return &RiskManager{
		limits:     limits,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// Mark records the latest equity.
func (rm *RiskManager) Mark(equity decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.equity = equity
	if equity.GreaterThan(rm.peakEquity) {
		rm.peakEquity = equity
	}
}

func (rm *RiskManager) drawdownPct() float64 {
	if !rm.peakEquity.IsPositive() {
		return 0
	}
	dd := rm.peakEquity.Sub(rm.equity).Div(rm.peakEquity).InexactFloat64() * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// CheckEntry returns the notional allowed for a buy, possibly capped, or an
// error wrapping ErrOrderRejected when entries are halted.
func (rm *RiskManager) CheckEntry(notional decimal.Decimal) (decimal.Decimal, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.limits.MaxDrawdownPct > 0 {
		if dd := rm.drawdownPct(); dd > rm.limits.MaxDrawdownPct {
			return decimal.Zero, fmt.Errorf("%w: drawdown %.2f%% exceeds %.2f%%", ErrOrderRejected, dd, rm.limits.MaxDrawdownPct)
		}
	}
	if rm.limits.MaxOrderNotional > 0 {
		limit := decimal.NewFromFloat(rm.limits.MaxOrderNotional)
		if notional.GreaterThan(limit) {
			log.Printf("[risk] capping notional %s to %s", notional, limit)
			return limit, nil
		}
	}
	return notional, nil
}

// Status returns the current risk status.
func (rm *RiskManager) Status() RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	dd := rm.drawdownPct()
	return RiskStatus{
		Equity:      rm.equity,
		PeakEquity:  rm.peakEquity,
		DrawdownPct: dd,
		Halted:      rm.limits.MaxDrawdownPct > 0 && dd > rm.limits.MaxDrawdownPct,
		Limits:      rm.limits,
	}
}
