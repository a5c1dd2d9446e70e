package optimizer

import (
	"fmt"
	"sort"
	"strings"

	"macd-backtester/internal/report"
)

// Objective scores a run; higher is better.
type Objective func(report.Statistics) float64

var objectives = map[string]Objective{
	"return":        func(s report.Statistics) float64 { return s.TotalReturnPct },
	"sharpe":        func(s report.Statistics) float64 { return s.Sharpe },
	"sortino":       func(s report.Statistics) float64 { return s.Sortino },
	"win_rate":      func(s report.Statistics) float64 { return s.WinRate },
	"drawdown":      func(s report.Statistics) float64 { return -s.MaxDrawdownPct },
	"profit_factor": profitFactor,
}

func profitFactor(s report.Statistics) float64 {
	if s.ProfitFactorInfinite {
		return 1e9
	}
	return s.ProfitFactor
}

// ObjectiveByName resolves a named objective. An empty name means "return".
func ObjectiveByName(name string) (Objective, error) {
	if name == "" {
		name = "return"
	}
	obj, ok := objectives[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (want one of %s)", name, strings.Join(ObjectiveNames(), ", "))
	}
	return obj, nil
}

// ObjectiveNames lists the registered objectives in sorted order.
func ObjectiveNames() []string {
	names := make([]string, 0, len(objectives))
	for n := range objectives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
