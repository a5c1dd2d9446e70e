package backtest

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// WriteTradesCSV writes closed trades to path.
func WriteTradesCSV(path string, trades []Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"entry_bar_index",
		"exit_bar_index",
		"entry_time",
		"exit_time",
		"entry_price",
		"exit_price",
		"size",
		"pnl",
		"return_pct",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, t := range trades {
		row := []string{
			strconv.Itoa(t.EntryIndex),
			strconv.Itoa(t.ExitIndex),
			fmtTime(t.EntryTime),
			fmtTime(t.ExitTime),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Size.String(),
			t.PnL.StringFixed(6),
			fmtFloat(t.ReturnPct),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteEquityCSV writes the equity curve to path, one row per bar.
func WriteEquityCSV(path string, points []EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"index", "ts", "close", "cash", "units", "equity"}); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.Itoa(p.Index),
			fmtTime(p.TS),
			p.Close.String(),
			p.Cash.StringFixed(6),
			p.Units.String(),
			p.Equity.StringFixed(6),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
