package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/store/sqlite"
)

const boxWidth = 50

func boxLine(w io.Writer, label, value string) {
	fmt.Fprintf(w, "║  %-20s %-*s ║\n", label, boxWidth-24, value)
}

func boxTitle(w io.Writer, title string) {
	bar := strings.Repeat("═", boxWidth-2)
	pad := boxWidth - 2 - len(title)
	left := pad / 2
	fmt.Fprintln(w, "╔"+bar+"╗")
	fmt.Fprintf(w, "║%s%s%s║\n", strings.Repeat(" ", left), title, strings.Repeat(" ", pad-left))
	fmt.Fprintln(w, "╠"+bar+"╣")
}

func boxEnd(w io.Writer) {
	fmt.Fprintln(w, "╚"+strings.Repeat("═", boxWidth-2)+"╝")
}

// printSummary writes the boxed report of one run.
func printSummary(w io.Writer, title, symbol, interval string, res *backtest.Result) {
	st := res.Stats
	p := res.Params

	boxTitle(w, title)
	boxLine(w, "Symbol:", symbol+" "+interval)
	boxLine(w, "MACD:", fmt.Sprintf("%d / %d / %d", p.FastPeriod, p.SlowPeriod, p.SignalPeriod))
	boxLine(w, "Sizing / commission:", fmt.Sprintf("%.2f / %.4f", p.SizingFraction, p.CommissionRate))
	if st.Bars > 0 {
		boxLine(w, "Period:", st.Start.Format("2006-01-02")+" → "+st.End.Format("2006-01-02"))
	}
	boxLine(w, "Bars:", fmt.Sprintf("%d", st.Bars))
	boxLine(w, "Initial cash:", p.InitialCash.StringFixed(2))
	boxLine(w, "Final equity:", res.FinalEquity().StringFixed(2))
	boxLine(w, "Total return:", fmt.Sprintf("%.2f%%", st.TotalReturnPct))
	boxLine(w, "Buy & hold:", fmt.Sprintf("%.2f%%", st.BuyHoldReturnPct))
	boxLine(w, "Max drawdown:", fmt.Sprintf("%.2f%% (%d bars)", st.MaxDrawdownPct, st.MaxDrawdownBars))
	boxLine(w, "Sharpe / Sortino:", fmt.Sprintf("%.2f / %.2f", st.Sharpe, st.Sortino))
	boxLine(w, "Exposure:", fmt.Sprintf("%.1f%%", st.ExposurePct))
	boxLine(w, "Trades:", fmt.Sprintf("%d (%d entries, %d exits)", st.TradeCount, res.Entries, res.Exits))
	if st.TradeCount > 0 {
		boxLine(w, "Win rate:", fmt.Sprintf("%.1f%%", st.WinRate*100))
		pf := fmt.Sprintf("%.2f", st.ProfitFactor)
		if st.ProfitFactorInfinite {
			pf = "∞"
		}
		boxLine(w, "Profit factor:", pf)
		boxLine(w, "Best / worst trade:", fmt.Sprintf("%.2f%% / %.2f%%", st.BestTradePct, st.WorstTradePct))
	}
	if o := res.Open; o != nil {
		boxLine(w, "Open position:", fmt.Sprintf("%s @ %s", o.Size.StringFixed(6), o.EntryPrice.StringFixed(2)))
		boxLine(w, "Unrealized PnL:", o.UnrealizedPnL.StringFixed(2))
	}
	boxEnd(w)
}

// printTop writes the best cells of a sweep as a table.
func printTop(w io.Writer, objective string, evals []optimizer.Evaluation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "#\tfast\tslow\tsignal\t%s\treturn%%\tsharpe\tmaxDD%%\ttrades\t\n", objective)
	for i, ev := range evals {
		st := ev.Stats
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4f\t%.2f\t%.2f\t%.2f\t%d\t\n",
			i+1, ev.Params.Fast, ev.Params.Slow, ev.Params.Signal, ev.Score,
			st.TotalReturnPct, st.Sharpe, st.MaxDrawdownPct, st.TradeCount)
	}
	tw.Flush()
}

// printComparison writes one line per configuration.
func printComparison(w io.Writer, configs []optimizer.Config, cs []optimizer.Comparison, best string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "config\tmacd\tsize\tfinal equity\treturn%\tsharpe\tmaxDD%\ttrades\t")
	for i, c := range cs {
		p := configs[i].Params
		name := c.Name
		if name == best {
			name += " *"
		}
		macd := fmt.Sprintf("%d/%d/%d", p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		if c.Result == nil {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\terror: %s\t\t\t\t\t\n", name, macd, p.SizingFraction, c.Err)
			continue
		}
		st := c.Result.Stats
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%.2f\t%.2f\t%.2f\t%d\t\n",
			name, macd, p.SizingFraction, c.Result.FinalEquity().StringFixed(2),
			st.TotalReturnPct, st.Sharpe, st.MaxDrawdownPct, st.TradeCount)
	}
	tw.Flush()
}

// printRuns lists stored runs, newest first.
func printRuns(w io.Writer, runs []sqlite.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tcreated\tsymbol\tmacd\tfinal equity\treturn%\ttrades\t")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s %s\t%d/%d/%d\t%s\t%.2f\t%d\t\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Symbol, r.Interval,
			r.Params.FastPeriod, r.Params.SlowPeriod, r.Params.SignalPeriod,
			r.FinalEquity.StringFixed(2), r.Stats.TotalReturnPct, r.TradeCount)
	}
	tw.Flush()
}

// printTrades lists closed trades.
func printTrades(w io.Writer, trades []backtest.Trade) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tentry\texit\tentry px\texit px\tsize\tpnl\treturn%\t")
	for i, t := range trades {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t\n",
			i+1, t.EntryTime.Format(time.DateTime), t.ExitTime.Format(time.DateTime),
			t.EntryPrice.StringFixed(2), t.ExitPrice.StringFixed(2), t.Size.StringFixed(6),
			t.PnL.StringFixed(2), t.ReturnPct)
	}
	tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
