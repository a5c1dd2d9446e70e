package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/logger"
)

var (
	btParams     paramFlags
	btTradesCSV  string
	btEquityCSV  string
	btSave       bool
	btJSON       bool
	btShowTrades bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one MACD backtest",
	Long:  "Replay the price window through a MACD crossover strategy and report performance statistics",
	Args:  cobra.NoArgs,
	RunE:  runBacktest,
}

func init() {
	btParams.register(backtestCmd, true)
	fs := backtestCmd.Flags()
	fs.StringVar(&btTradesCSV, "trades-csv", "", "Write closed trades to this CSV file")
	fs.StringVar(&btEquityCSV, "equity-csv", "", "Write the per-bar equity curve to this CSV file")
	fs.BoolVar(&btSave, "save", false, "Store the run and its trades in SQLite")
	fs.BoolVar(&btJSON, "json", false, "Print the full result as JSON instead of the summary box")
	fs.BoolVar(&btShowTrades, "trades", false, "List closed trades after the summary")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	params, _, err := btParams.resolve(cmd)
	if err != nil {
		return err
	}

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	symbol := strings.ToUpper(flagSymbol)
	ctx := logger.WithRunID(cmd.Context(), logger.NewRunID("backtest", symbol, time.Now()))

	bars, err := sess.bars(ctx, params.SlowPeriod+params.SignalPeriod)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := backtest.Run(bars, params)
	if err != nil {
		return err
	}
	state.log.Info("backtest complete", append(logger.Attrs(ctx),
		slog.String("params", params.String()),
		slog.Int("bars", len(bars)),
		slog.Int("trades", len(res.Trades)),
		slog.Duration("elapsed", time.Since(start)),
	)...)

	if btJSON {
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
	} else {
		printSummary(os.Stdout, "BACKTEST COMPLETE", symbol, flagInterval, res)
		if btShowTrades && len(res.Trades) > 0 {
			fmt.Println()
			printTrades(os.Stdout, res.Trades)
		}
	}

	if btTradesCSV != "" {
		if err := backtest.WriteTradesCSV(btTradesCSV, res.Trades); err != nil {
			return fmt.Errorf("write trades csv: %w", err)
		}
		state.log.Info("trades written", slog.String("path", btTradesCSV))
	}
	if btEquityCSV != "" {
		if err := backtest.WriteEquityCSV(btEquityCSV, res.Equity); err != nil {
			return fmt.Errorf("write equity csv: %w", err)
		}
		state.log.Info("equity curve written", slog.String("path", btEquityCSV))
	}
	if btSave {
		id, err := sess.store.SaveRun(symbol, flagInterval, res)
		if err != nil {
			return err
		}
		if !btJSON {
			fmt.Printf("saved as run %d\n", id)
		}
	}
	return nil
}
