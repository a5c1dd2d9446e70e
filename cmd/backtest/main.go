// cmd/backtest runs MACD backtests, parameter sweeps and strategy
// comparisons over bars from the local SQLite store or Binance.
//
// Usage:
//
//	go run ./cmd/backtest fetch --days=90
//	go run ./cmd/backtest backtest --fast=12 --slow=26 --signal=9 --trades-csv=trades.csv
//	go run ./cmd/backtest optimize --objective=sharpe --config=strategy.yaml
//	go run ./cmd/backtest compare
//	go run ./cmd/backtest runs --limit=20
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"macd-backtester/config"
	"macd-backtester/internal/logger"
)

// app is the state shared by every subcommand, set up in the root pre-run.
type app struct {
	cfg *config.Config
	log *slog.Logger
}

var (
	state app

	flagSymbol   string
	flagInterval string
	flagDB       string
	flagSource   string
	flagDays     int
	flagFrom     string
	flagTo       string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "backtest",
	Short:         "MACD crossover backtester",
	Long:          "Backtest, optimize and compare MACD crossover strategies on stored or fetched price bars",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("symbol") {
			flagSymbol = cfg.Symbol
		}
		if !flags.Changed("interval") {
			flagInterval = cfg.Interval
		}
		if !flags.Changed("db") {
			flagDB = cfg.SQLitePath
		}
		level := cfg.LogLevel
		if flags.Changed("log-level") {
			level = flagLogLevel
		}
		// Logs go to stderr so reports on stdout stay readable.
		state.cfg = cfg
		state.log = logger.InitWriter(os.Stderr, "backtest", logger.ParseLevel(level))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSymbol, "symbol", "", "Trading pair (default $SYMBOL)")
	pf.StringVar(&flagInterval, "interval", "", "Bar interval, e.g. 1h (default $INTERVAL)")
	pf.StringVar(&flagDB, "db", "", "Path to SQLite database (default $SQLITE_PATH)")
	pf.StringVar(&flagSource, "source", "auto", "Bar source: store, binance or auto (store, fetching when short)")
	pf.IntVar(&flagDays, "days", 90, "History window in days when --from is not set")
	pf.StringVar(&flagFrom, "from", "", "Start date YYYY-MM-DD or RFC3339")
	pf.StringVar(&flagTo, "to", "", "End date YYYY-MM-DD or RFC3339 (default now)")
	pf.StringVar(&flagConfig, "config", "", "Strategy YAML file (strategy, objective, grid)")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
