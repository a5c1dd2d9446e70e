package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sqlitestore "macd-backtester/internal/store/sqlite"
)

var (
	runsLimit  int
	runsTrades int64
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved backtest runs",
	Long:  "List runs stored with backtest --save, newest first, or the trades of one run with --trades=ID",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to list")
	runsCmd.Flags().Int64Var(&runsTrades, "trades", 0, "Show the trades of this run id")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print as JSON")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	reader, err := sqlitestore.NewReader(flagDB)
	if err != nil {
		return err
	}
	defer reader.Close()

	if runsTrades > 0 {
		ok, err := reader.RunExists(runsTrades)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %d not found", runsTrades)
		}
		trades, err := reader.RunTrades(runsTrades)
		if err != nil {
			return err
		}
		if runsJSON {
			return printJSON(os.Stdout, trades)
		}
		if len(trades) == 0 {
			fmt.Printf("run %d has no closed trades\n", runsTrades)
			return nil
		}
		printTrades(os.Stdout, trades)
		return nil
	}

	runs, err := reader.ListRuns(runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("no saved runs")
		return nil
	}
	printRuns(os.Stdout, runs)
	return nil
}
