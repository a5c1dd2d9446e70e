package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"macd-backtester/internal/logger"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
)

var (
	cmpParams paramFlags
	cmpJSON   bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the standard, fast and slow MACD setups",
	Long:  "Run the standard (12/26/9), fast (8/21/5) and slow (15/30/12) setups on the same bars and rank them by final equity",
	Args:  cobra.NoArgs,
	RunE:  runCompare,
}

func init() {
	cmpParams.register(compareCmd, false)
	compareCmd.Flags().BoolVar(&cmpJSON, "json", false, "Print the comparison as JSON")

	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	base, _, err := cmpParams.resolve(cmd)
	if err != nil {
		return err
	}
	configs := optimizer.DefaultConfigs(base)

	sess, err := openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	symbol := strings.ToUpper(flagSymbol)
	ctx := logger.WithRunID(cmd.Context(), logger.NewRunID("compare", symbol, time.Now()))

	minBars := 0
	for _, c := range configs {
		if n := c.Params.SlowPeriod + c.Params.SignalPeriod; n > minBars {
			minBars = n
		}
	}
	bars, err := sess.bars(ctx, minBars)
	if err != nil {
		return err
	}
	if err := model.ValidateSeries(bars); err != nil {
		return err
	}

	cs, err := optimizer.Compare(ctx, bars, configs)
	if err != nil {
		return err
	}
	best, _ := optimizer.BestComparison(cs)
	if cmpJSON {
		return printJSON(os.Stdout, cs)
	}
	printComparison(os.Stdout, configs, cs, best.Name)
	return nil
}
