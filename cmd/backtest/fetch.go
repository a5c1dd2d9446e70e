package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"macd-backtester/internal/marketdata/binance"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download bars from Binance into SQLite",
	Long:  "Fetch closed klines for the window and store them; already stored bars are kept",
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	from, to, err := window(flagFrom, flagTo, flagDays, time.Now())
	if err != nil {
		return err
	}
	store, err := openStore(flagDB)
	if err != nil {
		return err
	}
	defer store.Close()

	symbol := strings.ToUpper(flagSymbol)
	client := binance.New(state.cfg.BinanceBaseURL)
	bars, err := client.Klines(cmd.Context(), symbol, flagInterval, from, to)
	if err != nil {
		return err
	}
	if err := store.SaveBars(symbol, flagInterval, bars); err != nil {
		return err
	}

	fmt.Printf("fetched %d %s %s bars\n", len(bars), symbol, flagInterval)
	if len(bars) > 0 {
		first, last := bars[0], bars[len(bars)-1]
		fmt.Printf("range:      %s → %s\n", first.TS.Format("2006-01-02 15:04"), last.TS.Format("2006-01-02 15:04"))
		fmt.Printf("last close: %.2f\n", last.Close)
		hi, lo := first.High, first.Low
		for _, b := range bars {
			if b.High > hi {
				hi = b.High
			}
			if b.Low < lo {
				lo = b.Low
			}
		}
		fmt.Printf("high / low: %.2f / %.2f\n", hi, lo)
	}

	if price, err := client.TickerPrice(cmd.Context(), symbol); err != nil {
		state.log.Warn("ticker price unavailable", slog.Any("error", err))
	} else {
		fmt.Printf("live price: %.2f\n", price)
	}
	return nil
}
