package main

import (
	"context"
	"log/slog"
	"time"

	"macd-backtester/internal/model"
	"macd-backtester/internal/strategy"
)

// klineSource is the part of the Binance client the poller uses.
type klineSource interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Bar, error)
}

// poller turns repeated kline requests into a stream of new closed bars.
// Only bars strictly after the last emitted one are forwarded.
type poller struct {
	src      klineSource
	symbol   string
	interval string
	step     time.Duration
	last     time.Time
	log      *slog.Logger

	onFetched func(n int)
	onError   func(err error)
}

// poll fetches bars opened after last and sends them to out in order.
// It returns how many bars were sent.
func (p *poller) poll(ctx context.Context, out chan<- model.Bar) (int, error) {
	start := p.last.Add(p.step)
	if !time.Now().After(start.Add(p.step)) {
		// The next bar has not closed yet.
		return 0, nil
	}
	bars, err := p.src.Klines(ctx, p.symbol, p.interval, start, time.Time{})
	if err != nil {
		if p.onError != nil {
			p.onError(err)
		}
		return 0, err
	}

	sent := 0
	for _, b := range bars {
		if !b.TS.After(p.last) {
			continue
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return sent, ctx.Err()
		}
		p.last = b.TS
		sent++
	}
	if p.onFetched != nil && sent > 0 {
		p.onFetched(sent)
	}
	return sent, nil
}

// Run polls every interval until ctx is cancelled. out is not closed.
func (p *poller) Run(ctx context.Context, every time.Duration, out chan<- model.Bar) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if n, err := p.poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("kline poll failed", slog.Any("error", err))
		} else if n > 0 {
			p.log.Info("new bars", slog.Int("count", n), slog.Time("last", p.last))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// warmUp feeds history through s so the indicator is primed before live
// bars arrive. Decisions on history are discarded; the count is returned.
func warmUp(s strategy.Strategy, bars []model.Bar) int {
	discarded := 0
	for _, b := range bars {
		if s.OnBar(b) != nil {
			discarded++
		}
	}
	return discarded
}
