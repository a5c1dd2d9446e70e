// cmd/trader paper-trades the MACD crossover strategy on live Binance bars,
// or on stored bars with -replay.
//
// Usage:
//
//	go run ./cmd/trader
//	go run ./cmd/trader -replay -from=2024-01-01 -speed=0
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"macd-backtester/config"
	"macd-backtester/internal/execution"
	"macd-backtester/internal/logger"
	"macd-backtester/internal/marketdata/binance"
	"macd-backtester/internal/marketdata/bus"
	"macd-backtester/internal/marketdata/replay"
	"macd-backtester/internal/metrics"
	"macd-backtester/internal/model"
	"macd-backtester/internal/notification"
	redisstore "macd-backtester/internal/store/redis"
	sqlitestore "macd-backtester/internal/store/sqlite"
	"macd-backtester/internal/strategy"
)

func main() {
	replayMode := flag.Bool("replay", false, "Replay stored bars instead of polling Binance")
	fromStr := flag.String("from", "", "Replay start date YYYY-MM-DD (default: 30 days ago)")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0 = as fast as possible)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	lg := logger.Init("trader", logger.ParseLevel(cfg.LogLevel))
	symbol, interval := cfg.Symbol, cfg.Interval

	step, err := binance.IntervalDuration(interval)
	if err != nil {
		lg.Error("unsupported interval", slog.String("interval", interval), slog.Any("error", err))
		os.Exit(1)
	}

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus("trader")
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, nil, health)
	metricsSrv.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- SQLite (bars) ----
	mkdirFor(cfg.SQLitePath)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		lg.Error("sqlite init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlWriter.Close()
	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		lg.Error("sqlite reader init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlReader.Close()
	health.SetSQLiteOK(true)

	// ---- Redis (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisEnabled() {
		health.SetRedisEnabled(true)
		pub, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			lg.Warn("redis init failed, continuing without redis", slog.Any("error", err))
		} else {
			health.RedisConnected = true
			pub.OnDeferred = prom.RedisDeferredWrites.Inc
			pub.OnBreakerChange = func(from, to redisstore.State) {
				prom.ObserveBreaker(int(to))
			}
			defer pub.Close()
		}
	}
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), sqlReader.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlReader.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL, "trader"))
	}
	if cfg.TelegramBotToken != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	// ---- Broker, journal, risk ----
	initial := decimal.NewFromFloat(cfg.InitialCapital)
	broker := execution.NewPaperBroker(initial, cfg.Commission, cfg.SlippageBps)
	mkdirFor(cfg.JournalPath)
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		lg.Error("journal init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer journal.Close()
	risk := execution.NewRiskManager(execution.RiskLimits{
		MaxDrawdownPct:   cfg.MaxDrawdownPct,
		MaxOrderNotional: cfg.MaxOrderNotional,
	}, initial)

	orderHook := prom.OrderHook()
	tcfg := execution.TraderConfig{
		Broker:         broker,
		SizingFraction: cfg.PositionSize,
		Journal:        journal,
		Notifier:       notifier,
		Risk:           risk,
		OnOrder: func(side execution.Side, status string) {
			orderHook(string(side), status)
		},
	}
	if pub != nil {
		tcfg.Publisher = pub
	}
	trader, err := execution.NewTrader(tcfg, 100)
	if err != nil {
		lg.Error("trader init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// ---- Strategy ----
	strat, err := strategy.NewMACDCrossover(symbol, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	if err != nil {
		lg.Error("strategy init failed", slog.Any("error", err))
		os.Exit(1)
	}
	engine := strategy.NewEngine(100)
	engine.Register(strat)

	// ---- Bar source ----
	barCh := make(chan model.Bar, 1000)
	var last time.Time
	if !*replayMode {
		client := binance.New(cfg.BinanceBaseURL)
		history := loadWarmup(ctx, lg, client, sqlReader, sqlWriter, symbol, interval, step, cfg.TraderWarmupBars)
		if n := len(history); n > 0 {
			last = history[n-1].TS
			health.SetLastBarTime(last)
		} else {
			last = time.Now().Truncate(step).Add(-2 * step)
		}
		if len(history) < strat.WarmUp() {
			lg.Warn("warmup history is short, first signals will be delayed",
				slog.Int("bars", len(history)), slog.Int("need", strat.WarmUp()))
		}
		discarded := warmUp(strat, history)
		lg.Info("strategy warmed up", slog.Int("bars", len(history)),
			slog.Bool("ready", strat.Warm()), slog.Float64("histogram", strat.Last().Histogram),
			slog.Int("historic_signals", discarded))
		// The engine is not running yet, so reading the strategy here is safe.
		if strat.Warm() {
			if price, err := client.TickerPrice(ctx, symbol); err == nil {
				lg.Info("forming bar outlook", slog.Float64("price", price),
					slog.Float64("histogram_if_closed_now", strat.Peek(price)))
			}
		}

		p := &poller{
			src:       client,
			symbol:    symbol,
			interval:  interval,
			step:      step,
			last:      last,
			log:       lg,
			onFetched: func(n int) { prom.BarsFetched.Add(float64(n)) },
			onError:   func(error) { prom.FetchErrors.Inc() },
		}
		go p.Run(ctx, cfg.TraderPollInterval, barCh)
	} else {
		from := time.Now().AddDate(0, 0, -30)
		if *fromStr != "" {
			if from, err = time.Parse("2006-01-02", *fromStr); err != nil {
				lg.Error("invalid -from", slog.String("from", *fromStr), slog.Any("error", err))
				os.Exit(1)
			}
		}
		go func() {
			defer close(barCh)
			n, err := replay.New(sqlReader).Run(ctx, symbol, interval, from, *speed, barCh)
			if err != nil && ctx.Err() == nil {
				lg.Error("replay failed", slog.Any("error", err))
			}
			lg.Info("replay finished", slog.Int("bars", n))
		}()
	}

	// ---- Fan-out: strategy, persistence, marking ----
	fanout := bus.New(1000)
	fanout.OnDrop = func(name string) {
		prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	engineIn := fanout.Subscribe("engine", bus.Block)
	markIn := fanout.Subscribe("mark", bus.Drop)
	if !*replayMode {
		sqliteIn := fanout.Subscribe("sqlite", bus.Block)
		go sqlWriter.Run(ctx, symbol, interval, sqliteIn)
	}
	go fanout.Run(ctx, barCh)
	go logSaturation(ctx, lg, fanout, time.Minute)

	go func() {
		for b := range markIn {
			eq := trader.Mark(symbol, b.Close)
			prom.PaperEquity.Set(eq.InexactFloat64())
			health.SetLastBarTime(b.TS)
		}
	}()

	go engine.Run(ctx, engineIn)

	decisions := make(chan strategy.Decision, 100)
	go func() {
		defer close(decisions)
		for d := range engine.Decisions() {
			prom.SignalsTotal.WithLabelValues(string(d.Signal)).Inc()
			select {
			case decisions <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	go trader.Run(ctx, decisions)

	notify(ctx, lg, notifier, notification.AlertInfo, "trader started",
		symbol+" "+interval+" "+strat.Name())

	// ---- Consume fills until shutdown (or the end of a replay) ----
	fills := 0
	for res := range trader.Results() {
		fills++
		lg.Info("fill",
			slog.String("order_id", res.OrderID),
			slog.String("side", string(res.Order.Side)),
			slog.String("qty", res.FillQty.StringFixed(8)),
			slog.String("price", res.FillPrice.StringFixed(4)),
			slog.String("cash", res.CashAfter.StringFixed(2)),
		)
	}

	status := risk.Status()
	lg.Info("trader stopped",
		slog.Int("fills", fills),
		slog.String("cash", broker.Cash().StringFixed(2)),
		slog.String("position", broker.Position(symbol).String()),
		slog.Float64("drawdown_pct", status.DrawdownPct),
		slog.Bool("halted", status.Halted),
	)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
}

// loadWarmup returns up to n recent bars, preferring the store and topping
// it up from Binance when the store is short.
func loadWarmup(ctx context.Context, lg *slog.Logger, client *binance.Client, r *sqlitestore.Reader,
	w *sqlitestore.Writer, symbol, interval string, step time.Duration, n int) []model.Bar {
	if n <= 0 {
		return nil
	}
	now := time.Now()
	stored, err := r.ReadBars(symbol, interval, now.Add(-time.Duration(n+1)*step), time.Time{})
	if err != nil {
		lg.Warn("warmup read failed", slog.Any("error", err))
	}
	if len(stored) >= n {
		return stored[len(stored)-n:]
	}

	fetched, err := client.Recent(ctx, symbol, interval, n)
	if err != nil {
		lg.Warn("warmup fetch failed, using stored bars", slog.Int("stored", len(stored)), slog.Any("error", err))
		return stored
	}
	if err := w.SaveBars(symbol, interval, fetched); err != nil {
		lg.Warn("warmup save failed", slog.Any("error", err))
	}
	return fetched
}

func notify(ctx context.Context, lg *slog.Logger, n notification.Notifier, level notification.AlertLevel, title, msg string) {
	if err := n.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		lg.Warn("notify failed", slog.Any("error", err))
	}
}

// logSaturation reports subscribers whose buffers are filling up.
func logSaturation(ctx context.Context, lg *slog.Logger, f *bus.FanOut, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range f.ChannelStats() {
				if s.Cap > 0 && s.Len*2 >= s.Cap {
					lg.Warn("fanout subscriber backlog", slog.String("subscriber", s.Name),
						slog.Int("len", s.Len), slog.Int("cap", s.Cap))
				}
			}
		}
	}
}

func mkdirFor(path string) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
		os.MkdirAll(dir, 0o755)
	}
}
