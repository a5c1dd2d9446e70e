// cmd/api serves backtests, optimizer sweeps and run history over HTTP.
//
// Usage:
//
//	API_PORT=8080 SQLITE_PATH=data/trading_data.db go run ./cmd/api
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"macd-backtester/config"
	"macd-backtester/internal/api"
	"macd-backtester/internal/logger"
	"macd-backtester/internal/metrics"
	redisstore "macd-backtester/internal/store/redis"
	sqlitestore "macd-backtester/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	lg := logger.Init("api", logger.ParseLevel(cfg.LogLevel))

	base, err := cfg.StrategyParams()
	if err != nil {
		lg.Error("invalid strategy defaults", slog.Any("error", err))
		os.Exit(1)
	}

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus("api")
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, nil, health)
	metricsSrv.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- SQLite (bars + runs) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
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
	if last, err := sqlReader.LastBarTime(cfg.Symbol, cfg.Interval); err == nil && !last.IsZero() {
		health.SetLastBarTime(last)
	}

	deps := api.Deps{
		Base:      base,
		Objective: cfg.Objective,
		Workers:   cfg.OptimizerWorkers,
		Bars:      sqlReader,
		Runs:      sqlReader,
		Saver:     sqlWriter,
		Metrics:   prom,
		Health:    health,
		Logger:    lg,
	}

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
			deps.Best = pub
			deps.Signals = pub
			defer pub.Close()
		}
	}
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), sqlReader.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlReader.DB(), 10*time.Second)
	}

	// ---- HTTP ----
	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           api.NewServer(deps).Handler(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("api listening", slog.String("addr", srv.Addr), slog.Any("cors", cfg.CORSOrigins))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("api server error", slog.Any("error", err))
			cancel()
		}
	}()

	// ---- Wait for shutdown signal ----
	<-ctx.Done()
	lg.Info("shutdown signal received, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	lg.Info("shutdown complete")
}
