package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the backtester, optimizer and
// paper trader.
type Metrics struct {
	// Backtests
	BacktestRuns     *prometheus.CounterVec // labels: outcome=ok|error
	BacktestDuration prometheus.Histogram
	BarsProcessed    prometheus.Counter
	TradesSimulated  prometheus.Counter

	// Optimizer
	OptimizerCells    *prometheus.CounterVec // labels: status=evaluated|skipped|failed|discarded
	OptimizerDuration prometheus.Histogram
	OptimizerBest     *prometheus.GaugeVec // labels: symbol, objective
	OptimizerRunning  prometheus.Gauge

	// Live / paper
	SignalsTotal     *prometheus.CounterVec // labels: signal
	OrdersTotal      *prometheus.CounterVec // labels: side, status
	PaperEquity      prometheus.Gauge
	BarsFetched      prometheus.Counter
	FetchErrors      prometheus.Counter
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisDeferredWrites      prometheus.Counter

	// HTTP API
	APIRequests *prometheus.CounterVec // labels: route, code
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BacktestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_backtest_runs_total",
			Help: "Backtest pipeline runs by outcome",
		}, []string{"outcome"}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "macd_backtest_duration_seconds",
			Help:    "Wall time of one backtest run",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_backtest_bars_total",
			Help: "Bars replayed through the simulator",
		}),
		TradesSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_backtest_trades_total",
			Help: "Closed trades produced by backtests",
		}),

		OptimizerCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_optimizer_cells_total",
			Help: "Optimizer grid cells by status",
		}, []string{"status"}),
		OptimizerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "macd_optimizer_duration_seconds",
			Help:    "Wall time of one optimizer sweep",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
		}),
		OptimizerBest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "macd_optimizer_best_score",
			Help: "Best objective score of the latest sweep",
		}, []string{"symbol", "objective"}),
		OptimizerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macd_optimizer_running",
			Help: "Sweeps currently in progress",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_signals_total",
			Help: "Live strategy decisions by signal",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_orders_total",
			Help: "Paper orders by side and status",
		}, []string{"side", "status"}),
		PaperEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macd_paper_equity",
			Help: "Paper account equity marked at the last close",
		}),
		BarsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_bars_fetched_total",
			Help: "Closed bars fetched from the exchange",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_fetch_errors_total",
			Help: "Failed exchange polls",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_fanout_drops_total",
			Help: "Bars dropped per slow subscriber",
		}, []string{"subscriber"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "macd_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_redis_circuit_breaker_trips_total",
			Help: "Times the redis circuit breaker opened",
		}),
		RedisDeferredWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "macd_redis_deferred_writes_total",
			Help: "Redis writes held back while the breaker was open",
		}),

		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "macd_api_requests_total",
			Help: "HTTP API requests by route and status code",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.BacktestRuns,
		m.BacktestDuration,
		m.BarsProcessed,
		m.TradesSimulated,
		m.OptimizerCells,
		m.OptimizerDuration,
		m.OptimizerBest,
		m.OptimizerRunning,
		m.SignalsTotal,
		m.OrdersTotal,
		m.PaperEquity,
		m.BarsFetched,
		m.FetchErrors,
		m.FanoutDropsTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisDeferredWrites,
		m.APIRequests,
	)

	return m
}

// CellHook returns a function suitable for optimizer.WithCellHook.
func (m *Metrics) CellHook() func(status string) {
	return func(status string) { m.OptimizerCells.WithLabelValues(status).Inc() }
}

// OrderHook returns a function suitable for execution.TraderConfig.OnOrder.
// It takes plain strings so this package does not depend on execution.
func (m *Metrics) OrderHook() func(side, status string) {
	return func(side, status string) { m.OrdersTotal.WithLabelValues(side, status).Inc() }
}

// ObserveBreaker records a redis breaker transition given as numeric states.
func (m *Metrics) ObserveBreaker(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
