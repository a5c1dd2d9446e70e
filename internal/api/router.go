// Package api serves backtests, optimizer sweeps and run history over HTTP.
//
// All routes live under /api/v1. Errors share one JSON shape
// ({"error":{"code","message","details"}}), and sweeps can also be
// followed cell by cell over a websocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"macd-backtester/internal/backtest"
	"macd-backtester/internal/metrics"
	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/report"
	"macd-backtester/internal/store/sqlite"
	"macd-backtester/internal/strategy"
)

// BarSource loads stored bars. *sqlite.Reader implements it.
type BarSource interface {
	ReadBars(symbol, interval string, from, to time.Time) ([]model.Bar, error)
}

// RunStore reads persisted backtest runs. *sqlite.Reader implements it.
type RunStore interface {
	ListRuns(limit int) ([]sqlite.RunRecord, error)
	RunTrades(runID int64) ([]backtest.Trade, error)
	RunExists(runID int64) (bool, error)
}

// RunSaver persists a finished run. *sqlite.Writer implements it.
type RunSaver interface {
	SaveRun(symbol, interval string, res *backtest.Result) (int64, error)
}

// BestSink records the winning cell of a sweep. *redis.Publisher implements it.
type BestSink interface {
	SaveBest(ctx context.Context, symbol string, ps optimizer.ParamSet, st report.Statistics) error
}

// SignalSource returns the latest live decision. *redis.Publisher implements it.
type SignalSource interface {
	LatestSignal(ctx context.Context, symbol string) (*strategy.Decision, error)
}

// Deps are the collaborators of the API. Only Base is required; missing
// stores disable the routes that need them.
type Deps struct {
	Base      model.StrategyParams
	Objective string
	Workers   int

	Bars    BarSource
	Runs    RunStore
	Saver   RunSaver
	Best    BestSink
	Signals SignalSource
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Logger  *slog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer creates a Server. A nil logger uses slog.Default().
func NewServer(deps Deps) *Server {
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Server{deps: deps, log: lg}
}

// Engine builds the gin engine with every route registered.
func (s *Server) Engine() *gin.Engine {
	router := gin.New()
	router.Use(recovery())
	router.Use(s.requestLogger())
	if s.deps.Metrics != nil {
		router.Use(s.countRequests())
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.POST("/backtest", s.runBacktest)
		v1.POST("/optimize", s.runOptimize)
		v1.GET("/optimize/stream", s.streamOptimize)
		v1.POST("/compare", s.runCompare)
		v1.GET("/objectives", s.listObjectives)
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id/trades", s.runTrades)
		v1.GET("/signals/:symbol/latest", s.latestSignal)
	}
	return router
}

// Handler returns the engine wrapped in CORS handling for origins. An empty
// list or "*" allows any origin.
func (s *Server) Handler(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	})
	return c.Handler(s.Engine())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
