package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"macd-backtester/internal/model"
)

// Config holds all application configuration loaded from environment variables.
// A .env file in the working directory is loaded first if present.
type Config struct {
	// Market
	Symbol         string
	Interval       string
	BinanceBaseURL string

	// Infrastructure
	RedisAddr     string // empty disables redis publishing
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIPort       string
	CORSOrigins   []string
	LogLevel      string

	// Strategy defaults
	InitialCapital float64
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	PositionSize   float64
	Commission     float64

	// Optimizer
	OptimizerWorkers int
	Objective        string

	// Paper trader
	TraderPollInterval time.Duration
	TraderWarmupBars   int
	SlippageBps        int64
	JournalPath        string
	MaxDrawdownPct     float64
	MaxOrderNotional   float64

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	// Missing .env is fine; real env vars always win.
	_ = godotenv.Load()

	cfg := &Config{
		Symbol:         strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Interval:       getEnv("INTERVAL", "1h"),
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.com"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trading_data.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIPort:       getEnv("API_PORT", "8080"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		OptimizerWorkers: getEnvInt("OPTIMIZER_WORKERS", 0),
		Objective:        getEnv("OPTIMIZER_OBJECTIVE", "return"),

		TraderPollInterval: getEnvDuration("TRADER_POLL_INTERVAL", 5*time.Minute),
		TraderWarmupBars:   getEnvInt("TRADER_WARMUP_BARS", 200),
		SlippageBps:        int64(getEnvInt("SLIPPAGE_BPS", 5)),
		JournalPath:        getEnv("JOURNAL_PATH", "data/journal.db"),
		MaxDrawdownPct:     getEnvFloat("TRADER_MAX_DRAWDOWN_PCT", 0),
		MaxOrderNotional:   getEnvFloat("TRADER_MAX_ORDER_NOTIONAL", 0),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
	}

	// Strategy values never fall back: a typo must not trade with defaults.
	var err error
	if cfg.InitialCapital, err = parseEnvFloat("INITIAL_CAPITAL", 10000); err != nil {
		return nil, err
	}
	if cfg.MACDFast, err = parseEnvInt("MACD_FAST", 12); err != nil {
		return nil, err
	}
	if cfg.MACDSlow, err = parseEnvInt("MACD_SLOW", 26); err != nil {
		return nil, err
	}
	if cfg.MACDSignal, err = parseEnvInt("MACD_SIGNAL", 9); err != nil {
		return nil, err
	}
	if cfg.PositionSize, err = parseEnvFloat("POSITION_SIZE", 1.0); err != nil {
		return nil, err
	}
	if cfg.Commission, err = parseEnvFloat("COMMISSION", 0.002); err != nil {
		return nil, err
	}

	// A bot token without a chat is a misconfiguration, not a silent no-op.
	if cfg.TelegramBotToken != "" {
		chatID, err := mustEnv("TELEGRAM_CHAT_ID")
		if err != nil {
			return nil, err
		}
		cfg.TelegramChatID = chatID
	}

	if _, err := cfg.StrategyParams(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// StrategyParams builds validated strategy parameters from the defaults.
func (c *Config) StrategyParams() (model.StrategyParams, error) {
	p := model.StrategyParams{
		FastPeriod:     c.MACDFast,
		SlowPeriod:     c.MACDSlow,
		SignalPeriod:   c.MACDSignal,
		InitialCash:    decimal.NewFromFloat(c.InitialCapital),
		SizingFraction: c.PositionSize,
		CommissionRate: c.Commission,
	}
	if err := p.Validate(); err != nil {
		return model.StrategyParams{}, err
	}
	return p, nil
}

// RedisEnabled reports whether a redis address is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// parseEnvInt is the strict form of getEnvInt: an unparsable value is an error.
func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %w: %s=%q is not an integer", model.ErrInvalidParameter, key, v)
	}
	return n, nil
}

// parseEnvFloat is the strict form of getEnvFloat.
func parseEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("config: %w: %s=%q is not a number", model.ErrInvalidParameter, key, v)
	}
	return f, nil
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		log.Printf("[config] skipping invalid %s value: %q", key, v)
		return fallback
	}
	return d
}
