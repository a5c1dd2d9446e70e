package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"macd-backtester/internal/optimizer"
	"macd-backtester/internal/report"
	"macd-backtester/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

const defaultLatestTTL = 30 * time.Minute

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL   time.Duration // TTL of latest:signal:{symbol}; 0 means 30m
	MaxFailures int           // breaker threshold; 0 means 5
	CoolDown    time.Duration // breaker cool-down; 0 means 10s
}

// Key helpers. Channel and key names are part of the external contract.
func SignalChannel(symbol string) string   { return "signal:" + symbol }
func LatestSignalKey(symbol string) string { return "latest:signal:" + symbol }
func BestParamsKey(symbol string) string   { return "opt:best:" + symbol }

// Publisher writes live signals and optimizer winners to Redis. All network
// calls go through a CircuitBreaker; while it is open the newest payload per
// key is held back and replayed once the breaker closes.
type Publisher struct {
	client    *goredis.Client
	cb        *CircuitBreaker
	latestTTL time.Duration

	mu      sync.Mutex
	pending map[string]func(context.Context) error

	// OnDeferred is called when a write is held back (for metrics).
	OnDeferred func()

	// OnBreakerChange observes breaker transitions (for metrics). Set it
	// instead of Breaker().OnStateChange, which the publisher owns.
	OnBreakerChange func(from, to State)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding the client.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newPublisher(client, cfg), nil
}

func newPublisher(client *goredis.Client, cfg Config) *Publisher {
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 10 * time.Second
	}
	p := &Publisher{
		client:    client,
		cb:        NewCircuitBreaker(cfg.MaxFailures, cfg.CoolDown),
		latestTTL: cfg.LatestTTL,
		pending:   make(map[string]func(context.Context) error),
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if p.OnBreakerChange != nil {
			p.OnBreakerChange(from, to)
		}
		if to == StateClosed {
			go p.flush(context.Background())
		}
	}
	return p
}

// signalPayload is the JSON published for a Decision.
type signalPayload struct {
	strategy.Decision
	PublishedAt time.Time `json:"published_at"`
}

// bestPayload builds the HSET field map for an optimizer winner.
func bestPayload(ps optimizer.ParamSet, st report.Statistics) (map[string]interface{}, error) {
	stats, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}
	return map[string]interface{}{
		"fast":             strconv.Itoa(ps.Fast),
		"slow":             strconv.Itoa(ps.Slow),
		"signal":           strconv.Itoa(ps.Signal),
		"total_return_pct": strconv.FormatFloat(st.TotalReturnPct, 'f', -1, 64),
		"sharpe":           strconv.FormatFloat(st.Sharpe, 'f', -1, 64),
		"trade_count":      strconv.Itoa(st.TradeCount),
		"stats":            string(stats),
		"updated_at":       strconv.FormatInt(time.Now().Unix(), 10),
	}, nil
}

// PublishSignal publishes d on signal:{symbol} and stores it under
// latest:signal:{symbol} with the configured TTL.
func (p *Publisher) PublishSignal(ctx context.Context, d strategy.Decision) error {
	data, err := json.Marshal(signalPayload{Decision: d, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	write := func(ctx context.Context) error {
		pipe := p.client.Pipeline()
		pipe.Publish(ctx, SignalChannel(d.Symbol), data)
		pipe.Set(ctx, LatestSignalKey(d.Symbol), data, p.latestTTL)
		_, err := pipe.Exec(ctx)
		return err
	}
	return p.do(ctx, LatestSignalKey(d.Symbol), write)
}

// SaveBest stores the winning parameter set under opt:best:{symbol}.
func (p *Publisher) SaveBest(ctx context.Context, symbol string, ps optimizer.ParamSet, st report.Statistics) error {
	fields, err := bestPayload(ps, st)
	if err != nil {
		return err
	}
	write := func(ctx context.Context) error {
		return p.client.HSet(ctx, BestParamsKey(symbol), fields).Err()
	}
	return p.do(ctx, BestParamsKey(symbol), write)
}

// LatestSignal returns the last published decision for symbol, or nil when
// none is stored or it has expired.
func (p *Publisher) LatestSignal(ctx context.Context, symbol string) (*strategy.Decision, error) {
	var raw string
	err := p.cb.Execute(func() error {
		var err error
		raw, err = p.client.Get(ctx, LatestSignalKey(symbol)).Result()
		if err == goredis.Nil {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get latest signal: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var payload signalPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal signal: %w", err)
	}
	return &payload.Decision, nil
}

// do runs write through the breaker. A write rejected by an open breaker is
// kept (newest per key wins) and nil is returned.
func (p *Publisher) do(ctx context.Context, key string, write func(context.Context) error) error {
	err := p.cb.Execute(func() error { return write(ctx) })
	if err == ErrCircuitOpen {
		p.mu.Lock()
		p.pending[key] = write
		p.mu.Unlock()
		if p.OnDeferred != nil {
			p.OnDeferred()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]func(context.Context) error)
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	for key, write := range pending {
		err := p.cb.Execute(func() error { return write(ctx) })
		switch {
		case err == ErrCircuitOpen:
			p.mu.Lock()
			if _, newer := p.pending[key]; !newer {
				p.pending[key] = write
			}
			p.mu.Unlock()
		case err != nil:
			log.Printf("[redis] replay %s failed: %v", key, err)
		}
	}
	log.Printf("[redis] replayed %d deferred writes", len(pending))
}

// Pending returns the number of deferred writes.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
