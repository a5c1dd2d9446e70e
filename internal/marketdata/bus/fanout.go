// Package bus broadcasts closed bars from one producer to several consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"macd-backtester/internal/model"
)

// Policy decides what happens when a subscriber's buffer is full.
type Policy int

const (
	// Block waits for the subscriber. Consumers that must see every bar
	// (strategy, persistence) use it.
	Block Policy = iota
	// Drop skips the bar for that subscriber only.
	Drop
)

type subscriber struct {
	name   string
	ch     chan model.Bar
	policy Policy
}

// FanOut broadcasts bars from a single input channel to N named outputs.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int

	// OnDrop is called when a bar is dropped for a Drop subscriber.
	OnDrop func(name string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe registers a named output. Call it before Run.
func (f *FanOut) Subscribe(name string, policy Policy) <-chan model.Bar {
	ch := make(chan model.Bar, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, ch: ch, policy: policy})
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. All outputs are
// closed when it returns. Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Bar) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-input:
			if !ok {
				return
			}
			if !f.broadcast(ctx, bar) {
				return
			}
		}
	}
}

func (f *FanOut) broadcast(ctx context.Context, bar model.Bar) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		if s.policy == Block {
			select {
			case s.ch <- bar:
			case <-ctx.Done():
				return false
			}
			continue
		}
		select {
		case s.ch <- bar:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				log.Printf("[bus] %s full, dropping bar %s", s.name, bar.TS.Format("2006-01-02T15:04:05Z"))
			}
		}
	}
	return true
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports subscriber saturation.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
