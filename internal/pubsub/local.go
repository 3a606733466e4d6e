package pubsub

import (
	"context"
	"sync"

	"github.com/vedran77/pulsecore/internal/metrics"
	"github.com/vedran77/pulsecore/pkg/wire"
)

// LocalBus delivers events inside one process.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[chan *wire.Event]struct{}
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[chan *wire.Event]struct{})}
}

func (b *LocalBus) Publish(ctx context.Context, ev *wire.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.WithLabelValues(metrics.DropBusOverflow).Inc()
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan *wire.Event, error) {
	ch := make(chan *wire.Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()
	return ch, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan *wire.Event]struct{})
	b.closed = true
	return nil
}

func (b *LocalBus) remove(ch chan *wire.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
