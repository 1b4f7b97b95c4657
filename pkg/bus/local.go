package bus

import (
	"context"
	"sync"
	"time"
)

// LocalBus delivers events synchronously on the publishing goroutine.
type LocalBus struct {
	mu     sync.RWMutex
	next   int
	topics map[string][]localSub
}

type localSub struct {
	id int
	h  Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{topics: make(map[string][]localSub)}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append([]localSub(nil), b.topics[ev.Topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.h(ev)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.topics[topic] = append(b.topics[topic], localSub{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s.id == id {
				b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.topics = make(map[string][]localSub)
	b.mu.Unlock()
	return nil
}
