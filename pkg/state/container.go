package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
)

// Container is a single observable value. Mutations are serialized and
// listeners see every committed value exactly once, in commit order.
// Listeners run on the mutating goroutine and must not call Set or Update.
type Container[T any] struct {
	name      string
	normalize func(T) T

	writeMu sync.Mutex
	mu      sync.RWMutex
	value   T
	next    int
	subs    []listener[T]

	store kv.Store
	key   string
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Option configures a Container.
type Option[T any] func(*Container[T])

// WithNormalize runs fn on every value before it is committed.
func WithNormalize[T any](fn func(T) T) Option[T] {
	return func(c *Container[T]) { c.normalize = fn }
}

// New returns an in-memory container holding initial.
func New[T any](name string, initial T, opts ...Option[T]) *Container[T] {
	c := &Container[T]{name: name}
	for _, opt := range opts {
		opt(c)
	}
	c.value = c.apply(initial)
	return c
}

// NewPersisted returns a container backed by key in store. The stored value
// wins over initial when present.
func NewPersisted[T any](ctx context.Context, store kv.Store, key string, initial T, opts ...Option[T]) (*Container[T], error) {
	c := New(key, initial, opts...)
	c.store = store
	c.key = key
	var stored T
	ok, err := kv.GetJSON(ctx, store, key, &stored)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if ok {
		c.value = c.apply(stored)
	}
	return c, nil
}

func (c *Container[T]) apply(v T) T {
	if c.normalize != nil {
		return c.normalize(v)
	}
	return v
}

// Name is the container's key or label.
func (c *Container[T]) Name() string { return c.name }

func (c *Container[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value. Persisted containers write through before
// listeners are notified; a failed write leaves the value unchanged.
func (c *Container[T]) Set(ctx context.Context, v T) error {
	return c.Update(ctx, func(T) T { return v })
}

// Update replaces the value with fn(previous) as one atomic step.
func (c *Container[T]) Update(ctx context.Context, fn func(T) T) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := c.apply(fn(c.Get()))
	if c.store != nil {
		if err := kv.SetJSON(ctx, c.store, c.key, next); err != nil {
			return fmt.Errorf("persist %s: %w", c.key, err)
		}
	}
	c.commit(next)
	return nil
}

func (c *Container[T]) commit(v T) {
	c.mu.Lock()
	c.value = v
	subs := append([]listener[T](nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribe calls fn after every committed change and returns a function
// that removes it.
func (c *Container[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.subs = append(c.subs, listener[T]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Follow adopts values written to the same key by other contexts, as seen
// through storage.changed events on b. self is this context's source name.
func (c *Container[T]) Follow(ctx context.Context, b bus.Bus, area, self string) (func(), error) {
	if c.store == nil {
		return nil, fmt.Errorf("container %s is not persisted", c.name)
	}
	return kv.WatchKey(ctx, b, area, c.key, self, func(change kv.Change) {
		if change.Value == nil {
			return
		}
		var v T
		if err := json.Unmarshal(change.Value, &v); err != nil {
			slog.Warn("state: drop malformed remote value", "key", c.key, "err", err)
			return
		}
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		c.commit(c.apply(v))
	})
}
