package kv

import (
	"context"
	"encoding/json"
	"log/slog"

	"scriptstudio/pkg/bus"
)

// EventStorageChanged is the bus event name published after a write.
const EventStorageChanged = "storage.changed"

// Change is the payload of a storage.changed event. Value is nil when the
// key was deleted.
type Change struct {
	Area  string          `json:"area"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Notifying publishes a storage.changed event after every committed write
// of the wrapped store.
type Notifying struct {
	Store
	area   string
	source string
	bus    bus.Bus
}

// NewNotifying wraps s. area names the storage area ("local", "session") and
// source the context that owns this handle.
func NewNotifying(s Store, b bus.Bus, area, source string) *Notifying {
	return &Notifying{Store: s, area: area, source: source, bus: b}
}

// Area names the storage area of the wrapped store.
func (n *Notifying) Area() string { return n.area }

// Source names the context writing through this handle.
func (n *Notifying) Source() string { return n.source }

func (n *Notifying) Set(ctx context.Context, key string, value []byte) error {
	if err := n.Store.Set(ctx, key, value); err != nil {
		return err
	}
	n.publish(ctx, Change{Area: n.area, Key: key, Value: json.RawMessage(value)})
	return nil
}

func (n *Notifying) Delete(ctx context.Context, key string) error {
	if err := n.Store.Delete(ctx, key); err != nil {
		return err
	}
	n.publish(ctx, Change{Area: n.area, Key: key})
	return nil
}

func (n *Notifying) Take(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := n.Store.Take(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}
	n.publish(ctx, Change{Area: n.area, Key: key})
	return value, true, nil
}

// The write already committed; a failed notification is logged, not
// returned.
func (n *Notifying) publish(ctx context.Context, change Change) {
	ev, err := bus.NewEvent(bus.TopicStorage, EventStorageChanged, n.source, change)
	if err == nil {
		err = n.bus.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("kv: publish storage change failed", "area", n.area, "key", change.Key, "err", err)
	}
}

// WatchKey calls fn for storage.changed events on key in area published by
// other sources.
func WatchKey(ctx context.Context, b bus.Bus, area, key, self string, fn func(Change)) (func(), error) {
	return b.Subscribe(ctx, bus.TopicStorage, func(ev bus.Event) {
		if ev.Name != EventStorageChanged || (self != "" && ev.Source == self) {
			return
		}
		var change Change
		if err := ev.Decode(&change); err != nil {
			slog.Warn("kv: drop malformed storage change", "err", err)
			return
		}
		if change.Area == area && change.Key == key {
			fn(change)
		}
	})
}
