package messenger

import (
	"context"
	"fmt"

	"scriptstudio/pkg/bus"
)

// Notify publishes req on the messages topic without waiting for anyone.
// Delivery is best effort: nobody listening is not an error.
func Notify(ctx context.Context, b bus.Bus, req Request) error {
	ev := bus.Event{
		Topic:   bus.TopicMessages,
		Name:    string(req.Type),
		Source:  req.Source,
		Payload: req.Payload,
	}
	if err := b.Publish(ctx, ev); err != nil {
		return fmt.Errorf("notify %s: %w", req.Type, err)
	}
	return nil
}

// Listen calls fn for every notification of typ. Notifications published by
// self are skipped when self is not empty.
func Listen(ctx context.Context, b bus.Bus, typ Type, self string, fn func(Request)) (func(), error) {
	return b.Subscribe(ctx, bus.TopicMessages, func(ev bus.Event) {
		if ev.Name != string(typ) || (self != "" && ev.Source == self) {
			return
		}
		fn(Request{Type: typ, Source: ev.Source, Payload: ev.Payload})
	})
}
