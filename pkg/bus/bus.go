package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topics shared by the studio contexts.
const (
	// TopicStorage carries storage.changed events from key-value stores.
	TopicStorage = "storage"
	// TopicMessages carries fire-and-forget messenger notifications.
	TopicMessages = "messages"
	// TopicRecords carries committed record store writes.
	TopicRecords = "records"
	// TopicPage carries requests addressed to the application page.
	TopicPage = "page"
)

// Event is one notification on the bus. Source names the publishing
// context so receivers can ignore their own writes.
type Event struct {
	Topic   string          `json:"topic"`
	Name    string          `json:"name"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent encodes payload into an event.
func NewEvent(topic, name, source string, payload any) (Event, error) {
	ev := Event{Topic: topic, Name: name, Source: source, At: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

type Handler func(Event)

// Bus delivers events to every subscriber of a topic, in publish order per
// publisher. Delivery is best effort: events published while nobody is
// subscribed are dropped.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h for topic. The subscription is active when
	// Subscribe returns; the returned function removes it.
	Subscribe(ctx context.Context, topic string, h Handler) (func(), error)
	Close() error
}
