package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/prompts"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/validate"
)

// Page events published on bus.TopicPage.
const (
	EventOpenPage    = "open-page"
	EventPrimeGemini = "prime-gemini"
)

// AddScriptPayload is the payload of ADD_SCRIPT_TO_DB.
type AddScriptPayload struct {
	Script *domain.Script `json:"script"`
}

// AddScriptResult is the data of a successful ADD_SCRIPT_TO_DB reply.
type AddScriptResult struct {
	Warnings []string `json:"warnings,omitempty"`
}

// AddScriptHandler stores payload.script with a single Add and replies with
// the new id.
func AddScriptHandler(scripts store.Collection[domain.Script]) Handler {
	return func(ctx context.Context, req Request) Response {
		var payload AddScriptPayload
		if err := req.Decode(&payload); err != nil {
			return Fail(domain.Invalid("payload", "%v", err))
		}
		if payload.Script == nil {
			return Fail(domain.Invalid("script", "is required"))
		}
		id, err := scripts.Add(ctx, *payload.Script)
		if err != nil {
			slog.Warn("messenger: add script failed", "source", req.Source, "err", err)
			return Fail(err)
		}
		slog.Info("messenger: script added", "source", req.Source, "script_id", id)
		resp := OK(AddScriptResult{Warnings: validate.CheckScript(*payload.Script)})
		resp.ScriptID = id
		return resp
	}
}

// OpenPagePayload is the data of a successful OPEN_PAGE_WITH_PAYLOAD reply
// and of the open-page event.
type OpenPagePayload struct {
	Key string `json:"key"`
}

// OpenPageHandler parks the request payload in session storage under a fresh
// key and asks the application page to open with it.
func OpenPageHandler(session kv.Store, b bus.Bus, source string) Handler {
	return func(ctx context.Context, req Request) Response {
		if len(req.Payload) == 0 || !json.Valid(req.Payload) {
			return Fail(domain.Invalid("payload", "is required"))
		}
		key := "payload:" + uuid.NewString()
		if err := session.Set(ctx, key, req.Payload); err != nil {
			return Fail(fmt.Errorf("store payload: %w", err))
		}
		ev, err := bus.NewEvent(bus.TopicPage, EventOpenPage, source, OpenPagePayload{Key: key})
		if err == nil {
			err = b.Publish(ctx, ev)
		}
		if err != nil {
			return Fail(&domain.DeliveryError{Type: string(req.Type), Reason: err.Error()})
		}
		return OK(OpenPagePayload{Key: key})
	}
}

// PrimePayload is carried by the prime-gemini page event.
type PrimePayload struct {
	Text string `json:"text"`
}

// PrimeGeminiHandler publishes the schema priming text for the page context
// that drives the chat AI app.
func PrimeGeminiHandler(b bus.Bus, source string) Handler {
	return func(ctx context.Context, req Request) Response {
		ev, err := bus.NewEvent(bus.TopicPage, EventPrimeGemini, source, PrimePayload{Text: prompts.PrimingText()})
		if err == nil {
			err = b.Publish(ctx, ev)
		}
		if err != nil {
			return Fail(&domain.DeliveryError{Type: string(req.Type), Reason: err.Error()})
		}
		return OK(nil)
	}
}

// ErrNoPayload is returned by TakePayload for unknown or consumed keys.
var ErrNoPayload = errors.New("payload not found")

// TakePayload reads and removes a payload parked by OpenPageHandler. Of two
// concurrent takes only one gets the payload.
func TakePayload(ctx context.Context, session kv.Store, key string) (json.RawMessage, error) {
	raw, ok, err := session.Take(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPayload
	}
	return raw, nil
}
