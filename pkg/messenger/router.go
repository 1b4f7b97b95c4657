package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scriptstudio/pkg/metrics"
)

// Handler processes one request and returns its only reply.
type Handler func(ctx context.Context, req Request) Response

// Router dispatches requests by type. It is the receiving side of every
// transport.
type Router struct {
	name string

	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRouter returns a router for the named context.
func NewRouter(name string) *Router {
	return &Router{name: name, handlers: make(map[Type]Handler)}
}

func (r *Router) Name() string { return r.name }

// Handle registers h for typ, replacing any previous handler.
func (r *Router) Handle(typ Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// Handles reports whether a handler is registered for typ.
func (r *Router) Handles(typ Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[typ]
	return ok
}

// Dispatch runs the handler for req and returns exactly one response. A
// missing handler or a panic becomes a failure response.
func (r *Router) Dispatch(ctx context.Context, req Request) (resp Response) {
	r.mu.RLock()
	h, ok := r.handlers[req.Type]
	r.mu.RUnlock()
	if !ok {
		return Fail(fmt.Errorf("unsupported message type %q", req.Type))
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("messenger: handler panic", "context", r.name, "type", req.Type, "id", req.ID, "panic", rec)
			resp = Fail(errors.New("internal error"))
		}
		status := "ok"
		if !resp.Success {
			status = "error"
		}
		metrics.MessagesTotal.WithLabelValues(r.name, string(req.Type), status).Inc()
	}()
	return h(ctx, req)
}
