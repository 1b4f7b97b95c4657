package tokencapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"scriptstudio/internal/contexttoken"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/metrics"
)

// Config configures a Listener.
type Config struct {
	// Pattern is the browser match pattern of the vendor API.
	Pattern string
	// Vendor names the vendor; the token is stored under "<vendor>Token".
	Vendor string
	Store  kv.Store
	// Bus receives the capture notification. Optional.
	Bus bus.Bus
	// Source is the context name stamped on notifications.
	Source string
	// Notification defaults to VBEE_TOKEN_CAPTURED.
	Notification messenger.Type
}

// TokenCaptured is the payload of the capture notification.
type TokenCaptured struct {
	Token string `json:"token"`
}

// Listener passively observes outgoing requests and keeps the latest bearer
// token sent to the vendor API. It writes and notifies only when the token
// changes.
type Listener struct {
	pattern      *Pattern
	key          string
	vendor       string
	store        kv.Store
	bus          bus.Bus
	source       string
	notification messenger.Type

	mu sync.Mutex
}

func NewListener(cfg Config) (*Listener, error) {
	vendor := strings.TrimSpace(cfg.Vendor)
	if vendor == "" {
		return nil, errors.New("tokencapture: vendor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("tokencapture: store is required")
	}
	pattern, err := CompilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	notification := cfg.Notification
	if notification == "" {
		notification = messenger.TypeVbeeTokenCaptured
	}
	return &Listener{
		pattern:      pattern,
		key:          vendor + "Token",
		vendor:       vendor,
		store:        cfg.Store,
		bus:          cfg.Bus,
		source:       cfg.Source,
		notification: notification,
	}, nil
}

// Key is the storage key holding the token.
func (l *Listener) Key() string { return l.key }

// Observe inspects r without modifying it. It reports whether a new token
// was stored.
func (l *Listener) Observe(ctx context.Context, r *http.Request) (bool, error) {
	if r == nil || !l.pattern.Match(r.URL) {
		return false, nil
	}
	token, ok := contexttoken.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		return false, nil
	}
	return l.capture(ctx, token)
}

func (l *Listener) capture(ctx context.Context, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var current string
	if _, err := kv.GetJSON(ctx, l.store, l.key, &current); err != nil {
		return false, fmt.Errorf("read %s: %w", l.key, err)
	}
	if current == token {
		return false, nil
	}
	if err := kv.SetJSON(ctx, l.store, l.key, token); err != nil {
		return false, fmt.Errorf("store %s: %w", l.key, err)
	}
	slog.Info("tokencapture: token updated", "key", l.key)
	metrics.TokenCapturesTotal.WithLabelValues(l.vendor).Inc()
	if l.bus == nil {
		return true, nil
	}
	req, err := messenger.NewRequest(l.notification, l.source, TokenCaptured{Token: token})
	if err == nil {
		err = messenger.Notify(ctx, l.bus, req)
	}
	if err != nil {
		slog.Warn("tokencapture: notify failed", "key", l.key, "err", err)
	}
	return true, nil
}

// Token returns the persisted token.
func (l *Listener) Token(ctx context.Context) (string, bool, error) {
	var token string
	ok, err := kv.GetJSON(ctx, l.store, l.key, &token)
	if err != nil || !ok {
		return "", false, err
	}
	return token, token != "", nil
}

// Transport observes requests on their way out through Base.
type Transport struct {
	Listener *Listener
	Base     http.RoundTripper
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if _, err := t.Listener.Observe(r.Context(), r); err != nil {
		slog.Warn("tokencapture: observe failed", "url", r.URL.Redacted(), "err", err)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Middleware observes inbound requests before handing them to next. Origin
// form request targets are matched against the Host header.
func (l *Listener) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed := r
		if r.URL.Host == "" {
			u := *r.URL
			u.Host = r.Host
			u.Scheme = "http"
			if r.TLS != nil {
				u.Scheme = "https"
			}
			observed = r.Clone(r.Context())
			observed.URL = &u
		}
		if _, err := l.Observe(r.Context(), observed); err != nil {
			slog.Warn("tokencapture: observe failed", "path", r.URL.Path, "err", err)
		}
		next.ServeHTTP(w, r)
	})
}
