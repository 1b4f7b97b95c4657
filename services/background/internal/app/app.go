package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/store"
	"scriptstudio/pkg/tokencapture"
)

// Config wires the background context.
type Config struct {
	Store *store.Store
	// Settings is the persisted local settings store; the vendor token
	// lives here.
	Settings kv.Store
	// Session holds payloads parked for the application page.
	Session kv.Store
	Bus     bus.Bus
	// Source names this context on the bus and as the messenger target.
	Source string

	Vendor        string
	VendorPattern string
	// Transport is optional; without it only HTTP delivery is served.
	Transport *messenger.RedisTransport
}

// App is the background worker: it receives cross-context requests and
// watches vendor traffic for bearer tokens.
type App struct {
	router    *messenger.Router
	listener  *tokencapture.Listener
	session   kv.Store
	transport *messenger.RedisTransport
	source    string
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("app: settings store is required")
	}
	session := cfg.Session
	if session == nil {
		session = kv.NewMemoryStore()
	}
	b := cfg.Bus
	if b == nil {
		b = bus.NewLocalBus()
	}
	source := cfg.Source
	if source == "" {
		source = "background"
	}

	listener, err := tokencapture.NewListener(tokencapture.Config{
		Pattern: cfg.VendorPattern,
		Vendor:  cfg.Vendor,
		Store:   cfg.Settings,
		Bus:     b,
		Source:  source,
	})
	if err != nil {
		return nil, err
	}

	router := messenger.NewRouter(source)
	router.Handle(messenger.TypeAddScript, messenger.AddScriptHandler(cfg.Store.Scripts))
	router.Handle(messenger.TypeOpenPage, messenger.OpenPageHandler(session, b, source))
	router.Handle(messenger.TypePrimeGemini, messenger.PrimeGeminiHandler(b, source))

	return &App{
		router:    router,
		listener:  listener,
		session:   session,
		transport: cfg.Transport,
		source:    source,
	}, nil
}

// Router dispatches messages addressed to this context.
func (a *App) Router() *messenger.Router { return a.router }

// Listener observes vendor requests.
func (a *App) Listener() *tokencapture.Listener { return a.listener }

// VendorToken returns the last captured vendor token.
func (a *App) VendorToken(ctx context.Context) (string, bool, error) {
	return a.listener.Token(ctx)
}

// TakePayload hands a parked page payload to its reader exactly once.
func (a *App) TakePayload(ctx context.Context, key string) (json.RawMessage, error) {
	return messenger.TakePayload(ctx, a.session, key)
}

// Run serves the redis transport until ctx is done. Without a transport it
// only waits for ctx.
func (a *App) Run(ctx context.Context) error {
	if a.transport == nil {
		<-ctx.Done()
		return nil
	}
	slog.Info("background: receiving messages", "context", a.source)
	return a.transport.Serve(ctx, a.router)
}
