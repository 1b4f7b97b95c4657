package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scriptstudio/internal/quota"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/prompts"
	"scriptstudio/pkg/queue"
	"scriptstudio/pkg/state"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
)

// EventRecordChanged is published on bus.TopicRecords for every committed
// Record Store write.
const EventRecordChanged = "record.changed"

// Config wires the application page backend.
type Config struct {
	Store *store.Store
	// Settings is the persisted local settings store shared by every context.
	Settings kv.Store
	Bus      bus.Bus
	// Source names this context on the bus.
	Source    string
	Generator ai.TextGenerator
	// Blobs is optional; media uploads fail without it.
	Blobs storage.ObjectStore
	// Quota is optional.
	Quota *quota.FixedWindow
	// Queue is optional; job endpoints fail without it.
	Queue *queue.RedisJobQueue
	// Vendor names the TTS vendor whose captured token is followed.
	// Defaults to "vbee".
	Vendor string
}

// App is the core application service wiring storage, settings and
// generation together.
type App struct {
	store     *store.Store
	bus       bus.Bus
	source    string
	generator ai.TextGenerator
	blobs     storage.ObjectStore
	quota     *quota.FixedWindow
	queue     *queue.RedisJobQueue

	Theme       *state.Theme
	Model       *state.ModelSettings
	Player      *state.AudioPlayer
	VendorToken *state.Container[VendorTokenState]

	page  pageLog
	stops []func()
}

// New builds the application and loads persisted settings. The settings
// containers follow changes written by other contexts.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("app: settings store is required")
	}
	b := cfg.Bus
	if b == nil {
		b = bus.NewLocalBus()
	}
	source := cfg.Source
	if source == "" {
		source = "page"
	}
	settings := kv.NewNotifying(cfg.Settings, b, "local", source)
	theme, err := state.NewTheme(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("load theme: %w", err)
	}
	model, err := state.NewModelSettings(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("load model settings: %w", err)
	}
	vendor := cfg.Vendor
	if vendor == "" {
		vendor = "vbee"
	}
	token, err := loadVendorToken(ctx, cfg.Settings, vendor+"Token")
	if err != nil {
		return nil, fmt.Errorf("load vendor token: %w", err)
	}
	a := &App{
		store:       cfg.Store,
		bus:         b,
		source:      source,
		generator:   cfg.Generator,
		blobs:       cfg.Blobs,
		quota:       cfg.Quota,
		queue:       cfg.Queue,
		Theme:       theme,
		Model:       model,
		Player:      state.NewAudioPlayer(),
		VendorToken: state.New("vendor-token", token),
	}
	for _, follow := range []func(context.Context, bus.Bus, string, string) (func(), error){theme.Follow, model.Follow} {
		stop, err := follow(ctx, b, settings.Area(), source)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("follow settings: %w", err)
		}
		a.stops = append(a.stops, stop)
	}
	if err := a.followPage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.stops = append(a.stops, a.bridgeChanges())
	return a, nil
}

// Close stops following settings and record changes.
func (a *App) Close() {
	for _, stop := range a.stops {
		stop()
	}
	a.stops = nil
}

// bridgeChanges republishes Record Store commits on the bus so other
// contexts observe them without polling.
func (a *App) bridgeChanges() func() {
	return a.store.Changes.Subscribe(func(c store.Change) {
		ev, err := bus.NewEvent(bus.TopicRecords, EventRecordChanged, a.source, c)
		if err == nil {
			err = a.bus.Publish(context.Background(), ev)
		}
		if err != nil {
			slog.Warn("app: publish record change failed", "collection", c.Collection, "id", c.ID, "err", err)
		}
	})
}

// SeedPrompts loads the bundled prompt templates into an empty prompt
// collection. It returns the number of records written.
func (a *App) SeedPrompts(ctx context.Context) (int, error) {
	defaults, err := prompts.Defaults()
	if err != nil {
		return 0, err
	}
	n, err := store.SeedDefaultPrompts(ctx, a.store, defaults)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("seeded default prompts", "count", n)
	}
	return n, nil
}

// Health describes the record store's version marker.
type Health struct {
	SchemaVersion int    `json:"schemaVersion"`
	AppVersion    string `json:"appVersion,omitempty"`
	// Seeded is false until the default prompts have been loaded once.
	Seeded bool `json:"seeded"`
}

func (a *App) Health(ctx context.Context) (Health, error) {
	meta, _, err := a.store.BuildMeta(ctx)
	if err != nil {
		return Health{}, err
	}
	needs, err := a.store.NeedsSeeding(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{SchemaVersion: meta.SchemaVersion, AppVersion: meta.AppVersion, Seeded: !needs}, nil
}

// StartWorkers consumes queued generation jobs until ctx is done.
func (a *App) StartWorkers(ctx context.Context, concurrency int) error {
	if a.queue == nil {
		return ErrQueueDisabled
	}
	a.queue.Start(ctx, concurrency, a.runJob)
	return nil
}
