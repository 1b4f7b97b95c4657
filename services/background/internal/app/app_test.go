package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/store"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Settings == nil {
		cfg.Settings = kv.NewMemoryStore()
	}
	if cfg.VendorPattern == "" {
		cfg.VendorPattern = "https://*.vbee.vn/api/*"
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "vbee"
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestRouterHandlesEveryRequestType(t *testing.T) {
	a := newTestApp(t, Config{})
	for _, typ := range []messenger.Type{messenger.TypeAddScript, messenger.TypeOpenPage, messenger.TypePrimeGemini} {
		if !a.Router().Handles(typ) {
			t.Fatalf("router does not handle %s", typ)
		}
	}
	if a.Router().Handles(messenger.TypeVbeeTokenCaptured) {
		t.Fatalf("token notifications are not requests")
	}
}

func TestOpenPagePayloadIsTakenOnce(t *testing.T) {
	b := bus.NewLocalBus()
	opened := make(chan string, 1)
	unsub, err := b.Subscribe(context.Background(), bus.TopicPage, func(ev bus.Event) {
		var p messenger.OpenPagePayload
		if ev.Name == messenger.EventOpenPage && ev.Decode(&p) == nil {
			opened <- p.Key
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	a := newTestApp(t, Config{Bus: b})
	req, _ := messenger.NewRequest(messenger.TypeOpenPage, "popup", map[string]string{"view": "editor"})
	resp := a.Router().Dispatch(context.Background(), req)
	if !resp.Success {
		t.Fatalf("open page failed: %+v", resp)
	}
	var key string
	select {
	case key = <-opened:
	case <-time.After(time.Second):
		t.Fatalf("open-page event not published")
	}

	raw, err := a.TakePayload(context.Background(), key)
	if err != nil || string(raw) != `{"view":"editor"}` {
		t.Fatalf("take payload: %s err=%v", raw, err)
	}
	if _, err := a.TakePayload(context.Background(), key); !errors.Is(err, messenger.ErrNoPayload) {
		t.Fatalf("second take: got %v want ErrNoPayload", err)
	}
}

func TestRunServesRedisTransport(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	transport := messenger.NewRedisTransport(client, messenger.RedisConfig{
		Prefix:            "test:msg",
		AckTimeout:        time.Second,
		ResponseTimeout:   5 * time.Second,
		HeartbeatInterval: 200 * time.Millisecond,
	})
	s := store.NewMemory()
	a := newTestApp(t, Config{Store: s, Transport: transport})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	req, _ := messenger.NewRequest(messenger.TypeAddScript, "popup", messenger.AddScriptPayload{Script: &domain.Script{Title: "From popup"}})
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := messenger.Call(context.Background(), transport.To("background"), req)
		if err == nil {
			if resp.ScriptID == 0 {
				t.Fatalf("unexpected response: %+v", resp)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		req, _ = messenger.NewRequest(messenger.TypeAddScript, "popup", messenger.AddScriptPayload{Script: &domain.Script{Title: "From popup"}})
	}
	if n, _ := s.Scripts.Count(context.Background()); n != 1 {
		t.Fatalf("scripts stored: got %d want 1", n)
	}
}

func TestRunWithoutTransportWaitsForContext(t *testing.T) {
	a := newTestApp(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	if _, err := New(Config{Store: store.NewMemory(), Settings: kv.NewMemoryStore(), Vendor: "vbee", VendorPattern: "vbee.vn"}); err == nil {
		t.Fatalf("expected pattern error")
	}
}
