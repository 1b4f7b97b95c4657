package kv

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"scriptstudio/pkg/bus"
)

type theme struct {
	Mode string `json:"mode"`
}

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kv.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	persisted, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("gorm store: %v", err)
	}
	srv := miniredis.RunT(t)
	session := NewRedisStore(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "test:session", time.Hour)
	return map[string]Store{
		"gorm":   persisted,
		"redis":  session,
		"memory": NewMemoryStore(),
	}
}

func TestStoreJSONRoundTripAndOverwrite(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var got theme
			ok, err := GetJSON(ctx, s, "theme-preference", &got)
			if err != nil || ok {
				t.Fatalf("get missing: ok=%v err=%v", ok, err)
			}
			if err := SetJSON(ctx, s, "theme-preference", theme{Mode: "light"}); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := SetJSON(ctx, s, "theme-preference", theme{Mode: "dark"}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			ok, err = GetJSON(ctx, s, "theme-preference", &got)
			if err != nil || !ok || got.Mode != "dark" {
				t.Fatalf("get: %+v ok=%v err=%v", got, ok, err)
			}
			if err := s.Delete(ctx, "theme-preference"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "theme-preference"); ok {
				t.Fatalf("key still present after delete")
			}
		})
	}
}

func TestStoreTakeRemovesValue(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := s.Take(ctx, "payload:missing"); err != nil || ok {
				t.Fatalf("take missing: ok=%v err=%v", ok, err)
			}
			if err := s.Set(ctx, "payload:1", []byte(`{"scriptId":1}`)); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, ok, err := s.Take(ctx, "payload:1")
			if err != nil || !ok || string(got) != `{"scriptId":1}` {
				t.Fatalf("take: %s ok=%v err=%v", got, ok, err)
			}
			if _, ok, err := s.Get(ctx, "payload:1"); err != nil || ok {
				t.Fatalf("value survived take: ok=%v err=%v", ok, err)
			}
			if _, ok, err := s.Take(ctx, "payload:1"); err != nil || ok {
				t.Fatalf("second take: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestConcurrentTakeHasOneWinner(t *testing.T) {
	srv := miniredis.RunT(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "test:session", time.Hour),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for round := 0; round < 20; round++ {
				if err := s.Set(ctx, "payload:race", []byte(`"x"`)); err != nil {
					t.Fatalf("set: %v", err)
				}
				var winners atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, ok, err := s.Take(ctx, "payload:race"); err == nil && ok {
							winners.Add(1)
						}
					}()
				}
				wg.Wait()
				if n := winners.Load(); n != 1 {
					t.Fatalf("round %d: %d takers got the value", round, n)
				}
			}
		})
	}
}

func TestRedisStoreExpiresAndClears(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	s := NewRedisStore(client, "sess", time.Minute)
	other := NewRedisStore(client, "other", 0)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte(`1`))
	_ = s.Set(ctx, "b", []byte(`2`))
	_ = other.Set(ctx, "c", []byte(`3`))

	n, err := s.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("clear: n=%d err=%v", n, err)
	}
	if _, ok, _ := other.Get(ctx, "c"); !ok {
		t.Fatalf("clear removed keys of another session")
	}

	_ = s.Set(ctx, "ttl", []byte(`1`))
	srv.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "ttl"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestNotifyingPublishesAfterCommit(t *testing.T) {
	ctx := context.Background()
	b := bus.NewLocalBus()
	inner := NewMemoryStore()
	s := NewNotifying(inner, b, "local", "page")

	var changes []Change
	_, _ = b.Subscribe(ctx, bus.TopicStorage, func(ev bus.Event) {
		var c Change
		if err := ev.Decode(&c); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok, _ := inner.Get(ctx, c.Key); ok != (c.Value != nil) {
			t.Fatalf("notification delivered before commit: %+v", c)
		}
		changes = append(changes, c)
	})

	if err := SetJSON(ctx, s, "model-settings", map[string]int{"topK": 3}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, "model-settings"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(changes) != 2 || changes[0].Key != "model-settings" || changes[1].Value != nil {
		t.Fatalf("changes: got %+v", changes)
	}

	_ = s.Set(ctx, "payload:1", []byte(`1`))
	if _, ok, err := s.Take(ctx, "payload:1"); err != nil || !ok {
		t.Fatalf("take: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.Take(ctx, "payload:1"); ok {
		t.Fatalf("second take returned a value")
	}
	if len(changes) != 4 || changes[3].Key != "payload:1" || changes[3].Value != nil {
		t.Fatalf("take changes: got %+v", changes)
	}
}

func TestWatchKeyIgnoresOwnSourceAndOtherKeys(t *testing.T) {
	ctx := context.Background()
	b := bus.NewLocalBus()
	mine := NewNotifying(NewMemoryStore(), b, "local", "page")
	theirs := NewNotifying(NewMemoryStore(), b, "local", "popup")

	var seen []string
	if _, err := WatchKey(ctx, b, "local", "theme-preference", "page", func(c Change) {
		seen = append(seen, string(c.Value))
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	_ = mine.Set(ctx, "theme-preference", []byte(`"dark"`))
	_ = theirs.Set(ctx, "model-settings", []byte(`{}`))
	_ = theirs.Set(ctx, "theme-preference", []byte(`"light"`))

	if len(seen) != 1 || seen[0] != `"light"` {
		t.Fatalf("seen: got %v", seen)
	}
}
