package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/kv"
)

func TestThemeToggleNotifiesOnceWithDark(t *testing.T) {
	ctx := context.Background()
	theme, err := NewTheme(ctx, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("new theme: %v", err)
	}
	if theme.Get() != ThemeLight {
		t.Fatalf("initial theme: got %s", theme.Get())
	}
	var seen []ThemeMode
	theme.Subscribe(func(m ThemeMode) { seen = append(seen, m) })

	got, err := theme.Toggle(ctx)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got != ThemeDark {
		t.Fatalf("toggle result: got %s want dark", got)
	}
	if len(seen) != 1 || seen[0] != ThemeDark {
		t.Fatalf("notifications: got %v want [dark]", seen)
	}
}

func TestThemeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := kv.NewGormStore(db)
	if err != nil {
		t.Fatalf("kv store: %v", err)
	}
	first, _ := NewTheme(ctx, store)
	if _, err := first.Toggle(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	second, err := NewTheme(ctx, store)
	if err != nil {
		t.Fatalf("reload theme: %v", err)
	}
	if second.Get() != ThemeDark {
		t.Fatalf("reloaded theme: got %s want dark", second.Get())
	}
}

func TestContainerFollowsOtherContexts(t *testing.T) {
	ctx := context.Background()
	b := bus.NewLocalBus()
	shared := kv.NewMemoryStore()
	pageStore := kv.NewNotifying(shared, b, "local", "page")
	popupStore := kv.NewNotifying(shared, b, "local", "popup")

	page, _ := NewTheme(ctx, pageStore)
	popup, _ := NewTheme(ctx, popupStore)
	if _, err := page.Follow(ctx, b, "local", "page"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	var seen []ThemeMode
	page.Subscribe(func(m ThemeMode) { seen = append(seen, m) })

	if _, err := popup.Toggle(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if page.Get() != ThemeDark {
		t.Fatalf("page theme: got %s want dark", page.Get())
	}
	if len(seen) != 1 || seen[0] != ThemeDark {
		t.Fatalf("page notifications: got %v", seen)
	}

	if _, err := page.Toggle(ctx); err != nil {
		t.Fatalf("page toggle: %v", err)
	}
	if len(seen) != 2 || seen[1] != ThemeLight {
		t.Fatalf("own write echoed back: %v", seen)
	}
}

func TestContainerUnsubscribeStopsNotifications(t *testing.T) {
	c := New("counter", 0)
	calls := 0
	unsubscribe := c.Subscribe(func(int) { calls++ })
	_ = c.Update(context.Background(), func(v int) int { return v + 1 })
	unsubscribe()
	_ = c.Set(context.Background(), 5)
	if calls != 1 || c.Get() != 5 {
		t.Fatalf("calls=%d value=%d", calls, c.Get())
	}
}

func TestModelSettingsClampsValues(t *testing.T) {
	ctx := context.Background()
	m, err := NewModelSettings(ctx, kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("model settings: %v", err)
	}
	err = m.Set(ctx, ModelParams{Model: " ", Temperature: 3, TopP: -1, TopK: 500, MaxOutputTokens: -5})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	got := m.Get()
	want := ModelParams{Model: "gemini-2.5-flash", Temperature: 2, TopP: 0, TopK: 100, MaxOutputTokens: 8192}
	if got != want {
		t.Fatalf("clamped: got %+v want %+v", got, want)
	}
	if err := m.Reset(ctx); err != nil || m.Get() != DefaultModelParams() {
		t.Fatalf("reset: %+v err=%v", m.Get(), err)
	}
}

func TestAudioPlayerTransport(t *testing.T) {
	p := NewAudioPlayer()
	p.Play()
	if p.Get().Playing {
		t.Fatalf("empty player should not play")
	}
	p.Load([]Track{
		{ID: 1, Title: "mai-1", Duration: 3 * time.Second},
		{ID: 2, Title: "tuan-1", Duration: 2 * time.Second},
	})
	p.Play()
	p.Seek(10 * time.Second)
	if s := p.Get(); !s.Playing || s.Position != 3*time.Second {
		t.Fatalf("seek past end: %+v", s)
	}
	p.Next()
	if cur, _ := p.Get().Current(); cur.ID != 2 || p.Get().Position != 0 {
		t.Fatalf("next: %+v", p.Get())
	}
	p.Next()
	if s := p.Get(); s.Playing || s.Index != 1 {
		t.Fatalf("next at end: %+v", s)
	}
	p.Seek(time.Second)
	p.Previous()
	if s := p.Get(); s.Index != 1 || s.Position != 0 {
		t.Fatalf("previous rewinds first: %+v", s)
	}
	p.Previous()
	if s := p.Get(); s.Index != 0 {
		t.Fatalf("previous at start steps back: %+v", s)
	}
	p.SetVolume(1.7)
	if p.Get().Volume != 1 {
		t.Fatalf("volume: got %v", p.Get().Volume)
	}
	p.Play()
	p.Seek(time.Second)
	p.Stop()
	if s := p.Get(); s.Playing || s.Position != 0 {
		t.Fatalf("stop: %+v", s)
	}
	p.Pause()
}
