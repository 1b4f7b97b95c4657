package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"scriptstudio/pkg/bus"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/state"
	"scriptstudio/pkg/store"
)

const pageEventBacklog = 64

// PageEvent is a request addressed to the application page, such as
// open-page or prime-gemini, numbered in arrival order.
type PageEvent struct {
	Seq     int64           `json:"seq"`
	Name    string          `json:"name"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// pageLog keeps the latest page events for polling clients.
type pageLog struct {
	mu     sync.Mutex
	seq    int64
	events []PageEvent
}

func (l *pageLog) add(ev bus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.events = append(l.events, PageEvent{Seq: l.seq, Name: ev.Name, Source: ev.Source, Payload: ev.Payload, At: ev.At})
	if over := len(l.events) - pageEventBacklog; over > 0 {
		l.events = append([]PageEvent(nil), l.events[over:]...)
	}
}

func (l *pageLog) since(after int64) []PageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PageEvent, 0, len(l.events))
	for _, ev := range l.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// PageEvents returns page events with a sequence number above after.
func (a *App) PageEvents(after int64) []PageEvent {
	return a.page.since(after)
}

// VendorTokenState tracks the captured vendor bearer token. The token itself
// never leaves the process through JSON.
type VendorTokenState struct {
	Token      string    `json:"-"`
	Present    bool      `json:"present"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// loadVendorToken reads the token the background context persisted before
// this process started.
func loadVendorToken(ctx context.Context, settings kv.Store, key string) (VendorTokenState, error) {
	var token string
	ok, err := kv.GetJSON(ctx, settings, key, &token)
	if err != nil {
		return VendorTokenState{}, err
	}
	if !ok || token == "" {
		return VendorTokenState{}, nil
	}
	return VendorTokenState{Token: token, Present: true}, nil
}

// followPage subscribes to page events and token capture notifications.
func (a *App) followPage(ctx context.Context) error {
	stop, err := a.bus.Subscribe(ctx, bus.TopicPage, func(ev bus.Event) {
		a.page.add(ev)
		slog.Info("app: page event", "name", ev.Name, "source", ev.Source)
	})
	if err != nil {
		return fmt.Errorf("subscribe page events: %w", err)
	}
	a.stops = append(a.stops, stop)

	stop, err = messenger.Listen(ctx, a.bus, messenger.TypeVbeeTokenCaptured, a.source, func(req messenger.Request) {
		var p struct {
			Token string `json:"token"`
		}
		if err := req.Decode(&p); err != nil || p.Token == "" {
			slog.Warn("app: drop malformed token notification", "source", req.Source, "err", err)
			return
		}
		_ = a.VendorToken.Set(context.Background(), VendorTokenState{Token: p.Token, Present: true, CapturedAt: time.Now().UTC()})
	})
	if err != nil {
		return fmt.Errorf("listen token capture: %w", err)
	}
	a.stops = append(a.stops, stop)
	return nil
}

// LoadScriptAudio fills the audio player with the audio clips of a script in
// act, scene and creation order.
func (a *App) LoadScriptAudio(ctx context.Context, scriptID int64, urlExpiry time.Duration) (state.PlayerState, error) {
	if _, err := a.GetScript(ctx, scriptID); err != nil {
		return state.PlayerState{}, err
	}
	clips, err := a.store.Audios.List(ctx, store.Filter[domain.AudioRecord]{ScriptID: scriptID})
	if err != nil {
		return state.PlayerState{}, err
	}
	sort.SliceStable(clips, func(i, j int) bool {
		ci, cj := clips[i], clips[j]
		if ci.ActNumber != cj.ActNumber {
			return ci.ActNumber < cj.ActNumber
		}
		if ci.SceneNumber != cj.SceneNumber {
			return ci.SceneNumber < cj.SceneNumber
		}
		return ci.ID < cj.ID
	})
	tracks := make([]state.Track, 0, len(clips))
	for _, clip := range clips {
		url, err := a.MediaURL(ctx, domain.MediaAudio, clip.ID, urlExpiry)
		if err != nil {
			return state.PlayerState{}, fmt.Errorf("audio %d url: %w", clip.ID, err)
		}
		title := clip.Text
		if clip.RoleID != "" {
			title = clip.RoleID + ": " + clip.Text
		}
		tracks = append(tracks, state.Track{
			ID:       clip.ID,
			Title:    title,
			URL:      url,
			Duration: time.Duration(clip.DurationSeconds * float64(time.Second)),
		})
	}
	a.Player.Load(tracks)
	return a.Player.Get(), nil
}
