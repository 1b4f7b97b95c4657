package state

import (
	"context"
	"time"
)

// Track is one playable audio clip, usually a generated dialogue line.
type Track struct {
	ID       int64         `json:"id"`
	Title    string        `json:"title"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration"`
}

// PlayerState is the transport state of the audio player.
type PlayerState struct {
	Playlist []Track       `json:"playlist"`
	Index    int           `json:"index"`
	Playing  bool          `json:"playing"`
	Position time.Duration `json:"position"`
	Volume   float64       `json:"volume"`
}

// Current returns the selected track.
func (s PlayerState) Current() (Track, bool) {
	if s.Index < 0 || s.Index >= len(s.Playlist) {
		return Track{}, false
	}
	return s.Playlist[s.Index], true
}

func normalizePlayer(s PlayerState) PlayerState {
	s.Volume = clampFloat(s.Volume, 0, 1)
	if len(s.Playlist) == 0 {
		s.Index = 0
		s.Playing = false
		s.Position = 0
		return s
	}
	if s.Index < 0 {
		s.Index = 0
	}
	if s.Index >= len(s.Playlist) {
		s.Index = len(s.Playlist) - 1
	}
	if s.Position < 0 {
		s.Position = 0
	}
	if d := s.Playlist[s.Index].Duration; d > 0 && s.Position > d {
		s.Position = d
	}
	return s
}

// AudioPlayer is the in-memory audio transport.
type AudioPlayer struct {
	*Container[PlayerState]
}

func NewAudioPlayer() *AudioPlayer {
	return &AudioPlayer{Container: New("audio-player", PlayerState{Volume: 1}, WithNormalize(normalizePlayer))}
}

// Load replaces the playlist and stops playback at the first track.
func (p *AudioPlayer) Load(tracks []Track) {
	p.update(func(s PlayerState) PlayerState {
		s.Playlist = append([]Track(nil), tracks...)
		s.Index = 0
		s.Position = 0
		s.Playing = false
		return s
	})
}

func (p *AudioPlayer) Play() {
	p.update(func(s PlayerState) PlayerState {
		s.Playing = len(s.Playlist) > 0
		return s
	})
}

func (p *AudioPlayer) Pause() {
	p.update(func(s PlayerState) PlayerState {
		s.Playing = false
		return s
	})
}

// Stop pauses and rewinds the current track.
func (p *AudioPlayer) Stop() {
	p.update(func(s PlayerState) PlayerState {
		s.Playing = false
		s.Position = 0
		return s
	})
}

func (p *AudioPlayer) Seek(pos time.Duration) {
	p.update(func(s PlayerState) PlayerState {
		s.Position = pos
		return s
	})
}

// SetVolume clamps v to [0, 1].
func (p *AudioPlayer) SetVolume(v float64) {
	p.update(func(s PlayerState) PlayerState {
		s.Volume = v
		return s
	})
}

// Next advances to the following track; at the end of the playlist playback
// stops on the last track.
func (p *AudioPlayer) Next() {
	p.update(func(s PlayerState) PlayerState {
		if s.Index+1 >= len(s.Playlist) {
			s.Playing = false
			s.Position = 0
			return s
		}
		s.Index++
		s.Position = 0
		return s
	})
}

// Previous rewinds the current track, or steps back when it is at the start.
func (p *AudioPlayer) Previous() {
	p.update(func(s PlayerState) PlayerState {
		if s.Position == 0 && s.Index > 0 {
			s.Index--
		}
		s.Position = 0
		return s
	})
}

// In-memory containers never fail to commit.
func (p *AudioPlayer) update(fn func(PlayerState) PlayerState) {
	_ = p.Update(context.Background(), fn)
}
