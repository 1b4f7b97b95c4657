package server

import (
	"net/http"
	"strconv"
	"time"
)

// /page/events?after={seq}
func (s *Server) handlePageEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative sequence number")
			return
		}
		after = n
	}
	events := s.app.PageEvents(after)
	writeJSON(w, http.StatusOK, map[string]any{"items": events, "count": len(events)})
}

func (s *Server) handleVendorToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.VendorToken.Get())
}

type playerRequest struct {
	Action   string  `json:"action"`
	ScriptID int64   `json:"scriptId,omitempty"`
	Seconds  float64 `json:"seconds,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
}

// /player: GET reads the transport state, POST applies one action.
func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.Player.Get())
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w)
		return
	}
	var req playerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := s.app.Player
	switch req.Action {
	case "load":
		if req.ScriptID <= 0 {
			writeError(w, http.StatusBadRequest, "scriptId is required")
			return
		}
		st, err := s.app.LoadScriptAudio(r.Context(), req.ScriptID, s.mediaURLExpiry)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	case "play":
		p.Play()
	case "pause":
		p.Pause()
	case "stop":
		p.Stop()
	case "next":
		p.Next()
	case "previous":
		p.Previous()
	case "seek":
		p.Seek(time.Duration(req.Seconds * float64(time.Second)))
	case "volume":
		p.SetVolume(req.Volume)
	default:
		writeError(w, http.StatusBadRequest, "unknown player action "+strconv.Quote(req.Action))
		return
	}
	writeJSON(w, http.StatusOK, p.Get())
}
