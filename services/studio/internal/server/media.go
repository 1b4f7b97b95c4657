package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"scriptstudio/pkg/domain"
	"scriptstudio/services/studio/internal/app"
)

type mediaRequest struct {
	ScriptID        int64          `json:"scriptId"`
	ActNumber       int            `json:"actNumber"`
	SceneNumber     int            `json:"sceneNumber"`
	SourceURI       string         `json:"sourceUri"`
	MimeType        string         `json:"mimeType"`
	Params          map[string]any `json:"params"`
	Prompt          string         `json:"prompt"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	DurationSeconds float64        `json:"durationSeconds"`
	RoleID          string         `json:"roleId"`
	Voice           string         `json:"voice"`
	Text            string         `json:"text"`
}

func (m mediaRequest) upload(kind domain.MediaKind) app.MediaUpload {
	return app.MediaUpload{
		Kind:            kind,
		ScriptID:        m.ScriptID,
		ActNumber:       m.ActNumber,
		SceneNumber:     m.SceneNumber,
		SourceURI:       m.SourceURI,
		ContentType:     m.MimeType,
		Params:          m.Params,
		Prompt:          m.Prompt,
		Width:           m.Width,
		Height:          m.Height,
		DurationSeconds: m.DurationSeconds,
		RoleID:          m.RoleID,
		Voice:           m.Voice,
		Text:            m.Text,
	}
}

// /media/{kind} or /media/{kind}/{id}
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/media/"), "/", 2)
	kind, ok := domain.ParseMediaKind(parts[0])
	if !ok {
		notFound(w, "unknown media kind")
		return
	}
	if len(parts) == 1 || parts[1] == "" {
		s.handleMediaCollection(w, r, kind)
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		item, err := s.app.GetMedia(r.Context(), kind, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		url, err := s.app.MediaURL(r.Context(), kind, id, s.mediaURLExpiry)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": item, "url": url})
	case http.MethodDelete:
		if err := s.app.DeleteMedia(r.Context(), kind, id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMediaCollection(w http.ResponseWriter, r *http.Request, kind domain.MediaKind) {
	switch r.Method {
	case http.MethodGet:
		scriptID, _ := strconv.ParseInt(r.URL.Query().Get("scriptId"), 10, 64)
		items, err := s.app.ListMedia(r.Context(), kind, scriptID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			s.handleMediaUpload(w, r, kind)
			return
		}
		var req mediaRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		item, err := s.app.UploadMedia(r.Context(), req.upload(kind))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	default:
		methodNotAllowed(w)
	}
}

// handleMediaUpload accepts a "file" part plus a "meta" JSON part.
func (s *Server) handleMediaUpload(w http.ResponseWriter, r *http.Request, kind domain.MediaKind) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	var req mediaRequest
	if meta := r.FormValue("meta"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid meta JSON")
			return
		}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	up := req.upload(kind)
	up.Body = file
	up.Size = header.Size
	if up.ContentType == "" {
		up.ContentType = header.Header.Get("Content-Type")
	}
	item, err := s.app.UploadMedia(r.Context(), up)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
