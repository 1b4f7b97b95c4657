package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scriptstudio/internal/quota"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/metrics"
	"scriptstudio/pkg/queue"
	"scriptstudio/pkg/state"
	"scriptstudio/pkg/validate"
	"scriptstudio/services/studio/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	CORSOrigins    []string
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
	// MediaURLExpiry bounds presigned media URLs.
	MediaURLExpiry time.Duration
}

// Server exposes the application page API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	corsOrigins    []string
	trusted        *util.TrustedProxies
	maxUploadBytes int64
	mediaURLExpiry time.Duration
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	expiry := cfg.MediaURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		corsOrigins:    cfg.CORSOrigins,
		trusted:        cfg.TrustedProxies,
		maxUploadBytes: maxUploadBytes,
		mediaURLExpiry: expiry,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain("studio", s.corsOrigins, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.HandleFunc("/scripts", s.handleScripts)
	s.mux.HandleFunc("/scripts/", s.handleScriptByID)

	s.mux.HandleFunc("/prompts", s.handlePrompts)
	s.mux.HandleFunc("/prompts/import", s.handleImportPrompts)
	s.mux.HandleFunc("/prompts/export", s.handleExportPrompts)
	s.mux.HandleFunc("/prompts/", s.handlePromptByID)

	s.mux.HandleFunc("/media/", s.handleMedia)

	s.mux.HandleFunc("/settings/theme", s.handleTheme)
	s.mux.HandleFunc("/settings/theme/toggle", s.handleThemeToggle)
	s.mux.HandleFunc("/settings/model", s.handleModelSettings)

	s.mux.HandleFunc("/generate/script", s.handleGenerateScript)
	s.mux.HandleFunc("/jobs/", s.handleJob)

	s.mux.HandleFunc("/validate/line", s.handleValidateLine)

	s.mux.HandleFunc("/page/events", s.handlePageEvents)
	s.mux.HandleFunc("/vendor/token", s.handleVendorToken)
	s.mux.HandleFunc("/player", s.handlePlayer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.app.Health(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "store": health})
}

// /scripts
func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		scripts, err := s.app.ListScripts(r.Context(), r.URL.Query().Get("q"), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": scripts, "count": len(scripts)})
	case http.MethodPost:
		var script domain.Script
		if !decodeJSON(w, r, &script) {
			return
		}
		id, warnings, err := s.app.AddScript(r.Context(), script)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "warnings": warnings})
	default:
		methodNotAllowed(w)
	}
}

// /scripts/{id} or /scripts/{id}/clean
func (s *Server) handleScriptByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := parseIDPath(r.URL.Path, "/scripts/")
	if !ok {
		notFound(w, "not found")
		return
	}
	if action == "clean" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		changed, err := s.app.CleanScript(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"changedLines": changed})
		return
	}
	if action != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		script, err := s.app.GetScript(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, script)
	case http.MethodPut:
		var script domain.Script
		if !decodeJSON(w, r, &script) {
			return
		}
		warnings, err := s.app.ReplaceScript(r.Context(), id, script)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "warnings": warnings})
	case http.MethodDelete:
		if err := s.app.DeleteScript(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /prompts
func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		category := domain.PromptCategory(strings.TrimSpace(r.URL.Query().Get("category")))
		recs, err := s.app.ListPrompts(r.Context(), category)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": recs, "count": len(recs)})
	case http.MethodPost:
		body, ok := readBody(w, r, 1<<20)
		if !ok {
			return
		}
		check := validate.ValidatePromptJSON(string(body))
		if !check.IsValid {
			writeError(w, http.StatusBadRequest, check.Error)
			return
		}
		id, err := s.app.CreatePrompt(r.Context(), *check.Data)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImportPrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, ok := readBody(w, r, 8<<20)
	if !ok {
		return
	}
	ids, err := s.app.ImportPrompts(r.Context(), string(body))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids, "count": len(ids)})
}

func (s *Server) handleExportPrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out, err := s.app.ExportPrompts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="prompts.json"`)
	_, _ = w.Write(out)
}

// /prompts/{id}
func (s *Server) handlePromptByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := parseIDPath(r.URL.Path, "/prompts/")
	if !ok || action != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := s.app.GetPrompt(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		body, ok := readBody(w, r, 1<<20)
		if !ok {
			return
		}
		check := validate.ValidatePromptJSON(string(body))
		if !check.IsValid {
			writeError(w, http.StatusBadRequest, check.Error)
			return
		}
		if err := s.app.ReplacePrompt(r.Context(), id, *check.Data); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"id": id})
	case http.MethodDelete:
		if err := s.app.DeletePrompt(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type themeRequest struct {
	Theme state.ThemeMode `json:"theme"`
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, themeRequest{Theme: s.app.Theme.Get()})
	case http.MethodPut:
		var req themeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Theme != state.ThemeLight && req.Theme != state.ThemeDark {
			writeError(w, http.StatusBadRequest, "theme must be light or dark")
			return
		}
		if err := s.app.Theme.Set(r.Context(), req.Theme); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, themeRequest{Theme: s.app.Theme.Get()})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleThemeToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	mode, err := s.app.Theme.Toggle(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, themeRequest{Theme: mode})
}

func (s *Server) handleModelSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.Model.Get())
	case http.MethodPut:
		var params state.ModelParams
		if !decodeJSON(w, r, &params) {
			return
		}
		if err := s.app.Model.Set(r.Context(), params); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.app.Model.Get())
	case http.MethodDelete:
		if err := s.app.Model.Reset(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.app.Model.Get())
	default:
		methodNotAllowed(w)
	}
}

// /generate/script, synchronous unless ?async=true.
func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var in app.GenerateScriptInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.ClientKey = util.ClientIP(r, s.trusted)
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, err := s.app.EnqueueScript(r.Context(), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}
	res, err := s.app.GenerateScript(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// /jobs/{id} or /jobs/{id}/cancel
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/", 2)
	id := parts[0]
	if id == "" || (len(parts) == 2 && parts[1] != "cancel") {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		job, err := s.app.CancelJob(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.Job(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type lineRequest struct {
	Line string `json:"line"`
}

func (s *Server) handleValidateLine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req lineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	check := validate.ValidateDialogueLine(req.Line)
	writeJSON(w, http.StatusOK, map[string]any{
		"isValid":  check.IsValid,
		"warnings": check.Warnings,
		"stripped": validate.StripStageDirections(req.Line),
	})
}

// parseIDPath splits "/prefix/{id}[/action]".
func parseIDPath(path, prefix string) (int64, string, bool) {
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	if len(parts) == 2 {
		return id, parts[1], true
	}
	return id, "", true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeDomainError maps application errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, queue.ErrJobNotFound), errors.Is(err, app.ErrUnknownKind):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quota.ErrExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrExternalService), errors.Is(err, domain.ErrDelivery):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, app.ErrQueueDisabled), errors.Is(err, app.ErrBlobsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "STUDIO_INVALID_REQUEST"
	case http.StatusNotFound:
		return "STUDIO_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "STUDIO_BODY_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "STUDIO_QUOTA_EXCEEDED"
	case http.StatusBadGateway:
		return "STUDIO_UPSTREAM_FAILED"
	case http.StatusServiceUnavailable:
		return "STUDIO_FEATURE_DISABLED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
