package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"scriptstudio/internal/util"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/metrics"
	"scriptstudio/pkg/tokencapture"
	"scriptstudio/services/background/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Verifier guards /messages when set. /token and /payloads/ are only
	// mounted with a verifier.
	Verifier messenger.TokenVerifier
	// VendorURL enables the /vendor/ proxy.
	VendorURL   *url.URL
	CORSOrigins []string
	// VendorTransport carries proxied requests; defaults to
	// http.DefaultTransport.
	VendorTransport http.RoundTripper
}

// Server exposes the background context over HTTP.
type Server struct {
	app         *app.App
	mux         *http.ServeMux
	corsOrigins []string
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:         cfg.App,
		mux:         http.NewServeMux(),
		corsOrigins: cfg.CORSOrigins,
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.Handle(messenger.MessagesPath, messenger.HTTPHandler(cfg.App.Router(), cfg.Verifier))
	// The vendor token and parked payloads are only served to verified contexts.
	if cfg.Verifier != nil {
		s.mux.Handle("/token", messenger.RequireContextToken(cfg.Verifier, http.HandlerFunc(s.handleToken)))
		s.mux.Handle("/payloads/", messenger.RequireContextToken(cfg.Verifier, http.HandlerFunc(s.handleTakePayload)))
	}
	if cfg.VendorURL != nil {
		s.mux.Handle("/vendor/", newVendorProxy(cfg.VendorURL, &tokencapture.Transport{
			Listener: cfg.App.Listener(),
			Base:     cfg.VendorTransport,
		}))
	}
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain("background", s.corsOrigins, s.mux)
}

// newVendorProxy forwards /vendor/<path> to target/<path> unchanged. The
// token capture transport sees every outgoing request.
func newVendorProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL.Path = strings.TrimPrefix(r.Out.URL.Path, "/vendor")
			r.Out.URL.RawPath = ""
			r.SetURL(target)
			r.Out.Host = target.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			util.LoggerFromContext(r.Context()).Warn("vendor proxy failed", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusBadGateway, "vendor unavailable")
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tokenResponse struct {
	Token   string `json:"token,omitempty"`
	Present bool   `json:"present"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token, ok, err := s.app.VendorToken(r.Context())
	if err != nil {
		slog.Error("read vendor token failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, Present: ok})
}

// /payloads/{key}
func (s *Server) handleTakePayload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/payloads/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	raw, err := s.app.TakePayload(r.Context(), key)
	if errors.Is(err, messenger.ErrNoPayload) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		slog.Error("take payload failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
