// Package httpapi routes the server's HTTP surface: the websocket channel
// plus read-only liveness, diagnostics and metrics endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabgrid/internal/config"
	"collabgrid/internal/session"
)

// Version is reported by the index endpoint.
const Version = "1.0.0"

// Overviewer reports the live documents and participants.
type Overviewer interface {
	Overview() session.Overview
}

// Deps are what the router serves.
type Deps struct {
	Config   *config.Config
	Sessions Overviewer
	Channel  http.Handler // websocket endpoint
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewRouter builds the HTTP handler of the server.
func NewRouter(d Deps) *mux.Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{deps: d}

	r := mux.NewRouter()
	r.HandleFunc("/", h.index).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/debug/sessions", h.debugSessions).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", d.Channel)

	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(corsMiddleware(d.Config))
	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "collabgrid sync server",
		"version":   Version,
		"status":    "running",
		"endpoints": []string{"/health", "/debug/sessions"},
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": h.deps.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *handlers) debugSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.deps.Sessions.Overview())
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.deps.Logger.Warn("error writing response", "error", err)
	}
}

// corsMiddleware lets allowed browser origins call the endpoints with
// credentials and answers preflight requests.
func corsMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && cfg.AllowedOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
