// Package httpapi serves the operational HTTP surface of a console server:
// Prometheus metrics, a health probe, and a read-only session listing.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/rshell/internal/metrics"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/schema"
)

// Paths served by Handler.
const (
	MetricsPath  = "/metrics"
	HealthPath   = "/healthz"
	SessionsPath = "/v1/sessions"
)

// Config wires Handler. Nil fields disable the matching endpoint.
type Config struct {
	AppName  string
	Version  string
	Metrics  *metrics.Metrics
	Sessions *session.Store
	// Ready reports the console listener address once it accepts.
	Ready func() string
}

// Health is the body of HealthPath.
type Health struct {
	Status  string `json:"status"`
	AppName string `json:"app_name"`
	Version string `json:"version"`
	Listen  string `json:"listen,omitempty"`
}

// SessionList is the body of SessionsPath.
type SessionList struct {
	Sessions []schema.Session `json:"sessions"`
}

// Handler builds the mux.
func Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	if cfg.Metrics != nil {
		mux.Handle("GET "+MetricsPath, cfg.Metrics.Handler())
	}
	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, r *http.Request) {
		body := Health{Status: "ok", AppName: cfg.AppName, Version: cfg.Version}
		status := http.StatusOK
		if cfg.Ready != nil {
			body.Listen = cfg.Ready()
			if body.Listen == "" {
				body.Status = "starting"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(r.Context(), w, status, body)
	})
	if cfg.Sessions != nil {
		mux.HandleFunc("GET "+SessionsPath, func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			sessions, err := cfg.Sessions.List(ctx)
			if err != nil {
				pslog.Ctx(ctx).Warn("session listing failed", "err", err)
				writeJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if sessions == nil {
				sessions = []schema.Session{}
			}
			writeJSON(ctx, w, http.StatusOK, SessionList{Sessions: sessions})
		})
	}
	return withRequestLogging(mux)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		pslog.Ctx(ctx).Debug("http response write failed", "err", err)
	}
}
