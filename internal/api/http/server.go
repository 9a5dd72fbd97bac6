package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"energy-monitor/internal/auth"
)

// ReadyChecker reports whether the service can accept traffic.
type ReadyChecker func(ctx context.Context) error

// RouterConfig bundles the handlers and middleware for the HTTP surface.
type RouterConfig struct {
	Measurements http.Handler
	Consumption  http.Handler
	Export       http.Handler
	Ring         http.Handler
	Ingest       http.Handler
	Auth         *auth.Middleware
	Ready        ReadyChecker
	AccessLog    io.Writer
}

// NewRouter assembles the service router. Health, readiness and metrics stay
// outside the auth boundary.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Measurements == nil || cfg.Consumption == nil || cfg.Export == nil || cfg.Ring == nil {
		return nil, errors.New("api: missing handler")
	}

	router := mux.NewRouter()
	router.Handle("/healthz", healthHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", readyHandler(cfg.Ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Handle("/monitoring/measurements", cfg.Measurements).Methods(http.MethodPost)
	router.Handle("/monitoring/devices/{deviceId}/consumption", cfg.Consumption).Methods(http.MethodGet)
	router.Handle("/monitoring/devices/{deviceId}/consumption/export.{format}", cfg.Export).Methods(http.MethodGet)
	router.Handle("/monitoring/ring", cfg.Ring).Methods(http.MethodGet)
	if cfg.Ingest != nil {
		router.Handle("/ingest/measurements", cfg.Ingest).Methods(http.MethodPost)
	}

	var handler http.Handler = router
	if cfg.Auth != nil {
		handler = cfg.Auth.Wrap(handler)
	}
	handler = handlers.RecoveryHandler()(handler)
	if cfg.AccessLog != nil {
		handler = handlers.LoggingHandler(cfg.AccessLog, handler)
	}
	return handler, nil
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

func readyHandler(check ReadyChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "reason": err.Error()})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
}
