// Package server wires HTTP handlers into gorilla/mux routers for the two
// listeners coedit runs.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/coedit/internal/metrics"
)

// SetupWebSocketRoutes returns the router for the hub listener. The document
// room is reachable on both "/" and "/ws".
func SetupWebSocketRoutes(lifecycle http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", lifecycle)
	r.Handle("/ws", lifecycle)
	return r
}

// SetupHTTPRoutes returns the router for the HTTP listener: health check,
// Prometheus metrics and the test page.
func SetupHTTPRoutes(cfg *Config, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/test", TestPageHandler(cfg.WSAddr)).Methods(http.MethodGet)
	return r
}
