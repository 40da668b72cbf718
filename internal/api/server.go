package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter, rateLimitPerHour int, apiKey string) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(APIKeyMiddleware(apiKey))

	// Session creation is rate limited; it provisions a worker.
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, rateLimitPerHour))
	rateLimitedAPI.HandleFunc("/sessions", h.CreateSession).Methods("POST")

	// Session endpoints
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	// Command dispatch
	api.HandleFunc("/sessions/{id}/commands", h.CreateCommand).Methods("POST", "OPTIONS")

	// Viewer endpoints (not rate limited - long lived)
	api.HandleFunc("/sessions/{id}/screenshots", h.StreamScreenshots).Methods("GET")
	api.HandleFunc("/sessions/{id}/live", h.LiveView).Methods("GET")
	api.HandleFunc("/sessions/{id}/debug", h.GetDebugURL).Methods("GET")

	// Metrics (outside /v1, not key guarded)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
