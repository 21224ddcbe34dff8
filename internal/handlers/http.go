package handlers

import (
	"net/http"

	"github.com/interpark/mikage/internal/api"
)

// HTTPHandler handles the basic HTTP endpoints.
type HTTPHandler struct{}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{}
}

// SetupRoutes configures the basic routes.
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/v1", h.handleRoot)
	mux.HandleFunc("GET /api/v1/{$}", h.handleRoot)
}

// handleHealth returns a simple health check response.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "1.0.0",
	})
}

// handleRoot answers the API root so load balancer probes get a 200.
func (h *HTTPHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{
		"name":   "mikage",
		"status": "ok",
	})
}
