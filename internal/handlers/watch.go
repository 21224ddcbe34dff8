package handlers

import (
	"log"
	"net/http"

	"github.com/interpark/mikage/internal/api"
	"github.com/interpark/mikage/internal/middleware"
	"github.com/interpark/mikage/internal/watch"
)

// WatchHandler exposes the watch trigger endpoint. An external scheduler
// calls it once a minute; the handler runs a full cycle synchronously and
// returns everything that happened.
type WatchHandler struct {
	runner *watch.Runner
	guard  *middleware.WatchKeyMiddleware
}

// NewWatchHandler creates a new watch trigger handler.
func NewWatchHandler(runner *watch.Runner, guard *middleware.WatchKeyMiddleware) *WatchHandler {
	return &WatchHandler{
		runner: runner,
		guard:  guard,
	}
}

// SetupRoutes sets up the trigger route.
func (h *WatchHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/watch", h.guard.WrapFunc(h.handleWatch))
}

// handleWatch runs one watch cycle. Partial failures inside the cycle are
// reported in the body, not as an HTTP error: the scheduler only needs to
// know the trigger fired.
func (h *WatchHandler) handleWatch(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("WatchHandler: cycle panicked: %v", rec)
			api.RespondError(w, http.StatusInternalServerError, "Internal server error")
		}
	}()

	result := h.runner.Run(r.Context())

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"resultsAll": result,
	})
}
