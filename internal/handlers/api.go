package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/interpark/mikage/internal/api"
	"github.com/interpark/mikage/internal/database"
)

// APIHandler serves the read endpoints backing the dashboard: targets,
// incident history, error history, and raw probe logs for the charts.
type APIHandler struct {
	db *gorm.DB
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(db *gorm.DB) *APIHandler {
	return &APIHandler{db: db}
}

// SetupRoutes sets up all read API routes.
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/targets", h.handleTargets)
	mux.HandleFunc("GET /api/v1/incidents/{offset}", h.handleIncidents)
	mux.HandleFunc("GET /api/v1/errors/{offset}", h.handleErrors)
	mux.HandleFunc("GET /api/v1/keys/{keys}/minute/{minute}", h.handleLogs)
}

// handleTargets returns every monitored target.
func (h *APIHandler) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := database.ListTargets(h.db)
	if err != nil {
		log.Printf("APIHandler: failed to list targets: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list targets")
		return
	}
	api.RespondJSON(w, http.StatusOK, targets)
}

// handleIncidents returns the incidents of one month. The offset path value
// is relative to the current month: 0 is this month, -1 last month.
func (h *APIHandler) handleIncidents(w http.ResponseWriter, r *http.Request) {
	offset, ok := h.monthOffset(w, r)
	if !ok {
		return
	}

	incidents, err := database.IncidentsInMonth(h.db, offset, time.Now())
	if err != nil {
		log.Printf("APIHandler: failed to list incidents: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list incidents")
		return
	}
	api.RespondJSON(w, http.StatusOK, incidents)
}

// handleErrors returns the failed probes of one month, joined with target
// names.
func (h *APIHandler) handleErrors(w http.ResponseWriter, r *http.Request) {
	offset, ok := h.monthOffset(w, r)
	if !ok {
		return
	}

	rows, err := database.ErrorLogsInMonth(h.db, offset, time.Now())
	if err != nil {
		log.Printf("APIHandler: failed to list error logs: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list errors")
		return
	}
	api.RespondJSON(w, http.StatusOK, rows)
}

// handleLogs returns the raw probe logs for a comma-separated list of target
// keys over the last {minute} minutes.
func (h *APIHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	keys := strings.Split(r.PathValue("keys"), ",")
	minutes, err := strconv.Atoi(r.PathValue("minute"))
	if err != nil || minutes <= 0 {
		api.RespondError(w, http.StatusBadRequest, "Invalid minute value")
		return
	}

	end := time.Now()
	start := end.Add(-time.Duration(minutes) * time.Minute)

	logs, err := database.LogsInRange(h.db, keys, start, end)
	if err != nil {
		log.Printf("APIHandler: failed to list logs: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list logs")
		return
	}
	api.RespondJSON(w, http.StatusOK, logs)
}

func (h *APIHandler) monthOffset(w http.ResponseWriter, r *http.Request) (int, bool) {
	offset, err := strconv.Atoi(r.PathValue("offset"))
	if err != nil || offset > 0 {
		api.RespondError(w, http.StatusBadRequest, "Invalid month offset")
		return 0, false
	}
	return offset, true
}
