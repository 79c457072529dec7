package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/monitor"
)

// CreateMonitorRequest is the body of POST /api/monitors
type CreateMonitorRequest struct {
	ReferenceJobID string            `json:"reference_job_id"`
	Schedule       string            `json:"schedule"`
	Timezone       string            `json:"timezone"`
	Webhook        *models.Webhook   `json:"webhook,omitempty"`
	Config         *models.JobConfig `json:"config,omitempty"`
}

// UpdateMonitorRequest is the body of PUT /api/monitors/{id}
type UpdateMonitorRequest struct {
	Webhook *models.Webhook `json:"webhook"`
}

// MonitorHandler serves /api/monitors
type MonitorHandler struct {
	monitors MonitorService
	runner   MonitorRunner // nil in remote mode
	logger   arbor.ILogger
}

// NewMonitorHandler creates a monitor handler. runner may be nil.
func NewMonitorHandler(monitors MonitorService, runner MonitorRunner, logger arbor.ILogger) *MonitorHandler {
	return &MonitorHandler{
		monitors: monitors,
		runner:   runner,
		logger:   logger,
	}
}

// MonitorsHandler routes /api/monitors
// GET  /api/monitors - list
// POST /api/monitors - create
func (h *MonitorHandler) MonitorsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		monitors, err := h.monitors.List(r.Context())
		if err != nil {
			WriteAPIError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"monitors": monitors,
			"count":    len(monitors),
		})
	case http.MethodPost:
		h.createMonitor(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// MonitorRoutes routes /api/monitors/{id}[/action]
// PUT  /api/monitors/{id}          - replace the webhook
// POST /api/monitors/{id}/enable
// POST /api/monitors/{id}/disable
// POST /api/monitors/{id}/run      - local mode only
// GET  /api/monitors/{id}/latest
// GET  /api/monitors/{id}/runs?order=asc|desc
func (h *MonitorHandler) MonitorRoutes(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r, "/api/monitors/")
	if len(segments) == 0 || len(segments) > 2 {
		WriteError(w, http.StatusBadRequest, "Monitor ID is required")
		return
	}
	monitorID := segments[0]

	if len(segments) == 1 {
		if !RequireMethod(w, r, http.MethodPut) {
			return
		}
		h.updateMonitor(w, r, monitorID)
		return
	}

	switch segments[1] {
	case "enable":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := h.monitors.Enable(r.Context(), monitorID); err != nil {
			WriteAPIError(w, h.logger, err)
			return
		}
		WriteSuccess(w, "Monitor enabled")
	case "disable":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := h.monitors.Disable(r.Context(), monitorID); err != nil {
			WriteAPIError(w, h.logger, err)
			return
		}
		WriteSuccess(w, "Monitor disabled")
	case "latest":
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		result, err := h.monitors.PullLatest(r.Context(), monitorID)
		if err != nil {
			WriteAPIError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	case "runs":
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		runs, err := h.monitors.ListRuns(r.Context(), monitorID, models.ParseSortOrder(r.URL.Query().Get("order")))
		if err != nil {
			WriteAPIError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"monitor_id": monitorID,
			"runs":       runs,
			"count":      len(runs),
		})
	case "run":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		h.runMonitor(w, r, monitorID)
	default:
		WriteError(w, http.StatusNotFound, "Unknown monitor action: "+segments[1])
	}
}

func (h *MonitorHandler) createMonitor(w http.ResponseWriter, r *http.Request) {
	var req CreateMonitorRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	monitorID, err := h.monitors.Create(r.Context(), monitor.CreateRequest{
		ReferenceJobID: req.ReferenceJobID,
		Schedule:       req.Schedule,
		Timezone:       req.Timezone,
		Webhook:        req.Webhook,
		Config:         req.Config,
	})
	if err != nil {
		WriteAPIError(w, h.logger, err)
		return
	}

	h.logger.Info().Str("monitor_id", monitorID).Str("reference_job_id", req.ReferenceJobID).Msg("Monitor created via API")
	WriteJSON(w, http.StatusCreated, map[string]string{
		"status":     "created",
		"monitor_id": monitorID,
	})
}

func (h *MonitorHandler) updateMonitor(w http.ResponseWriter, r *http.Request, monitorID string) {
	var req UpdateMonitorRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.monitors.Update(r.Context(), monitorID, req.Webhook)
	if err != nil {
		WriteAPIError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}

func (h *MonitorHandler) runMonitor(w http.ResponseWriter, r *http.Request, monitorID string) {
	if h.runner == nil {
		WriteError(w, http.StatusNotImplemented, "Manual runs need monitor.mode = \"local\"")
		return
	}

	run, err := h.runner.RunNow(r.Context(), monitorID)
	if err != nil && run == nil {
		WriteAPIError(w, h.logger, err)
		return
	}

	// A failed job still produces a recorded run
	run.Results = nil
	WriteJSON(w, http.StatusOK, run)
}
