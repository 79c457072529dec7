package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/orchestrator"
	"github.com/ternarybob/catchall/internal/planner"
)

// StartSessionRequest is the body of POST /api/sessions
type StartSessionRequest struct {
	Intent          string            `json:"intent"`
	Context         string            `json:"context,omitempty"`
	Limit           int               `json:"limit,omitempty"`
	Preset          string            `json:"preset,omitempty"`
	Config          *models.JobConfig `json:"config,omitempty"`
	MinValidRecords int               `json:"min_valid_records,omitempty"`
	MaxIterations   int               `json:"max_iterations,omitempty"`
}

// SessionHandler starts deep-search sessions in the background and serves
// stored sessions.
type SessionHandler struct {
	runner   SessionRunner
	sessions interfaces.SessionStorage
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionHandler creates a session handler
func NewSessionHandler(runner SessionRunner, sessions interfaces.SessionStorage, logger arbor.ILogger) *SessionHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionHandler{
		runner:   runner,
		sessions: sessions,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SessionsHandler routes /api/sessions
// GET  /api/sessions?limit=20 - list newest first
// POST /api/sessions          - start a session
func (h *SessionHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSessions(w, r)
	case http.MethodPost:
		h.startSession(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// GetSessionHandler serves GET /api/sessions/{id}
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	segments := PathSegments(r, "/api/sessions/")
	if len(segments) != 1 {
		WriteError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	session, err := h.sessions.GetSession(r.Context(), segments[0])
	if err != nil {
		WriteAPIError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context(), QueryInt(r, "limit", 20))
	if err != nil {
		WriteAPIError(w, h.logger, err)
		return
	}

	// Listing omits records; fetch a session by id for its results
	summaries := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		summary := map[string]interface{}{
			"id":             s.ID,
			"intent":         s.Intent,
			"state":          s.State,
			"attempts":       len(s.Attempts),
			"winning_job_id": s.WinningJobID,
			"created_at":     s.CreatedAt,
			"updated_at":     s.UpdatedAt,
		}
		if s.Results != nil {
			summary["valid_records"] = s.Results.ValidRecords
		}
		if s.Error != "" {
			summary["error"] = s.Error
		}
		summaries = append(summaries, summary)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

func (h *SessionHandler) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Intent = strings.TrimSpace(req.Intent)
	if req.Intent == "" && req.Config == nil {
		WriteError(w, http.StatusBadRequest, "intent is required")
		return
	}

	sessionID := common.NewSessionID()
	now := time.Now()
	pending := &models.Session{
		ID:          sessionID,
		Intent:      req.Intent,
		State:       models.SessionPlanning,
		Transitions: []models.SessionState{models.SessionPlanning},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.sessions.SaveSession(r.Context(), pending); err != nil {
		WriteAPIError(w, h.logger, err)
		return
	}

	run := orchestrator.Request{
		Request: planner.Request{
			Intent:  req.Intent,
			Context: req.Context,
			Limit:   req.Limit,
			Config:  req.Config,
			Preset:  req.Preset,
		},
		SessionID:       sessionID,
		MinValidRecords: req.MinValidRecords,
		MaxIterations:   req.MaxIterations,
	}

	h.wg.Add(1)
	common.SafeGo(h.logger, "session "+sessionID, func() {
		defer h.wg.Done()
		// The controller persists the final session, including on error
		if _, err := h.runner.Run(h.ctx, run); err != nil {
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Background session ended with error")
		}
	})

	h.logger.Info().Str("session_id", sessionID).Str("intent", req.Intent).Msg("Session started via API")
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"session_id": sessionID,
	})
}

// Close cancels running sessions and waits for them to persist
func (h *SessionHandler) Close() {
	h.cancel()
	h.wg.Wait()
}
