// Package monitor manages recurring re-runs of completed jobs. Monitors are
// served either by the CatchAll API or by the in-process LocalBackend.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/schedule"
)

// CreateRequest is a monitor definition as a caller writes it
type CreateRequest struct {
	ReferenceJobID string
	Schedule       string
	Timezone       string
	Webhook        *models.Webhook
	// Config overrides the frozen configuration; when nil it is looked up
	// from the session that produced the reference job.
	Config *models.JobConfig
}

// Manager validates monitor operations and delegates them to a backend
type Manager struct {
	jobs     interfaces.JobAPI
	backend  interfaces.MonitorAPI
	sessions interfaces.SessionStorage
	logger   arbor.ILogger
}

// NewManager creates a manager. sessions may be nil.
func NewManager(jobs interfaces.JobAPI, backend interfaces.MonitorAPI, sessions interfaces.SessionStorage, logger arbor.ILogger) *Manager {
	return &Manager{
		jobs:     jobs,
		backend:  backend,
		sessions: sessions,
		logger:   logger,
	}
}

// Create registers a monitor. The reference job must exist and be completed.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	ref := strings.TrimSpace(req.ReferenceJobID)
	if ref == "" {
		return "", catchall.NewValidationError("reference job is required", "body", "reference_job_id")
	}

	job, err := m.jobs.Status(ctx, ref)
	if err != nil {
		var apiErr *catchall.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", catchall.NewValidationError(fmt.Sprintf("reference job %s not found", ref), "body", "reference_job_id")
		}
		return "", fmt.Errorf("failed to check reference job: %w", err)
	}
	if job.Status != models.JobStatusCompleted {
		return "", catchall.NewValidationError(
			fmt.Sprintf("reference job must be completed (status: %s)", job.Status),
			"body", "reference_job_id")
	}

	sched, err := schedule.Resolve(req.Schedule, req.Timezone)
	if err != nil {
		return "", err
	}

	if err := validateWebhook(req.Webhook); err != nil {
		return "", err
	}

	cfg := req.Config
	if cfg == nil {
		cfg = m.lookupConfig(ctx, ref)
	}

	id, err := m.backend.CreateMonitor(ctx, interfaces.CreateMonitorRequest{
		ReferenceJobID: ref,
		Schedule:       sched,
		Webhook:        req.Webhook,
		Config:         cfg,
	})
	if err != nil {
		return "", err
	}

	m.logger.Info().
		Str("monitor_id", id).
		Str("reference_job_id", ref).
		Str("cron", sched.Spec()).
		Msg("Monitor created")
	return id, nil
}

// List returns every monitor
func (m *Manager) List(ctx context.Context) ([]models.Monitor, error) {
	return m.backend.ListMonitors(ctx)
}

// PullLatest returns the most recent run with its records
func (m *Manager) PullLatest(ctx context.Context, monitorID string) (*models.MonitorResult, error) {
	if err := requireID(monitorID); err != nil {
		return nil, err
	}
	return m.backend.PullMonitor(ctx, monitorID)
}

// ListRuns returns run history ordered by start time
func (m *Manager) ListRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]models.MonitorRun, error) {
	if err := requireID(monitorID); err != nil {
		return nil, err
	}
	return m.backend.ListMonitorRuns(ctx, monitorID, order)
}

// Enable resumes scheduled runs
func (m *Manager) Enable(ctx context.Context, monitorID string) error {
	if err := requireID(monitorID); err != nil {
		return err
	}
	return m.backend.EnableMonitor(ctx, monitorID)
}

// Disable stops future runs; history is kept
func (m *Manager) Disable(ctx context.Context, monitorID string) error {
	if err := requireID(monitorID); err != nil {
		return err
	}
	return m.backend.DisableMonitor(ctx, monitorID)
}

// Update replaces the monitor's webhook. A nil webhook removes it.
func (m *Manager) Update(ctx context.Context, monitorID string, webhook *models.Webhook) (*models.Monitor, error) {
	if err := requireID(monitorID); err != nil {
		return nil, err
	}
	if err := validateWebhook(webhook); err != nil {
		return nil, err
	}
	return m.backend.UpdateMonitor(ctx, monitorID, webhook)
}

// lookupConfig finds the configuration that produced jobID in stored sessions
func (m *Manager) lookupConfig(ctx context.Context, jobID string) *models.JobConfig {
	if m.sessions == nil {
		return nil
	}
	sessions, err := m.sessions.ListSessions(ctx, 0)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to search sessions for reference config")
		return nil
	}
	for _, s := range sessions {
		for i := range s.Attempts {
			if s.Attempts[i].JobID == jobID {
				cfg := s.Attempts[i].Config.Clone()
				return &cfg
			}
		}
	}
	return nil
}

func validateWebhook(w *models.Webhook) error {
	if w == nil {
		return nil
	}
	if fields := w.Validate(); len(fields) > 0 {
		for i := range fields {
			fields[i].Loc = append([]string{"body", "webhook"}, fields[i].Loc[1:]...)
		}
		return &catchall.ValidationError{Fields: fields}
	}
	return nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return catchall.NewValidationError("monitor id is required", "path", "monitor_id")
	}
	return nil
}
