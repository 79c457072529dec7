package handlers

import (
	"context"

	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/monitor"
	"github.com/ternarybob/catchall/internal/orchestrator"
)

// SessionRunner runs deep-search sessions (orchestrator.Controller).
type SessionRunner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
}

// MonitorService is the monitor surface exposed over HTTP (monitor.Manager).
type MonitorService interface {
	Create(ctx context.Context, req monitor.CreateRequest) (string, error)
	List(ctx context.Context) ([]models.Monitor, error)
	PullLatest(ctx context.Context, monitorID string) (*models.MonitorResult, error)
	ListRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]models.MonitorRun, error)
	Enable(ctx context.Context, monitorID string) error
	Disable(ctx context.Context, monitorID string) error
	Update(ctx context.Context, monitorID string, webhook *models.Webhook) (*models.Monitor, error)
}

// MonitorRunner fires a monitor immediately. Only the local backend has one.
type MonitorRunner interface {
	RunNow(ctx context.Context, monitorID string) (*models.MonitorRun, error)
}
