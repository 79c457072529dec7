package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/catchall/internal/models"
)

// ErrNotFound is wrapped by storage lookups for a missing key
var ErrNotFound = errors.New("not found")

// SessionStorage persists finished and in-flight deep-search sessions.
// It is passed explicitly to whoever needs it; nothing reads it globally.
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// MonitorStorage persists locally scheduled monitors and their run history
type MonitorStorage interface {
	SaveMonitor(ctx context.Context, monitor *models.Monitor) error
	GetMonitor(ctx context.Context, id string) (*models.Monitor, error)
	ListMonitors(ctx context.Context) ([]*models.Monitor, error)
	DeleteMonitor(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run *models.MonitorRun) error
	ListRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]*models.MonitorRun, error)
	LatestRun(ctx context.Context, monitorID string) (*models.MonitorRun, error)
}
