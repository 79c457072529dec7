package interfaces

import (
	"context"

	"github.com/ternarybob/catchall/internal/models"
)

// JobAPI is the remote job lifecycle: submit, poll status, pull pages,
// extend the limit, list. Implementations hold no state between calls and
// never retry.
type JobAPI interface {
	// Submit creates a job and returns its identifier
	Submit(ctx context.Context, cfg models.JobConfig) (string, error)

	// Status returns the current stage and step list of a job
	Status(ctx context.Context, jobID string) (*models.Job, error)

	// Pull returns one page of results. Pages start at 1; pageSize is capped at 100.
	Pull(ctx context.Context, jobID string, page, pageSize int) (*models.ResultSet, error)

	// Continue raises the job's limit. newLimit must exceed the current limit.
	Continue(ctx context.Context, jobID string, newLimit int) (*models.JobSubmission, error)

	// ListJobs pages through the caller's jobs
	ListJobs(ctx context.Context, page, pageSize int) (*models.JobList, error)
}

// Previewer suggests validators, enrichments and a date window for a query
// without creating a job.
type Previewer interface {
	Initialize(ctx context.Context, query, context string) (*models.Preview, error)
}

// CreateMonitorRequest is a resolved monitor definition
type CreateMonitorRequest struct {
	ReferenceJobID string
	Schedule       models.Schedule
	Webhook        *models.Webhook
	// Config is the reference job's frozen configuration. Backends that run
	// jobs themselves require it; the remote service looks it up by ID.
	Config *models.JobConfig
}

// MonitorAPI is the monitor surface, served remotely by the CatchAll API or
// in-process by the local runner
type MonitorAPI interface {
	CreateMonitor(ctx context.Context, req CreateMonitorRequest) (string, error)
	ListMonitors(ctx context.Context) ([]models.Monitor, error)
	PullMonitor(ctx context.Context, monitorID string) (*models.MonitorResult, error)
	ListMonitorRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]models.MonitorRun, error)
	EnableMonitor(ctx context.Context, monitorID string) error
	DisableMonitor(ctx context.Context, monitorID string) error
	UpdateMonitor(ctx context.Context, monitorID string, webhook *models.Webhook) (*models.Monitor, error)
}
