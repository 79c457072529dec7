// Package poll drives a submitted job to a terminal status, surfacing
// partial results as steps complete.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/results"
)

// Policy sets the loop cadence
type Policy struct {
	// InitialDelay is waited once after submission before the first status check
	InitialDelay time.Duration
	// Interval is waited between status checks
	Interval time.Duration
	// StallThreshold flags a job stuck when no step completes for this long
	StallThreshold time.Duration
	// PageSize is used when pulling results, capped at catchall.MaxPageSize
	PageSize int
	// TransientRetries bounds retries of one request on network, 429 or 5xx errors
	TransientRetries int
	// TransientBackoff is multiplied by the attempt number between retries
	TransientBackoff time.Duration
}

// DefaultPolicy returns the production cadence
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:     30 * time.Second,
		Interval:         60 * time.Second,
		StallThreshold:   15 * time.Minute,
		PageSize:         catchall.MaxPageSize,
		TransientRetries: 3,
		TransientBackoff: 5 * time.Second,
	}
}

// Progress is reported to the observer after every status check
type Progress struct {
	JobID          string
	Status         models.JobStatus
	CompletedSteps int
	TotalSteps     int
	ValidRecords   int
	Records        int
	Elapsed        time.Duration
}

// Observer receives progress updates. It is called synchronously from the loop.
type Observer func(Progress)

// JobFailedError means the remote job reached the failed status
type JobFailedError struct {
	JobID string
	Step  string
}

func (e *JobFailedError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed during %s", e.JobID, e.Step)
}

// StuckJobError means no step completed within the stall threshold
type StuckJobError struct {
	JobID     string
	Status    models.JobStatus
	Stalled   time.Duration
	Threshold time.Duration
}

func (e *StuckJobError) Error() string {
	return fmt.Sprintf("job %s stuck in %s: no progress for %s (threshold %s)", e.JobID, e.Status, e.Stalled.Round(time.Millisecond), e.Threshold)
}

// Loop polls one job at a time. A Loop holds no per-job state and may be
// shared by concurrent sessions.
type Loop struct {
	api    interfaces.JobAPI
	policy Policy
	logger arbor.ILogger
	now    func() time.Time
}

// NewLoop creates a poll loop
func NewLoop(api interfaces.JobAPI, policy Policy, logger arbor.ILogger) *Loop {
	if policy.PageSize <= 0 || policy.PageSize > catchall.MaxPageSize {
		policy.PageSize = catchall.MaxPageSize
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPolicy().Interval
	}
	return &Loop{
		api:    api,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Policy returns the effective policy
func (l *Loop) Policy() Policy {
	return l.policy
}

// Run polls jobID until it completes, fails, stalls or ctx is cancelled.
// Records are merged into agg whenever a new step completes and once more on
// completion. The returned job carries the highest status observed: a server
// report that moves backwards is ignored.
func (l *Loop) Run(ctx context.Context, jobID string, agg *results.Aggregator, observer Observer) (*models.Job, error) {
	if agg == nil {
		agg = results.NewAggregator()
	}

	start := l.now()
	lastProgress := start
	highest := models.JobStatusUnknown
	completedSteps := 0

	if err := wait(ctx, l.policy.InitialDelay); err != nil {
		return nil, err
	}

	for {
		var job *models.Job
		err := l.withRetry(ctx, "status", jobID, func() error {
			var err error
			job, err = l.api.Status(ctx, jobID)
			return err
		})
		if err != nil {
			return nil, err
		}

		if job.Status.Before(highest) {
			l.logger.Warn().
				Str("job_id", jobID).
				Str("reported", job.Status.String()).
				Str("highest", highest.String()).
				Msg("Ignoring status regression")
			job.Status = highest
		}

		if highest.Before(job.Status) || highest == models.JobStatusUnknown && job.Status != models.JobStatusUnknown {
			highest = job.Status
		}

		// Only a newly completed step counts as progress; a status label
		// change alone does not reset the stall timer
		steps := job.CompletedSteps()
		newSteps := steps > completedSteps
		if newSteps {
			completedSteps = steps
			lastProgress = l.now()
		}

		if newSteps || job.Status == models.JobStatusCompleted {
			if err := l.pullAll(ctx, jobID, agg); err != nil {
				return job, err
			}
		}

		if observer != nil {
			snap := agg.Snapshot()
			observer(Progress{
				JobID:          jobID,
				Status:         job.Status,
				CompletedSteps: completedSteps,
				TotalSteps:     len(job.Steps),
				ValidRecords:   snap.ValidRecords,
				Records:        snap.Len(),
				Elapsed:        l.now().Sub(start),
			})
		}

		switch job.Status {
		case models.JobStatusCompleted:
			l.logger.Info().
				Str("job_id", jobID).
				Int("valid_records", agg.ValidRecords()).
				Dur("elapsed", l.now().Sub(start)).
				Msg("Job completed")
			return job, nil
		case models.JobStatusFailed:
			step := ""
			if current := job.CurrentStep(); current != nil {
				step = current.Name
			}
			return job, &JobFailedError{JobID: jobID, Step: step}
		}

		if stalled := l.now().Sub(lastProgress); l.policy.StallThreshold > 0 && stalled >= l.policy.StallThreshold {
			return job, &StuckJobError{
				JobID:     jobID,
				Status:    job.Status,
				Stalled:   stalled,
				Threshold: l.policy.StallThreshold,
			}
		}

		if err := wait(ctx, l.policy.Interval); err != nil {
			return job, err
		}
	}
}

// PullAll fetches every page of a job into agg
func (l *Loop) PullAll(ctx context.Context, jobID string, agg *results.Aggregator) error {
	return l.pullAll(ctx, jobID, agg)
}

func (l *Loop) pullAll(ctx context.Context, jobID string, agg *results.Aggregator) error {
	for page := 1; ; page++ {
		var rs *models.ResultSet
		err := l.withRetry(ctx, "pull", jobID, func() error {
			var err error
			rs, err = l.api.Pull(ctx, jobID, page, l.policy.PageSize)
			return err
		})
		if err != nil {
			return err
		}

		stats := agg.Add(rs)
		l.logger.Debug().
			Str("job_id", jobID).
			Int("page", page).
			Int("total_pages", rs.TotalPages).
			Int("added", stats.Added).
			Int("replaced", stats.Replaced).
			Msg("Pulled results page")

		if !rs.HasMorePages() || len(rs.Records) == 0 {
			return nil
		}
	}
}

// withRetry runs fn, retrying transient failures with linear backoff
func (l *Loop) withRetry(ctx context.Context, op, jobID string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !catchall.IsTransient(err) || attempt > l.policy.TransientRetries {
			return err
		}

		backoff := l.policy.TransientBackoff * time.Duration(attempt)
		l.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient error, retrying")

		if err := wait(ctx, backoff); err != nil {
			return err
		}
	}
}

// wait suspends for d or until ctx is done
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
