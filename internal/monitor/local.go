package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/poll"
	"github.com/ternarybob/catchall/internal/results"
	"github.com/ternarybob/catchall/internal/webhook"
)

// ErrNoRuns is returned when a monitor has not fired yet
var ErrNoRuns = errors.New("monitor has no runs yet")

// ErrNotFound is returned for an unknown monitor id
var ErrNotFound = errors.New("monitor not found")

// ErrAlreadyRunning is returned by RunNow while a run of the monitor is in progress
var ErrAlreadyRunning = errors.New("monitor run already in progress")

// LocalBackend runs monitors in-process on a cron scheduler. Each firing
// submits the frozen reference configuration with its window slid forward to
// the firing time, polls the job to the end, stores the run with its records
// and then attempts webhook delivery once.
type LocalBackend struct {
	jobs      interfaces.JobAPI
	loop      *poll.Loop
	store     interfaces.MonitorStorage
	deliverer *webhook.Deliverer
	events    interfaces.EventService
	logger    arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]bool
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	now func() time.Time
}

// NewLocalBackend creates a stopped backend. events may be nil.
func NewLocalBackend(
	jobs interfaces.JobAPI,
	loop *poll.Loop,
	store interfaces.MonitorStorage,
	deliverer *webhook.Deliverer,
	events interfaces.EventService,
	logger arbor.ILogger,
) *LocalBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBackend{
		jobs:      jobs,
		loop:      loop,
		store:     store,
		deliverer: deliverer,
		events:    events,
		logger:    logger,
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
		running:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Start schedules every enabled stored monitor and starts the cron loop
func (b *LocalBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("monitor scheduler already started")
	}

	monitors, err := b.store.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load monitors: %w", err)
	}
	for _, m := range monitors {
		if !m.Enabled {
			continue
		}
		if err := b.scheduleLocked(m); err != nil {
			b.logger.Warn().Err(err).Str("monitor_id", m.ID).Msg("Failed to schedule monitor")
		}
	}

	b.cron.Start()
	b.started = true
	b.logger.Info().Int("scheduled", len(b.entries)).Msg("Monitor scheduler started")
	return nil
}

// Stop halts the scheduler, cancels in-flight runs and waits for them
func (b *LocalBackend) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()

	b.cancel()
	<-b.cron.Stop().Done()
	b.logger.Info().Msg("Monitor scheduler stopped")
}

// CreateMonitor stores and schedules a new monitor
func (b *LocalBackend) CreateMonitor(ctx context.Context, req interfaces.CreateMonitorRequest) (string, error) {
	if req.Config == nil {
		return "", catchall.NewValidationError(
			"reference job configuration is unavailable; pass the configuration explicitly",
			"body", "reference_job_id")
	}

	now := b.now()
	cfg := req.Config.Clone()
	m := &models.Monitor{
		ID:             uuid.New().String(),
		ReferenceJobID: req.ReferenceJobID,
		Schedule:       req.Schedule,
		Webhook:        req.Webhook,
		Enabled:        true,
		Config:         &cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.store.SaveMonitor(ctx, m); err != nil {
		return "", fmt.Errorf("failed to save monitor: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.scheduleLocked(m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// ListMonitors returns every stored monitor
func (b *LocalBackend) ListMonitors(ctx context.Context) ([]models.Monitor, error) {
	stored, err := b.store.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Monitor, 0, len(stored))
	for _, m := range stored {
		out = append(out, *m)
	}
	return out, nil
}

// PullMonitor returns the latest run and its stored records. Runs stored
// without records are re-pulled from the API.
func (b *LocalBackend) PullMonitor(ctx context.Context, monitorID string) (*models.MonitorResult, error) {
	if _, err := b.get(ctx, monitorID); err != nil {
		return nil, err
	}

	run, err := b.store.LatestRun(ctx, monitorID)
	if errors.Is(err, interfaces.ErrNotFound) || err == nil && run == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRuns, monitorID)
	}
	if err != nil {
		return nil, err
	}

	rs := run.Results
	if rs == nil && run.JobID != "" {
		agg := results.NewAggregator()
		if err := b.loop.PullAll(ctx, run.JobID, agg); err != nil {
			return nil, err
		}
		rs = agg.Snapshot()
	}
	if rs == nil {
		rs = &models.ResultSet{JobID: run.JobID, Status: run.Status}
	}

	info := *run
	info.Results = nil
	return &models.MonitorResult{Run: info, Results: rs}, nil
}

// ListMonitorRuns returns run history without records
func (b *LocalBackend) ListMonitorRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]models.MonitorRun, error) {
	if _, err := b.get(ctx, monitorID); err != nil {
		return nil, err
	}
	stored, err := b.store.ListRuns(ctx, monitorID, order)
	if err != nil {
		return nil, err
	}
	out := make([]models.MonitorRun, 0, len(stored))
	for _, r := range stored {
		run := *r
		run.Results = nil
		out = append(out, run)
	}
	return out, nil
}

// EnableMonitor re-schedules a disabled monitor
func (b *LocalBackend) EnableMonitor(ctx context.Context, monitorID string) error {
	m, err := b.get(ctx, monitorID)
	if err != nil {
		return err
	}
	m.Enabled = true
	m.UpdatedAt = b.now()
	if err := b.store.SaveMonitor(ctx, m); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scheduleLocked(m)
}

// DisableMonitor removes the cron entry; run history is kept
func (b *LocalBackend) DisableMonitor(ctx context.Context, monitorID string) error {
	m, err := b.get(ctx, monitorID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if id, ok := b.entries[monitorID]; ok {
		b.cron.Remove(id)
		delete(b.entries, monitorID)
	}
	b.mu.Unlock()

	m.Enabled = false
	m.UpdatedAt = b.now()
	return b.store.SaveMonitor(ctx, m)
}

// UpdateMonitor replaces the webhook
func (b *LocalBackend) UpdateMonitor(ctx context.Context, monitorID string, hook *models.Webhook) (*models.Monitor, error) {
	m, err := b.get(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	m.Webhook = hook
	m.UpdatedAt = b.now()
	if err := b.store.SaveMonitor(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RunNow fires a monitor immediately and waits for the run to finish
func (b *LocalBackend) RunNow(ctx context.Context, monitorID string) (*models.MonitorRun, error) {
	m, err := b.get(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	if !b.claim(monitorID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, monitorID)
	}
	defer b.release(monitorID)
	return b.run(ctx, m)
}

// NextRun reports when an enabled monitor fires next
func (b *LocalBackend) NextRun(monitorID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.entries[monitorID]
	if !ok {
		return time.Time{}, false
	}
	return b.cron.Entry(id).Next, true
}

func (b *LocalBackend) get(ctx context.Context, monitorID string) (*models.Monitor, error) {
	m, err := b.store.GetMonitor(ctx, monitorID)
	if errors.Is(err, interfaces.ErrNotFound) || err == nil && m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, monitorID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (b *LocalBackend) scheduleLocked(m *models.Monitor) error {
	if _, ok := b.entries[m.ID]; ok {
		return nil
	}
	monitorID := m.ID
	entryID, err := b.cron.AddFunc(m.Spec(), func() {
		b.execute(monitorID)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule monitor %s: %w", monitorID, err)
	}
	b.entries[monitorID] = entryID
	b.logger.Debug().Str("monitor_id", monitorID).Str("cron", m.Spec()).Msg("Monitor scheduled")
	return nil
}

func (b *LocalBackend) claim(monitorID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running[monitorID] {
		return false
	}
	b.running[monitorID] = true
	return true
}

func (b *LocalBackend) release(monitorID string) {
	b.mu.Lock()
	delete(b.running, monitorID)
	b.mu.Unlock()
}

// execute is the cron callback
func (b *LocalBackend) execute(monitorID string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("monitor_id", monitorID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in monitor run")
		}
	}()

	if !b.claim(monitorID) {
		b.logger.Warn().Str("monitor_id", monitorID).Msg("Previous run still in progress, skipping")
		return
	}
	defer b.release(monitorID)

	m, err := b.get(b.ctx, monitorID)
	if err != nil {
		b.logger.Error().Err(err).Str("monitor_id", monitorID).Msg("Failed to load monitor")
		return
	}
	if !m.Enabled {
		return
	}

	_, _ = b.run(b.ctx, m)
}

func (b *LocalBackend) run(ctx context.Context, m *models.Monitor) (*models.MonitorRun, error) {
	if m.Config == nil {
		return nil, fmt.Errorf("monitor %s has no frozen configuration", m.ID)
	}
	firedAt := b.now()
	logger := b.logger.WithCorrelationId(m.ID)

	cfg := slideWindow(m.Config.Clone(), firedAt)
	run := &models.MonitorRun{
		ID:        uuid.New().String(),
		MonitorID: m.ID,
		Status:    models.JobStatusSubmitted,
		StartedAt: models.NewFlexTime(firedAt),
		DateRange: cfg.DateRange(),
	}

	logger.Info().Str("monitor_id", m.ID).Str("run_id", run.ID).Msg("🚀 Monitor run started")
	b.publish(ctx, interfaces.EventMonitorRunStarted, map[string]interface{}{
		"monitor_id": m.ID,
		"run_id":     run.ID,
		"timestamp":  firedAt.Format(time.RFC3339),
	})

	var runErr error
	jobID, err := b.jobs.Submit(ctx, cfg)
	if err != nil {
		runErr = fmt.Errorf("failed to submit monitor job: %w", err)
		run.Status = models.JobStatusFailed
	} else {
		run.JobID = jobID
		if err := b.store.SaveRun(ctx, run); err != nil {
			logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to save in-progress run")
		}

		agg := results.NewAggregator()
		job, err := b.loop.Run(ctx, jobID, agg, nil)
		if job != nil {
			run.Status = job.Status
		}
		if err != nil {
			runErr = err
			if run.Status != models.JobStatusCompleted {
				run.Status = models.JobStatusFailed
			}
		}
		run.Results = agg.Snapshot()
		run.ValidRecords = run.Results.ValidRecords
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.FinishedAt = models.NewFlexTime(b.now())

	// Records are stored before delivery so a failed webhook never loses them
	saveCtx := context.WithoutCancel(ctx)
	if err := b.store.SaveRun(saveCtx, run); err != nil {
		logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to save run")
	}

	if m.Webhook != nil && run.JobID != "" {
		b.deliver(ctx, logger, m, run)
		if err := b.store.SaveRun(saveCtx, run); err != nil {
			logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to save delivery status")
		}
	}

	m.LastRunAt = &firedAt
	m.UpdatedAt = b.now()
	if err := b.store.SaveMonitor(saveCtx, m); err != nil {
		logger.Warn().Err(err).Str("monitor_id", m.ID).Msg("Failed to record last run")
	}

	if runErr != nil {
		logger.Error().
			Err(runErr).
			Str("monitor_id", m.ID).
			Str("run_id", run.ID).
			Dur("duration", b.now().Sub(firedAt)).
			Msg("❌ Monitor run failed")
	} else {
		logger.Info().
			Str("monitor_id", m.ID).
			Str("run_id", run.ID).
			Str("job_id", run.JobID).
			Int("valid_records", run.ValidRecords).
			Dur("duration", b.now().Sub(firedAt)).
			Msg("✅ Monitor run completed successfully")
	}

	b.publish(saveCtx, interfaces.EventMonitorRunDone, map[string]interface{}{
		"monitor_id":    m.ID,
		"run_id":        run.ID,
		"job_id":        run.JobID,
		"status":        run.Status.String(),
		"valid_records": run.ValidRecords,
		"error":         run.Error,
	})

	return run, runErr
}

func (b *LocalBackend) deliver(ctx context.Context, logger arbor.ILogger, m *models.Monitor, run *models.MonitorRun) {
	info := *run
	info.Results = nil
	payload := models.MonitorResult{Run: info, Results: run.Results}

	delivery := &models.WebhookDelivery{AttemptedAt: b.now()}
	err := b.deliverer.Deliver(ctx, *m.Webhook, payload)
	if err == nil {
		delivery.Delivered = true
		run.Delivery = delivery
		return
	}

	var derr *webhook.DeliveryError
	if errors.As(err, &derr) {
		delivery.StatusCode = derr.StatusCode
	}
	delivery.Error = err.Error()
	run.Delivery = delivery

	logger.Warn().
		Err(err).
		Str("monitor_id", m.ID).
		Str("run_id", run.ID).
		Str("url", m.Webhook.URL).
		Msg("Webhook delivery failed; results remain available via pull")
	b.publish(ctx, interfaces.EventWebhookFailed, map[string]interface{}{
		"monitor_id":  m.ID,
		"run_id":      run.ID,
		"url":         m.Webhook.URL,
		"status_code": delivery.StatusCode,
		"error":       delivery.Error,
	})
}

func (b *LocalBackend) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if b.events == nil {
		return
	}
	if err := b.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

// slideWindow keeps the configured window length and moves its end to at.
// Configurations without a start date are submitted unchanged.
func slideWindow(cfg models.JobConfig, at time.Time) models.JobConfig {
	if cfg.StartDate == nil || cfg.StartDate.IsZero() {
		return cfg
	}
	end := at
	span := cfg.DateRange().Span()
	if span <= 0 {
		span = at.Sub(cfg.StartDate.Time)
	}
	if span <= 0 {
		return cfg
	}
	cfg.StartDate = models.NewFlexTime(end.Add(-span))
	cfg.EndDate = models.NewFlexTime(end)
	return cfg
}
