package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/catchall/catchalltest"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/poll"
	"github.com/ternarybob/catchall/internal/webhook"
)

type memoryMonitors struct {
	mu       sync.Mutex
	monitors map[string]models.Monitor
	runs     map[string]models.MonitorRun
}

func newMemoryMonitors() *memoryMonitors {
	return &memoryMonitors{
		monitors: make(map[string]models.Monitor),
		runs:     make(map[string]models.MonitorRun),
	}
}

func (s *memoryMonitors) SaveMonitor(ctx context.Context, m *models.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[m.ID] = *m
	return nil
}

func (s *memoryMonitors) GetMonitor(ctx context.Context, id string) (*models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &m, nil
}

func (s *memoryMonitors) ListMonitors(ctx context.Context) ([]*models.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		m := m
		out = append(out, &m)
	}
	return out, nil
}

func (s *memoryMonitors) DeleteMonitor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitors, id)
	return nil
}

func (s *memoryMonitors) SaveRun(ctx context.Context, run *models.MonitorRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *memoryMonitors) ListRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]*models.MonitorRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MonitorRun
	for _, r := range s.runs {
		if r.MonitorID == monitorID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if order == models.SortAsc {
			return out[i].StartedAt.Before(out[j].StartedAt.Time)
		}
		return out[j].StartedAt.Before(out[i].StartedAt.Time)
	})
	return out, nil
}

func (s *memoryMonitors) LatestRun(ctx context.Context, monitorID string) (*models.MonitorRun, error) {
	runs, _ := s.ListRuns(ctx, monitorID, models.SortDesc)
	if len(runs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return runs[0], nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []interfaces.EventType
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) (func(), error) {
	return func() {}, nil
}

func (r *recordingEvents) Publish(ctx context.Context, e interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, e interfaces.Event) error {
	return r.Publish(ctx, e)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) has(t interfaces.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.types {
		if got == t {
			return true
		}
	}
	return false
}

type harness struct {
	srv     *catchalltest.Server
	client  *catchall.Client
	store   *memoryMonitors
	events  *recordingEvents
	local   *LocalBackend
	manager *Manager
}

func fastPolicy() poll.Policy {
	return poll.Policy{
		InitialDelay:     time.Millisecond,
		Interval:         time.Millisecond,
		StallThreshold:   50 * time.Millisecond,
		PageSize:         100,
		TransientRetries: 1,
		TransientBackoff: time.Millisecond,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := catchalltest.NewServer()
	t.Cleanup(srv.Close)

	logger := arbor.NewLogger()
	client := catchall.NewClient(catchalltest.DefaultAPIKey, catchall.WithBaseURL(srv.BaseURL()), catchall.WithRateLimit(0))
	store := newMemoryMonitors()
	events := &recordingEvents{}
	local := NewLocalBackend(client, poll.NewLoop(client, fastPolicy(), logger), store,
		webhook.NewDeliverer(time.Second, logger), events, logger)
	t.Cleanup(local.Stop)

	return &harness{
		srv:     srv,
		client:  client,
		store:   store,
		events:  events,
		local:   local,
		manager: NewManager(client, local, nil, logger),
	}
}

// completedJob submits cfg and forces it to completion
func (h *harness) completedJob(t *testing.T, cfg models.JobConfig) string {
	t.Helper()
	jobID, err := h.client.Submit(context.Background(), cfg)
	require.NoError(t, err)
	h.srv.CompleteJob(jobID)
	return jobID
}

func weekWindow(end time.Time) models.JobConfig {
	return models.JobConfig{
		Query:     "data center construction permits",
		Limit:     20,
		StartDate: models.NewFlexTime(end.AddDate(0, 0, -7)),
		EndDate:   models.NewFlexTime(end),
	}
}

func TestCreateRequiresCompletedReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	jobID, err := h.client.Submit(ctx, cfg)
	require.NoError(t, err)

	_, err = h.manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "daily at 9am", Timezone: "UTC", Config: &cfg})
	var verr *catchall.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"body", "reference_job_id"}, verr.Fields[0].Loc)

	h.srv.CompleteJob(jobID)
	id, err := h.manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "daily at 9am", Timezone: "UTC", Config: &cfg})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := weekWindow(time.Now())
	jobID := h.completedJob(t, cfg)

	tests := []struct {
		name string
		req  CreateRequest
		loc  string
	}{
		{"missing reference", CreateRequest{Schedule: "hourly", Timezone: "UTC"}, "reference_job_id"},
		{"missing timezone", CreateRequest{ReferenceJobID: jobID, Schedule: "hourly", Config: &cfg}, "timezone"},
		{"bad schedule", CreateRequest{ReferenceJobID: jobID, Schedule: "every 1 minute", Timezone: "UTC", Config: &cfg}, "schedule"},
		{"bad webhook", CreateRequest{ReferenceJobID: jobID, Schedule: "hourly", Timezone: "UTC", Config: &cfg,
			Webhook: &models.Webhook{URL: "not a url"}}, "url"},
		{"no config", CreateRequest{ReferenceJobID: jobID, Schedule: "hourly", Timezone: "UTC"}, "reference_job_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.manager.Create(ctx, tt.req)
			var verr *catchall.ValidationError
			require.ErrorAs(t, err, &verr)
			loc := verr.Fields[0].Loc
			assert.Equal(t, tt.loc, loc[len(loc)-1])
		})
	}

	monitors, err := h.manager.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, monitors)
}

func TestCreateLooksUpConfigFromSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	jobID := h.completedJob(t, cfg)

	sessions := &sessionList{sessions: []*models.Session{{
		ID:       "s-1",
		Attempts: []models.Attempt{{Iteration: 0, JobID: jobID, Config: cfg}},
	}}}
	manager := NewManager(h.client, h.local, sessions, arbor.NewLogger())

	id, err := manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "weekly on monday at 8am", Timezone: "Europe/London"})
	require.NoError(t, err)

	m, err := h.store.GetMonitor(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.Config)
	assert.Equal(t, cfg.Query, m.Config.Query)
	assert.Equal(t, "0 8 * * 1", m.Cron)
	assert.Equal(t, "Europe/London", m.Timezone)
}

// Scenario: a monitor fires, its run is stored, and the latest pull returns
// the run's records with the window slid forward to the firing time.
func TestLocalRunAndPullLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ref := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := weekWindow(ref)
	jobID := h.completedJob(t, cfg)

	id, err := h.manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "daily at 6am", Timezone: "America/New_York", Config: &cfg})
	require.NoError(t, err)

	_, err = h.manager.PullLatest(ctx, id)
	assert.ErrorIs(t, err, ErrNoRuns)

	fired := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	h.local.now = func() time.Time { return fired }
	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 6})

	run, err := h.local.RunNow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, run.Status)
	assert.Equal(t, 6, run.ValidRecords)
	assert.Nil(t, run.Delivery)

	subs := h.srv.Submissions()
	require.Len(t, subs, 2)
	submitted := subs[1]
	require.NotNil(t, submitted.EndDate)
	assert.True(t, submitted.EndDate.Equal(fired))
	assert.Equal(t, 7*24*time.Hour, submitted.DateRange().Span(), "window length is preserved")
	assert.Equal(t, cfg.Query, submitted.Query)

	result, err := h.manager.PullLatest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run.JobID, result.Run.JobID)
	assert.Len(t, result.Results.Records, 6)

	runs, err := h.manager.ListRuns(ctx, id, models.SortDesc)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Results, "history omits records")

	m, err := h.store.GetMonitor(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastRunAt)
	assert.True(t, m.LastRunAt.Equal(fired))

	assert.True(t, h.events.has(interfaces.EventMonitorRunStarted))
	assert.True(t, h.events.has(interfaces.EventMonitorRunDone))
}

// Scenario: the webhook endpoint is unreachable. The run still succeeds and
// pulling the latest run returns its records.
func TestWebhookFailureDoesNotLoseResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	jobID := h.completedJob(t, cfg)
	id, err := h.manager.Create(ctx, CreateRequest{
		ReferenceJobID: jobID,
		Schedule:       "hourly",
		Timezone:       "UTC",
		Webhook:        &models.Webhook{URL: deadURL + "/hook"},
		Config:         &cfg,
	})
	require.NoError(t, err)

	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 3})
	run, err := h.local.RunNow(ctx, id)
	require.NoError(t, err, "delivery failure is not a run failure")
	assert.Equal(t, models.JobStatusCompleted, run.Status)
	require.NotNil(t, run.Delivery)
	assert.False(t, run.Delivery.Delivered)
	assert.NotEmpty(t, run.Delivery.Error)

	result, err := h.manager.PullLatest(ctx, id)
	require.NoError(t, err)
	assert.Len(t, result.Results.Records, 3)
	require.NotNil(t, result.Run.Delivery)
	assert.False(t, result.Run.Delivery.Delivered)

	assert.True(t, h.events.has(interfaces.EventWebhookFailed))
}

func TestWebhookReceivesRunPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		body models.MonitorResult
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer hook.Close()

	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	jobID := h.completedJob(t, cfg)
	id, err := h.manager.Create(ctx, CreateRequest{
		ReferenceJobID: jobID,
		Schedule:       "hourly",
		Timezone:       "UTC",
		Webhook:        &models.Webhook{URL: hook.URL},
		Config:         &cfg,
	})
	require.NoError(t, err)

	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 2})
	run, err := h.local.RunNow(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, run.Delivery)
	assert.True(t, run.Delivery.Delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, id, body.Run.MonitorID)
	assert.Equal(t, run.JobID, body.Run.JobID)
	require.NotNil(t, body.Results)
	assert.Len(t, body.Results.Records, 2)
}

func TestFailedRunIsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	jobID := h.completedJob(t, cfg)
	id, err := h.manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "hourly", Timezone: "UTC", Config: &cfg})
	require.NoError(t, err)

	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 2, FailAt: models.JobStatusEnriching})
	run, err := h.local.RunNow(ctx, id)
	var failed *poll.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, models.JobStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	runs, err := h.manager.ListRuns(ctx, id, models.SortAsc)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.JobStatusFailed, runs[0].Status)
}

func TestEnableDisableAndUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.local.Start(ctx))

	cfg := weekWindow(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	jobID := h.completedJob(t, cfg)
	id, err := h.manager.Create(ctx, CreateRequest{ReferenceJobID: jobID, Schedule: "daily at 9am", Timezone: "Asia/Tokyo", Config: &cfg})
	require.NoError(t, err)

	next, ok := h.local.NextRun(id)
	require.True(t, ok)
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	assert.Equal(t, 9, next.In(tokyo).Hour())

	require.NoError(t, h.manager.Disable(ctx, id))
	_, ok = h.local.NextRun(id)
	assert.False(t, ok)
	m, _ := h.store.GetMonitor(ctx, id)
	assert.False(t, m.Enabled)

	require.NoError(t, h.manager.Enable(ctx, id))
	_, ok = h.local.NextRun(id)
	assert.True(t, ok)

	updated, err := h.manager.Update(ctx, id, &models.Webhook{URL: "https://hooks.example.com/new", Method: "PUT"})
	require.NoError(t, err)
	assert.Equal(t, "PUT", updated.Webhook.HTTPMethod())

	_, err = h.manager.Update(ctx, id, &models.Webhook{URL: "https://hooks.example.com", Method: "GET"})
	assert.True(t, catchall.IsValidationError(err))

	assert.ErrorIs(t, h.manager.Enable(ctx, "missing"), ErrNotFound)
}

func TestStartSchedulesStoredMonitors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := weekWindow(time.Now())

	require.NoError(t, h.store.SaveMonitor(ctx, &models.Monitor{
		ID: "enabled", Enabled: true, Config: &cfg,
		Schedule: models.Schedule{Text: "hourly", Cron: "0 * * * *", Timezone: "UTC"},
	}))
	require.NoError(t, h.store.SaveMonitor(ctx, &models.Monitor{
		ID: "disabled", Enabled: false, Config: &cfg,
		Schedule: models.Schedule{Text: "hourly", Cron: "0 * * * *", Timezone: "UTC"},
	}))

	require.NoError(t, h.local.Start(ctx))
	_, ok := h.local.NextRun("enabled")
	assert.True(t, ok)
	_, ok = h.local.NextRun("disabled")
	assert.False(t, ok)
	assert.Error(t, h.local.Start(ctx))
}

func TestSlideWindow(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cfg       models.JobConfig
		wantStart *time.Time
	}{
		{"no window", models.JobConfig{Query: "q"}, nil},
		{"bounded window", models.JobConfig{Query: "q", StartDate: models.NewFlexTime(start), EndDate: models.NewFlexTime(start.AddDate(0, 0, 14))}, ptr(at.AddDate(0, 0, -14))},
		{"open end", models.JobConfig{Query: "q", StartDate: models.NewFlexTime(at.AddDate(0, 0, -3))}, ptr(at.AddDate(0, 0, -3))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slideWindow(tt.cfg.Clone(), at)
			if tt.wantStart == nil {
				assert.Nil(t, got.StartDate)
				assert.Nil(t, got.EndDate)
				return
			}
			require.NotNil(t, got.StartDate)
			assert.True(t, got.StartDate.Equal(*tt.wantStart))
			assert.True(t, got.EndDate.Equal(at))
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

type sessionList struct {
	sessions []*models.Session
}

func (s *sessionList) SaveSession(context.Context, *models.Session) error { return nil }

func (s *sessionList) GetSession(context.Context, string) (*models.Session, error) {
	return nil, interfaces.ErrNotFound
}

func (s *sessionList) ListSessions(context.Context, int) ([]*models.Session, error) {
	return s.sessions, nil
}

func (s *sessionList) DeleteSession(context.Context, string) error { return nil }
