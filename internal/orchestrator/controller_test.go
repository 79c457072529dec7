package orchestrator

import (
	"context"
	"errors"
	"strings"
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
	"github.com/ternarybob/catchall/internal/planner"
	"github.com/ternarybob/catchall/internal/poll"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func (m *memorySessions) SaveSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*models.Session)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memorySessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (m *memorySessions) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return nil, nil
}

func (m *memorySessions) DeleteSession(ctx context.Context, id string) error {
	return nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []interfaces.EventType
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) (func(), error) {
	return func() {}, nil
}

func (r *recordingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, event.Type)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return r.Publish(ctx, event)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) count(t interfaces.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, et := range r.types {
		if et == t {
			n++
		}
	}
	return n
}

type harness struct {
	srv        *catchalltest.Server
	controller *Controller
	sessions   *memorySessions
	events     *recordingEvents
}

func newHarness(t *testing.T, apiKey string, options Options, policy poll.Policy) *harness {
	t.Helper()
	return newHarnessWithAPI(t, apiKey, options, policy, func(c *catchall.Client) interfaces.JobAPI { return c })
}

// newHarnessWithAPI lets a test intercept the controller's job API calls
func newHarnessWithAPI(t *testing.T, apiKey string, options Options, policy poll.Policy, wrap func(*catchall.Client) interfaces.JobAPI) *harness {
	t.Helper()
	srv := catchalltest.NewServer()
	t.Cleanup(srv.Close)

	logger := arbor.NewLogger()
	client := catchall.NewClient(apiKey, catchall.WithBaseURL(srv.BaseURL()), catchall.WithRateLimit(0))
	loop := poll.NewLoop(client, policy, logger)
	p := planner.NewPlanner(client, nil, nil, planner.Options{DefaultLimit: 10}, logger)

	h := &harness{srv: srv, sessions: &memorySessions{}, events: &recordingEvents{}}
	h.controller = NewController(wrap(client), loop, p, h.events, h.sessions, options, logger)
	return h
}

// rejectingContinue fails every Continue call with err
type rejectingContinue struct {
	*catchall.Client
	err   error
	calls int
}

func (r *rejectingContinue) Continue(ctx context.Context, jobID string, newLimit int) (*models.JobSubmission, error) {
	r.calls++
	return nil, r.err
}

func fastPolicy() poll.Policy {
	return poll.Policy{
		InitialDelay:     time.Millisecond,
		Interval:         time.Millisecond,
		StallThreshold:   30 * time.Millisecond,
		PageSize:         100,
		TransientRetries: 1,
		TransientBackoff: time.Millisecond,
	}
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())
	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 4})

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "AI acquisitions last week"}})
	require.NoError(t, err)

	assert.Equal(t, models.SessionSucceeded, out.State)
	assert.Equal(t, []models.SessionState{
		models.SessionPlanning,
		models.SessionSearching,
		models.SessionEvaluating,
		models.SessionSynthesizing,
		models.SessionSucceeded,
	}, out.Transitions)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, 4, out.Results.ValidRecords)
	assert.Equal(t, out.Attempts[0].JobID, out.WinningJobID)
	require.NotNil(t, out.WinningConfig)
	assert.Equal(t, "AI acquisitions last week", out.WinningConfig.Query)

	saved, err := h.sessions.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSucceeded, saved.State)
	assert.Equal(t, 1, h.events.count(interfaces.EventSessionFinished))
	assert.Greater(t, h.events.count(interfaces.EventJobProgress), 0)
}

func TestRunRetriesWithWidenedWindow(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())
	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 0}, catchalltest.JobScript{ValidRecords: 3})

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "AI acquisitions last week"}})
	require.NoError(t, err)
	require.Len(t, out.Attempts, 2)

	submissions := h.srv.Submissions()
	require.Len(t, submissions, 2)
	assert.Nil(t, submissions[0].StartDate)
	require.NotNil(t, submissions[1].StartDate)
	require.NotNil(t, submissions[1].EndDate)
	assert.Equal(t, 14*24*time.Hour, submissions[1].EndDate.Sub(submissions[1].StartDate.Time))
	assert.Equal(t, submissions[0].Query, submissions[1].Query, "only the window changes")

	assert.Equal(t, string(planner.StrategyWidenWindow), out.Attempts[1].Strategy)
	assert.Contains(t, out.Transitions, models.SessionRetrying)

	evaluations := 0
	for _, s := range out.Transitions {
		if s == models.SessionEvaluating {
			evaluations++
		}
	}
	assert.Equal(t, 2, evaluations)
}

func TestRunStuckJobTriggersRetry(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())
	h.srv.QueueScripts(
		catchalltest.JobScript{ValidRecords: 3, StallAt: models.JobStatusFetching},
		catchalltest.JobScript{ValidRecords: 3},
	)

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "warehouse fires"}})
	require.NoError(t, err)
	assert.Equal(t, models.SessionSucceeded, out.State)
	require.Len(t, out.Attempts, 2)
	assert.True(t, strings.HasPrefix(out.Attempts[0].Outcome, "stuck"))
	assert.Equal(t, string(planner.StrategyResubmit), out.Attempts[1].Strategy)

	submissions := h.srv.Submissions()
	assert.Equal(t, submissions[0], submissions[1], "stuck jobs are resubmitted unchanged")
}

func TestRunFailedJobTriggersRetry(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())
	h.srv.QueueScripts(
		catchalltest.JobScript{ValidRecords: 3, FailAt: models.JobStatusClustering},
		catchalltest.JobScript{ValidRecords: 3},
	)

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "recalls"}})
	require.NoError(t, err)
	require.Len(t, out.Attempts, 2)
	assert.True(t, strings.HasPrefix(out.Attempts[0].Outcome, "failed"))
}

func TestRunExhaustsAfterMaxIterations(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())
	h.srv.DefaultScript = catchalltest.JobScript{ValidRecords: 2}

	out, err := h.controller.Run(context.Background(), Request{
		Request:         planner.Request{Intent: "bridge collapses"},
		MinValidRecords: 50,
	})
	require.Error(t, err)

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, DefaultMaxIterations, exhausted.Attempts)

	assert.Equal(t, models.SessionExhausted, out.State)
	assert.Len(t, out.Attempts, DefaultMaxIterations)
	assert.Equal(t, DefaultMaxIterations, h.srv.Calls("submit"))

	// Union of every attempt: each job contributes its own records
	assert.Equal(t, 2*DefaultMaxIterations, out.Results.Len())
	assert.Equal(t, 2, out.Best.ValidRecords)
	assert.Same(t, exhausted.Results, out.Results)

	seen := map[string]bool{}
	for _, r := range out.Results.Records {
		require.False(t, seen[r.ID])
		seen[r.ID] = true
	}
}

func TestRunNeverExceedsMaxIterationsOnZeroResults(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{MaxIterations: 3}, fastPolicy())
	h.srv.DefaultScript = catchalltest.JobScript{ValidRecords: 0}

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "nothing matches"}})

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, h.srv.Calls("submit"))
	assert.Equal(t, 0, out.Results.Len())
	assert.NotNil(t, out.Best)
}

func TestRunContinuesCappedJob(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{ContinueOnCap: true}, fastPolicy())
	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 40})

	out, err := h.controller.Run(context.Background(), Request{
		Request:         planner.Request{Intent: "store openings", Limit: 10},
		MinValidRecords: 15,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.srv.Calls("submit"))
	assert.Equal(t, 1, h.srv.Calls("continue"))
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, strategyContinue, out.Attempts[1].Strategy)
	assert.Equal(t, out.Attempts[0].JobID, out.Attempts[1].JobID)
	assert.Equal(t, 20, out.Results.Len())
	assert.Equal(t, 20, out.WinningConfig.Limit)
}

func TestRunFailedContinueMutatesQuery(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"upstream error", &catchall.APIError{StatusCode: 502, Message: "bad gateway", Endpoint: "/continue"}},
		{"rejected limit", &catchall.ValidationError{Endpoint: "/continue", Fields: []models.FieldError{
			{Loc: []string{"body", "new_limit"}, Msg: "must exceed the current limit"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &rejectingContinue{err: tt.err}
			h := newHarnessWithAPI(t, catchalltest.DefaultAPIKey, Options{ContinueOnCap: true, MaxIterations: 3}, fastPolicy(),
				func(c *catchall.Client) interfaces.JobAPI {
					api.Client = c
					return api
				})
			h.srv.DefaultScript = catchalltest.JobScript{ValidRecords: 40}

			out, err := h.controller.Run(context.Background(), Request{
				Request:         planner.Request{Intent: "store openings", Limit: 10},
				MinValidRecords: 15,
			})

			var exhausted *RetriesExhaustedError
			require.True(t, errors.As(err, &exhausted), "got %v", err)
			assert.Equal(t, models.SessionExhausted, out.State)
			assert.Equal(t, 1, api.calls, "continue is not retried after it fails")
			assert.Equal(t, 3, h.srv.Calls("submit"))

			require.Len(t, out.Attempts, 3)
			assert.Equal(t, string(planner.StrategyWidenWindow), out.Attempts[1].Strategy)
			assert.Contains(t, out.Attempts[1].Detail, "window")
			assert.NotContains(t, out.Attempts[1].Detail, "limit")
			assert.Equal(t, string(planner.StrategyWidenWindow), out.Attempts[2].Strategy)

			submissions := h.srv.Submissions()
			require.Len(t, submissions, 3)
			assert.Nil(t, submissions[0].StartDate)
			require.NotNil(t, submissions[1].StartDate)
			assert.NotEqual(t, submissions[0], submissions[1])
			assert.Equal(t, 10, submissions[1].Limit)
		})
	}
}

func TestRunAuthErrorEndsSession(t *testing.T) {
	h := newHarness(t, "wrong-key", Options{}, fastPolicy())

	out, err := h.controller.Run(context.Background(), Request{Request: planner.Request{Intent: "anything"}})
	require.Error(t, err)
	assert.True(t, catchall.IsAuthError(err))
	assert.Equal(t, models.SessionErrored, out.State)
	assert.Empty(t, out.Attempts)
}

func TestRunValidationErrorEndsSession(t *testing.T) {
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, fastPolicy())

	_, err := h.controller.Run(context.Background(), Request{Request: planner.Request{
		Intent: "funding",
		Config: &models.JobConfig{Enrichments: []models.Enrichment{{Name: "x", Description: "y", Type: "bogus"}}},
	}})
	assert.True(t, catchall.IsValidationError(err))
	assert.Equal(t, 0, h.srv.Calls("submit"))
}

func TestRunCancellation(t *testing.T) {
	policy := fastPolicy()
	policy.StallThreshold = time.Hour
	h := newHarness(t, catchalltest.DefaultAPIKey, Options{}, policy)
	h.srv.QueueScripts(catchalltest.JobScript{ValidRecords: 3, StallAt: models.JobStatusAnalyzing})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out, err := h.controller.Run(ctx, Request{Request: planner.Request{Intent: "slow query"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, models.SessionCancelled, out.State)
	require.Len(t, out.Attempts, 1)
	require.NotEmpty(t, out.Attempts[0].JobID)

	// Still queryable remotely after local cancellation
	list, err := catchall.NewClient(catchalltest.DefaultAPIKey, catchall.WithBaseURL(h.srv.BaseURL())).ListJobs(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, out.Attempts[0].JobID, list.Jobs[0].ID)

	saved, err := h.sessions.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, saved.State)
}

func TestSufficiencyEvaluator(t *testing.T) {
	e := SufficiencyEvaluator{}
	assert.Error(t, e.Evaluate(nil))
	assert.Error(t, e.Evaluate(&models.ResultSet{ValidRecords: 0}))
	assert.NoError(t, e.Evaluate(&models.ResultSet{ValidRecords: 1}))

	e.MinValidRecords = 10
	err := e.Evaluate(&models.ResultSet{ValidRecords: 9})
	var insufficient *InsufficientResultsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 10, insufficient.Required)
}

func TestRaisedLimit(t *testing.T) {
	next, ok := raisedLimit(10, 10, 15)
	assert.True(t, ok)
	assert.Equal(t, 20, next)

	next, ok = raisedLimit(10, 10, 50)
	assert.True(t, ok)
	assert.Equal(t, 50, next)

	_, ok = raisedLimit(10, 4, 15)
	assert.False(t, ok, "job was not capped")

	_, ok = raisedLimit(0, 40, 50)
	assert.False(t, ok, "unlimited job cannot be continued")
}
