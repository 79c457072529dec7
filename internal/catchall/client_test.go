package catchall_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/catchall/catchalltest"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
)

func newTestClient(t *testing.T) (*catchall.Client, *catchalltest.Server) {
	t.Helper()
	srv := catchalltest.NewServer()
	t.Cleanup(srv.Close)
	client := catchall.NewClient(catchalltest.DefaultAPIKey,
		catchall.WithBaseURL(srv.BaseURL()),
		catchall.WithRateLimit(0),
	)
	return client, srv
}

func TestSubmitAndStatusProgression(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, models.JobConfig{Query: "chip plant announcements", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	var last models.JobStatus
	for i := 0; i < len(models.AllJobStages()); i++ {
		job, err := client.Status(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, jobID, job.ID)
		assert.False(t, job.Status.Before(last), "status moved backwards: %s -> %s", last, job.Status)
		last = job.Status
		if job.Status == models.JobStatusCompleted {
			break
		}
	}
	assert.Equal(t, models.JobStatusCompleted, last)
	assert.Equal(t, 1, srv.Calls("submit"))
}

func TestSubmitRejectsInvalidConfigLocally(t *testing.T) {
	client, srv := newTestClient(t)

	_, err := client.Submit(context.Background(), models.JobConfig{
		Query: "funding rounds",
		Enrichments: []models.Enrichment{
			{Name: "amount", Description: "round size", Type: models.EnrichmentTypeNumber},
			{Name: "lead", Description: "lead investor", Type: "person"},
		},
	})
	require.Error(t, err)

	var verr *catchall.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, []string{"body", "enrichments", "1", "type"}, verr.Fields[0].Loc)
	assert.Equal(t, 0, srv.Calls("submit"), "invalid config must not reach the network")
}

func TestWrongKeyIsAuthError(t *testing.T) {
	srv := catchalltest.NewServer()
	defer srv.Close()

	client := catchall.NewClient("wrong", catchall.WithBaseURL(srv.BaseURL()), catchall.WithRateLimit(0))
	_, err := client.Status(context.Background(), "any")
	require.Error(t, err)
	assert.True(t, catchall.IsAuthError(err))
	assert.False(t, catchall.IsTransient(err))
}

func TestEmptyKeyFailsWithoutNetwork(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer ts.Close()

	client := catchall.NewClient("", catchall.WithBaseURL(ts.URL))
	_, err := client.ListJobs(context.Background(), 1, 10)
	require.Error(t, err)
	assert.True(t, catchall.IsAuthError(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestPullPagination(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	srv.QueueScripts(catchalltest.JobScript{ValidRecords: 7, CandidateRecords: 30})

	jobID, err := client.Submit(ctx, models.JobConfig{Query: "port strikes"})
	require.NoError(t, err)
	srv.CompleteJob(jobID)

	first, err := client.Pull(ctx, jobID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, first.ValidRecords)
	assert.Equal(t, 3, first.TotalPages)
	assert.Len(t, first.Records, 3)
	assert.True(t, first.HasMorePages())

	last, err := client.Pull(ctx, jobID, 3, 3)
	require.NoError(t, err)
	assert.Len(t, last.Records, 1)
	assert.False(t, last.HasMorePages())
}

func TestPullPageSizeCap(t *testing.T) {
	client, srv := newTestClient(t)

	_, err := client.Pull(context.Background(), "job-1", 1, 101)
	require.Error(t, err)
	assert.True(t, catchall.IsValidationError(err))
	assert.Equal(t, 0, srv.Calls("pull"))
}

func TestContinue(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	srv.QueueScripts(catchalltest.JobScript{ValidRecords: 30})

	jobID, err := client.Submit(ctx, models.JobConfig{Query: "layoffs", Limit: 10})
	require.NoError(t, err)
	srv.CompleteJob(jobID)

	t.Run("new limit must exceed current", func(t *testing.T) {
		_, err := client.Continue(ctx, jobID, 10)
		require.Error(t, err)
		var verr *catchall.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, []string{"body", "new_limit"}, verr.Fields[0].Loc)
		assert.Equal(t, 10, srv.JobLimit(jobID), "rejected continue must not change the job")
	})

	t.Run("raises the limit", func(t *testing.T) {
		ack, err := client.Continue(ctx, jobID, 25)
		require.NoError(t, err)
		assert.Equal(t, 25, ack.Limit)

		rs, err := client.Pull(ctx, jobID, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 25, rs.ValidRecords)
	})
}

func TestInitializePreview(t *testing.T) {
	client, _ := newTestClient(t)

	preview, err := client.Initialize(context.Background(), "semiconductor fabs", "US only")
	require.NoError(t, err)
	assert.Equal(t, "semiconductor fabs", preview.Query)
	assert.NotEmpty(t, preview.Validators)
	assert.NotEmpty(t, preview.Enrichments)
	require.NotNil(t, preview.StartDate)
	require.NotNil(t, preview.EndDate)
	assert.True(t, preview.StartDate.Before(preview.EndDate.Time))
}

func TestListJobs(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, err := client.Submit(ctx, models.JobConfig{Query: q})
		require.NoError(t, err)
	}

	list, err := client.ListJobs(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, list.Jobs, 2)
	assert.Equal(t, 2, list.TotalPages)
	assert.Equal(t, "c", list.Jobs[0].Query)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		check     func(t *testing.T, err error)
	}{
		{
			name:   "validation detail",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":[{"loc":["body","limit"],"msg":"must be positive","type":"value_error"}]}`,
			check: func(t *testing.T, err error) {
				var verr *catchall.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, []string{"body", "limit"}, verr.Fields[0].Loc)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"detail":"Not authenticated"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, catchall.IsAuthError(err))
				assert.Contains(t, err.Error(), "Not authenticated")
			},
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			transient: true,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			transient: true,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"detail":"Job not found"}`,
			check: func(t *testing.T, err error) {
				var apiErr *catchall.APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, "Job not found", apiErr.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client := catchall.NewClient("k", catchall.WithBaseURL(ts.URL), catchall.WithRateLimit(0))
			_, err := client.Status(context.Background(), "job-1")
			require.Error(t, err)
			assert.Equal(t, tt.transient, catchall.IsTransient(err))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestTimeoutAppliesToCustomHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	custom := &http.Client{}
	client := catchall.NewClient(catchalltest.DefaultAPIKey,
		catchall.WithTimeout(20*time.Millisecond),
		catchall.WithHTTPClient(custom),
		catchall.WithBaseURL(srv.URL),
		catchall.WithRateLimit(0),
	)

	start := time.Now()
	_, err := client.ListJobs(context.Background(), 1, 10)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, custom.Timeout, "caller's client is left untouched")
}

func TestCancelledContextIsNotTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := catchall.NewClient("k", catchall.WithBaseURL(ts.URL), catchall.WithRateLimit(0))
	_, err := client.Status(ctx, "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, catchall.IsTransient(err))
}

func TestMonitorLifecycle(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, models.JobConfig{Query: "data center permits", Limit: 10})
	require.NoError(t, err)
	srv.CompleteJob(jobID)

	monitorID, err := client.CreateMonitor(ctx, interfaces.CreateMonitorRequest{
		ReferenceJobID: jobID,
		Schedule:       models.Schedule{Text: "every day at 9am", Cron: "0 9 * * *", Timezone: "America/New_York"},
		Webhook:        &models.Webhook{URL: "https://hooks.example.com/catchall", Method: "POST"},
	})
	require.NoError(t, err)

	monitors, err := client.ListMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "0 9 * * *", monitors[0].Cron)

	_, err = srv.TriggerRun(monitorID, 3)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	latestJob, err := srv.TriggerRun(monitorID, 4)
	require.NoError(t, err)

	result, err := client.PullMonitor(ctx, monitorID)
	require.NoError(t, err)
	assert.Equal(t, latestJob, result.Results.JobID)
	assert.Equal(t, 4, result.Results.ValidRecords)
	assert.Equal(t, models.JobStatusCompleted, result.Results.Status)

	runs, err := client.ListMonitorRuns(ctx, monitorID, models.SortAsc)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, latestJob, runs[1].JobID)

	require.NoError(t, client.DisableMonitor(ctx, monitorID))
	m, _ := srv.Monitor(monitorID)
	assert.False(t, m.Enabled)
	require.NoError(t, client.EnableMonitor(ctx, monitorID))
	m, _ = srv.Monitor(monitorID)
	assert.True(t, m.Enabled)

	updated, err := client.UpdateMonitor(ctx, monitorID, &models.Webhook{URL: "https://hooks.example.com/v2"})
	require.NoError(t, err)
	require.NotNil(t, updated.Webhook)
	assert.Equal(t, "https://hooks.example.com/v2", updated.Webhook.URL)

	_, err = client.UpdateMonitor(ctx, monitorID, &models.Webhook{URL: "not a url"})
	assert.True(t, catchall.IsValidationError(err))
}

func TestCreateMonitorRequiresCompletedReference(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	jobID, err := client.Submit(ctx, models.JobConfig{Query: "recalls"})
	require.NoError(t, err)

	_, err = client.CreateMonitor(ctx, interfaces.CreateMonitorRequest{
		ReferenceJobID: jobID,
		Schedule:       models.Schedule{Text: "hourly", Cron: "0 * * * *", Timezone: "UTC"},
	})
	require.Error(t, err)
	assert.True(t, catchall.IsValidationError(err))
}
