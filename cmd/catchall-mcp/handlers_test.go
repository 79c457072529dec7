package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/app"
	"github.com/ternarybob/catchall/internal/catchall/catchalltest"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/models"
)

func newTestApp(t *testing.T) (*app.App, *catchalltest.Server) {
	t.Helper()
	srv := catchalltest.NewServer()
	t.Cleanup(srv.Close)
	t.Setenv("CATCHALL_API_KEY", catchalltest.DefaultAPIKey)

	cfg := common.NewDefaultConfig()
	cfg.CatchAll.BaseURL = srv.BaseURL()
	cfg.CatchAll.RateLimit = 0
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	cfg.Poll.InitialDelay = "1ms"
	cfg.Poll.Interval = "1ms"
	cfg.Poll.TransientBackoff = "1ms"

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })
	return application, srv
}

func callTool(t *testing.T, handler server.ToolHandlerFunc, args map[string]interface{}) (string, bool) {
	t.Helper()
	result, err := handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	})
	require.NoError(t, err, "tool handlers report failures in the result")
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestJobTools(t *testing.T) {
	application, srv := newTestApp(t)
	logger := application.Logger
	srv.QueueScripts(catchalltest.JobScript{ValidRecords: 3, CandidateRecords: 20})

	text, isErr := callTool(t, handleSubmitQuery(application.Client, 10, logger), map[string]interface{}{
		"query": "Series A funding rounds",
	})
	require.False(t, isErr, text)
	require.Len(t, srv.Submissions(), 1)
	assert.Equal(t, 10, srv.Submissions()[0].Limit, "default limit applies")

	list, err := application.Client.ListJobs(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)
	jobID := list.Jobs[0].ID
	assert.Contains(t, text, jobID)

	text, isErr = callTool(t, handleGetJobStatus(application.Client, logger), map[string]interface{}{"job_id": jobID})
	require.False(t, isErr, text)
	assert.Contains(t, text, "## Job "+jobID)

	srv.CompleteJob(jobID)
	text, isErr = callTool(t, handlePullResults(application.Client, application.PollLoop, logger), map[string]interface{}{
		"job_id":    jobID,
		"all_pages": true,
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "**Valid records:** 3")

	text, isErr = callTool(t, handleListUserJobs(application.Client, logger), nil)
	require.False(t, isErr, text)
	assert.Contains(t, text, "Series A funding rounds")

	text, isErr = callTool(t, handlePreviewQuery(application.Client, logger), map[string]interface{}{"query": "Series A funding rounds"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "### Validators")
}

func TestSubmitQueryWithExplicitConfig(t *testing.T) {
	application, srv := newTestApp(t)

	text, isErr := callTool(t, handleSubmitQuery(application.Client, 10, application.Logger), map[string]interface{}{
		"config": map[string]interface{}{
			"query": "data center construction",
			"limit": 25,
			"enrichments": []interface{}{
				map[string]interface{}{"name": "location", "description": "Where", "type": "text"},
			},
		},
	})
	require.False(t, isErr, text)
	require.Len(t, srv.Submissions(), 1)
	assert.Equal(t, 25, srv.Submissions()[0].Limit)
	assert.Equal(t, "location", srv.Submissions()[0].Enrichments[0].Name)
}

func TestToolArgumentErrors(t *testing.T) {
	application, _ := newTestApp(t)
	logger := application.Logger

	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]interface{}
		want    string
	}{
		{"submit without query", handleSubmitQuery(application.Client, 10, logger), nil, "query parameter is required"},
		{"status without id", handleGetJobStatus(application.Client, logger), nil, "job_id parameter is required"},
		{"continue without limit", handleContinueJob(application.Client, logger), map[string]interface{}{"job_id": "j"}, "new_limit"},
		{"session without id", handleGetSession(application.StorageManager.SessionStorage(), logger), nil, "session_id"},
		{"update without webhook", handleUpdateMonitor(application.Monitors, logger), map[string]interface{}{"monitor_id": "m"}, "webhook parameter is required"},
		{"malformed webhook", handleCreateMonitor(application.Monitors, logger), map[string]interface{}{
			"reference_job_id": "j", "schedule": "daily at 9am", "webhook": "not an object",
		}, "webhook is malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, tt.handler, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestUpstreamErrorsAreToolErrors(t *testing.T) {
	application, _ := newTestApp(t)

	text, isErr := callTool(t, handleContinueJob(application.Client, application.Logger), map[string]interface{}{
		"job_id":    "missing-job",
		"new_limit": 50,
	})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Continue error:"), text)
}

func TestDeepSearchAndSession(t *testing.T) {
	application, srv := newTestApp(t)
	srv.QueueScripts(
		catchalltest.JobScript{ValidRecords: 0, CandidateRecords: 10},
		catchalltest.JobScript{ValidRecords: 4, CandidateRecords: 30},
	)

	text, isErr := callTool(t, handleDeepSearch(application.Controller, application.Logger), map[string]interface{}{
		"intent":         "semiconductor export restrictions",
		"max_iterations": 3,
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "**State:** succeeded")
	assert.Len(t, srv.Submissions(), 2, "the empty first attempt is retried")

	sessions, err := application.StorageManager.SessionStorage().ListSessions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	text, isErr = callTool(t, handleGetSession(application.StorageManager.SessionStorage(), application.Logger), map[string]interface{}{
		"session_id": sessions[0].ID,
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "semiconductor export restrictions")
	assert.Contains(t, text, "## Winning configuration")
}

func TestDeepSearchExhaustedReturnsBestResults(t *testing.T) {
	application, srv := newTestApp(t)
	srv.DefaultScript = catchalltest.JobScript{ValidRecords: 0, CandidateRecords: 5}

	text, isErr := callTool(t, handleDeepSearch(application.Controller, application.Logger), map[string]interface{}{
		"intent":         "something that never happened",
		"max_iterations": 2,
	})
	assert.False(t, isErr, "exhaustion still yields a report")
	assert.Contains(t, text, "**State:** exhausted")
	assert.Len(t, srv.Submissions(), 2)
}

func TestMonitorTools(t *testing.T) {
	application, srv := newTestApp(t)
	logger := application.Logger
	ctx := context.Background()

	jobID, err := application.Client.Submit(ctx, models.JobConfig{Query: "chip plant announcements", Limit: 10})
	require.NoError(t, err)
	srv.CompleteJob(jobID)

	text, isErr := callTool(t, handleCreateMonitor(application.Monitors, logger), map[string]interface{}{
		"reference_job_id": jobID,
		"schedule":         "every day at 9am",
		"timezone":         "UTC",
		"webhook":          map[string]interface{}{"url": "https://hooks.example.com/catchall"},
	})
	require.False(t, isErr, text)

	monitors, err := application.Monitors.List(ctx)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	monitorID := monitors[0].ID

	text, isErr = callTool(t, handleListMonitors(application.Monitors, logger), nil)
	require.False(t, isErr, text)
	assert.Contains(t, text, monitorID)
	assert.Contains(t, text, "https://hooks.example.com/catchall")

	text, isErr = callTool(t, handleToggleMonitor(application.Monitors, false, logger), map[string]interface{}{"monitor_id": monitorID})
	require.False(t, isErr, text)
	assert.Contains(t, text, "disabled")

	_, err = srv.TriggerRun(monitorID, 2)
	require.NoError(t, err)

	text, isErr = callTool(t, handleListMonitorRuns(application.Monitors, logger), map[string]interface{}{"monitor_id": monitorID, "order": "asc"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "(1)")

	text, isErr = callTool(t, handlePullMonitorResults(application.Monitors, logger), map[string]interface{}{"monitor_id": monitorID})
	require.False(t, isErr, text)
	assert.Contains(t, text, "**Valid records:** 2")

	text, isErr = callTool(t, handleUpdateMonitor(application.Monitors, logger), map[string]interface{}{
		"monitor_id": monitorID,
		"webhook":    map[string]interface{}{"url": "https://hooks.example.com/v2", "method": "PUT"},
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "PUT https://hooks.example.com/v2")
}
