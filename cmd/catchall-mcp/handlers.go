package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/handlers"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/monitor"
	"github.com/ternarybob/catchall/internal/orchestrator"
	"github.com/ternarybob/catchall/internal/planner"
	"github.com/ternarybob/catchall/internal/results"
)

// pager fetches every page of a job (poll.Loop)
type pager interface {
	PullAll(ctx context.Context, jobID string, agg *results.Aggregator) error
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf(format, args...)),
		},
		IsError: true,
	}
}

// decodeArgument re-decodes an object argument into out. It reports false
// when the argument is absent.
func decodeArgument(request mcp.CallToolRequest, name string, out interface{}) (bool, error) {
	raw, ok := request.GetArguments()[name]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s is malformed: %w", name, err)
	}
	return true, nil
}

// handleSubmitQuery implements the submit_query tool
func handleSubmitQuery(jobs interfaces.JobAPI, defaultLimit int, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var cfg models.JobConfig
		hasConfig, err := decodeArgument(request, "config", &cfg)
		if err != nil {
			return errorResult("Error: %v", err), nil
		}
		if !hasConfig {
			query, err := request.RequireString("query")
			if err != nil || query == "" {
				return errorResult("Error: query parameter is required"), nil
			}
			cfg = models.JobConfig{
				Query:   query,
				Context: request.GetString("context", ""),
				Limit:   request.GetInt("limit", defaultLimit),
			}
		}

		jobID, err := jobs.Submit(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Str("query", cfg.Query).Msg("Submit failed")
			return errorResult("Submit error: %v", err), nil
		}

		return textResult(fmt.Sprintf("Job submitted.\n\n**Job ID:** %s\n\nProcessing usually takes several minutes; check progress with get_job_status.", jobID)), nil
	}
}

// handleGetJobStatus implements the get_job_status tool
func handleGetJobStatus(jobs interfaces.JobAPI, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return errorResult("Error: job_id parameter is required"), nil
		}

		job, err := jobs.Status(ctx, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Status failed")
			return errorResult("Status error: %v", err), nil
		}
		return textResult(formatJobStatus(job)), nil
	}
}

// handlePullResults implements the pull_results tool
func handlePullResults(jobs interfaces.JobAPI, pages pager, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return errorResult("Error: job_id parameter is required"), nil
		}

		if request.GetBool("all_pages", false) {
			agg := results.NewAggregator()
			if err := pages.PullAll(ctx, jobID, agg); err != nil {
				logger.Error().Err(err).Str("job_id", jobID).Msg("Pull all failed")
				return errorResult("Pull error: %v", err), nil
			}
			return textResult(formatResultSet(agg.Snapshot())), nil
		}

		rs, err := jobs.Pull(ctx, jobID, request.GetInt("page", 1), request.GetInt("page_size", 100))
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Pull failed")
			return errorResult("Pull error: %v", err), nil
		}
		return textResult(formatResultSet(rs)), nil
	}
}

// handleContinueJob implements the continue_job tool
func handleContinueJob(jobs interfaces.JobAPI, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return errorResult("Error: job_id parameter is required"), nil
		}
		newLimit, err := request.RequireInt("new_limit")
		if err != nil {
			return errorResult("Error: new_limit parameter is required"), nil
		}

		submission, err := jobs.Continue(ctx, jobID, newLimit)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Int("new_limit", newLimit).Msg("Continue failed")
			return errorResult("Continue error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Job %s continued with limit %d (status: %s).", submission.JobID, newLimit, submission.Status)), nil
	}
}

// handleListUserJobs implements the list_user_jobs tool
func handleListUserJobs(jobs interfaces.JobAPI, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := jobs.ListJobs(ctx, request.GetInt("page", 1), request.GetInt("page_size", 20))
		if err != nil {
			logger.Error().Err(err).Msg("List jobs failed")
			return errorResult("List error: %v", err), nil
		}
		return textResult(formatJobList(list)), nil
	}
}

// handlePreviewQuery implements the preview_query tool
func handlePreviewQuery(previewer interfaces.Previewer, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return errorResult("Error: query parameter is required"), nil
		}

		preview, err := previewer.Initialize(ctx, query, request.GetString("context", ""))
		if err != nil {
			logger.Error().Err(err).Str("query", query).Msg("Preview failed")
			return errorResult("Preview error: %v", err), nil
		}
		return textResult(formatPreview(preview)), nil
	}
}

// handleDeepSearch implements the deep_search tool. Exhausted sessions are
// not tool errors: the best results found are still returned.
func handleDeepSearch(runner handlers.SessionRunner, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		intent, err := request.RequireString("intent")
		if err != nil || intent == "" {
			return errorResult("Error: intent parameter is required"), nil
		}

		outcome, err := runner.Run(ctx, orchestrator.Request{
			Request: planner.Request{
				Intent:  intent,
				Context: request.GetString("context", ""),
				Limit:   request.GetInt("limit", 0),
				Preset:  request.GetString("preset", ""),
			},
			MinValidRecords: request.GetInt("min_valid_records", 0),
			MaxIterations:   request.GetInt("max_iterations", 0),
		})
		if outcome == nil {
			logger.Error().Err(err).Str("intent", intent).Msg("Deep search failed")
			return errorResult("Deep search error: %v", err), nil
		}

		var exhausted *orchestrator.RetriesExhaustedError
		if err != nil && !errors.As(err, &exhausted) {
			logger.Warn().Err(err).Str("session_id", outcome.SessionID).Msg("Deep search ended with error")
			result := textResult(formatSession(outcome.Session(intent, err)))
			result.IsError = true
			return result, nil
		}
		return textResult(formatSession(outcome.Session(intent, err))), nil
	}
}

// handleGetSession implements the get_session tool
func handleGetSession(sessions interfaces.SessionStorage, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil || sessionID == "" {
			return errorResult("Error: session_id parameter is required"), nil
		}

		session, err := sessions.GetSession(ctx, sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("GetSession failed")
			return errorResult("Session not found: %v", err), nil
		}
		return textResult(formatSession(session)), nil
	}
}

// handleCreateMonitor implements the create_monitor tool
func handleCreateMonitor(monitors handlers.MonitorService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		referenceJobID, err := request.RequireString("reference_job_id")
		if err != nil || referenceJobID == "" {
			return errorResult("Error: reference_job_id parameter is required"), nil
		}
		schedule, err := request.RequireString("schedule")
		if err != nil || schedule == "" {
			return errorResult("Error: schedule parameter is required"), nil
		}

		req := monitor.CreateRequest{
			ReferenceJobID: referenceJobID,
			Schedule:       schedule,
			Timezone:       request.GetString("timezone", ""),
		}
		var hook models.Webhook
		hasWebhook, err := decodeArgument(request, "webhook", &hook)
		if err != nil {
			return errorResult("Error: %v", err), nil
		}
		if hasWebhook {
			req.Webhook = &hook
		}

		monitorID, err := monitors.Create(ctx, req)
		if err != nil {
			logger.Error().Err(err).Str("reference_job_id", referenceJobID).Msg("Create monitor failed")
			return errorResult("Create monitor error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Monitor created.\n\n**Monitor ID:** %s\n**Schedule:** %s", monitorID, schedule)), nil
	}
}

// handleListMonitors implements the list_monitors tool
func handleListMonitors(monitors handlers.MonitorService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := monitors.List(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("List monitors failed")
			return errorResult("List error: %v", err), nil
		}
		return textResult(formatMonitors(list)), nil
	}
}

// handlePullMonitorResults implements the pull_monitor_results tool
func handlePullMonitorResults(monitors handlers.MonitorService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		monitorID, err := request.RequireString("monitor_id")
		if err != nil || monitorID == "" {
			return errorResult("Error: monitor_id parameter is required"), nil
		}

		result, err := monitors.PullLatest(ctx, monitorID)
		if err != nil {
			logger.Error().Err(err).Str("monitor_id", monitorID).Msg("Pull monitor failed")
			return errorResult("Pull error: %v", err), nil
		}
		return textResult(formatMonitorResult(monitorID, result)), nil
	}
}

// handleListMonitorRuns implements the list_monitor_runs tool
func handleListMonitorRuns(monitors handlers.MonitorService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		monitorID, err := request.RequireString("monitor_id")
		if err != nil || monitorID == "" {
			return errorResult("Error: monitor_id parameter is required"), nil
		}

		runs, err := monitors.ListRuns(ctx, monitorID, models.ParseSortOrder(request.GetString("order", "")))
		if err != nil {
			logger.Error().Err(err).Str("monitor_id", monitorID).Msg("List runs failed")
			return errorResult("List error: %v", err), nil
		}
		return textResult(formatMonitorRuns(monitorID, runs)), nil
	}
}

// handleToggleMonitor implements enable_monitor and disable_monitor
func handleToggleMonitor(monitors handlers.MonitorService, enable bool, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		monitorID, err := request.RequireString("monitor_id")
		if err != nil || monitorID == "" {
			return errorResult("Error: monitor_id parameter is required"), nil
		}

		action := "disabled"
		if enable {
			action = "enabled"
			err = monitors.Enable(ctx, monitorID)
		} else {
			err = monitors.Disable(ctx, monitorID)
		}
		if err != nil {
			logger.Error().Err(err).Str("monitor_id", monitorID).Bool("enable", enable).Msg("Toggle monitor failed")
			return errorResult("Monitor error: %v", err), nil
		}
		return textResult(fmt.Sprintf("Monitor %s %s.", monitorID, action)), nil
	}
}

// handleUpdateMonitor implements the update_monitor tool
func handleUpdateMonitor(monitors handlers.MonitorService, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		monitorID, err := request.RequireString("monitor_id")
		if err != nil || monitorID == "" {
			return errorResult("Error: monitor_id parameter is required"), nil
		}
		var hook models.Webhook
		hasWebhook, err := decodeArgument(request, "webhook", &hook)
		if err != nil {
			return errorResult("Error: %v", err), nil
		}
		if !hasWebhook {
			return errorResult("Error: webhook parameter is required"), nil
		}

		updated, err := monitors.Update(ctx, monitorID, &hook)
		if err != nil {
			logger.Error().Err(err).Str("monitor_id", monitorID).Msg("Update monitor failed")
			return errorResult("Update error: %v", err), nil
		}
		return textResult(formatMonitors([]models.Monitor{*updated})), nil
	}
}
