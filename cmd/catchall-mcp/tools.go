package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createSubmitQueryTool returns the submit_query tool definition
func createSubmitQueryTool() mcp.Tool {
	return mcp.NewTool("submit_query",
		mcp.WithDescription("Submit a CatchAll job that finds and validates news events matching a query. Returns the job id; processing takes several minutes."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language description of the events to find"),
		),
		mcp.WithString("context",
			mcp.Description("Additional context that guides validation"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum records to return (default from configuration)"),
		),
		mcp.WithObject("config",
			mcp.Description("Explicit job configuration (query, context, limit, start_date, end_date, validators, enrichments); overrides the other arguments"),
		),
	)
}

// createGetJobStatusTool returns the get_job_status tool definition
func createGetJobStatusTool() mcp.Tool {
	return mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the processing stage and step progress of a job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by submit_query"),
		),
	)
}

// createPullResultsTool returns the pull_results tool definition
func createPullResultsTool() mcp.Tool {
	return mcp.NewTool("pull_results",
		mcp.WithDescription("Fetch the records of a job. Partial results are available before completion."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number starting at 1 (default: 1)"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Records per page (default: 100, max: 100)"),
		),
		mcp.WithBoolean("all_pages",
			mcp.Description("Fetch and merge every page (default: false)"),
		),
	)
}

// createContinueJobTool returns the continue_job tool definition
func createContinueJobTool() mcp.Tool {
	return mcp.NewTool("continue_job",
		mcp.WithDescription("Raise the record limit of a job so it returns more results"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id"),
		),
		mcp.WithNumber("new_limit",
			mcp.Required(),
			mcp.Description("New limit; must exceed the current one"),
		),
	)
}

// createListUserJobsTool returns the list_user_jobs tool definition
func createListUserJobsTool() mcp.Tool {
	return mcp.NewTool("list_user_jobs",
		mcp.WithDescription("List jobs submitted with this API key, newest first"),
		mcp.WithNumber("page",
			mcp.Description("Page number (default: 1)"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Jobs per page (default: 20)"),
		),
	)
}

// createPreviewQueryTool returns the preview_query tool definition
func createPreviewQueryTool() mcp.Tool {
	return mcp.NewTool("preview_query",
		mcp.WithDescription("Suggest validators, enrichments and a date window for a query without creating a job"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language query"),
		),
		mcp.WithString("context",
			mcp.Description("Additional context"),
		),
	)
}

// createDeepSearchTool returns the deep_search tool definition
func createDeepSearchTool() mcp.Tool {
	return mcp.NewTool("deep_search",
		mcp.WithDescription("Run a deep search: submit, wait for completion and reformulate the query until enough valid records are found or the attempt budget is spent. Blocks until finished."),
		mcp.WithString("intent",
			mcp.Required(),
			mcp.Description("What to find, in natural language"),
		),
		mcp.WithString("context",
			mcp.Description("Additional context"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Record limit of the first job"),
		),
		mcp.WithNumber("min_valid_records",
			mcp.Description("Valid records required for success (default from configuration)"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Maximum searches (default from configuration)"),
		),
		mcp.WithString("preset",
			mcp.Description("Named preset of validators and enrichments"),
		),
	)
}

// createGetSessionTool returns the get_session tool definition
func createGetSessionTool() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription("Retrieve a saved deep search session with its attempts and results"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session id (format: ses_{uuid})"),
		),
	)
}

// createCreateMonitorTool returns the create_monitor tool definition
func createCreateMonitorTool() mcp.Tool {
	return mcp.NewTool("create_monitor",
		mcp.WithDescription("Create a recurring monitor that re-runs a completed job on a schedule"),
		mcp.WithString("reference_job_id",
			mcp.Required(),
			mcp.Description("Completed job whose configuration is repeated"),
		),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("Schedule in plain text, e.g. \"every day at 12 PM UTC\""),
		),
		mcp.WithString("timezone",
			mcp.Description("Timezone when the schedule names none (default: UTC)"),
		),
		mcp.WithObject("webhook",
			mcp.Description("Webhook receiving each run: url, method (POST or PUT), headers, params, auth {username, password}"),
		),
	)
}

// createListMonitorsTool returns the list_monitors tool definition
func createListMonitorsTool() mcp.Tool {
	return mcp.NewTool("list_monitors",
		mcp.WithDescription("List monitors with their schedules and webhooks"),
	)
}

// createPullMonitorResultsTool returns the pull_monitor_results tool definition
func createPullMonitorResultsTool() mcp.Tool {
	return mcp.NewTool("pull_monitor_results",
		mcp.WithDescription("Fetch the records of a monitor's latest run"),
		mcp.WithString("monitor_id",
			mcp.Required(),
			mcp.Description("Monitor id"),
		),
	)
}

// createListMonitorRunsTool returns the list_monitor_runs tool definition
func createListMonitorRunsTool() mcp.Tool {
	return mcp.NewTool("list_monitor_runs",
		mcp.WithDescription("List the runs of a monitor"),
		mcp.WithString("monitor_id",
			mcp.Required(),
			mcp.Description("Monitor id"),
		),
		mcp.WithString("order",
			mcp.Description("Sort by start time: asc or desc (default: desc)"),
			mcp.Enum("asc", "desc"),
		),
	)
}

// createEnableMonitorTool returns the enable_monitor tool definition
func createEnableMonitorTool() mcp.Tool {
	return mcp.NewTool("enable_monitor",
		mcp.WithDescription("Resume a monitor's scheduled runs"),
		mcp.WithString("monitor_id",
			mcp.Required(),
			mcp.Description("Monitor id"),
		),
	)
}

// createDisableMonitorTool returns the disable_monitor tool definition
func createDisableMonitorTool() mcp.Tool {
	return mcp.NewTool("disable_monitor",
		mcp.WithDescription("Pause a monitor's scheduled runs"),
		mcp.WithString("monitor_id",
			mcp.Required(),
			mcp.Description("Monitor id"),
		),
	)
}

// createUpdateMonitorTool returns the update_monitor tool definition
func createUpdateMonitorTool() mcp.Tool {
	return mcp.NewTool("update_monitor",
		mcp.WithDescription("Replace the webhook of a monitor"),
		mcp.WithString("monitor_id",
			mcp.Required(),
			mcp.Description("Monitor id"),
		),
		mcp.WithObject("webhook",
			mcp.Required(),
			mcp.Description("New webhook: url, method (POST or PUT), headers, params, auth {username, password}"),
		),
	)
}
