package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/catchall/internal/models"
)

// maxRecordsShown keeps tool output within a reasonable context size
const maxRecordsShown = 25

func formatTime(t *models.FlexTime) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDateRange(r models.DateRange) string {
	if r.IsZero() {
		return "open"
	}
	return fmt.Sprintf("%s to %s", formatTime(r.Start), formatTime(r.End))
}

// formatJobStatus formats a job status report as markdown
func formatJobStatus(job *models.Job) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s\n\n", job.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	sb.WriteString(fmt.Sprintf("**Steps completed:** %d of %d\n", job.CompletedSteps(), len(job.Steps)))
	if step := job.CurrentStep(); step != nil && !job.Status.IsTerminal() {
		sb.WriteString(fmt.Sprintf("**Current step:** %s\n", step.Name))
	}
	if job.Status == models.JobStatusCompleted {
		sb.WriteString("\nThe job is complete; use pull_results to fetch its records.\n")
	}
	return sb.String()
}

// formatResultSet formats a result set as markdown, showing at most
// maxRecordsShown records
func formatResultSet(rs *models.ResultSet) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Results for job %s\n\n", rs.JobID))
	if rs.Query != "" {
		sb.WriteString(fmt.Sprintf("**Query:** %s\n", rs.Query))
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", rs.Status))
	sb.WriteString(fmt.Sprintf("**Valid records:** %d (candidates: %d)\n", rs.ValidRecords, rs.CandidateRecords))
	if rs.TotalPages > 0 {
		sb.WriteString(fmt.Sprintf("**Page:** %d of %d\n", rs.Page, rs.TotalPages))
	}
	sb.WriteString(fmt.Sprintf("**Window:** %s\n\n", formatDateRange(rs.DateRange)))

	if len(rs.Records) == 0 {
		sb.WriteString("No records found.\n")
		return sb.String()
	}

	for i, record := range rs.Records {
		if i == maxRecordsShown {
			sb.WriteString(fmt.Sprintf("_%d more records not shown._\n", len(rs.Records)-maxRecordsShown))
			break
		}
		sb.WriteString(formatRecord(i+1, record))
	}
	return sb.String()
}

func formatRecord(n int, record models.Record) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### %d. %s\n", n, record.Title))
	sb.WriteString(fmt.Sprintf("**ID:** %s\n", record.ID))
	if record.Enrichment.Confidence != "" {
		sb.WriteString(fmt.Sprintf("**Confidence:** %s\n", record.Enrichment.Confidence))
	}
	for _, name := range record.Enrichment.Names() {
		value, _ := record.Enrichment.Get(name)
		sb.WriteString(fmt.Sprintf("- %s: %v\n", name, value))
	}
	for _, c := range record.Citations {
		sb.WriteString(fmt.Sprintf("- Source: [%s](%s) %s\n", c.Title, c.Link, formatTime(c.PublishedDate)))
	}
	sb.WriteString("\n")
	return sb.String()
}

// formatJobList formats a page of the caller's jobs
func formatJobList(list *models.JobList) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Jobs (page %d of %d)\n\n", list.Page, list.TotalPages))
	if len(list.Jobs) == 0 {
		sb.WriteString("No jobs found.\n")
		return sb.String()
	}
	for i, job := range list.Jobs {
		sb.WriteString(fmt.Sprintf("%d. **%s** %s (%s)\n", i+1, job.ID, job.Query, job.Status))
		sb.WriteString(fmt.Sprintf("   Created: %s\n", formatTime(&job.CreatedAt)))
	}
	return sb.String()
}

// formatPreview formats the suggested validators and enrichments for a query
func formatPreview(p *models.Preview) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Suggested configuration for \"%s\"\n\n", p.Query))
	sb.WriteString(fmt.Sprintf("**Window:** %s\n\n", formatDateRange(models.DateRange{Start: p.StartDate, End: p.EndDate})))

	sb.WriteString("### Validators\n")
	for _, v := range p.Validators {
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", v.Name, v.Description))
	}
	sb.WriteString("\n### Enrichments\n")
	for _, e := range p.Enrichments {
		sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", e.Name, e.Type, e.Description))
	}
	return sb.String()
}

// formatSession formats a deep search session with its attempts and results
func formatSession(s *models.Session) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Deep search %s\n\n", s.ID))
	sb.WriteString(fmt.Sprintf("**Intent:** %s\n", s.Intent))
	sb.WriteString(fmt.Sprintf("**State:** %s\n", s.State))
	if s.WinningJobID != "" {
		sb.WriteString(fmt.Sprintf("**Winning job:** %s\n", s.WinningJobID))
	}
	if s.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", s.Error))
	}

	sb.WriteString("\n## Attempts\n\n")
	for _, a := range s.Attempts {
		sb.WriteString(fmt.Sprintf("%d. `%s` job %s: %d valid records, %s", a.Iteration, a.Config.Query, a.JobID, a.ValidRecords, a.Outcome))
		if a.Strategy != "" {
			sb.WriteString(fmt.Sprintf(" (strategy: %s)", a.Strategy))
		}
		sb.WriteString("\n")
	}

	if s.WinningConfig != nil {
		configJSON, _ := json.MarshalIndent(s.WinningConfig, "", "  ")
		sb.WriteString("\n## Winning configuration\n\n```json\n")
		sb.WriteString(string(configJSON))
		sb.WriteString("\n```\n")
	}

	if s.Results != nil {
		sb.WriteString("\n")
		sb.WriteString(formatResultSet(s.Results))
	}
	return sb.String()
}

// formatMonitors formats the monitor list
func formatMonitors(monitors []models.Monitor) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Monitors (%d)\n\n", len(monitors)))
	if len(monitors) == 0 {
		sb.WriteString("No monitors found.\n")
		return sb.String()
	}
	for i, m := range monitors {
		state := "enabled"
		if !m.Enabled {
			state = "disabled"
		}
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s) reference job %s\n", i+1, m.ID, state, m.ReferenceJobID))
		sb.WriteString(fmt.Sprintf("   Schedule: %s", m.Schedule.Text))
		if m.Schedule.Cron != "" {
			sb.WriteString(fmt.Sprintf(" [`%s` %s]", m.Schedule.Cron, m.Schedule.Timezone))
		}
		sb.WriteString("\n")
		if m.Webhook != nil {
			sb.WriteString(fmt.Sprintf("   Webhook: %s %s\n", m.Webhook.HTTPMethod(), m.Webhook.URL))
		}
	}
	return sb.String()
}

func formatRun(run models.MonitorRun) string {
	line := fmt.Sprintf("job %s %s, %d valid records, window %s", run.JobID, run.Status, run.ValidRecords, formatDateRange(run.DateRange))
	if run.StartedAt != nil {
		line += ", started " + formatTime(run.StartedAt)
	}
	if run.Delivery != nil {
		if run.Delivery.Delivered {
			line += fmt.Sprintf(", delivered (%d)", run.Delivery.StatusCode)
		} else {
			line += ", delivery failed: " + run.Delivery.Error
		}
	}
	if run.Error != "" {
		line += ", error: " + run.Error
	}
	return line
}

// formatMonitorRuns formats a monitor's run history
func formatMonitorRuns(monitorID string, runs []models.MonitorRun) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Runs of monitor %s (%d)\n\n", monitorID, len(runs)))
	if len(runs) == 0 {
		sb.WriteString("No runs yet.\n")
		return sb.String()
	}
	for i, run := range runs {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, formatRun(run)))
	}
	return sb.String()
}

// formatMonitorResult formats the latest run of a monitor with its records
func formatMonitorResult(monitorID string, result *models.MonitorResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Latest run of monitor %s\n\n", monitorID))
	sb.WriteString(formatRun(result.Run))
	sb.WriteString("\n\n")
	if result.Results != nil {
		sb.WriteString(formatResultSet(result.Results))
	}
	return sb.String()
}
