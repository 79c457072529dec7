package catchall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
)

// CreateMonitor registers a recurring re-run of a completed job
func (c *Client) CreateMonitor(ctx context.Context, req interfaces.CreateMonitorRequest) (string, error) {
	if req.ReferenceJobID == "" {
		return "", NewValidationError("field required", "body", "reference_job_id")
	}
	if req.Webhook != nil {
		if fields := req.Webhook.Validate(); len(fields) > 0 {
			return "", &ValidationError{Endpoint: "/monitors/create", Fields: fields}
		}
	}

	body := struct {
		ReferenceJobID string          `json:"reference_job_id"`
		Schedule       string          `json:"schedule"`
		Timezone       string          `json:"timezone,omitempty"`
		Cron           string          `json:"cron_expression,omitempty"`
		Webhook        *models.Webhook `json:"webhook,omitempty"`
	}{
		ReferenceJobID: req.ReferenceJobID,
		Schedule:       req.Schedule.Text,
		Timezone:       req.Schedule.Timezone,
		Cron:           req.Schedule.Cron,
		Webhook:        req.Webhook,
	}

	var result struct {
		MonitorID string `json:"monitor_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/monitors/create", nil, body, &result); err != nil {
		return "", err
	}
	if result.MonitorID == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "response missing monitor_id", Endpoint: "/monitors/create"}
	}
	return result.MonitorID, nil
}

// ListMonitors returns every monitor owned by the caller
func (c *Client) ListMonitors(ctx context.Context) ([]models.Monitor, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/monitors/", nil, nil, &raw); err != nil {
		return nil, err
	}
	var monitors []models.Monitor
	if err := decodeList(raw, &monitors, "monitors", "data", "items"); err != nil {
		return nil, err
	}
	return monitors, nil
}

// monitorPullResponse is the loose shape of the monitor pull endpoint
type monitorPullResponse struct {
	MonitorID        string            `json:"monitor_id"`
	JobID            string            `json:"job_id"`
	Query            string            `json:"query"`
	Status           string            `json:"status"`
	RunInfo          json.RawMessage   `json:"run_info"`
	Records          json.RawMessage   `json:"records"`
	AllRecords       []models.Record   `json:"all_records"`
	CandidateRecords int               `json:"candidate_records"`
	ValidRecords     *int              `json:"valid_records"`
	DateRange        *models.DateRange `json:"date_range"`
}

// PullMonitor returns the latest run of a monitor and its records
func (c *Client) PullMonitor(ctx context.Context, monitorID string) (*models.MonitorResult, error) {
	if monitorID == "" {
		return nil, NewValidationError("field required", "path", "monitor_id")
	}

	var raw monitorPullResponse
	if err := c.do(ctx, http.MethodGet, "/monitors/pull/"+url.PathEscape(monitorID), nil, nil, &raw); err != nil {
		return nil, err
	}
	return normalizeMonitorPull(monitorID, raw)
}

// normalizeMonitorPull maps the monitor payload onto the job ResultSet shape:
// the job id falls back to the run's job then the monitor id, valid_records
// defaults to the record count and status defaults to completed.
func normalizeMonitorPull(monitorID string, raw monitorPullResponse) (*models.MonitorResult, error) {
	var run models.MonitorRun
	if len(raw.RunInfo) > 0 && !bytes.Equal(bytes.TrimSpace(raw.RunInfo), []byte("null")) {
		if err := json.Unmarshal(raw.RunInfo, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run_info: %w", err)
		}
	}
	run.MonitorID = monitorID

	records := raw.AllRecords
	recordCount := -1
	trimmed := bytes.TrimSpace(raw.Records)
	if len(trimmed) > 0 {
		switch trimmed[0] {
		case '[':
			if len(records) == 0 {
				if err := json.Unmarshal(trimmed, &records); err != nil {
					return nil, fmt.Errorf("failed to decode records: %w", err)
				}
			}
		default:
			var n int
			if json.Unmarshal(trimmed, &n) == nil {
				recordCount = n
			}
		}
	}

	rs := &models.ResultSet{
		JobID:            raw.JobID,
		Query:            raw.Query,
		Status:           models.ParseJobStatus(raw.Status),
		CandidateRecords: raw.CandidateRecords,
		Records:          records,
		Page:             1,
		PageSize:         len(records),
		TotalPages:       1,
	}
	if rs.JobID == "" {
		rs.JobID = run.JobID
	}
	if rs.JobID == "" {
		rs.JobID = monitorID
	}
	if run.JobID == "" {
		run.JobID = rs.JobID
	}

	switch {
	case raw.ValidRecords != nil:
		rs.ValidRecords = *raw.ValidRecords
	case recordCount >= 0:
		rs.ValidRecords = recordCount
	default:
		rs.ValidRecords = len(records)
	}
	if run.ValidRecords == 0 {
		run.ValidRecords = rs.ValidRecords
	}

	if rs.Status == models.JobStatusUnknown {
		rs.Status = run.Status
	}
	if rs.Status == models.JobStatusUnknown {
		rs.Status = models.JobStatusCompleted
	}
	if run.Status == models.JobStatusUnknown {
		run.Status = rs.Status
	}

	if raw.DateRange != nil {
		rs.DateRange = *raw.DateRange
	} else {
		rs.DateRange = run.DateRange
	}

	return &models.MonitorResult{Run: run, Results: rs}, nil
}

// ListMonitorRuns returns the jobs a monitor has spawned in start order
func (c *Client) ListMonitorRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]models.MonitorRun, error) {
	if monitorID == "" {
		return nil, NewValidationError("field required", "path", "monitor_id")
	}
	if order == "" {
		order = models.SortDesc
	}

	params := url.Values{}
	params.Set("sort", string(order))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/monitors/"+url.PathEscape(monitorID)+"/jobs", params, nil, &raw); err != nil {
		return nil, err
	}

	var runs []models.MonitorRun
	if err := decodeList(raw, &runs, "jobs", "runs", "data"); err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].MonitorID = monitorID
	}
	SortRuns(runs, order)
	return runs, nil
}

// SortRuns orders runs by start time. Runs without a start time keep their
// relative position.
func SortRuns(runs []models.MonitorRun, order models.SortOrder) {
	sort.SliceStable(runs, func(a, b int) bool {
		ta, tb := runs[a].StartedAt, runs[b].StartedAt
		if ta == nil || tb == nil {
			return false
		}
		if order == models.SortAsc {
			return ta.Before(tb.Time)
		}
		return ta.After(tb.Time)
	})
}

// EnableMonitor resumes scheduled firing
func (c *Client) EnableMonitor(ctx context.Context, monitorID string) error {
	if monitorID == "" {
		return NewValidationError("field required", "path", "monitor_id")
	}
	return c.do(ctx, http.MethodPost, "/monitors/"+url.PathEscape(monitorID)+"/enable", nil, nil, nil)
}

// DisableMonitor pauses scheduled firing
func (c *Client) DisableMonitor(ctx context.Context, monitorID string) error {
	if monitorID == "" {
		return NewValidationError("field required", "path", "monitor_id")
	}
	return c.do(ctx, http.MethodPost, "/monitors/"+url.PathEscape(monitorID)+"/disable", nil, nil, nil)
}

// UpdateMonitor replaces the monitor's webhook. A nil webhook removes it.
func (c *Client) UpdateMonitor(ctx context.Context, monitorID string, webhook *models.Webhook) (*models.Monitor, error) {
	if monitorID == "" {
		return nil, NewValidationError("field required", "path", "monitor_id")
	}
	if webhook != nil {
		if fields := webhook.Validate(); len(fields) > 0 {
			return nil, &ValidationError{Endpoint: "/monitors/" + monitorID, Fields: fields}
		}
	}

	body := struct {
		Webhook *models.Webhook `json:"webhook"`
	}{webhook}

	var monitor models.Monitor
	if err := c.do(ctx, http.MethodPatch, "/monitors/"+url.PathEscape(monitorID), nil, body, &monitor); err != nil {
		return nil, err
	}
	if monitor.ID == "" {
		monitor.ID = monitorID
	}
	return &monitor, nil
}
