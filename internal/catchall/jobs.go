package catchall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ternarybob/catchall/internal/models"
)

// Submit creates a job. The config is validated locally first so malformed
// payloads never reach the network.
func (c *Client) Submit(ctx context.Context, cfg models.JobConfig) (string, error) {
	if fields := cfg.Validate(); len(fields) > 0 {
		return "", &ValidationError{Endpoint: "/submit", Fields: fields}
	}

	var result models.JobSubmission
	if err := c.do(ctx, http.MethodPost, "/submit", nil, cfg, &result); err != nil {
		return "", err
	}
	if result.JobID == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "response missing job_id", Endpoint: "/submit"}
	}

	if c.logger != nil {
		c.logger.Info().
			Str("job_id", result.JobID).
			Str("query", cfg.Query).
			Int("limit", cfg.Limit).
			Msg("Job submitted")
	}

	return result.JobID, nil
}

// Initialize previews the validators, enrichments and window the service
// would choose for a query. No job is created.
func (c *Client) Initialize(ctx context.Context, query, queryContext string) (*models.Preview, error) {
	if query == "" {
		return nil, NewValidationError("field required", "body", "query")
	}

	body := map[string]string{"query": query}
	if queryContext != "" {
		body["context"] = queryContext
	}

	var result models.Preview
	if err := c.do(ctx, http.MethodPost, "/initialize", nil, body, &result); err != nil {
		return nil, err
	}
	if result.Query == "" {
		result.Query = query
	}
	return &result, nil
}

// Status returns the job's current stage and steps
func (c *Client) Status(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, NewValidationError("field required", "path", "job_id")
	}

	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), nil, nil, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	job.Normalize()
	return &job, nil
}

// Pull returns one page of a job's results. Pages start at 1.
func (c *Client) Pull(ctx context.Context, jobID string, page, pageSize int) (*models.ResultSet, error) {
	if jobID == "" {
		return nil, NewValidationError("field required", "path", "job_id")
	}
	if pageSize > MaxPageSize {
		return nil, NewValidationError("page_size must be less than or equal to 100", "query", "page_size")
	}
	if pageSize <= 0 {
		pageSize = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))

	var result models.ResultSet
	if err := c.do(ctx, http.MethodGet, "/pull/"+url.PathEscape(jobID), params, nil, &result); err != nil {
		return nil, err
	}
	if result.JobID == "" {
		result.JobID = jobID
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.PageSize == 0 {
		result.PageSize = pageSize
	}
	return &result, nil
}

// Continue raises a job's limit so fetching resumes past the original cap.
// The service rejects a newLimit that does not exceed the current one.
func (c *Client) Continue(ctx context.Context, jobID string, newLimit int) (*models.JobSubmission, error) {
	if jobID == "" {
		return nil, NewValidationError("field required", "body", "job_id")
	}
	if newLimit <= 0 {
		return nil, NewValidationError("new_limit must be greater than 0", "body", "new_limit")
	}

	body := struct {
		JobID    string `json:"job_id"`
		NewLimit int    `json:"new_limit"`
	}{jobID, newLimit}

	var result models.JobSubmission
	if err := c.do(ctx, http.MethodPost, "/continue", nil, body, &result); err != nil {
		return nil, err
	}
	if result.JobID == "" {
		result.JobID = jobID
	}
	if result.Limit == 0 {
		result.Limit = newLimit
	}

	if c.logger != nil {
		c.logger.Info().
			Str("job_id", jobID).
			Int("new_limit", newLimit).
			Msg("Job continued")
	}

	return &result, nil
}

// ListJobs pages through the caller's jobs
func (c *Client) ListJobs(ctx context.Context, page, pageSize int) (*models.JobList, error) {
	if pageSize > MaxPageSize {
		return nil, NewValidationError("page_size must be less than or equal to 100", "query", "page_size")
	}

	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		params.Set("page_size", strconv.Itoa(pageSize))
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/jobs/user", params, nil, &raw); err != nil {
		return nil, err
	}

	list := &models.JobList{Page: page, PageSize: pageSize}
	if err := decodeList(raw, &list.Jobs, "jobs", "data", "items"); err != nil {
		return nil, err
	}

	var meta struct {
		Page       int `json:"page"`
		PageSize   int `json:"page_size"`
		TotalPages int `json:"total_pages"`
	}
	if json.Unmarshal(raw, &meta) == nil {
		if meta.Page > 0 {
			list.Page = meta.Page
		}
		if meta.PageSize > 0 {
			list.PageSize = meta.PageSize
		}
		list.TotalPages = meta.TotalPages
	}
	return list, nil
}
