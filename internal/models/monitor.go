package models

import (
	"strings"
	"time"
)

// Schedule is a resolved recurring schedule. Text is what the caller wrote;
// Cron and Timezone are derived from it deterministically.
type Schedule struct {
	Text     string `json:"schedule"`
	Cron     string `json:"cron_expression,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Spec returns the expression in robfig/cron form with an explicit zone
func (s Schedule) Spec() string {
	if s.Timezone == "" {
		return s.Cron
	}
	return "CRON_TZ=" + s.Timezone + " " + s.Cron
}

// BasicAuth is a webhook credential pair
type BasicAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

// Webhook describes where a monitor pushes each run's payload
type Webhook struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Auth    *BasicAuth        `json:"auth,omitempty"`
}

// Validate upper-cases the method and checks the webhook fields
func (w *Webhook) Validate() []FieldError {
	w.Method = strings.ToUpper(strings.TrimSpace(w.Method))
	return ValidateStruct(w)
}

// HTTPMethod returns the delivery method, defaulting to POST
func (w Webhook) HTTPMethod() string {
	if w.Method == "" {
		return "POST"
	}
	return strings.ToUpper(w.Method)
}

// Monitor is a recurring re-run of a completed reference job
type Monitor struct {
	ID             string `json:"monitor_id"`
	ReferenceJobID string `json:"reference_job_id"`
	Schedule
	Webhook *Webhook `json:"webhook,omitempty"`
	Enabled bool     `json:"enabled"`
	// Config is the reference job's configuration frozen at creation.
	Config    *JobConfig `json:"config,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// WebhookDelivery records the single delivery attempt of a run
type WebhookDelivery struct {
	Delivered   bool      `json:"delivered"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// MonitorRun is one firing of a monitor and the job it spawned
type MonitorRun struct {
	ID           string           `json:"run_id,omitempty"`
	MonitorID    string           `json:"monitor_id,omitempty"`
	JobID        string           `json:"job_id"`
	Status       JobStatus        `json:"status"`
	StartedAt    *FlexTime        `json:"created_at,omitempty"`
	FinishedAt   *FlexTime        `json:"completed_at,omitempty"`
	ValidRecords int              `json:"valid_records"`
	DateRange    DateRange        `json:"date_range"`
	Error        string           `json:"error,omitempty"`
	Delivery     *WebhookDelivery `json:"webhook_delivery,omitempty"`
	// Results is kept for locally executed runs so the latest pull never
	// depends on webhook delivery.
	Results *ResultSet `json:"results,omitempty"`
}

// MonitorResult is the latest run of a monitor together with its records
type MonitorResult struct {
	Run     MonitorRun `json:"run_info"`
	Results *ResultSet `json:"results"`
}

// SortOrder orders run history by start time
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder defaults anything unrecognised to descending
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(SortAsc)) {
		return SortAsc
	}
	return SortDesc
}
