package models

import "time"

// SessionState is a state of the deep-search state machine
type SessionState string

const (
	SessionPlanning     SessionState = "planning"
	SessionSearching    SessionState = "searching"
	SessionEvaluating   SessionState = "evaluating"
	SessionRetrying     SessionState = "retrying"
	SessionSynthesizing SessionState = "synthesizing"
	SessionExhausted    SessionState = "exhausted"
	SessionSucceeded    SessionState = "succeeded"
	SessionCancelled    SessionState = "cancelled"
	SessionErrored      SessionState = "errored"
)

// IsTerminal reports whether the session has finished
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionExhausted, SessionSucceeded, SessionCancelled, SessionErrored:
		return true
	}
	return false
}

// Attempt is one search executed during a session
type Attempt struct {
	Iteration    int       `json:"iteration"`
	JobID        string    `json:"job_id"`
	Config       JobConfig `json:"config"`
	Strategy     string    `json:"strategy"`
	Detail       string    `json:"detail,omitempty"`
	ValidRecords int       `json:"valid_records"`
	Outcome      string    `json:"outcome"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Session is the persisted record of a deep-search run. Report writers and
// chat follow-ups read it by ID.
type Session struct {
	ID            string         `json:"id"`
	Intent        string         `json:"intent"`
	State         SessionState   `json:"state"`
	Transitions   []SessionState `json:"transitions"`
	Attempts      []Attempt      `json:"attempts"`
	WinningJobID  string         `json:"winning_job_id,omitempty"`
	WinningConfig *JobConfig     `json:"winning_config,omitempty"`
	Results       *ResultSet     `json:"results,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
