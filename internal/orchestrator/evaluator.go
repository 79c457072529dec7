package orchestrator

import "github.com/ternarybob/catchall/internal/models"

// SufficiencyEvaluator decides whether a result set is good enough to stop
type SufficiencyEvaluator struct {
	// MinValidRecords is the caller's minimum; zero or one means "any record"
	MinValidRecords int
}

// Required returns the effective minimum
func (e SufficiencyEvaluator) Required() int {
	if e.MinValidRecords < 1 {
		return 1
	}
	return e.MinValidRecords
}

// Evaluate returns nil when rs is sufficient. Counts come from the server's
// reported valid_records, not from the records held locally.
func (e SufficiencyEvaluator) Evaluate(rs *models.ResultSet) error {
	valid := 0
	if rs != nil {
		valid = rs.ValidRecords
	}
	if valid >= e.Required() {
		return nil
	}
	return &InsufficientResultsError{ValidRecords: valid, Required: e.Required()}
}
