package orchestrator

import (
	"fmt"

	"github.com/ternarybob/catchall/internal/models"
)

// InsufficientResultsError is the evaluator's signal that a search found too
// little. It drives a retry and is never returned to callers.
type InsufficientResultsError struct {
	ValidRecords int
	Required     int
}

func (e *InsufficientResultsError) Error() string {
	if e.Required <= 1 {
		return "no valid records"
	}
	return fmt.Sprintf("%d valid records, need %d", e.ValidRecords, e.Required)
}

// RetriesExhaustedError is returned with the Outcome when every iteration
// was spent without sufficient results. It carries the data collected so
// far: Best is the strongest single attempt and Results the union of all.
type RetriesExhaustedError struct {
	Attempts int
	Best     *models.ResultSet
	Results  *models.ResultSet
}

func (e *RetriesExhaustedError) Error() string {
	n := 0
	if e.Results != nil {
		n = e.Results.Len()
	}
	return fmt.Sprintf("insufficient results after %d attempts (%d records collected)", e.Attempts, n)
}
