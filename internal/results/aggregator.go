// Package results merges records arriving across pages, pulls and continue
// calls into one deduplicated, order-stable ResultSet.
package results

import (
	"sync"

	"github.com/ternarybob/catchall/internal/models"
)

// MergeStats counts what one merge did to the accumulated records
type MergeStats struct {
	Added     int
	Replaced  int
	Unchanged int
}

// Merge folds an incoming page into existing and returns the result.
// Neither argument is modified. Records are keyed by ID: new IDs are appended
// in arrival order; a known ID is replaced in place only when its content
// fingerprint differs. Counts and status follow the server's latest report,
// clamped so they never decrease within one job. Pagination metadata is that
// of the incoming page.
func Merge(existing, incoming *models.ResultSet) (*models.ResultSet, MergeStats) {
	var stats MergeStats
	if incoming == nil {
		return existing.Clone(), stats
	}
	if existing == nil {
		existing = &models.ResultSet{}
	}

	out := existing.Clone()
	index := make(map[string]int, len(out.Records))
	for i, r := range out.Records {
		index[r.ID] = i
	}

	for _, r := range incoming.Records {
		if r.ID == "" {
			// Without an identity a record cannot be deduplicated; keep it.
			out.Records = append(out.Records, r)
			stats.Added++
			continue
		}
		i, seen := index[r.ID]
		switch {
		case !seen:
			index[r.ID] = len(out.Records)
			out.Records = append(out.Records, r)
			stats.Added++
		case out.Records[i].Fingerprint() != r.Fingerprint():
			out.Records[i] = r
			stats.Replaced++
		default:
			stats.Unchanged++
		}
	}

	sameJob := out.JobID == "" || incoming.JobID == "" || out.JobID == incoming.JobID
	if incoming.JobID != "" {
		out.JobID = incoming.JobID
	}
	if incoming.Query != "" {
		out.Query = incoming.Query
	}

	if sameJob {
		out.CandidateRecords = maxInt(out.CandidateRecords, incoming.CandidateRecords)
		out.ValidRecords = maxInt(out.ValidRecords, incoming.ValidRecords)
		if incoming.Status != models.JobStatusUnknown && !incoming.Status.Before(out.Status) {
			out.Status = incoming.Status
		}
	} else {
		out.CandidateRecords = incoming.CandidateRecords
		out.ValidRecords = incoming.ValidRecords
		out.Status = incoming.Status
	}

	if incoming.Limit > 0 {
		out.Limit = incoming.Limit
	}
	out.Page = incoming.Page
	out.PageSize = incoming.PageSize
	out.TotalPages = incoming.TotalPages
	if incoming.Duration != "" {
		out.Duration = incoming.Duration
	}
	if !incoming.DateRange.IsZero() {
		out.DateRange = incoming.DateRange
	}

	return out, stats
}

// Union combines the result sets of several jobs into one. Records are
// deduplicated by ID with the first occurrence kept. ValidRecords is the
// number of distinct records. CandidateRecords is summed across jobs, taking
// the highest count when one job appears more than once. The date range
// spans every input window.
func Union(sets ...*models.ResultSet) *models.ResultSet {
	out := &models.ResultSet{Page: 1, TotalPages: 1}
	seen := make(map[string]bool)
	scanned := make(map[string]int)

	for _, rs := range sets {
		if rs == nil {
			continue
		}
		if out.Query == "" {
			out.Query = rs.Query
		}
		if rs.JobID == "" {
			out.CandidateRecords += rs.CandidateRecords
		} else if rs.CandidateRecords > scanned[rs.JobID] {
			out.CandidateRecords += rs.CandidateRecords - scanned[rs.JobID]
			scanned[rs.JobID] = rs.CandidateRecords
		}
		for _, r := range rs.Records {
			if r.ID != "" {
				if seen[r.ID] {
					continue
				}
				seen[r.ID] = true
			}
			out.Records = append(out.Records, r)
		}
		out.DateRange = widen(out.DateRange, rs.DateRange)
	}

	out.ValidRecords = len(out.Records)
	out.PageSize = len(out.Records)
	if len(sets) > 0 {
		if last := sets[len(sets)-1]; last != nil {
			out.JobID = last.JobID
			out.Status = last.Status
		}
	}
	return out
}

func widen(a, b models.DateRange) models.DateRange {
	out := a
	if b.Start != nil && !b.Start.IsZero() && (out.Start == nil || out.Start.IsZero() || b.Start.Before(out.Start.Time)) {
		out.Start = models.NewFlexTime(b.Start.Time)
	}
	if b.End != nil && !b.End.IsZero() && (out.End == nil || out.End.IsZero() || b.End.After(out.End.Time)) {
		out.End = models.NewFlexTime(b.End.Time)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Aggregator owns the accumulating ResultSet of one job. It is safe for
// concurrent use; Snapshot returns copies.
type Aggregator struct {
	mu  sync.Mutex
	set *models.ResultSet
}

// NewAggregator returns an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add merges one page and reports what changed
func (a *Aggregator) Add(page *models.ResultSet) MergeStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged, stats := Merge(a.set, page)
	a.set = merged
	return stats
}

// Snapshot returns a copy of the accumulated results, never nil
func (a *Aggregator) Snapshot() *models.ResultSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set == nil {
		return &models.ResultSet{}
	}
	return a.set.Clone()
}

// Len returns the number of distinct records held
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set.Len()
}

// ValidRecords returns the server-reported valid count
func (a *Aggregator) ValidRecords() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set == nil {
		return 0
	}
	return a.set.ValidRecords
}
