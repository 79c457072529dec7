package models

import (
	"fmt"
	"strings"
)

// JobStatus is the processing stage of a remote search job.
// Values are ordered: a job moves forward through the stages and never back.
// JobStatusFailed is terminal and sits outside the order.
type JobStatus int

const (
	JobStatusUnknown JobStatus = iota
	JobStatusSubmitted
	JobStatusAnalyzing
	JobStatusFetching
	JobStatusClustering
	JobStatusEnriching
	JobStatusCompleted
	JobStatusFailed
)

var jobStatusNames = map[JobStatus]string{
	JobStatusUnknown:    "unknown",
	JobStatusSubmitted:  "submitted",
	JobStatusAnalyzing:  "analyzing",
	JobStatusFetching:   "fetching",
	JobStatusClustering: "clustering",
	JobStatusEnriching:  "enriching",
	JobStatusCompleted:  "completed",
	JobStatusFailed:     "failed",
}

// String returns the wire name of the status
func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

// ParseJobStatus maps a wire status to the enum. Unrecognized values map to
// JobStatusUnknown so a new server-side stage never breaks decoding.
func ParseJobStatus(s string) JobStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	for status, name := range jobStatusNames {
		if name == s {
			return status
		}
	}
	return JobStatusUnknown
}

// IsTerminal reports whether no further progress is possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Before reports whether s is strictly earlier than other in the stage order.
// Failed and Unknown are never before anything.
func (s JobStatus) Before(other JobStatus) bool {
	if s == JobStatusFailed || other == JobStatusFailed || s == JobStatusUnknown {
		return false
	}
	return s < other
}

// AllJobStages returns the ordered, non-failed stages
func AllJobStages() []JobStatus {
	return []JobStatus{
		JobStatusSubmitted,
		JobStatusAnalyzing,
		JobStatusFetching,
		JobStatusClustering,
		JobStatusEnriching,
		JobStatusCompleted,
	}
}

func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobStatus) UnmarshalText(text []byte) error {
	*s = ParseJobStatus(string(text))
	return nil
}
