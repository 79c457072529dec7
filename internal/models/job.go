package models

import (
	"sort"
)

// Step is one named processing stage reported by the status endpoint.
// The wire field "status" carries the step name.
type Step struct {
	Name      string `json:"status"`
	Order     int    `json:"order"`
	Completed bool   `json:"completed"`
}

// Job is the status view of a remote search job
type Job struct {
	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Steps  []Step    `json:"steps"`
	// Config is only populated for jobs this process submitted or when the
	// server echoes it back.
	Config *JobConfig `json:"config,omitempty"`
}

// Normalize sorts steps by order and derives the status when the server
// omits it or reports completion only through the step list.
func (j *Job) Normalize() {
	sort.SliceStable(j.Steps, func(a, b int) bool {
		return j.Steps[a].Order < j.Steps[b].Order
	})

	if j.Status == JobStatusFailed {
		return
	}

	if j.completedByStep() || (len(j.Steps) > 0 && j.AllStepsCompleted()) {
		j.Status = JobStatusCompleted
		return
	}

	if j.Status == JobStatusUnknown {
		for _, step := range j.Steps {
			s := ParseJobStatus(step.Name)
			if step.Completed && s != JobStatusFailed && s > j.Status {
				j.Status = s
			}
		}
	}
}

func (j *Job) completedByStep() bool {
	for _, step := range j.Steps {
		if step.Completed && ParseJobStatus(step.Name) == JobStatusCompleted {
			return true
		}
	}
	return false
}

// AllStepsCompleted reports whether every reported step is completed
func (j *Job) AllStepsCompleted() bool {
	for _, step := range j.Steps {
		if !step.Completed {
			return false
		}
	}
	return true
}

// CompletedSteps returns the number of completed steps
func (j *Job) CompletedSteps() int {
	n := 0
	for _, step := range j.Steps {
		if step.Completed {
			n++
		}
	}
	return n
}

// CurrentStep returns the first incomplete step, or nil when all are done
func (j *Job) CurrentStep() *Step {
	for i := range j.Steps {
		if !j.Steps[i].Completed {
			return &j.Steps[i]
		}
	}
	return nil
}

// JobSummary is one entry of the user's job listing
type JobSummary struct {
	ID        string    `json:"job_id"`
	Query     string    `json:"query"`
	Status    JobStatus `json:"status"`
	CreatedAt FlexTime  `json:"created_at"`
}

// JobList is a page of job summaries
type JobList struct {
	Jobs       []JobSummary `json:"jobs"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// JobSubmission is the acknowledgement returned by submit and continue
type JobSubmission struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}
