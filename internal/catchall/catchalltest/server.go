// Package catchalltest provides an in-memory CatchAll API for tests.
// Jobs advance one stage per status call and reveal records progressively,
// so poll loops, aggregation and retries can be exercised without a network.
package catchalltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/catchall/internal/models"
)

// DefaultAPIKey is accepted by a Server unless overridden
const DefaultAPIKey = "test-key"

// JobScript controls how one submitted job behaves
type JobScript struct {
	// ValidRecords is the number of records the job finds before the limit applies
	ValidRecords int
	// CandidateRecords is the number of articles reported as scanned
	CandidateRecords int
	// StallAt freezes the job at this stage; status calls stop advancing it
	StallAt models.JobStatus
	// FailAt moves the job to failed when it reaches this stage
	FailAt models.JobStatus
	// RegressOnce reports the previous stage once, mid-run
	RegressOnce bool
}

type fakeJob struct {
	id          string
	config      models.JobConfig
	script      JobScript
	stage       int
	failed      bool
	regressed   bool
	statusCalls int
	limit       int
	createdAt   time.Time
}

type fakeMonitor struct {
	monitor models.Monitor
	runs    []models.MonitorRun
}

// Server is a scripted CatchAll API backed by httptest
type Server struct {
	*httptest.Server

	APIKey        string
	DefaultScript JobScript
	Now           func() time.Time

	mu          sync.Mutex
	scripts     []JobScript
	jobs        map[string]*fakeJob
	jobOrder    []string
	monitors    map[string]*fakeMonitor
	submissions []models.JobConfig
	calls       map[string]int
}

// NewServer starts a fake API. Close it when done.
func NewServer() *Server {
	s := &Server{
		APIKey:        DefaultAPIKey,
		DefaultScript: JobScript{ValidRecords: 5, CandidateRecords: 40},
		Now:           time.Now,
		jobs:          make(map[string]*fakeJob),
		monitors:      make(map[string]*fakeMonitor),
		calls:         make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("POST /initialize", s.handleInitialize)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /pull/{id}", s.handlePull)
	mux.HandleFunc("POST /continue", s.handleContinue)
	mux.HandleFunc("GET /jobs/user", s.handleListJobs)
	mux.HandleFunc("/monitors/", s.handleMonitorRoutes)

	s.Server = httptest.NewServer(http.StripPrefix("/catchAll", s.withAuth(mux)))
	return s
}

// BaseURL is the API root to hand to a client
func (s *Server) BaseURL() string {
	return s.Server.URL + "/catchAll"
}

// QueueScripts sets the behaviour of the next submitted jobs, in order.
// Jobs submitted after the queue drains use DefaultScript.
func (s *Server) QueueScripts(scripts ...JobScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, scripts...)
}

// Submissions returns every config received by submit, in order
func (s *Server) Submissions() []models.JobConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.JobConfig(nil), s.submissions...)
}

// Calls returns how many times an endpoint ("submit", "status", "pull",
// "continue", ...) was hit
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// CompleteJob moves a job straight to completed
func (s *Server) CompleteJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.stage = len(models.AllJobStages()) - 1
		job.failed = false
		job.script.StallAt = models.JobStatusUnknown
	}
}

// JobLimit returns a job's effective limit
func (s *Server) JobLimit(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		return job.limit
	}
	return -1
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != s.APIKey {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid or missing API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) count(endpoint string) {
	s.calls[endpoint]++
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var cfg models.JobConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeValidation(w, models.FieldError{Loc: []string{"body"}, Msg: err.Error()})
		return
	}
	if fields := cfg.Validate(); len(fields) > 0 {
		writeValidation(w, fields...)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("submit")

	script := s.DefaultScript
	if len(s.scripts) > 0 {
		script = s.scripts[0]
		s.scripts = s.scripts[1:]
	}

	job := &fakeJob{
		id:        uuid.New().String(),
		config:    cfg.Clone(),
		script:    script,
		limit:     cfg.Limit,
		createdAt: s.Now(),
	}
	s.jobs[job.id] = job
	s.jobOrder = append(s.jobOrder, job.id)
	s.submissions = append(s.submissions, cfg.Clone())

	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.id, "status": "submitted"})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query   string `json:"query"`
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeValidation(w, models.FieldError{Loc: []string{"body", "query"}, Msg: "field required"})
		return
	}

	s.mu.Lock()
	s.count("initialize")
	now := s.Now().UTC().Truncate(24 * time.Hour)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, models.Preview{
		Query:   body.Query,
		Context: body.Context,
		Validators: []models.Validator{
			{Name: "is_relevant", Description: "article is about: " + body.Query, Type: models.ValidatorTypeBoolean},
			{Name: "is_recent_event", Description: "article reports a recent event", Type: models.ValidatorTypeBoolean},
		},
		Enrichments: []models.Enrichment{
			{Name: "company", Description: "primary company involved", Type: models.EnrichmentTypeCompany},
			{Name: "event_date", Description: "when the event happened", Type: models.EnrichmentTypeDate},
		},
		StartDate: models.NewFlexTime(now.AddDate(0, 0, -7)),
		EndDate:   models.NewFlexTime(now),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("status")

	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
		return
	}

	job.statusCalls++
	stages := models.AllJobStages()
	reported := job.stage

	if !job.failed && job.stage < len(stages)-1 {
		stalled := job.script.StallAt != models.JobStatusUnknown && stages[job.stage] == job.script.StallAt
		if !stalled {
			job.stage++
			reported = job.stage
			if job.script.FailAt != models.JobStatusUnknown && stages[job.stage] == job.script.FailAt {
				job.failed = true
			}
		}
		if job.script.RegressOnce && !job.regressed && job.stage >= 3 {
			job.regressed = true
			reported = job.stage - 2
		}
	}

	status := stages[reported].String()
	if job.failed {
		status = models.JobStatusFailed.String()
	}

	steps := make([]models.Step, len(stages))
	for i, stage := range stages {
		steps[i] = models.Step{
			Name:      stage.String(),
			Order:     i + 1,
			Completed: i < reported || (reported == len(stages)-1),
		}
	}

	writeJSON(w, http.StatusOK, struct {
		JobID  string        `json:"job_id"`
		Status string        `json:"status"`
		Steps  []models.Step `json:"steps"`
	}{job.id, status, steps})
}

// visibleRecords returns the records a job exposes at its current stage.
// Partial results appear from clustering onward with medium confidence and
// are upgraded to high confidence on completion.
func (s *Server) visibleRecords(job *fakeJob) []models.Record {
	stages := models.AllJobStages()
	stage := stages[job.stage]

	total := job.script.ValidRecords
	if job.limit > 0 && total > job.limit {
		total = job.limit
	}

	var n int
	confidence := models.ConfidenceMedium
	switch {
	case stage == models.JobStatusCompleted:
		n = total
		confidence = models.ConfidenceHigh
	case !stage.Before(models.JobStatusClustering):
		n = total / 2
	}

	records := make([]models.Record, n)
	for i := 0; i < n; i++ {
		records[i] = models.Record{
			ID:    fmt.Sprintf("%s-rec-%03d", job.id, i),
			Title: fmt.Sprintf("%s #%d", job.config.Query, i+1),
			Enrichment: models.Enrichments{
				Fields: map[string]models.EnrichmentValue{
					"company": {Value: fmt.Sprintf("Company %d", i+1), Confidence: confidence},
				},
				Confidence: confidence,
			},
			Citations: []models.Citation{{
				Title:         fmt.Sprintf("Source article %d", i+1),
				Link:          fmt.Sprintf("https://news.example.com/%s/%d", job.id, i),
				PublishedDate: models.NewFlexTime(job.createdAt.Add(-time.Duration(i) * time.Hour)),
			}},
		}
	}
	return records
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageSize > 100 {
		writeValidation(w, models.FieldError{Loc: []string{"query", "page_size"}, Msg: "ensure this value is less than or equal to 100"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("pull")

	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
		return
	}

	all := s.visibleRecords(job)
	totalPages := (len(all) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	stages := models.AllJobStages()
	status := stages[job.stage].String()
	if job.failed {
		status = models.JobStatusFailed.String()
	}

	candidates := job.script.CandidateRecords
	if stages[job.stage].Before(models.JobStatusFetching) {
		candidates = 0
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":            job.id,
		"query":             job.config.Query,
		"status":            status,
		"candidate_records": candidates,
		"valid_records":     len(all),
		"all_records":       all[start:end],
		"limit":             job.limit,
		"page":              page,
		"page_size":         pageSize,
		"total_pages":       totalPages,
		"duration":          fmt.Sprintf("%ds", job.statusCalls),
		"date_range": models.DateRange{
			Start: job.config.StartDate,
			End:   job.config.EndDate,
		},
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID    string `json:"job_id"`
		NewLimit int    `json:"new_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, models.FieldError{Loc: []string{"body"}, Msg: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("continue")

	job, ok := s.jobs[body.JobID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
		return
	}
	if body.NewLimit <= job.limit {
		writeValidation(w, models.FieldError{
			Loc: []string{"body", "new_limit"},
			Msg: fmt.Sprintf("new_limit must be greater than current limit (%d)", job.limit),
		})
		return
	}

	job.limit = body.NewLimit
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.id,
		"status": models.AllJobStages()[job.stage].String(),
		"limit":  job.limit,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("jobs")

	summaries := make([]models.JobSummary, 0, len(s.jobOrder))
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		status := models.AllJobStages()[job.stage]
		if job.failed {
			status = models.JobStatusFailed
		}
		summaries = append(summaries, models.JobSummary{
			ID:        job.id,
			Query:     job.config.Query,
			Status:    status,
			CreatedAt: models.FlexTime{Time: job.createdAt},
		})
	}

	totalPages := (len(summaries) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(summaries) {
		start = len(summaries)
	}
	if end > len(summaries) {
		end = len(summaries)
	}

	writeJSON(w, http.StatusOK, models.JobList{
		Jobs:       summaries[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// handleMonitorRoutes dispatches /monitors/... by path shape
func (s *Server) handleMonitorRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/monitors"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		s.handleListMonitors(w, r)
	case rest == "create" && r.Method == http.MethodPost:
		s.handleCreateMonitor(w, r)
	case len(parts) == 2 && parts[0] == "pull" && r.Method == http.MethodGet:
		s.handlePullMonitor(w, r, parts[1])
	case len(parts) == 2 && parts[1] == "jobs" && r.Method == http.MethodGet:
		s.handleMonitorRuns(w, r, parts[0])
	case len(parts) == 2 && (parts[1] == "enable" || parts[1] == "disable") && r.Method == http.MethodPost:
		s.handleToggleMonitor(w, parts[0], parts[1] == "enable")
	case len(parts) == 1 && r.Method == http.MethodPatch:
		s.handleUpdateMonitor(w, r, parts[0])
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReferenceJobID string          `json:"reference_job_id"`
		Schedule       string          `json:"schedule"`
		Timezone       string          `json:"timezone"`
		Cron           string          `json:"cron_expression"`
		Webhook        *models.Webhook `json:"webhook"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, models.FieldError{Loc: []string{"body"}, Msg: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors/create")

	job, ok := s.jobs[body.ReferenceJobID]
	if !ok || job.failed || models.AllJobStages()[job.stage] != models.JobStatusCompleted {
		writeValidation(w, models.FieldError{Loc: []string{"body", "reference_job_id"}, Msg: "reference job must be completed"})
		return
	}
	if body.Schedule == "" {
		writeValidation(w, models.FieldError{Loc: []string{"body", "schedule"}, Msg: "field required"})
		return
	}

	cfg := job.config.Clone()
	now := s.Now()
	m := &fakeMonitor{monitor: models.Monitor{
		ID:             uuid.New().String(),
		ReferenceJobID: body.ReferenceJobID,
		Schedule:       models.Schedule{Text: body.Schedule, Cron: body.Cron, Timezone: body.Timezone},
		Webhook:        body.Webhook,
		Enabled:        true,
		Config:         &cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	s.monitors[m.monitor.ID] = m

	writeJSON(w, http.StatusOK, map[string]string{"monitor_id": m.monitor.ID})
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors")

	out := make([]models.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m.monitor)
	}
	sortMonitors(out)
	writeJSON(w, http.StatusOK, map[string]interface{}{"monitors": out})
}

// TriggerRun fires a monitor once: a completed job is spawned from the
// frozen reference config and recorded in the run history.
func (s *Server) TriggerRun(monitorID string, validRecords int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[monitorID]
	if !ok {
		return "", fmt.Errorf("monitor not found: %s", monitorID)
	}

	now := s.Now()
	job := &fakeJob{
		id:        uuid.New().String(),
		config:    m.monitor.Config.Clone(),
		script:    JobScript{ValidRecords: validRecords, CandidateRecords: validRecords * 4},
		stage:     len(models.AllJobStages()) - 1,
		limit:     m.monitor.Config.Limit,
		createdAt: now,
	}
	s.jobs[job.id] = job
	s.jobOrder = append(s.jobOrder, job.id)

	m.runs = append(m.runs, models.MonitorRun{
		MonitorID:    monitorID,
		JobID:        job.id,
		Status:       models.JobStatusCompleted,
		StartedAt:    models.NewFlexTime(now),
		FinishedAt:   models.NewFlexTime(now),
		ValidRecords: len(s.visibleRecords(job)),
	})
	return job.id, nil
}

func (s *Server) handlePullMonitor(w http.ResponseWriter, r *http.Request, monitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors/pull")

	m, ok := s.monitors[monitorID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Monitor not found"})
		return
	}
	if len(m.runs) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"monitor_id": monitorID, "records": 0, "all_records": []models.Record{}})
		return
	}

	run := m.runs[len(m.runs)-1]
	records := s.visibleRecords(s.jobs[run.JobID])

	// Monitor payloads carry monitor_id instead of job_id and omit
	// valid_records; clients normalise.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitor_id":  monitorID,
		"run_info":    run,
		"records":     len(records),
		"all_records": records,
	})
}

func (s *Server) handleMonitorRuns(w http.ResponseWriter, r *http.Request, monitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors/jobs")

	m, ok := s.monitors[monitorID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Monitor not found"})
		return
	}

	runs := append([]models.MonitorRun(nil), m.runs...)
	if r.URL.Query().Get("sort") != "asc" {
		for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
			runs[i], runs[j] = runs[j], runs[i]
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": runs})
}

func (s *Server) handleToggleMonitor(w http.ResponseWriter, monitorID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors/toggle")

	m, ok := s.monitors[monitorID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Monitor not found"})
		return
	}
	m.monitor.Enabled = enabled
	m.monitor.UpdatedAt = s.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{"monitor_id": monitorID, "enabled": enabled})
}

func (s *Server) handleUpdateMonitor(w http.ResponseWriter, r *http.Request, monitorID string) {
	var body struct {
		Webhook *models.Webhook `json:"webhook"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeValidation(w, models.FieldError{Loc: []string{"body"}, Msg: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("monitors/update")

	m, ok := s.monitors[monitorID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Monitor not found"})
		return
	}
	m.monitor.Webhook = body.Webhook
	m.monitor.UpdatedAt = s.Now()
	writeJSON(w, http.StatusOK, m.monitor)
}

// Monitor returns a copy of a monitor's server-side record
func (s *Server) Monitor(monitorID string) (models.Monitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok {
		return models.Monitor{}, false
	}
	return m.monitor, true
}

func sortMonitors(monitors []models.Monitor) {
	for i := 1; i < len(monitors); i++ {
		for j := i; j > 0 && monitors[j].CreatedAt.Before(monitors[j-1].CreatedAt); j-- {
			monitors[j], monitors[j-1] = monitors[j-1], monitors[j]
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValidation(w http.ResponseWriter, fields ...models.FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": fields})
}
