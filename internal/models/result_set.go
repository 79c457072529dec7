package models

// ResultSet is the pull view of a job: server totals, the records observed so
// far, the effective limit, pagination of the latest page and the search window.
type ResultSet struct {
	JobID            string    `json:"job_id"`
	Query            string    `json:"query"`
	Status           JobStatus `json:"status"`
	CandidateRecords int       `json:"candidate_records"`
	ValidRecords     int       `json:"valid_records"`
	Records          []Record  `json:"all_records"`
	Limit            int       `json:"limit,omitempty"`
	Page             int       `json:"page"`
	PageSize         int       `json:"page_size"`
	TotalPages       int       `json:"total_pages"`
	Duration         string    `json:"duration,omitempty"`
	DateRange        DateRange `json:"date_range"`
}

// Len returns the number of records held
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// HasMorePages reports whether the page after this one exists
func (r *ResultSet) HasMorePages() bool {
	return r != nil && r.Page < r.TotalPages
}

// Clone returns a copy that shares no slices with r
func (r *ResultSet) Clone() *ResultSet {
	if r == nil {
		return nil
	}
	out := *r
	out.Records = append([]Record(nil), r.Records...)
	return &out
}

// Preview is the suggestion returned by the initialize endpoint
type Preview struct {
	Query       string       `json:"query"`
	Context     string       `json:"context,omitempty"`
	Validators  []Validator  `json:"validators"`
	Enrichments []Enrichment `json:"enrichments"`
	StartDate   *FlexTime    `json:"start_date,omitempty"`
	EndDate     *FlexTime    `json:"end_date,omitempty"`
}

// ToJobConfig turns the suggestion into an explicit submit payload
func (p Preview) ToJobConfig(query, context string, limit int) JobConfig {
	cfg := JobConfig{
		Query:       query,
		Context:     context,
		Limit:       limit,
		Validators:  append([]Validator(nil), p.Validators...),
		Enrichments: append([]Enrichment(nil), p.Enrichments...),
	}
	if p.StartDate != nil && !p.StartDate.IsZero() {
		cfg.StartDate = NewFlexTime(p.StartDate.Time)
	}
	if p.EndDate != nil && !p.EndDate.IsZero() {
		cfg.EndDate = NewFlexTime(p.EndDate.Time)
	}
	for i := range cfg.Validators {
		if cfg.Validators[i].Type == "" {
			cfg.Validators[i].Type = ValidatorTypeBoolean
		}
	}
	return cfg
}
