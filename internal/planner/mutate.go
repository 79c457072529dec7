package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/catchall/internal/models"
)

// Reason is why a search is being retried
type Reason string

const (
	ReasonInsufficient Reason = "insufficient_results"
	ReasonStuck        Reason = "job_stuck"
	ReasonFailed       Reason = "job_failed"
)

// Strategy names the change a mutation made
type Strategy string

const (
	StrategyWidenWindow   Strategy = "widen_window"
	StrategyDropValidator Strategy = "drop_validator"
	StrategyRephrase      Strategy = "rephrase"
	StrategyResubmit      Strategy = "resubmit"
	// StrategyNone means no mutation applies; the config is resubmitted as is
	StrategyNone Strategy = "none"
)

// Policy bounds query mutation
type Policy struct {
	// DefaultWindow is the span assumed when a config has no explicit dates
	DefaultWindow time.Duration
	// MaxLookback caps how far back the window may be widened
	MaxLookback time.Duration
	// Now anchors windows without an end date. Zero means "end of window is unknown"
	// and widening starts from the config's own end date only.
	Now time.Time
}

// DefaultMutationPolicy returns a 7 day default window widened up to 30 days
func DefaultMutationPolicy(now time.Time) Policy {
	return Policy{
		DefaultWindow: 7 * 24 * time.Hour,
		MaxLookback:   30 * 24 * time.Hour,
		Now:           now,
	}
}

// Mutation is the result of one Mutate call
type Mutation struct {
	Config   models.JobConfig
	Strategy Strategy
	Detail   string
}

// Changed reports whether Config differs from the input
func (m Mutation) Changed() bool {
	return m.Strategy != StrategyNone && m.Strategy != StrategyResubmit
}

// Mutate derives the next config to try. It is pure: the same inputs always
// produce the same output and cfg is not modified.
//
// Stuck and failed jobs are resubmitted unchanged. For insufficient results
// exactly one change is made, preferring the cheapest: widen the date
// window, then drop the last validator, then rephrase the query.
func Mutate(cfg models.JobConfig, reason Reason, policy Policy) Mutation {
	next := cfg.Clone()

	if reason == ReasonStuck || reason == ReasonFailed {
		return Mutation{Config: next, Strategy: StrategyResubmit, Detail: string(reason)}
	}

	if m, ok := widenWindow(next, policy); ok {
		return m
	}

	if n := len(next.Validators); n > 0 {
		dropped := next.Validators[n-1]
		next.Validators = next.Validators[:n-1]
		if len(next.Validators) == 0 {
			next.Validators = nil
		}
		return Mutation{Config: next, Strategy: StrategyDropValidator, Detail: "dropped validator " + dropped.Name}
	}

	if q := Rephrase(next.Query); q != next.Query {
		detail := fmt.Sprintf("%q -> %q", next.Query, q)
		next.Query = q
		return Mutation{Config: next, Strategy: StrategyRephrase, Detail: detail}
	}

	return Mutation{Config: next, Strategy: StrategyNone, Detail: "no applicable mutation"}
}

func widenWindow(cfg models.JobConfig, policy Policy) (Mutation, bool) {
	if policy.MaxLookback <= 0 {
		return Mutation{}, false
	}

	var end time.Time
	switch {
	case cfg.EndDate != nil && !cfg.EndDate.IsZero():
		end = cfg.EndDate.Time
	case !policy.Now.IsZero():
		end = policy.Now
	default:
		return Mutation{}, false
	}

	span := policy.DefaultWindow
	if cfg.StartDate != nil && !cfg.StartDate.IsZero() {
		span = end.Sub(cfg.StartDate.Time)
	}
	if span <= 0 {
		span = policy.DefaultWindow
	}
	if span >= policy.MaxLookback {
		return Mutation{}, false
	}

	widened := span * 2
	if widened > policy.MaxLookback {
		widened = policy.MaxLookback
	}

	cfg.EndDate = models.NewFlexTime(end)
	cfg.StartDate = models.NewFlexTime(end.Add(-widened))
	return Mutation{
		Config:   cfg,
		Strategy: StrategyWidenWindow,
		Detail:   fmt.Sprintf("window %s -> %s", formatSpan(span), formatSpan(widened)),
	}, true
}

func formatSpan(d time.Duration) string {
	days := d / (24 * time.Hour)
	if days > 0 && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return d.String()
}

var (
	quotePattern     = regexp.MustCompile(`["“”]`)
	temporalPattern  = regexp.MustCompile(`(?i)\b((in the )?(last|past|this|previous) (\d+ )?(days?|weeks?|months?|years?|quarter)|today|yesterday|recently|recent|latest|this year)\b`)
	qualifierPattern = regexp.MustCompile(`(?i)\b(only|exactly|specifically|major|significant|big|large|all|any|new)\b`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// Rephrase loosens query text one step at a time: strip quotes, then drop
// temporal phrases (the date window carries time), then drop qualifiers,
// then drop the last word while more than two words remain. It returns the
// input unchanged when no step applies.
func Rephrase(query string) string {
	original := normalizeSpace(query)

	for _, pattern := range []*regexp.Regexp{quotePattern, temporalPattern, qualifierPattern} {
		if q := normalizeSpace(pattern.ReplaceAllString(original, " ")); q != original && q != "" {
			return q
		}
	}

	words := strings.Fields(original)
	if len(words) > 2 {
		return strings.Join(words[:len(words)-1], " ")
	}
	return original
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
