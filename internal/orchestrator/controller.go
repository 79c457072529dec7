// Package orchestrator runs deep-search sessions: plan a query, drive the job
// to completion, judge the results and retry with a mutated query until the
// results are sufficient or the iteration budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/planner"
	"github.com/ternarybob/catchall/internal/poll"
	"github.com/ternarybob/catchall/internal/results"
)

// DefaultMaxIterations bounds the searches of one session
const DefaultMaxIterations = 5

// Options are the controller defaults; a Request may override them
type Options struct {
	MaxIterations   int
	MinValidRecords int
	// DefaultWindow and MaxLookback bound date-window widening
	DefaultWindow time.Duration
	MaxLookback   time.Duration
	// ContinueOnCap raises the limit of a capped job instead of mutating the query
	ContinueOnCap bool
}

// Request is one deep-search session
type Request struct {
	planner.Request

	// SessionID is used for the session when set, otherwise one is generated
	SessionID string

	// MinValidRecords overrides Options.MinValidRecords when positive
	MinValidRecords int
	// MaxIterations overrides Options.MaxIterations when positive
	MaxIterations int
	// OnProgress receives poll progress of every attempt
	OnProgress poll.Observer
}

// Outcome is the result of a session, returned on success, exhaustion and
// cancellation alike.
type Outcome struct {
	SessionID   string
	State       models.SessionState
	Transitions []models.SessionState
	Attempts    []models.Attempt
	// Best is the attempt result set with the most valid records
	Best *models.ResultSet
	// Results is the winning job's results on success, otherwise the union
	// of every attempt
	Results       *models.ResultSet
	WinningJobID  string
	WinningConfig *models.JobConfig
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Session converts the outcome into its persisted form
func (o *Outcome) Session(intent string, err error) *models.Session {
	s := &models.Session{
		ID:            o.SessionID,
		Intent:        intent,
		State:         o.State,
		Transitions:   append([]models.SessionState(nil), o.Transitions...),
		Attempts:      append([]models.Attempt(nil), o.Attempts...),
		WinningJobID:  o.WinningJobID,
		WinningConfig: o.WinningConfig,
		Results:       o.Results,
		CreatedAt:     o.StartedAt,
		UpdatedAt:     o.FinishedAt,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Controller runs sessions. It holds no per-session state, so one
// Controller may run any number of sessions concurrently.
type Controller struct {
	api      interfaces.JobAPI
	loop     *poll.Loop
	planner  *planner.Planner
	events   interfaces.EventService
	sessions interfaces.SessionStorage
	options  Options
	logger   arbor.ILogger
	now      func() time.Time
}

// NewController creates a controller. events and sessions may be nil.
func NewController(api interfaces.JobAPI, loop *poll.Loop, p *planner.Planner, events interfaces.EventService, sessions interfaces.SessionStorage, options Options, logger arbor.ILogger) *Controller {
	if options.MaxIterations <= 0 {
		options.MaxIterations = DefaultMaxIterations
	}
	if options.DefaultWindow <= 0 {
		options.DefaultWindow = 7 * 24 * time.Hour
	}
	if options.MaxLookback <= 0 {
		options.MaxLookback = 30 * 24 * time.Hour
	}
	return &Controller{
		api:      api,
		loop:     loop,
		planner:  p,
		events:   events,
		sessions: sessions,
		options:  options,
		logger:   logger,
		now:      time.Now,
	}
}

// session is the mutable state of one Run
type session struct {
	outcome *Outcome
	logger  arbor.ILogger
	sets    []*models.ResultSet
}

// Run executes one session. On success it returns the outcome and nil. When
// the iteration budget runs out it returns the outcome with a
// *RetriesExhaustedError. Auth and validation errors end the session
// immediately. Cancellation returns the partial outcome with ctx.Err(); jobs
// already submitted keep running remotely and are listed in Attempts.
func (c *Controller) Run(ctx context.Context, req Request) (*Outcome, error) {
	maxIterations := c.options.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}
	evaluator := SufficiencyEvaluator{MinValidRecords: c.options.MinValidRecords}
	if req.MinValidRecords > 0 {
		evaluator.MinValidRecords = req.MinValidRecords
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = common.NewSessionID()
	}
	s := &session{
		outcome: &Outcome{SessionID: sessionID, StartedAt: c.now()},
	}
	s.logger = c.logger.WithCorrelationId(s.outcome.SessionID)

	s.logger.Info().
		Str("intent", req.Intent).
		Int("max_iterations", maxIterations).
		Int("min_valid_records", evaluator.Required()).
		Msg("Deep search started")
	c.publish(ctx, interfaces.EventSessionStarted, map[string]interface{}{
		"session_id": s.outcome.SessionID,
		"intent":     req.Intent,
	})

	c.transition(ctx, s, models.SessionPlanning)
	cfg, err := c.planner.Plan(ctx, req.Request)
	if err != nil {
		return c.finish(ctx, s, req, err)
	}

	var (
		iteration int
		strategy  = planner.PlanPassthrough
		detail    string
		cont      *continuation
		// continueFailed stops continue-on-cap for the rest of the session
		continueFailed bool
	)

	for {
		c.transition(ctx, s, models.SessionSearching)

		attempt := models.Attempt{
			Iteration: iteration + 1,
			Config:    cfg.Clone(),
			Strategy:  strategy,
			Detail:    detail,
			StartedAt: c.now(),
		}

		var (
			jobID     string
			agg       *results.Aggregator
			submitErr error
		)
		if cont != nil {
			jobID, agg = cont.jobID, cont.agg
			if _, err := c.api.Continue(ctx, jobID, cont.newLimit); err != nil {
				// Only auth and cancellation end the session here
				if interrupted(ctx, err) {
					return c.finish(ctx, s, req, err)
				}
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Continue rejected, mutating query instead")
				cont = nil
				continueFailed = true
				mutation := planner.Mutate(cfg, planner.ReasonInsufficient, c.mutationPolicy())
				cfg = mutation.Config
				attempt.Config = cfg.Clone()
				attempt.Strategy = string(mutation.Strategy)
				attempt.Detail = mutation.Detail
			} else {
				cfg.Limit = cont.newLimit
				attempt.Config.Limit = cont.newLimit
			}
		}
		if cont == nil {
			agg = results.NewAggregator()
			jobID, submitErr = c.api.Submit(ctx, cfg)
			if submitErr != nil && fatal(ctx, submitErr) {
				return c.finish(ctx, s, req, submitErr)
			}
		}
		cont = nil
		attempt.JobID = jobID

		var reason planner.Reason
		if submitErr != nil {
			reason = planner.ReasonFailed
			attempt.Outcome = "submit_failed: " + submitErr.Error()
		} else {
			c.publish(ctx, interfaces.EventJobSubmitted, map[string]interface{}{
				"session_id": s.outcome.SessionID,
				"job_id":     jobID,
				"iteration":  attempt.Iteration,
				"query":      cfg.Query,
				"strategy":   attempt.Strategy,
			})

			_, runErr := c.loop.Run(ctx, jobID, agg, c.observer(ctx, s, attempt.Iteration, req.OnProgress))
			snapshot := agg.Snapshot()
			attempt.ValidRecords = snapshot.ValidRecords
			s.record(snapshot)

			var (
				stuck  *poll.StuckJobError
				failed *poll.JobFailedError
			)
			switch {
			case runErr == nil:
				c.transition(ctx, s, models.SessionEvaluating)
				if evalErr := evaluator.Evaluate(snapshot); evalErr != nil {
					reason = planner.ReasonInsufficient
					attempt.Outcome = "insufficient: " + evalErr.Error()
				} else {
					attempt.Outcome = "sufficient"
					attempt.FinishedAt = c.now()
					s.outcome.Attempts = append(s.outcome.Attempts, attempt)

					c.transition(ctx, s, models.SessionSynthesizing)
					winning := cfg.Clone()
					s.outcome.WinningJobID = jobID
					s.outcome.WinningConfig = &winning
					s.outcome.Results = snapshot
					c.transition(ctx, s, models.SessionSucceeded)
					return c.finish(ctx, s, req, nil)
				}
			case errors.As(runErr, &stuck):
				reason = planner.ReasonStuck
				attempt.Outcome = "stuck: " + runErr.Error()
			case errors.As(runErr, &failed):
				reason = planner.ReasonFailed
				attempt.Outcome = "failed: " + runErr.Error()
			case fatal(ctx, runErr):
				attempt.Outcome = "aborted: " + runErr.Error()
				attempt.FinishedAt = c.now()
				s.outcome.Attempts = append(s.outcome.Attempts, attempt)
				return c.finish(ctx, s, req, runErr)
			default:
				reason = planner.ReasonFailed
				attempt.Outcome = "error: " + runErr.Error()
			}
		}

		attempt.FinishedAt = c.now()
		s.outcome.Attempts = append(s.outcome.Attempts, attempt)
		s.logger.Info().
			Int("iteration", attempt.Iteration).
			Str("job_id", jobID).
			Str("strategy", attempt.Strategy).
			Int("valid_records", attempt.ValidRecords).
			Str("outcome", attempt.Outcome).
			Msg("Attempt finished")
		c.publish(ctx, interfaces.EventAttemptFinished, map[string]interface{}{
			"session_id":    s.outcome.SessionID,
			"iteration":     attempt.Iteration,
			"job_id":        jobID,
			"valid_records": attempt.ValidRecords,
			"outcome":       attempt.Outcome,
		})

		c.transition(ctx, s, models.SessionRetrying)
		iteration++
		if iteration >= maxIterations {
			c.transition(ctx, s, models.SessionExhausted)
			return c.finish(ctx, s, req, nil)
		}

		if reason == planner.ReasonInsufficient && c.options.ContinueOnCap && !continueFailed && agg != nil {
			if newLimit, ok := raisedLimit(cfg.Limit, attempt.ValidRecords, evaluator.Required()); ok {
				cont = &continuation{jobID: jobID, agg: agg, newLimit: newLimit}
				strategy = strategyContinue
				detail = fmt.Sprintf("limit %d -> %d", cfg.Limit, newLimit)
				continue
			}
		}

		mutation := planner.Mutate(cfg, reason, c.mutationPolicy())
		cfg = mutation.Config
		strategy = string(mutation.Strategy)
		detail = mutation.Detail
	}
}

// strategyContinue marks an attempt that raised a capped job's limit
const strategyContinue = "continue_limit"

// continuation resumes a capped job with a raised limit
type continuation struct {
	jobID    string
	agg      *results.Aggregator
	newLimit int
}

// raisedLimit reports whether a job stopped at its limit short of the
// minimum, and the limit to continue with
func raisedLimit(limit, valid, required int) (int, bool) {
	if limit <= 0 || valid < limit || valid >= required {
		return 0, false
	}
	next := limit * 2
	if next < required {
		next = required
	}
	return next, true
}

func (c *Controller) mutationPolicy() planner.Policy {
	return planner.Policy{
		DefaultWindow: c.options.DefaultWindow,
		MaxLookback:   c.options.MaxLookback,
		Now:           c.now(),
	}
}

// fatal reports errors that end a session instead of triggering a retry
func fatal(ctx context.Context, err error) bool {
	return interrupted(ctx, err) || catchall.IsValidationError(err)
}

// interrupted reports cancellation and auth failures
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		catchall.IsAuthError(err)
}

func (s *session) record(rs *models.ResultSet) {
	s.sets = append(s.sets, rs)
	if s.outcome.Best == nil || rs.ValidRecords > s.outcome.Best.ValidRecords {
		s.outcome.Best = rs
	}
}

func (c *Controller) transition(ctx context.Context, s *session, state models.SessionState) {
	from := s.outcome.State
	s.outcome.State = state
	s.outcome.Transitions = append(s.outcome.Transitions, state)
	s.logger.Debug().Str("from", string(from)).Str("to", string(state)).Msg("Session transition")
	c.publish(ctx, interfaces.EventSessionTransition, map[string]interface{}{
		"session_id": s.outcome.SessionID,
		"from":       string(from),
		"to":         string(state),
	})
}

func (c *Controller) observer(ctx context.Context, s *session, iteration int, next poll.Observer) poll.Observer {
	return func(p poll.Progress) {
		c.publish(ctx, interfaces.EventJobProgress, map[string]interface{}{
			"session_id":      s.outcome.SessionID,
			"iteration":       iteration,
			"job_id":          p.JobID,
			"status":          p.Status.String(),
			"completed_steps": p.CompletedSteps,
			"total_steps":     p.TotalSteps,
			"valid_records":   p.ValidRecords,
			"records":         p.Records,
		})
		if next != nil {
			next(p)
		}
	}
}

// finish settles the terminal state, persists the session and maps the
// result onto the returned error
func (c *Controller) finish(ctx context.Context, s *session, req Request, err error) (*Outcome, error) {
	o := s.outcome

	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		c.transition(ctx, s, models.SessionCancelled)
	case err != nil:
		c.transition(ctx, s, models.SessionErrored)
	}

	if o.Results == nil {
		o.Results = results.Union(s.sets...)
	}
	if o.Best == nil {
		o.Best = &models.ResultSet{}
	}
	o.FinishedAt = c.now()

	if o.State == models.SessionExhausted {
		err = &RetriesExhaustedError{Attempts: len(o.Attempts), Best: o.Best, Results: o.Results}
	}

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("state", string(o.State)).
			Int("attempts", len(o.Attempts)).
			Int("records", o.Results.Len()).
			Msg("Deep search finished without sufficient results")
	} else {
		s.logger.Info().
			Str("state", string(o.State)).
			Int("attempts", len(o.Attempts)).
			Int("records", o.Results.Len()).
			Dur("elapsed", o.FinishedAt.Sub(o.StartedAt)).
			Msg("Deep search finished")
	}

	// Persist even when the caller's context is gone
	persistCtx := context.WithoutCancel(ctx)
	if c.sessions != nil {
		if saveErr := c.sessions.SaveSession(persistCtx, o.Session(req.Intent, err)); saveErr != nil {
			s.logger.Warn().Err(saveErr).Msg("Failed to save session")
		}
	}
	c.publish(persistCtx, interfaces.EventSessionFinished, map[string]interface{}{
		"session_id": o.SessionID,
		"state":      string(o.State),
		"attempts":   len(o.Attempts),
		"records":    o.Results.Len(),
	})

	return o, err
}

func (c *Controller) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		c.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
