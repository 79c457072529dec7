// Package planner turns a natural-language intent into the first JobConfig
// of a session and derives follow-up configs when a search falls short.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
)

const (
	// PlanPassthrough submits the intent as the query
	PlanPassthrough = "passthrough"
	// PlanPreview asks the service to suggest validators, enrichments and a window
	PlanPreview = "preview"
	// PlanLLM has a language model draft the query and context first
	PlanLLM = "llm"
)

// Draft is a query drafted from an intent
type Draft struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

// Drafter writes a search query for an intent
type Drafter interface {
	Draft(ctx context.Context, intent string) (*Draft, error)
}

// Options configures a Planner
type Options struct {
	// Strategy is one of PlanPassthrough, PlanPreview, PlanLLM
	Strategy string
	// UsePreview applies the preview suggestion after drafting
	UsePreview bool
	// DefaultLimit applies when a request has no limit; 0 fetches all
	DefaultLimit int
}

// Request is what a caller wants searched
type Request struct {
	Intent  string
	Context string
	Limit   int
	// Config, when set, is used as given (caller-customized planning)
	Config *models.JobConfig
	// Preset names a YAML preset whose validators and enrichments are applied
	Preset string
}

// Planner produces initial job configs
type Planner struct {
	previewer interfaces.Previewer
	drafter   Drafter
	presets   map[string]models.JobConfig
	options   Options
	logger    arbor.ILogger
}

// NewPlanner creates a planner. previewer and drafter may be nil; the
// strategies needing them then fall back to passthrough.
func NewPlanner(previewer interfaces.Previewer, drafter Drafter, presets map[string]models.JobConfig, options Options, logger arbor.ILogger) *Planner {
	if options.Strategy == "" {
		options.Strategy = PlanPassthrough
	}
	return &Planner{
		previewer: previewer,
		drafter:   drafter,
		presets:   presets,
		options:   options,
		logger:    logger,
	}
}

// Plan returns the first JobConfig for req. Drafting and preview failures
// degrade to passthrough; auth failures do not, since every later call
// would fail the same way.
func (p *Planner) Plan(ctx context.Context, req Request) (models.JobConfig, error) {
	limit := req.Limit
	if limit == 0 {
		limit = p.options.DefaultLimit
	}

	if req.Config != nil {
		cfg := req.Config.Clone()
		if cfg.Query == "" {
			cfg.Query = strings.TrimSpace(req.Intent)
		}
		if cfg.Limit == 0 {
			cfg.Limit = limit
		}
		return p.finish(cfg, req.Preset)
	}

	intent := strings.TrimSpace(req.Intent)
	if intent == "" {
		return models.JobConfig{}, catchall.NewValidationError("intent must not be empty", "body", "query")
	}

	query, queryContext := intent, req.Context

	if p.options.Strategy == PlanLLM && p.drafter != nil {
		draft, err := p.drafter.Draft(ctx, intent)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return models.JobConfig{}, ctx.Err()
			}
			p.logger.Warn().Err(err).Str("intent", intent).Msg("Query drafting failed, using intent as query")
		case strings.TrimSpace(draft.Query) != "":
			query = strings.TrimSpace(draft.Query)
			if queryContext == "" {
				queryContext = strings.TrimSpace(draft.Context)
			}
			p.logger.Debug().Str("intent", intent).Str("query", query).Msg("Query drafted")
		}
	}

	cfg := models.JobConfig{Query: query, Context: queryContext, Limit: limit}

	if (p.options.Strategy == PlanPreview || p.options.UsePreview) && p.previewer != nil {
		preview, err := p.previewer.Initialize(ctx, query, queryContext)
		switch {
		case err == nil:
			cfg = preview.ToJobConfig(query, queryContext, limit)
			p.logger.Debug().
				Str("query", query).
				Int("validators", len(cfg.Validators)).
				Int("enrichments", len(cfg.Enrichments)).
				Msg("Applied preview suggestion")
		case catchall.IsAuthError(err) || ctx.Err() != nil:
			return models.JobConfig{}, err
		default:
			p.logger.Warn().Err(err).Str("query", query).Msg("Preview failed, submitting without suggestion")
		}
	}

	return p.finish(cfg, req.Preset)
}

func (p *Planner) finish(cfg models.JobConfig, preset string) (models.JobConfig, error) {
	if preset != "" {
		tmpl, ok := p.presets[preset]
		if !ok {
			return models.JobConfig{}, catchall.NewValidationError(fmt.Sprintf("unknown preset %q", preset), "preset")
		}
		cfg = ApplyPreset(cfg, tmpl)
	}

	if fields := cfg.Validate(); len(fields) > 0 {
		return models.JobConfig{}, &catchall.ValidationError{Fields: fields}
	}
	return cfg, nil
}
