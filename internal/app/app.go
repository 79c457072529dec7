package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/handlers"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/ternarybob/catchall/internal/monitor"
	"github.com/ternarybob/catchall/internal/orchestrator"
	"github.com/ternarybob/catchall/internal/planner"
	"github.com/ternarybob/catchall/internal/poll"
	"github.com/ternarybob/catchall/internal/services/events"
	"github.com/ternarybob/catchall/internal/services/llm"
	"github.com/ternarybob/catchall/internal/storage/badger"
	"github.com/ternarybob/catchall/internal/webhook"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *badger.Manager

	// Event bus for session, poll and monitor progress
	EventService *events.Service

	// CatchAll access
	Client   *catchall.Client
	PollLoop *poll.Loop

	// Deep search
	LLMService *llm.ProviderFactory // nil unless search.planner = "llm"
	Planner    *planner.Planner
	Controller *orchestrator.Controller

	// Monitors
	MonitorBackend interfaces.MonitorAPI
	LocalMonitors  *monitor.LocalBackend // nil in remote mode
	Monitors       *monitor.Manager

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	SessionHandler *handlers.SessionHandler
	MonitorHandler *handlers.MonitorHandler
	WSHandler      *handlers.WebSocketHandler

	unsubscribeLogger func()
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Debug().
		Str("base_url", cfg.CatchAll.BaseURL).
		Str("planner", cfg.Search.Planner).
		Str("monitor_mode", cfg.Monitor.Mode).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	// 1. Events, with every event mirrored to the log at debug level
	a.EventService = events.NewService(a.Logger)
	unsubscribe, err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	a.unsubscribeLogger = unsubscribe

	// 2. CatchAll client
	apiKey, err := common.ResolveAPIKey("catchall", cfg.CatchAll.APIKey)
	if err != nil {
		// Commands that only read local storage still work without a key
		a.Logger.Warn().Msg("No CatchAll API key configured (set CATCHALL_API_KEY); remote calls will fail")
	}
	a.Client = catchall.NewClient(apiKey,
		catchall.WithBaseURL(cfg.CatchAll.BaseURL),
		catchall.WithTimeout(common.ParseDuration(a.Logger, "catchall.timeout", cfg.CatchAll.Timeout, catchall.DefaultTimeout)),
		catchall.WithRateLimit(cfg.CatchAll.RateLimit),
		catchall.WithLogger(a.Logger),
	)

	// 3. Poll loop
	a.PollLoop = poll.NewLoop(a.Client, PollPolicy(cfg, a.Logger), a.Logger)

	// 4. Planner, optionally with an LLM drafter
	var presets map[string]models.JobConfig
	if cfg.Search.PresetsFile != "" {
		presets, err = planner.LoadPresets(cfg.Search.PresetsFile)
		if err != nil {
			return err
		}
		a.Logger.Debug().Int("presets", len(presets)).Str("file", cfg.Search.PresetsFile).Msg("Loaded job config presets")
	}

	var drafter planner.Drafter
	if cfg.Search.Planner == planner.PlanLLM {
		a.LLMService = llm.NewProviderFactory(&cfg.Gemini, &cfg.Claude, &cfg.LLM, a.Logger)
		drafter = llm.NewQueryDrafter(a.LLMService, "", a.Logger)
	}

	a.Planner = planner.NewPlanner(a.Client, drafter, presets, planner.Options{
		Strategy:     cfg.Search.Planner,
		UsePreview:   cfg.Search.UsePreview,
		DefaultLimit: cfg.CatchAll.DefaultLimit,
	}, a.Logger)

	// 5. Retry controller
	a.Controller = orchestrator.NewController(
		a.Client,
		a.PollLoop,
		a.Planner,
		a.EventService,
		a.StorageManager.SessionStorage(),
		orchestrator.Options{
			MaxIterations:   cfg.Search.MaxIterations,
			MinValidRecords: cfg.Search.MinValidRecords,
			DefaultWindow:   common.ParseDuration(a.Logger, "search.default_window", cfg.Search.DefaultWindow, 7*24*time.Hour),
			MaxLookback:     common.ParseDuration(a.Logger, "search.max_lookback", cfg.Search.MaxLookback, 30*24*time.Hour),
			ContinueOnCap:   cfg.Search.ContinueOnCap,
		},
		a.Logger,
	)

	// 6. Monitors: CatchAll-hosted or in-process
	a.MonitorBackend = a.Client
	if cfg.Monitor.Mode == common.MonitorModeLocal {
		deliverer := webhook.NewDeliverer(common.ParseDuration(a.Logger, "monitor.webhook_timeout", cfg.Monitor.WebhookTimeout, 15*time.Second), a.Logger)
		a.LocalMonitors = monitor.NewLocalBackend(a.Client, a.PollLoop, a.StorageManager.MonitorStorage(), deliverer, a.EventService, a.Logger)
		a.MonitorBackend = a.LocalMonitors
	}
	a.Monitors = monitor.NewManager(a.Client, a.MonitorBackend, a.StorageManager.SessionStorage(), a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Config.Monitor.Mode, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.Controller, a.StorageManager.SessionStorage(), a.Logger)

	var runner handlers.MonitorRunner
	if a.LocalMonitors != nil {
		runner = a.LocalMonitors
	}
	a.MonitorHandler = handlers.NewMonitorHandler(a.Monitors, runner, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
}

// StartMonitors starts the local monitor scheduler. It does nothing in
// remote mode, where CatchAll runs the schedule.
func (a *App) StartMonitors(ctx context.Context) error {
	if a.LocalMonitors == nil {
		return nil
	}
	return a.LocalMonitors.Start(ctx)
}

// PollPolicy builds the poll cadence from configuration
func PollPolicy(cfg *common.Config, logger arbor.ILogger) poll.Policy {
	policy := poll.DefaultPolicy()
	policy.InitialDelay = common.ParseDuration(logger, "poll.initial_delay", cfg.Poll.InitialDelay, policy.InitialDelay)
	policy.Interval = common.ParseDuration(logger, "poll.interval", cfg.Poll.Interval, policy.Interval)
	policy.StallThreshold = common.ParseDuration(logger, "poll.stall_threshold", cfg.Poll.StallThreshold, policy.StallThreshold)
	policy.TransientBackoff = common.ParseDuration(logger, "poll.transient_backoff", cfg.Poll.TransientBackoff, policy.TransientBackoff)
	if cfg.Poll.PageSize > 0 {
		policy.PageSize = cfg.Poll.PageSize
	}
	if cfg.Poll.TransientRetries >= 0 {
		policy.TransientRetries = cfg.Poll.TransientRetries
	}
	return policy
}

// Close stops background work and releases storage
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.SessionHandler != nil {
		a.SessionHandler.Close()
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.LocalMonitors != nil {
		a.LocalMonitors.Stop()
	}
	if a.LLMService != nil {
		a.LLMService.Close()
	}
	if a.unsubscribeLogger != nil {
		a.unsubscribeLogger()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
