package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	CatchAll    CatchAllConfig  `toml:"catchall"`
	Poll        PollConfig      `toml:"poll"`
	Search      SearchConfig    `toml:"search"`
	Monitor     MonitorConfig   `toml:"monitor"`
	Storage     StorageConfig   `toml:"storage"`
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	LLM         LLMConfig       `toml:"llm"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
}

// CatchAllConfig configures the remote API client
type CatchAllConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`       // Prefer CATCHALL_API_KEY in the environment
	Timeout      string `toml:"timeout"`       // Per-request timeout (default: "30s")
	RateLimit    int    `toml:"rate_limit"`    // Requests per second, 0 disables limiting
	DefaultLimit int    `toml:"default_limit"` // Submit limit when the caller gives none (0 = no limit)
}

// PollConfig configures the poll loop cadence
type PollConfig struct {
	InitialDelay     string `toml:"initial_delay"`     // Wait before the first status check (default: "30s")
	Interval         string `toml:"interval"`          // Wait between status checks (default: "60s")
	StallThreshold   string `toml:"stall_threshold"`   // No-progress time before a job is stuck (default: "15m")
	PageSize         int    `toml:"page_size"`         // Pull page size, capped at 100
	TransientRetries int    `toml:"transient_retries"` // Retries for network/429/5xx errors
	TransientBackoff string `toml:"transient_backoff"` // Base backoff, multiplied by attempt
}

// SearchConfig configures deep search sessions
type SearchConfig struct {
	MaxIterations   int    `toml:"max_iterations"`    // Searches per session (default: 5)
	MinValidRecords int    `toml:"min_valid_records"` // Sufficiency threshold (default: 1)
	UsePreview      bool   `toml:"use_preview"`       // Seed the first config from /initialize
	Planner         string `toml:"planner"`           // "passthrough", "preview" or "llm"
	DefaultWindow   string `toml:"default_window"`    // Window used when widening an open config (default: "168h")
	MaxLookback     string `toml:"max_lookback"`      // Widening never reaches further back (default: "720h")
	ContinueOnCap   bool   `toml:"continue_on_cap"`   // Raise the limit instead of mutating when results hit it
	PresetsFile     string `toml:"presets_file"`      // YAML file of named JobConfig presets
}

// MonitorConfig selects the monitor backend
type MonitorConfig struct {
	Mode           string `toml:"mode"`            // "remote" (CatchAll monitors) or "local" (in-process cron)
	WebhookTimeout string `toml:"webhook_timeout"` // Per-delivery timeout (default: "15s")
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	File   string   `toml:"file"`   // Log file path when output includes "file"
}

// WebSocketConfig controls progress streaming on /ws
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events, e.g. {"job_progress": "1s"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	LLMProviderClaude LLMProvider = "claude"
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig selects the provider used by the LLM planner
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"` // Empty uses the SDK default
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// Monitor backend modes
const (
	MonitorModeRemote = "remote"
	MonitorModeLocal  = "local"
)

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		CatchAll: CatchAllConfig{
			BaseURL:      "https://catchall.newscatcherapi.com/catchAll",
			Timeout:      "30s",
			RateLimit:    5,
			DefaultLimit: 10,
		},
		Poll: PollConfig{
			InitialDelay:     "30s",
			Interval:         "60s",
			StallThreshold:   "15m",
			PageSize:         100,
			TransientRetries: 3,
			TransientBackoff: "5s",
		},
		Search: SearchConfig{
			MaxIterations:   5,
			MinValidRecords: 1,
			UsePreview:      false,
			Planner:         "passthrough",
			DefaultWindow:   "168h",
			MaxLookback:     "720h",
		},
		Monitor: MonitorConfig{
			Mode:           MonitorModeRemote,
			WebhookTimeout: "15s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			File:   "./logs/catchall.log",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"job_progress": "1s", // Max 1 progress update per second
			},
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   1024,
			Timeout:     "60s",
			Temperature: 0.2,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "60s",
			Temperature: 0.2,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files; CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CATCHALL_ENV"); env != "" {
		config.Environment = env
	}

	// API client
	if key := os.Getenv("CATCHALL_API_KEY"); key != "" {
		config.CatchAll.APIKey = key
	} else if key := os.Getenv("NEWSCATCHER_API_KEY"); key != "" {
		config.CatchAll.APIKey = key
	}
	if baseURL := os.Getenv("CATCHALL_BASE_URL"); baseURL != "" {
		config.CatchAll.BaseURL = baseURL
	}
	if timeout := os.Getenv("CATCHALL_TIMEOUT"); timeout != "" {
		config.CatchAll.Timeout = timeout
	}
	if rateLimit := os.Getenv("CATCHALL_RATE_LIMIT"); rateLimit != "" {
		if r, err := strconv.Atoi(rateLimit); err == nil {
			config.CatchAll.RateLimit = r
		}
	}
	if limit := os.Getenv("CATCHALL_DEFAULT_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.CatchAll.DefaultLimit = l
		}
	}

	// Poll loop
	if d := os.Getenv("CATCHALL_POLL_INITIAL_DELAY"); d != "" {
		config.Poll.InitialDelay = d
	}
	if d := os.Getenv("CATCHALL_POLL_INTERVAL"); d != "" {
		config.Poll.Interval = d
	}
	if d := os.Getenv("CATCHALL_POLL_STALL_THRESHOLD"); d != "" {
		config.Poll.StallThreshold = d
	}
	if size := os.Getenv("CATCHALL_POLL_PAGE_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			config.Poll.PageSize = s
		}
	}
	if retries := os.Getenv("CATCHALL_POLL_TRANSIENT_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Poll.TransientRetries = r
		}
	}

	// Search
	if iterations := os.Getenv("CATCHALL_SEARCH_MAX_ITERATIONS"); iterations != "" {
		if n, err := strconv.Atoi(iterations); err == nil {
			config.Search.MaxIterations = n
		}
	}
	if minValid := os.Getenv("CATCHALL_SEARCH_MIN_VALID_RECORDS"); minValid != "" {
		if n, err := strconv.Atoi(minValid); err == nil {
			config.Search.MinValidRecords = n
		}
	}
	if planner := os.Getenv("CATCHALL_SEARCH_PLANNER"); planner != "" {
		config.Search.Planner = planner
	}
	if preview := os.Getenv("CATCHALL_SEARCH_USE_PREVIEW"); preview != "" {
		if b, err := strconv.ParseBool(preview); err == nil {
			config.Search.UsePreview = b
		}
	}

	// Monitor
	if mode := os.Getenv("CATCHALL_MONITOR_MODE"); mode != "" {
		config.Monitor.Mode = mode
	}

	// Storage
	if badgerPath := os.Getenv("CATCHALL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Server
	if port := os.Getenv("CATCHALL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CATCHALL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging
	if level := os.Getenv("CATCHALL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CATCHALL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// LLM
	if provider := os.Getenv("CATCHALL_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if model := os.Getenv("CATCHALL_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if model := os.Getenv("CATCHALL_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate rejects enumerated settings with unknown values
func (c *Config) Validate() error {
	switch c.Monitor.Mode {
	case MonitorModeRemote, MonitorModeLocal:
	default:
		return fmt.Errorf("invalid monitor.mode %q: expected %q or %q", c.Monitor.Mode, MonitorModeRemote, MonitorModeLocal)
	}
	switch c.Search.Planner {
	case "passthrough", "preview", "llm":
	default:
		return fmt.Errorf("invalid search.planner %q: expected passthrough, preview or llm", c.Search.Planner)
	}
	switch c.LLM.DefaultProvider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid llm.default_provider %q", c.LLM.DefaultProvider)
	}
	if c.Poll.PageSize < 1 || c.Poll.PageSize > 100 {
		return fmt.Errorf("invalid poll.page_size %d: must be between 1 and 100", c.Poll.PageSize)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key by name with environment variable priority.
// Resolution order: environment variables -> config fallback -> error.
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"catchall": {"CATCHALL_API_KEY", "NEWSCATCHER_API_KEY"},
		"claude":   {"ANTHROPIC_API_KEY", "CATCHALL_CLAUDE_API_KEY"},
		"gemini":   {"CATCHALL_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}

	for _, envVarName := range keyToEnvMapping[name] {
		if envValue := os.Getenv(envVarName); envValue != "" {
			return envValue, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ParseDuration parses a config duration string. Empty or invalid values
// return fallback; invalid ones are logged.
func ParseDuration(logger arbor.ILogger, key, value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		if logger != nil {
			logger.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", fallback).
				Msg("Invalid duration in config, using default")
		}
		return fallback
	}
	return d
}
