package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Market       MarketConfig       `toml:"market"`
	Prices       PricesConfig       `toml:"prices"`
	News         NewsConfig         `toml:"news"`
	Relevance    RelevanceConfig    `toml:"relevance"`
	Strategy     StrategyConfig     `toml:"strategy"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	EODHD        EODHDConfig        `toml:"eodhd"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Claude       ClaudeConfig       `toml:"claude"`
	LLM          LLMConfig          `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Type   string       `toml:"type"` // "badger" or "memory"
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// MarketConfig describes the trading session prices are polled in.
type MarketConfig struct {
	Timezone        string   `toml:"timezone"`     // IANA zone, e.g. "Asia/Seoul"
	Open            string   `toml:"open"`         // "09:00"
	Close           string   `toml:"close"`        // "15:30"
	WorkingDays     []string `toml:"working_days"` // "Mon".."Sun"
	Holidays        []string `toml:"holidays"`     // "2006-01-02"
	DefaultExchange string   `toml:"default_exchange"`
}

type PricesConfig struct {
	Interval         time.Duration `toml:"-"`                 // Poll interval inside the session
	QuoteTimeout     time.Duration `toml:"-"`                 // Per-symbol fetch timeout
	CycleDeadline    time.Duration `toml:"-"`                 // Whole-batch deadline
	FailureThreshold int           `toml:"failure_threshold"` // Consecutive failed cycles before backing off
	MaxBackoff       time.Duration `toml:"-"`                 // Upper bound for the backed-off interval
	TrendWindow      int           `toml:"trend_window"`      // Snapshots used to compute the price trend
}

// NewsSourceConfig configures a scraped HTML search page.
type NewsSourceConfig struct {
	ID           string `toml:"id"`
	Enabled      bool   `toml:"enabled"`
	SearchURL    string `toml:"search_url"` // "%s" is replaced with the escaped keyword
	ItemSel      string `toml:"item_selector"`
	TitleSel     string `toml:"title_selector"`
	BodySel      string `toml:"body_selector"`
	DateSel      string `toml:"date_selector"`
	PublisherSel string `toml:"publisher_selector"`
}

type NewsConfig struct {
	Interval              time.Duration      `toml:"-"`                        // Per-keyword re-crawl TTL
	MaxArticlesPerKeyword int                `toml:"max_articles_per_keyword"` // Cap per keyword per collection
	RecencyWindow         time.Duration      `toml:"-"`                        // Dedup and acceptance window
	RateLimit             time.Duration      `toml:"-"`                        // Minimum delay between requests to one source
	RetryAttempts         int                `toml:"retry_attempts"`
	InitialBackoff        time.Duration      `toml:"-"`
	MaxBackoff            time.Duration      `toml:"-"`
	RequestTimeout        time.Duration      `toml:"-"`
	UserAgent             string             `toml:"user_agent"`
	EODHDEnabled          bool               `toml:"eodhd_enabled"`
	Sources               []NewsSourceConfig `toml:"sources"`
}

type RelevanceConfig struct {
	Threshold      float64       `toml:"threshold"`
	TopK           int           `toml:"top_k"`
	HalfLife       time.Duration `toml:"-"`
	AlertThreshold float64       `toml:"alert_threshold"` // NEWS_ALERT at or above this relevance; 0 disables
}

type StrategyConfig struct {
	Interval         time.Duration `toml:"-"`
	PromptBudget     int           `toml:"prompt_budget"`    // Characters of article context per prompt
	ConfidenceDelta  float64       `toml:"confidence_delta"` // Minimum confidence move that counts as a change
	RetryAttempts    int           `toml:"retry_attempts"`
	InitialBackoff   time.Duration `toml:"-"`
	MaxBackoff       time.Duration `toml:"-"`
	InferenceTimeout time.Duration `toml:"-"`
	Model            string        `toml:"model"` // Empty uses the default provider model
}

type OrchestratorConfig struct {
	Enabled        bool `toml:"enabled"`
	MaxConcurrency int  `toml:"max_concurrency"` // Global cap on concurrently running cycles
}

type EODHDConfig struct {
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"` // Requests per second
}

// WebSocketConfig contains configuration for client notification sockets
type WebSocketConfig struct {
	WriteTimeout time.Duration `toml:"-"`
	PingInterval time.Duration `toml:"-"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the default inference provider
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/tradepulse",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Market: MarketConfig{
			Timezone:        "Asia/Seoul",
			Open:            "09:00",
			Close:           "15:30",
			WorkingDays:     []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			DefaultExchange: "KRX",
		},
		Prices: PricesConfig{
			Interval:         5 * time.Minute,
			QuoteTimeout:     10 * time.Second,
			CycleDeadline:    60 * time.Second,
			FailureThreshold: 3,
			MaxBackoff:       time.Hour,
			TrendWindow:      12,
		},
		News: NewsConfig{
			Interval:              time.Hour,
			MaxArticlesPerKeyword: 10,
			RecencyWindow:         72 * time.Hour,
			RateLimit:             time.Second,
			RetryAttempts:         3,
			InitialBackoff:        time.Second,
			MaxBackoff:            10 * time.Second,
			RequestTimeout:        15 * time.Second,
			UserAgent:             "Mozilla/5.0 (compatible; tradepulse/1.0)",
			EODHDEnabled:          true,
			Sources:               DefaultNewsSources(),
		},
		Relevance: RelevanceConfig{
			Threshold:      0.3,
			TopK:           5,
			HalfLife:       24 * time.Hour,
			AlertThreshold: 0.8,
		},
		Strategy: StrategyConfig{
			Interval:         2 * time.Hour,
			PromptBudget:     6000,
			ConfidenceDelta:  0.15,
			RetryAttempts:    3,
			InitialBackoff:   2 * time.Second,
			MaxBackoff:       30 * time.Second,
			InferenceTimeout: 60 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			Enabled:        true,
			MaxConcurrency: 4,
		},
		EODHD: EODHDConfig{
			BaseURL:   "https://eodhd.com/api",
			RateLimit: 10,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// DefaultNewsSources returns the portal news search pages scraped by default.
func DefaultNewsSources() []NewsSourceConfig {
	return []NewsSourceConfig{
		{
			ID:           "naver",
			Enabled:      true,
			SearchURL:    "https://search.naver.com/search.naver?where=news&query=%s&sort=1",
			ItemSel:      ".news_area",
			TitleSel:     ".news_tit",
			BodySel:      ".news_dsc",
			DateSel:      ".info_group .info",
			PublisherSel: ".info_group .press",
		},
		{
			ID:           "daum",
			Enabled:      true,
			SearchURL:    "https://search.daum.net/search?w=news&q=%s&sort=recency",
			ItemSel:      ".item-news",
			TitleSel:     ".tit-news a",
			BodySel:      ".desc",
			DateSel:      ".info-news .txt-date",
			PublisherSel: ".info-news .txt-cp",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
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

		var durations fileDurations
		if err := toml.Unmarshal(data, &durations); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		if err := durations.apply(config); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// fileDurations holds the duration keys of a config file. TOML has no duration
// type, so files carry them as strings ("5m") that are parsed onto Config.
type fileDurations struct {
	Prices struct {
		Interval      string `toml:"interval"`
		QuoteTimeout  string `toml:"quote_timeout"`
		CycleDeadline string `toml:"cycle_deadline"`
		MaxBackoff    string `toml:"max_backoff"`
	} `toml:"prices"`
	News struct {
		Interval       string `toml:"interval"`
		RecencyWindow  string `toml:"recency_window"`
		RateLimit      string `toml:"rate_limit"`
		InitialBackoff string `toml:"initial_backoff"`
		MaxBackoff     string `toml:"max_backoff"`
		RequestTimeout string `toml:"request_timeout"`
	} `toml:"news"`
	Relevance struct {
		HalfLife string `toml:"half_life"`
	} `toml:"relevance"`
	Strategy struct {
		Interval         string `toml:"interval"`
		InitialBackoff   string `toml:"initial_backoff"`
		MaxBackoff       string `toml:"max_backoff"`
		InferenceTimeout string `toml:"inference_timeout"`
	} `toml:"strategy"`
	WebSocket struct {
		WriteTimeout string `toml:"write_timeout"`
		PingInterval string `toml:"ping_interval"`
	} `toml:"websocket"`
}

func (f *fileDurations) apply(config *Config) error {
	fields := []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{"prices.interval", f.Prices.Interval, &config.Prices.Interval},
		{"prices.quote_timeout", f.Prices.QuoteTimeout, &config.Prices.QuoteTimeout},
		{"prices.cycle_deadline", f.Prices.CycleDeadline, &config.Prices.CycleDeadline},
		{"prices.max_backoff", f.Prices.MaxBackoff, &config.Prices.MaxBackoff},
		{"news.interval", f.News.Interval, &config.News.Interval},
		{"news.recency_window", f.News.RecencyWindow, &config.News.RecencyWindow},
		{"news.rate_limit", f.News.RateLimit, &config.News.RateLimit},
		{"news.initial_backoff", f.News.InitialBackoff, &config.News.InitialBackoff},
		{"news.max_backoff", f.News.MaxBackoff, &config.News.MaxBackoff},
		{"news.request_timeout", f.News.RequestTimeout, &config.News.RequestTimeout},
		{"relevance.half_life", f.Relevance.HalfLife, &config.Relevance.HalfLife},
		{"strategy.interval", f.Strategy.Interval, &config.Strategy.Interval},
		{"strategy.initial_backoff", f.Strategy.InitialBackoff, &config.Strategy.InitialBackoff},
		{"strategy.max_backoff", f.Strategy.MaxBackoff, &config.Strategy.MaxBackoff},
		{"strategy.inference_timeout", f.Strategy.InferenceTimeout, &config.Strategy.InferenceTimeout},
		{"websocket.write_timeout", f.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout},
		{"websocket.ping_interval", f.WebSocket.PingInterval, &config.WebSocket.PingInterval},
	}

	for _, field := range fields {
		if field.value == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrValidation, field.key, err)
		}
		*field.target = d
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TRADEPULSE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("TRADEPULSE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TRADEPULSE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if storageType := os.Getenv("TRADEPULSE_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("TRADEPULSE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("TRADEPULSE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TRADEPULSE_LOG_OUTPUT"); output != "" {
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

	// Market configuration
	if tz := os.Getenv("TRADEPULSE_MARKET_TIMEZONE"); tz != "" {
		config.Market.Timezone = tz
	}

	// Cycle intervals
	if interval := os.Getenv("TRADEPULSE_PRICES_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Prices.Interval = d
		}
	}
	if interval := os.Getenv("TRADEPULSE_NEWS_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.News.Interval = d
		}
	}
	if interval := os.Getenv("TRADEPULSE_STRATEGY_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Strategy.Interval = d
		}
	}
	if enabled := os.Getenv("TRADEPULSE_ORCHESTRATOR_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Orchestrator.Enabled = b
		}
	}

	// Provider keys
	if apiKey := os.Getenv("TRADEPULSE_EODHD_API_KEY"); apiKey != "" {
		config.EODHD.APIKey = apiKey
	}
	if apiKey := os.Getenv("TRADEPULSE_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("TRADEPULSE_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if apiKey := os.Getenv("TRADEPULSE_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv("TRADEPULSE_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if provider := os.Getenv("TRADEPULSE_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate reports the first impossible setting as a ValidationError.
func (c *Config) Validate() error {
	if c.Storage.Type != "badger" && c.Storage.Type != "memory" {
		return NewValidationError("storage.type must be 'badger' or 'memory', got '%s'", c.Storage.Type)
	}
	if _, err := NewTradingSession(c.Market); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"prices.interval":   c.Prices.Interval,
		"news.interval":     c.News.Interval,
		"strategy.interval": c.Strategy.Interval,
	} {
		if err := ValidateSchedule(EverySchedule(d)); err != nil {
			return NewValidationError("%s: %v", name, err)
		}
	}
	if c.Relevance.Threshold < 0 || c.Relevance.Threshold > 1 {
		return NewValidationError("relevance.threshold must be within [0,1], got %v", c.Relevance.Threshold)
	}
	if c.Relevance.AlertThreshold < 0 || c.Relevance.AlertThreshold > 1 {
		return NewValidationError("relevance.alert_threshold must be within [0,1], got %v", c.Relevance.AlertThreshold)
	}
	if c.Relevance.TopK <= 0 {
		return NewValidationError("relevance.top_k must be positive, got %d", c.Relevance.TopK)
	}
	if c.Strategy.ConfidenceDelta < 0 || c.Strategy.ConfidenceDelta > 1 {
		return NewValidationError("strategy.confidence_delta must be within [0,1], got %v", c.Strategy.ConfidenceDelta)
	}
	if c.Strategy.PromptBudget <= 0 {
		return NewValidationError("strategy.prompt_budget must be positive, got %d", c.Strategy.PromptBudget)
	}
	if c.Orchestrator.MaxConcurrency <= 0 {
		return NewValidationError("orchestrator.max_concurrency must be positive, got %d", c.Orchestrator.MaxConcurrency)
	}
	if c.LLM.DefaultProvider != LLMProviderGemini && c.LLM.DefaultProvider != LLMProviderClaude {
		return NewValidationError("llm.default_provider must be 'gemini' or 'claude', got '%s'", c.LLM.DefaultProvider)
	}
	return nil
}

// EverySchedule renders an interval as a cron "@every" descriptor.
func EverySchedule(d time.Duration) string {
	return "@every " + d.String()
}

// ValidateSchedule validates a cron expression or descriptor
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule '%s': %w", schedule, err)
	}
	if strings.HasPrefix(schedule, "@every ") {
		d, err := time.ParseDuration(strings.TrimPrefix(schedule, "@every "))
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid schedule '%s': interval must be positive", schedule)
		}
	}
	return nil
}
