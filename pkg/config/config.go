// Package config loads webpilot settings from YAML, the environment and
// command-line overrides, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/webpilot/pkg/executor"
	"github.com/entrhq/webpilot/pkg/logging"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Browserbase BrowserbaseConfig `yaml:"browserbase" json:"browserbase"`
	Agent       AgentConfig       `yaml:"agent" json:"agent"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`

	// allowedHosts is compiled from Agent.AllowedHosts by Validate.
	allowedHosts []glob.Glob
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address       string        `yaml:"address" json:"address"`
	AllowedOrigin string        `yaml:"allowed_origin" json:"allowed_origin"`
	Heartbeat     time.Duration `yaml:"heartbeat" json:"heartbeat"`
}

// LLMConfig configures the reasoning model.
type LLMConfig struct {
	Model             string        `yaml:"model" json:"model"`
	APIKey            string        `yaml:"api_key" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"` // 0 disables rate limiting
}

// BrowserbaseConfig configures the managed browser provider.
type BrowserbaseConfig struct {
	APIKey     string `yaml:"api_key" json:"-"`
	ProjectID  string `yaml:"project_id" json:"project_id"`
	ContextID  string `yaml:"context_id" json:"context_id"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
	ConnectURL string `yaml:"connect_url" json:"connect_url"`
	KeepAlive  bool   `yaml:"keep_alive" json:"keep_alive"`
}

// AgentConfig configures the control loop and its executor.
type AgentConfig struct {
	MaxSteps          int           `yaml:"max_steps" json:"max_steps"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	MaxWait           time.Duration `yaml:"max_wait" json:"max_wait"`
	AllowedHosts      []string      `yaml:"allowed_hosts" json:"allowed_hosts"`
	PageTokenBudget   int           `yaml:"page_token_budget" json:"page_token_budget"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity  string `yaml:"verbosity" json:"verbosity"`
	Dir        string `yaml:"dir" json:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:       ":3001",
			AllowedOrigin: "*",
			Heartbeat:     30 * time.Second,
		},
		LLM: LLMConfig{
			Model:      "gpt-4o",
			Timeout:    90 * time.Second,
			MaxRetries: 2,
		},
		Browserbase: BrowserbaseConfig{
			BaseURL:    "https://api.browserbase.com",
			ConnectURL: "wss://connect.browserbase.com?apiKey={api_key}&sessionId={session_id}",
			KeepAlive:  true,
		},
		Agent: AgentConfig{
			MaxSteps:          25,
			NavigationTimeout: executor.DefaultNavigationTimeout,
			MaxWait:           executor.DefaultMaxWait,
			PageTokenBudget:   6000,
		},
		Logging: LoggingConfig{
			Verbosity:  "normal",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides credentials and endpoints from the environment. lookup
// is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	set(&c.LLM.Model, "WEBPILOT_MODEL")
	set(&c.Browserbase.APIKey, "BROWSERBASE_API_KEY")
	set(&c.Browserbase.ProjectID, "BROWSERBASE_PROJECT_ID")
	set(&c.Browserbase.ContextID, "BROWSERBASE_CONTEXT_ID")
}

// Validate checks the configuration, fills unset optional values and
// compiles derived settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps))
	}
	if c.Agent.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("agent.navigation_timeout must be positive"))
	}
	if c.Agent.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("agent.max_wait cannot be negative"))
	}
	if c.Agent.PageTokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("agent.page_token_budget must be positive"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries cannot be negative"))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second cannot be negative"))
	}
	if c.Server.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("server.heartbeat must be positive"))
	}
	if !strings.Contains(c.Browserbase.ConnectURL, "{session_id}") {
		errs = append(errs, fmt.Errorf("browserbase.connect_url must contain {session_id}"))
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}
	if _, err := logging.ParseLevel(c.Logging.Verbosity); err != nil {
		errs = append(errs, fmt.Errorf("logging.verbosity: %w", err))
	}

	hosts, err := executor.CompileHostPatterns(c.Agent.AllowedHosts)
	if err != nil {
		errs = append(errs, fmt.Errorf("agent.allowed_hosts: %w", err))
	}
	c.allowedHosts = hosts

	return errors.Join(errs...)
}

// RequireCredentials reports missing keys needed to reach the model and the
// browser provider.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key (OPENAI_API_KEY)")
	}
	if c.Browserbase.APIKey == "" {
		missing = append(missing, "browserbase.api_key (BROWSERBASE_API_KEY)")
	}
	if c.Browserbase.ProjectID == "" {
		missing = append(missing, "browserbase.project_id (BROWSERBASE_PROJECT_ID)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AllowedHosts returns the compiled navigation allow-list. It is empty until
// Validate has run.
func (c *Config) AllowedHosts() []glob.Glob {
	return c.allowedHosts
}

// LoggingOptions converts the logging section for logging.Configure.
func (c *Config) LoggingOptions() logging.Options {
	level, err := logging.ParseLevel(c.Logging.Verbosity)
	if err != nil {
		level = logging.LevelNormal
	}
	return logging.Options{
		Dir:        c.Logging.Dir,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		Level:      level,
	}
}
