// Package config loads and validates the service configuration from YAML
// with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Zentro backend.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Auth       AuthConfig       `yaml:"auth"`
	LLM        LLMConfig        `yaml:"llm"`
	Agent      AgentConfig      `yaml:"agent"`
	FollowUp   FollowUpConfig   `yaml:"followup"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CheckpointConfig configures the conversation checkpoint store.
type CheckpointConfig struct {
	// DSN for the checkpoint database. Empty means reuse database.dsn.
	DSN string `yaml:"dsn"`

	// ReadyTimeout bounds how long an agent run waits for checkpoint
	// store initialization before failing.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// AuthConfig configures JWT verification.
type AuthConfig struct {
	// Secret is the HMAC signing key for access tokens.
	Secret string `yaml:"secret"`

	// TokenTTL is the lifetime of minted access tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// LLMConfig configures the model providers.
type LLMConfig struct {
	// Provider selects the active backend: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// BaseURL overrides the provider endpoint, for proxies and tests.
	BaseURL string `yaml:"base_url"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// AgentConfig configures the agent runtime and retry behavior.
type AgentConfig struct {
	// SystemPrompt overrides the built-in assistant prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIterations bounds model round trips per run.
	MaxIterations int `yaml:"max_iterations"`

	// MaxRetries is the number of retries after a failed model call.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the first retry delay; later delays grow linearly.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// FollowUpConfig configures the due-date follow-up scanner.
type FollowUpConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression; seconds field optional.
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads the file at path, expands ${ENV} references, applies defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML config bytes. Environment references of the form
// $VAR or ${VAR} are expanded before decoding.
func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no secrets
// set. Used by `zentro config init`.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// Streaming responses can stay open for minutes.
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Checkpoint.DSN == "" {
		c.Checkpoint.DSN = c.Database.DSN
	}
	if c.Checkpoint.ReadyTimeout == 0 {
		c.Checkpoint.ReadyTimeout = 5 * time.Second
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 2
	}
	if c.Agent.RetryBaseDelay == 0 {
		c.Agent.RetryBaseDelay = time.Second
	}

	if c.FollowUp.Schedule == "" {
		c.FollowUp.Schedule = "0 9 * * *"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate checks the configuration for contradictions and missing required
// values. Defaults must already be applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("config: auth.secret is required")
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: llm.openai_api_key is required for the openai provider")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("config: llm.anthropic_api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("config: agent.max_iterations must be at least 1")
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("config: agent.max_retries must not be negative")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("config: tracing.sampling_rate must be within [0, 1]")
	}
	return nil
}
