// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is honored when present, so local
// development doesn't require exporting everything by hand. In a cluster
// the same keys arrive through the pod environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the service. Defaults are chosen so that
// `taskchat serve` works out of the box against a local SQLite file.
type Config struct {
	// HTTP API
	HTTPAddr      string `env:"TASKCHAT_HTTP_ADDR" envDefault:":8080"`
	OwnerHeader   string `env:"TASKCHAT_OWNER_HEADER" envDefault:"X-Taskchat-Owner"`
	MaxMessageLen int    `env:"TASKCHAT_MAX_MESSAGE_LEN" envDefault:"4000"`

	// Storage
	DataDir string `env:"TASKCHAT_DATA_DIR" envDefault:"data"`

	// Intent resolver (OpenAI-compatible endpoint)
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	ResolverTimeout time.Duration `env:"TASKCHAT_RESOLVER_TIMEOUT" envDefault:"30s"`

	// Dialogue context
	HistoryLimit int `env:"TASKCHAT_HISTORY_LIMIT" envDefault:"50"`

	// Reminder scan (empty cron spec disables it)
	ReminderCron    string        `env:"TASKCHAT_REMINDER_CRON" envDefault:"0 * * * *"`
	ReminderHorizon time.Duration `env:"TASKCHAT_REMINDER_HORIZON" envDefault:"24h"`

	// MCP mode serves a single fixed owner (stdio has no per-request identity).
	MCPOwner string `env:"TASKCHAT_MCP_OWNER" envDefault:"local"`

	Debug bool `env:"TASKCHAT_DEBUG" envDefault:"false"`
}

// Load parses configuration from the environment, reading .env first if
// one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("TASKCHAT_HISTORY_LIMIT must be positive, got %d", cfg.HistoryLimit)
	}
	if cfg.MaxMessageLen <= 0 {
		return nil, fmt.Errorf("TASKCHAT_MAX_MESSAGE_LEN must be positive, got %d", cfg.MaxMessageLen)
	}
	if cfg.ResolverTimeout <= 0 {
		return nil, fmt.Errorf("TASKCHAT_RESOLVER_TIMEOUT must be positive, got %s", cfg.ResolverTimeout)
	}

	return cfg, nil
}
