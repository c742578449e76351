// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	// KeyPrefix namespaces all queue keys in Redis.
	KeyPrefix string `yaml:"key_prefix"`
	// LockTTL is the visibility lock a worker holds on a dequeued job.
	LockTTL time.Duration `yaml:"lock_ttl"`
	// PollInterval bounds how long an idle Dequeue sleeps between scans.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"` // zero = uncapped
	MaxAttempts int           `yaml:"max_attempts"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type AIConfig struct {
	Provider           string `yaml:"provider"` // openai | gemini
	OpenAIKey          string `yaml:"openai_key"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	GeminiKey          string `yaml:"gemini_key"`
	IntentModel        string `yaml:"intent_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	TokenBudget        int    `yaml:"token_budget"`
}

type CalendarConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Issuer   string        `yaml:"issuer"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type IngestConfig struct {
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type DLQConfig struct {
	Retention time.Duration `yaml:"retention"`
}

type OperatorConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Retry    RetryConfig    `yaml:"retry"`
	Worker   WorkerConfig   `yaml:"worker"`
	Telegram TelegramConfig `yaml:"telegram"`
	AI       AIConfig       `yaml:"ai"`
	Calendar CalendarConfig `yaml:"calendar"`
	Ingest   IngestConfig   `yaml:"ingest"`
	DLQ      DLQConfig      `yaml:"dlq"`
	Operator OperatorConfig `yaml:"operator"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "vcp"
	}
	if cfg.Queue.LockTTL <= 0 {
		cfg.Queue.LockTTL = 60 * time.Second
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 250 * time.Millisecond
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 5 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 3
	}
	if cfg.AI.IntentModel == "" {
		cfg.AI.IntentModel = "gpt-4o-mini"
	}
	if cfg.AI.TranscriptionModel == "" {
		cfg.AI.TranscriptionModel = "whisper-1"
	}
	if cfg.AI.TokenBudget <= 0 {
		cfg.AI.TokenBudget = 2048
	}
	if cfg.Calendar.TokenTTL <= 0 {
		cfg.Calendar.TokenTTL = 5 * time.Minute
	}
	if cfg.Ingest.RateLimit <= 0 {
		cfg.Ingest.RateLimit = 30
	}
	if cfg.Ingest.RateWindow <= 0 {
		cfg.Ingest.RateWindow = time.Minute
	}
	if cfg.DLQ.Retention <= 0 {
		cfg.DLQ.Retention = 30 * 24 * time.Hour
	}
	if cfg.Operator.Port == 0 {
		cfg.Operator.Port = 8081
	}
}
