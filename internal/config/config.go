package config

import (
	"errors"
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

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ComputeConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	PlatformDomain string        `yaml:"platform_domain"` // e.g. appforge.app
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

type EdgeConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`
	Namespace string `yaml:"namespace"`
	ZoneID    string `yaml:"zone_id"`
}

type SourceControlConfig struct {
	RemoteBase string `yaml:"remote_base"` // e.g. https://git.appforge.dev
	Token      string `yaml:"token"`
	Branch     string `yaml:"branch"`
}

type CodeGenConfig struct {
	OpenAIKey     string `yaml:"openai_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiKey     string `yaml:"gemini_key"`
	GeminiURL     string `yaml:"gemini_url"`
	DefaultModel  string `yaml:"default_model"`
	MaxFixRounds  int    `yaml:"max_fix_rounds"`
}

type WorkerConfig struct {
	BuildConcurrency  int           `yaml:"build_concurrency"`
	DeployConcurrency int           `yaml:"deploy_concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BuildTimeout      time.Duration `yaml:"build_timeout"`
	DeployTimeout     time.Duration `yaml:"deploy_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
}

type ResilienceConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"` // consecutive failures before opening
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log           LogConfig           `yaml:"log"`
	HTTP          HTTPConfig          `yaml:"http"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Compute       ComputeConfig       `yaml:"compute"`
	Edge          EdgeConfig          `yaml:"edge"`
	SourceControl SourceControlConfig `yaml:"source_control"`
	CodeGen       CodeGenConfig       `yaml:"codegen"`
	Worker        WorkerConfig        `yaml:"worker"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	Security      SecurityConfig      `yaml:"security"`

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

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Compute.PollInterval <= 0 {
		cfg.Compute.PollInterval = 10 * time.Second
	}
	if cfg.Compute.PollTimeout <= 0 {
		cfg.Compute.PollTimeout = 10 * time.Minute
	}
	if cfg.SourceControl.Branch == "" {
		cfg.SourceControl.Branch = "main"
	}
	if cfg.CodeGen.DefaultModel == "" {
		cfg.CodeGen.DefaultModel = "gpt-4o-mini"
	}
	if cfg.CodeGen.MaxFixRounds <= 0 {
		cfg.CodeGen.MaxFixRounds = 3
	}
	if cfg.Worker.BuildConcurrency <= 0 {
		cfg.Worker.BuildConcurrency = 4
	}
	if cfg.Worker.DeployConcurrency <= 0 {
		cfg.Worker.DeployConcurrency = 2
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = 500 * time.Millisecond
	}
	if cfg.Worker.BuildTimeout <= 0 {
		cfg.Worker.BuildTimeout = 5 * time.Minute
	}
	if cfg.Worker.DeployTimeout <= 0 {
		cfg.Worker.DeployTimeout = 12 * time.Minute
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 3
	}
	if cfg.Worker.RetryBaseDelay <= 0 {
		cfg.Worker.RetryBaseDelay = 5 * time.Second
	}
	if cfg.Resilience.MaxRetries <= 0 {
		cfg.Resilience.MaxRetries = 3
	}
	if cfg.Resilience.BaseDelay <= 0 {
		cfg.Resilience.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Resilience.BreakerThreshold <= 0 {
		cfg.Resilience.BreakerThreshold = 5
	}
	if cfg.Resilience.BreakerCooldown <= 0 {
		cfg.Resilience.BreakerCooldown = 30 * time.Second
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Compute.BaseURL == "" || cfg.Compute.Token == "" {
		return nil, errors.New("compute.base_url and compute.token are required")
	}
	if cfg.Compute.PlatformDomain == "" {
		return nil, errors.New("compute.platform_domain is required")
	}
	if cfg.Edge.BaseURL == "" || cfg.Edge.Token == "" {
		return nil, errors.New("edge.base_url and edge.token are required")
	}
	if cfg.CodeGen.OpenAIKey == "" && cfg.CodeGen.GeminiKey == "" {
		return nil, errors.New("codegen: set openai_key or gemini_key")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
