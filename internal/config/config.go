// Package config loads and validates the controller's YAML/JSON5
// configuration, resolving $include directives, applying environment
// overrides and defaults, and exposing a JSON Schema for external
// validation tooling.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is magid's top-level configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Providers   ProvidersConfig   `yaml:"providers"`
	ModelClasses map[string][]ModelClassMember `yaml:"model_classes"`
	Cost        CostConfig        `yaml:"cost"`
	Logging     LoggingConfig     `yaml:"logging"`
	Staged      StagedConfig      `yaml:"staged"`
	TDD         TDDConfig         `yaml:"tdd"`
}

// ServerConfig configures the controller's listening surfaces.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HubPort     int    `yaml:"hub_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StorageConfig configures where per-process message history and cost
// state are persisted.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// ProviderCredentials configures one LLM backend's credentials.
type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`
	Enabled bool   `yaml:"enabled"`
}

// ProvidersConfig configures the three backend providers.
type ProvidersConfig struct {
	Anthropic ProviderCredentials `yaml:"anthropic"`
	OpenAI    ProviderCredentials `yaml:"openai"`
	Bedrock   ProviderCredentials `yaml:"bedrock"`
}

// ModelClassMember mirrors runner.ClassMember in config form.
type ModelClassMember struct {
	Model        string  `yaml:"model"`
	Score        float64 `yaml:"score"`
	Intelligence string  `yaml:"intelligence"`
}

// CostConfig configures pricing and daily-limit enforcement.
type CostConfig struct {
	DailyLimitFile string  `yaml:"daily_limit_file"`
	DefaultLimit   float64 `yaml:"default_limit_usd"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// StagedConfig configures the staged orchestrator's retry budgets.
type StagedConfig struct {
	MaxRetriesPerStage int `yaml:"max_retries_per_stage"`
	MaxTotalRetries    int `yaml:"max_total_retries"`
}

// TDDConfig configures the TDD sub-orchestrator.
type TDDConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// Load reads path (resolving $include), applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAGI_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("MAGI_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("MAGI_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HubPort = port
		}
	}
	if v := os.Getenv("MAGI_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HubPort == 0 {
		cfg.Server.HubPort = 8787
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./magi_data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Staged.MaxRetriesPerStage == 0 {
		cfg.Staged.MaxRetriesPerStage = 2
	}
	if cfg.Staged.MaxTotalRetries == 0 {
		cfg.Staged.MaxTotalRetries = 6
	}
	if cfg.TDD.MaxRetries == 0 {
		cfg.TDD.MaxRetries = 3
	}
	if cfg.Cost.DailyLimitFile == "" {
		cfg.Cost.DailyLimitFile = "./dailyCostLimit.json"
	}
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Server.HubPort <= 0 || cfg.Server.HubPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.hub_port out of range: %d", cfg.Server.HubPort))
	}
	for class, members := range cfg.ModelClasses {
		if len(members) == 0 {
			issues = append(issues, fmt.Sprintf("model_classes.%s has no members", class))
		}
		for _, m := range members {
			if m.Model == "" {
				issues = append(issues, fmt.Sprintf("model_classes.%s has a member with no model id", class))
			}
		}
	}
	if extra := pluginValidationIssues(cfg); len(extra) > 0 {
		issues = append(issues, extra...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidationError reports every config problem found, not just the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d validation issue(s): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// Timeout parses a duration-ish string (config convenience for YAML
// fields the teacher historically keeps as plain strings).
func Timeout(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
