// Package config loads the immutable process configuration.
//
// A single Config value is built once at startup from an optional YAML file
// overlaid with environment variables, then passed to every constructor.
// It is never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ModelProvider identifies the chat-completion backend.
type ModelProvider string

const (
	ProviderOpenAI      ModelProvider = "OpenAI"
	ProviderAzureOpenAI ModelProvider = "AzureOpenAI"
	ProviderAnthropic   ModelProvider = "Anthropic"
)

// CatalogueFormat selects how the directory manifest is rendered.
type CatalogueFormat string

const (
	FormatCompact  CatalogueFormat = "compact"
	FormatJSON     CatalogueFormat = "json"
	FormatPathList CatalogueFormat = "pathlist"
)

// OpenAIConfig holds the model endpoint settings. The name is historical;
// it covers all three supported providers.
type OpenAIConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	ChatAPIKey    string        `yaml:"chat_api_key"`
	ChatModel     string        `yaml:"chat_model"`
	AnalysisModel string        `yaml:"analysis_model"`
	ModelProvider ModelProvider `yaml:"model_provider"`
}

// DocumentConfig holds pipeline behavior switches.
type DocumentConfig struct {
	EnableSmartFilter            bool            `yaml:"enable_smart_filter"`
	EnableCodeCompression        bool            `yaml:"enable_code_compression"`
	EnableCodeDependencyAnalysis bool            `yaml:"enable_code_dependency_analysis"`
	CatalogueFormat              CatalogueFormat `yaml:"catalogue_format"`
	UpdateIntervalDays           int             `yaml:"update_interval_days"`
	EnableWarehouseCommit        bool            `yaml:"enable_warehouse_commit"`
}

// GitConfig holds working-tree placement.
type GitConfig struct {
	WorkspaceDir string `yaml:"workspace_dir"`
}

// DBConfig holds the SQLite location.
type DBConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig holds worker-loop tunables.
type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
}

// UpdaterConfig holds the incremental updater schedule.
type UpdaterConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig holds slog handler selection.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the optional Prometheus listener address.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the complete, immutable process configuration.
type Config struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Document DocumentConfig `yaml:"document"`
	Git      GitConfig      `yaml:"git"`
	DB       DBConfig       `yaml:"db"`
	Worker   WorkerConfig   `yaml:"worker"`
	Updater  UpdaterConfig  `yaml:"updater"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns a Config with every tunable at its documented default.
func Default() Config {
	return Config{
		OpenAI: OpenAIConfig{
			ChatModel:     "gpt-4o",
			AnalysisModel: "gpt-4o-mini",
			ModelProvider: ProviderOpenAI,
		},
		Document: DocumentConfig{
			EnableSmartFilter:     true,
			CatalogueFormat:       FormatCompact,
			UpdateIntervalDays:    7,
			EnableWarehouseCommit: true,
		},
		Git:     GitConfig{WorkspaceDir: "./repositories"},
		DB:      DBConfig{Path: "./opendeepwiki.db"},
		Worker:  WorkerConfig{PollInterval: 5 * time.Second, LeaseDuration: 6 * time.Hour},
		Updater: UpdaterConfig{Interval: time.Hour},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the Config from the given YAML file (optional) and the
// environment. A missing file is not an error; env always wins.
func Load(path string) (Config, error) {
	// .env files never override an already-set process environment.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env-only config
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface deep in the pipeline.
func (c Config) Validate() error {
	switch c.OpenAI.ModelProvider {
	case ProviderOpenAI, ProviderAzureOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported model provider %q", c.OpenAI.ModelProvider)
	}
	switch c.Document.CatalogueFormat {
	case FormatCompact, FormatJSON, FormatPathList:
	default:
		return fmt.Errorf("unknown catalogue format %q", c.Document.CatalogueFormat)
	}
	if c.Document.UpdateIntervalDays < 0 {
		return fmt.Errorf("update interval days cannot be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.OpenAI.Endpoint, "OPENAI_ENDPOINT")
	setString(&cfg.OpenAI.ChatAPIKey, "OPENAI_CHAT_API_KEY")
	setString(&cfg.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
	setString(&cfg.OpenAI.AnalysisModel, "OPENAI_ANALYSIS_MODEL")
	if v := os.Getenv("OPENAI_MODEL_PROVIDER"); v != "" {
		cfg.OpenAI.ModelProvider = ModelProvider(v)
	}

	setBool(&cfg.Document.EnableSmartFilter, "DOCUMENT_ENABLE_SMART_FILTER")
	setBool(&cfg.Document.EnableCodeCompression, "DOCUMENT_ENABLE_CODE_COMPRESSION")
	setBool(&cfg.Document.EnableCodeDependencyAnalysis, "DOCUMENT_ENABLE_CODE_DEPENDENCY_ANALYSIS")
	if v := os.Getenv("DOCUMENT_CATALOGUE_FORMAT"); v != "" {
		cfg.Document.CatalogueFormat = CatalogueFormat(strings.ToLower(v))
	}
	setInt(&cfg.Document.UpdateIntervalDays, "DOCUMENT_UPDATE_INTERVAL_DAYS")
	setBool(&cfg.Document.EnableWarehouseCommit, "DOCUMENT_ENABLE_WAREHOUSE_COMMIT")

	setString(&cfg.Git.WorkspaceDir, "GIT_WORKSPACE_DIR")
	setString(&cfg.DB.Path, "DB_PATH")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Metrics.Listen, "METRICS_LISTEN")
	setDuration(&cfg.Worker.PollInterval, "WORKER_POLL_INTERVAL")
	setDuration(&cfg.Worker.LeaseDuration, "WORKER_LEASE_DURATION")
	setDuration(&cfg.Updater.Interval, "UPDATER_INTERVAL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
