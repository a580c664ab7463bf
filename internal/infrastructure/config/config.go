// Package config loads the supervisor's configuration the way the teacher's
// internal/infrastructure/config package does: layered viper config
// (defaults → global file → project-local file → env vars), unmarshaled
// into a typed tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full, typed configuration tree for the supervisor process.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Verifier VerifierConfig `mapstructure:"verifier"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// HTTPConfig controls the control-surface bind address (WS /agent is served
// on the same listener).
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects the event-log backing store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls zap output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SandboxConfig controls which sandbox provider is used and its default
// resource caps.
type SandboxConfig struct {
	Provider      string  `mapstructure:"provider"` // local, remote
	WorkspaceRoot string  `mapstructure:"workspace_root"`
	AllowInternet bool    `mapstructure:"allow_internet"`
	CPUCores      float64 `mapstructure:"cpu_cores"`
	MemoryMB      int     `mapstructure:"memory_mb"`
	DiskMB        int     `mapstructure:"disk_mb"`
	KeepOnExit    bool    `mapstructure:"keep_on_exit"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	Model        string           `mapstructure:"model"`
	MaxTurns     int              `mapstructure:"max_turns"`
	ToolTimeout  time.Duration    `mapstructure:"tool_timeout"`
	AllowedTools []string         `mapstructure:"allowed_tools"`
	Provider     ProviderConfig   `mapstructure:"provider"`
}

// ProviderConfig configures the one llm.Provider the agent loop talks to.
type ProviderConfig struct {
	Type    string   `mapstructure:"type"` // "openai" or "mock" (config default: "mock")
	Name    string   `mapstructure:"name"`
	BaseURL string   `mapstructure:"base_url"`
	APIKey  string   `mapstructure:"api_key"`
	Models  []string `mapstructure:"models"`
}

// VerifierConfig locates the verifier catalog and the artifact store root.
type VerifierConfig struct {
	CatalogPath  string `mapstructure:"catalog_path"`
	ArtifactRoot string `mapstructure:"artifact_root"`
}

// NotifyConfig selects and configures the rollback notification sink.
type NotifyConfig struct {
	Sink          string `mapstructure:"sink"` // telegram, noop
	TelegramToken string `mapstructure:"telegram_token"`
	TelegramChat  int64  `mapstructure:"telegram_chat"`
}

// LimitsConfig bounds request size and rate on the control surface.
type LimitsConfig struct {
	MaxRequestBytes int64 `mapstructure:"max_request_bytes"`
	RatePerMinute   int   `mapstructure:"rate_per_minute"`
}

// Load builds Config from defaults, an optional global
// ~/.choir/config.yaml, an optional project-local ./config/config.yaml, and
// CHOIR_-prefixed environment variables, in that ascending priority order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".choir")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	localPath := filepath.Join("config", "config.yaml")
	if _, err := os.Stat(localPath); err == nil {
		local := viper.New()
		local.SetConfigFile(localPath)
		if err := local.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(local.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CHOIR")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8089)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "choir.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sandbox.provider", "local")
	v.SetDefault("sandbox.workspace_root", "")
	v.SetDefault("sandbox.allow_internet", false)
	v.SetDefault("sandbox.cpu_cores", 1.0)
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.disk_mb", 2048)
	v.SetDefault("sandbox.keep_on_exit", false)

	v.SetDefault("agent.model", "claude-sonnet")
	v.SetDefault("agent.max_turns", 40)
	v.SetDefault("agent.tool_timeout", "5m")
	v.SetDefault("agent.allowed_tools", []string{
		"read_file", "write_file", "edit_file", "bash", "git_checkpoint", "git_status",
	})
	v.SetDefault("agent.provider.type", "mock")
	v.SetDefault("agent.provider.name", "default")

	v.SetDefault("verifier.catalog_path", "config/verifiers.yaml")
	v.SetDefault("verifier.artifact_root", ".choir/artifacts")

	v.SetDefault("notify.sink", "noop")

	v.SetDefault("limits.max_request_bytes", 1<<20)
	v.SetDefault("limits.rate_per_minute", 60)
}
