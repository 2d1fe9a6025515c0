// Package config loads process configuration: environment first, with
// FABLE_-prefixed overrides and an optional fable.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultBackendBaseURL  = "http://localhost:5002"
	DefaultListenAddr      = ":5002"
	DefaultPollingInterval = 2 * time.Second
	DefaultRuntimeDir      = "runtime"
	DefaultWorkspaceID     = "workspace_global"
	DefaultAgentsDir       = "agents"
)

// LLMConfig carries the language model backend settings. The secret is opaque
// to the rest of the system.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Config is the resolved process configuration.
type Config struct {
	// ListenAddr is the server bind address.
	ListenAddr string
	// BackendBaseURL is where the director reaches the server.
	BackendBaseURL string
	// PollingInterval is the director's message poll cadence.
	PollingInterval time.Duration
	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string
	// RuntimeDir is the workspace base path.
	RuntimeDir string
	// WorkspaceID names the workspace directory under RuntimeDir.
	WorkspaceID string
	// AgentsDir is the manifest discovery directory.
	AgentsDir string

	LLM LLMConfig
}

// Load resolves configuration from fable.yaml (if present), the environment,
// and defaults, in increasing precedence of env over file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("fable")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("FABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Deployment variables are also honored without the prefix.
	for key, env := range map[string]string{
		"backend_base_url": "BACKEND_BASE_URL",
		"polling_interval": "POLLING_INTERVAL",
		"log_level":        "LOG_LEVEL",
		"runtime_dir":      "RUNTIME_DIR",
		"llm.api_key":      "LLM_API_KEY",
		"llm.base_url":     "LLM_BASE_URL",
		"llm.model":        "LLM_MODEL",
	} {
		if err := v.BindEnv(key, "FABLE_"+env, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("backend_base_url", DefaultBackendBaseURL)
	v.SetDefault("polling_interval", 2.0)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("runtime_dir", DefaultRuntimeDir)
	v.SetDefault("workspace_id", DefaultWorkspaceID)
	v.SetDefault("agents_dir", DefaultAgentsDir)
	v.SetDefault("llm.model", "gpt-4o-mini")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	interval := v.GetFloat64("polling_interval")
	if interval <= 0 {
		interval = DefaultPollingInterval.Seconds()
	}

	return &Config{
		ListenAddr:      v.GetString("listen_addr"),
		BackendBaseURL:  strings.TrimRight(v.GetString("backend_base_url"), "/"),
		PollingInterval: time.Duration(interval * float64(time.Second)),
		LogLevel:        v.GetString("log_level"),
		RuntimeDir:      v.GetString("runtime_dir"),
		WorkspaceID:     v.GetString("workspace_id"),
		AgentsDir:       v.GetString("agents_dir"),
		LLM: LLMConfig{
			APIKey:  v.GetString("llm.api_key"),
			BaseURL: v.GetString("llm.base_url"),
			Model:   v.GetString("llm.model"),
		},
	}, nil
}
