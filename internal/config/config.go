// Package config loads the assistant's YAML configuration, applies
// environment overrides, and owns the on-disk state layout under the
// user's data directory.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for netmedic.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	LLM     LLMConfig     `yaml:"llm"`
	Sidecar SidecarConfig `yaml:"sidecar"`
	Prompts PromptsConfig `yaml:"prompts"`
	Session SessionConfig `yaml:"session"`
}

type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// Output is stderr or file. File logs go to a date-named file in
	// the state log directory.
	Output string `yaml:"output"`
}

type StoreConfig struct {
	// Path of the SQLite database. Empty means the default location in
	// the state directory.
	Path string `yaml:"path"`

	// InMemory keeps all state in process memory; nothing survives a
	// restart. Mostly for tests and throwaway runs.
	InMemory bool `yaml:"in_memory"`
}

type PromptsConfig struct {
	// Dir holds .md prompt files overriding the built-ins. Empty
	// disables file prompts.
	Dir string `yaml:"dir"`

	// Watch reloads prompts when files under Dir change.
	Watch bool `yaml:"watch"`
}

type SessionConfig struct {
	// IdleTimeout is how long an in-progress session may sit without
	// activity before the sweeper marks it abandoned.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepSchedule is a cron expression or descriptor like
	// "@every 5m".
	SweepSchedule string `yaml:"sweep_schedule"`

	// LockTimeout bounds how long an operation waits for a session
	// that another operation holds.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Load reads and parses the configuration file. A .env file next to the
// config (or in the usual places) is loaded first, best effort, so its
// variables participate in ${VAR} expansion and the override table.
func Load(path string) (*Config, error) {
	LoadDotEnvForConfig(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	cfg, err := decode([]byte(expanded))
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as an empty
// one, so first runs work before `netmedic config init`.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func decode(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = "@every 5m"
	}
	if cfg.Session.LockTimeout == 0 {
		cfg.Session.LockTimeout = 30 * time.Second
	}
	if cfg.Sidecar.Model == "" {
		cfg.Sidecar.Model = "llama3.2"
	}
}

// applyEnvOverrides applies the recognized environment table on top of
// whatever the file said.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Sidecar.BaseURL = normalizeHostURL(v)
	}
	if v := os.Getenv("OLLAMA_MODELS"); v != "" {
		cfg.Sidecar.ModelsDir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		cfg.LLM.XAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.Google.APIKey = v
	}
}

// normalizeHostURL accepts both the URL form and the bare host:port
// convention for OLLAMA_HOST.
func normalizeHostURL(v string) string {
	if strings.Contains(v, "://") {
		return strings.TrimSuffix(v, "/")
	}
	return "http://" + strings.TrimSuffix(v, "/")
}

func (c *Config) validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not json or text", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stderr", "file":
	default:
		return fmt.Errorf("logging.output %q is not stderr or file", c.Logging.Output)
	}
	if c.LLM.Backend != "" && !knownBackend(c.LLM.Backend) {
		return fmt.Errorf("llm.backend %q is not one of %s", c.LLM.Backend, strings.Join(Backends, ", "))
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative")
	}
	return nil
}
