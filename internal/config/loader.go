package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spellcast/internal/domain"
	"spellcast/internal/retry"
)

// DefaultPath is the config file used when SPELLCAST_CONFIG is unset.
const DefaultPath = "spellcast.json"

// EnvConfigPath overrides DefaultPath.
const EnvConfigPath = "SPELLCAST_CONFIG"

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Path returns the config path from SPELLCAST_CONFIG, or DefaultPath.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Default returns a config with every field at its default.
func Default() *domain.Config {
	cfg := &domain.Config{AllowedCommands: []string{}}
	ApplyDefaults(cfg)
	return cfg
}

// WriteDefault saves Default() to path, creating its directory.
func WriteDefault(path string) error {
	return Save(path, Default())
}

// Load reads path (e.g. spellcast.json), unmarshals into domain.Config, fills
// defaults and cleans all path fields to mitigate path traversal. Returns error
// if file is missing or invalid JSON.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c domain.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	ApplyDefaults(&c)
	CleanPaths(&c)
	return &c, nil
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	a := &cfg.Agent
	if a.Provider == "" {
		a.Provider = "local"
	}
	if a.Model == "" {
		a.Model = "gpt-4o-mini"
	}
	if a.MaxRounds == 0 {
		a.MaxRounds = 20
	}
	if a.Marker == "" {
		a.Marker = "@#%"
	}
	if a.Temperature == 0 {
		a.Temperature = 0.7
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 2048
	}
	if a.Timeouts.Read == 0 {
		a.Timeouts.Read = 60
	}
	if a.Timeouts.Connect == 0 {
		a.Timeouts.Connect = 10
	}
	if a.Timeouts.Call == 0 {
		a.Timeouts.Call = 300
	}
	if a.PromptRoot == "" {
		a.PromptRoot = "prompts"
	}
	if a.Workspace == "" {
		a.Workspace = "workspace"
	}
	if a.Memory == "" {
		a.Memory = "memory"
	}
	if a.Context.MaxTokens > 0 && a.Context.Encoding == "" {
		a.Context.Encoding = "cl100k_base"
	}
	if cfg.Infra.LogFormat == "" {
		cfg.Infra.LogFormat = "text"
	}
	if cfg.Infra.LogLevel == "" {
		cfg.Infra.LogLevel = "info"
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 500
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30000
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.History.Driver == "jsonl" && cfg.History.Path == "" {
		cfg.History.Path = "history"
	}
}

// Validate reports every inconsistent field at once.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	var errs []error
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", cfg.Gateway.Port))
	}
	switch cfg.Agent.Provider {
	case "local", "openai", "openrouter", "ollama":
	default:
		errs = append(errs, fmt.Errorf("agent.provider %q unknown", cfg.Agent.Provider))
	}
	if cfg.Agent.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("agent.maxRounds must be positive"))
	}
	if strings.TrimSpace(cfg.Agent.Marker) == "" || strings.ContainsAny(cfg.Agent.Marker, " \t\n") {
		errs = append(errs, fmt.Errorf("agent.marker %q must be non-empty without whitespace", cfg.Agent.Marker))
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f out of range [0,2]", cfg.Agent.Temperature))
	}
	switch cfg.Infra.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("infra.logFormat %q unknown", cfg.Infra.LogFormat))
	}
	switch strings.ToLower(cfg.Infra.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("infra.logLevel %q unknown", cfg.Infra.LogLevel))
	}
	switch cfg.History.Driver {
	case "", "jsonl":
	case "sql":
		if cfg.History.URL == "" {
			errs = append(errs, fmt.Errorf("history.url is required for the sql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.driver %q unknown", cfg.History.Driver))
	}
	if cfg.Retry.MaxRetries != 0 {
		if err := retry.FromDomain(cfg.Retry).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		switch {
		case j.ID == "":
			errs = append(errs, fmt.Errorf("jobs[%d]: id is required", i))
		case seen[j.ID]:
			errs = append(errs, fmt.Errorf("jobs[%d]: duplicate id %q", i, j.ID))
		}
		seen[j.ID] = true
		if j.CronExpr == "" || j.Prompt == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: cron and prompt are required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	cfg.Agent.PromptRoot = cleanIfSet(cfg.Agent.PromptRoot)
	cfg.Agent.Manifest = cleanIfSet(cfg.Agent.Manifest)
	cfg.Agent.Workspace = cleanIfSet(cfg.Agent.Workspace)
	cfg.Agent.Memory = cleanIfSet(cfg.Agent.Memory)
	cfg.History.Path = cleanIfSet(cfg.History.Path)
}

func cleanIfSet(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// Save writes cfg to path as JSON (so allowlist edits persist).
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
