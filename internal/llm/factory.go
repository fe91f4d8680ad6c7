package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"spellcast/internal/domain"
	"spellcast/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

// Environment variables holding API keys. A value may list several
// comma-separated keys, which are then rotated through a KeyPool.
const (
	EnvAIAPIKey         = "AI_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
)

// KeyLookup returns the value of a named key, e.g. os.Getenv.
type KeyLookup func(name string) string

// NewBrain returns a Brain for the agent config, optionally wrapped with retry
// logic. Provider may be "local", "openai", "openrouter" or "ollama"; empty
// defaults to "local". lookup resolves API keys. retryCfg, if non-nil, wraps
// the brain with exponential-backoff retry on transient open failures.
func NewBrain(agent *domain.AgentConfig, lookup KeyLookup, retryCfg ...*domain.RetryConfig) (domain.Brain, error) {
	base, err := newBaseBrain(agent, lookup)
	if err != nil {
		return nil, err
	}
	return wrapWithRetry(base, retryCfg...), nil
}

func newBaseBrain(agent *domain.AgentConfig, lookup KeyLookup) (domain.Brain, error) {
	if agent == nil {
		return NewLocalBrain("Local: "), nil
	}
	provider := agent.Provider
	if provider == "" {
		provider = "local"
	}
	if provider == "local" {
		return NewLocalBrain("Local: "), nil
	}

	client, err := NewHTTPClient(agent.Timeouts, agent.Proxy)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithHTTPClient(client),
		WithURL(agent.APIURL),
		WithTemperature(agent.Temperature),
		WithMaxTokens(agent.MaxTokens),
	}
	switch provider {
	case "openai":
		return resolveKeyedBrain("openai", lookup, []string{EnvAIAPIKey, EnvOpenAIAPIKey}, func(key string) domain.Brain {
			return NewOpenAIBrain(key, agent.Model, opts...)
		})
	case "openrouter":
		return resolveKeyedBrain("openrouter", lookup, []string{EnvOpenRouterAPIKey}, func(key string) domain.Brain {
			return NewOpenRouterBrain(key, agent.Model, opts...)
		})
	case "ollama":
		return NewOllamaBrain(agent.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (use: local, openai, openrouter, ollama)", provider)
	}
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// resolveKeyedBrain reads the first non-empty variable of names, splits it
// into one or more keys, and returns either a single brain or a KeyPoolBrain.
func resolveKeyedBrain(providerName string, lookup KeyLookup, names []string, makeBrain func(key string) domain.Brain) (domain.Brain, error) {
	var keys []string
	for _, name := range names {
		if keys = splitKeys(lookup(name)); len(keys) > 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s provider: API key not set (export %s)", providerName, strings.Join(names, " or "))
	}
	if len(keys) == 1 {
		return makeBrain(keys[0]), nil
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("%s key pool: %w", providerName, err)
	}
	brains := make([]domain.Brain, len(keys))
	for i, k := range keys {
		brains[i] = makeBrain(k)
	}
	return NewKeyPoolBrain(pool, brains)
}

// NewFallbackBrains creates a brain for each fallback entry of agent. Entries
// inherit the agent's transport and sampling settings. Failed entries are
// logged and skipped.
func NewFallbackBrains(agent *domain.AgentConfig, lookup KeyLookup, retryCfg ...*domain.RetryConfig) []domain.Brain {
	if agent == nil {
		return nil
	}
	var brains []domain.Brain
	for i, fb := range agent.Fallbacks {
		cfg := *agent
		cfg.Provider = fb.Provider
		cfg.Model = fb.Model
		cfg.APIURL = fb.APIURL
		cfg.Fallbacks = nil
		b, err := NewBrain(&cfg, lookup, retryCfg...)
		if err != nil {
			slog.Warn("llm: skipping fallback", "index", i, "provider", fb.Provider, "error", err)
			continue
		}
		brains = append(brains, b)
	}
	return brains
}

// wrapWithRetry decorates a brain with retry logic when config is supplied.
func wrapWithRetry(b domain.Brain, retryCfg ...*domain.RetryConfig) domain.Brain {
	if len(retryCfg) == 0 || retryCfg[0] == nil || retryCfg[0].MaxRetries <= 0 {
		return b
	}
	return retry.NewRetryableBrain(b, retry.FromDomain(*retryCfg[0]))
}
