package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"spellcast/internal/config"
	"spellcast/internal/llm"
	"spellcast/internal/memory"
	"spellcast/internal/tooling"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Path   string        // config file; config.Path() when empty
	Fix    bool          // if true, write default config when missing
	Lookup llm.KeyLookup // API key lookup; os.Getenv when nil
}

// RunCheck checks the config, the provider key, the agent paths and the
// spells the config would discover. Directories that are missing are created.
// Returns the exit code: 1 when anything would stop the agent from starting.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	cfgPath := opts.Path
	if cfgPath == "" {
		cfgPath = config.Path()
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}

	// 1. Config
	cfg, err := configLoad(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			note("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", cfgPath))
		if opts.Fix {
			if writeErr := configWriteDefault(cfgPath); writeErr != nil {
				fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
				return 1
			}
			note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
		} else {
			note("Config", fmt.Sprintf("Run with --fix to create a default %s.", filepath.Base(cfgPath)))
		}
		fmt.Fprintln(stdout, "  Check complete.")
		return 0
	}
	note("Config", fmt.Sprintf("Loaded %s.", cfgPath))

	failed := false
	if err := config.Validate(cfg); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			note("Config", line)
		}
		failed = true
	}

	// 2. Gateway
	auth := "none"
	if cfg.Gateway.AuthToken != "" {
		auth = "token"
	}
	note("Gateway", fmt.Sprintf("port=%d auth=%s", cfg.Gateway.Port, auth))
	if auth == "none" {
		note("Gateway", "Auth is disabled. Set gateway.authToken before exposing the gateway.")
	}

	// 3. Provider
	a := cfg.Agent
	note("Provider", fmt.Sprintf("provider=%s model=%s marker=%s maxRounds=%d", a.Provider, a.Model, a.Marker, a.MaxRounds))
	if names := keyNames(a.Provider); len(names) > 0 && !anySet(lookup, names) {
		note("Provider", fmt.Sprintf("No API key: export %s.", strings.Join(names, " or ")))
		failed = true
	}

	// 4. Paths
	dirs := []struct{ label, dir string }{
		{"agent.workspace", a.Workspace},
		{"agent.memory", a.Memory},
	}
	if cfg.History.Driver == "jsonl" {
		dirs = append(dirs, struct{ label, dir string }{"history.path", cfg.History.Path})
	}
	for _, d := range dirs {
		if d.dir == "" {
			continue
		}
		if err := ensureDir(d.dir, d.label); err != nil {
			note("Paths", err.Error())
			failed = true
			continue
		}
		note("Paths", fmt.Sprintf("%s %s ok.", d.label, d.dir))
	}
	if fi, err := os.Stat(a.PromptRoot); err != nil || !fi.IsDir() {
		note("Paths", fmt.Sprintf("agent.promptRoot %s not found; the default template is used.", a.PromptRoot))
	}

	// 5. Spells
	var notes tooling.NoteStore
	if a.Memory != "" {
		notes = memory.NewFileMemoryStore(a.Memory)
	}
	reg, err := BuildRegistry(cfg, notes)
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			note("Spells", line)
		}
		failed = true
	} else {
		note("Spells", fmt.Sprintf("%d books, %d spells.", len(reg.Books()), reg.Len()))
		if _, err := SystemPrompt(cfg, reg); err != nil {
			note("Prompt", err.Error())
			failed = true
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	if failed {
		return 1
	}
	return 0
}

func keyNames(provider string) []string {
	switch provider {
	case "openai":
		return []string{llm.EnvAIAPIKey, llm.EnvOpenAIAPIKey}
	case "openrouter":
		return []string{llm.EnvOpenRouterAPIKey}
	default:
		return nil
	}
}

func anySet(lookup llm.KeyLookup, names []string) bool {
	for _, n := range names {
		if strings.TrimSpace(lookup(n)) != "" {
			return true
		}
	}
	return false
}

func ensureDir(dir, label string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := osMkdirAll(abs, 0755); mkErr != nil {
				return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s %q: %w", label, abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}

