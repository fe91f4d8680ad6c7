package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"spellcast/internal/agent"
	"spellcast/internal/brain"
	"spellcast/internal/config"
	ctxwindow "spellcast/internal/context"
	"spellcast/internal/domain"
	"spellcast/internal/injection"
	"spellcast/internal/llm"
	"spellcast/internal/memory"
	"spellcast/internal/prompt"
	"spellcast/internal/session"
	"spellcast/internal/tokenizer"
	"spellcast/internal/tooling"
)

// historyTimeout bounds schema setup when a channel's SQL history is opened.
const historyTimeout = 10 * time.Second

// BuildRegistry collects the builtin books and, when agent.manifest is set,
// the manifest's books, then discovers them into a frozen registry. The
// registry is returned even on error so callers can report what did register.
func BuildRegistry(cfg *domain.Config, notes tooling.NoteStore) (*tooling.Registry, error) {
	a := cfg.Agent
	catalog := tooling.Catalog{
		Books: tooling.Builtins(tooling.BuiltinDeps{
			Workspace: a.Workspace,
			FS:        &tooling.OsFileSystem{},
			Fetcher:   tooling.NewDefaultHTTPFetcher(),
			Notes:     notes,
		}),
		Commands: tooling.NewCommandTools(cfg, &tooling.ExecCommandRunner{}, a.Workspace),
	}
	var manifest *tooling.Manifest
	if a.Manifest != "" {
		m, err := tooling.LoadManifest(a.Manifest)
		if err != nil {
			return tooling.NewRegistry(), err
		}
		manifest = m
	}
	reg := tooling.NewRegistry()
	return reg, tooling.Discover(reg, manifest, catalog)
}

// Spellbook lists every book of reg as "<book>:" followed by its tool lines.
func Spellbook(c *prompt.Compiler, reg *tooling.Registry) (string, error) {
	var sections []string
	for _, book := range reg.Books() {
		lines, err := c.Book(book)
		if err != nil {
			return "", err
		}
		sections = append(sections, book+":\n"+lines)
	}
	return strings.Join(sections, "\n"), nil
}

// SystemPrompt loads the template under agent.promptRoot (DefaultTemplate when
// the root is missing) and compiles it with the "preamble" and "spells"
// parameters.
func SystemPrompt(cfg *domain.Config, reg *tooling.Registry) (string, error) {
	tpl, err := agent.LoadSystemPrompt(cfg.Agent.PromptRoot)
	switch {
	case errors.Is(err, os.ErrNotExist):
		tpl = agent.DefaultTemplate
	case err != nil:
		return "", err
	}
	c := prompt.NewCompiler(reg, cfg.Agent.Marker)
	spells, err := Spellbook(c, reg)
	if err != nil {
		return "", err
	}
	return c.Compile(tpl, map[string]string{
		"preamble": prompt.Preamble(cfg.Agent.Marker),
		"spells":   spells,
	})
}

// Runtime is everything agents share: the frozen registry, the compiled
// system prompt and the Wizard. Each channel gets its own Agent from NewAgent.
type Runtime struct {
	Config   *domain.Config
	Registry *tooling.Registry
	Prompt   string
	Wizard   *brain.Wizard
	logger   *slog.Logger
	db       *sql.DB
}

// NewRuntime validates cfg and assembles the runtime. A duplicate tool name
// fails with an error matching domain.ErrDuplicateTool.
func NewRuntime(ctx context.Context, cfg *domain.Config, lookup llm.KeyLookup, logger *slog.Logger) (*Runtime, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &cfg.Agent
	if a.Workspace != "" {
		if err := osMkdirAll(a.Workspace, 0755); err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
	}
	if cfg.History.Driver == "jsonl" {
		if err := osMkdirAll(cfg.History.Path, 0755); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	}
	var notes *memory.FileMemoryStore
	if a.Memory != "" {
		notes = memory.NewFileMemoryStore(a.Memory)
	}

	var noteStore tooling.NoteStore
	if notes != nil {
		noteStore = notes
	}
	reg, err := BuildRegistry(cfg, noteStore)
	if err != nil {
		return nil, err
	}
	logger.Info("spells discovered", "books", len(reg.Books()), "tools", reg.Len())

	systemPrompt, err := SystemPrompt(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("system prompt: %w", err)
	}

	b, err := newBrain(a, lookup, &cfg.Retry)
	if err != nil {
		return nil, err
	}
	opts := []brain.Option{
		brain.WithMaxRounds(a.MaxRounds),
		brain.WithMarker(a.Marker),
		brain.WithLogger(logger),
	}
	if notes != nil {
		opts = append(opts, brain.WithMemory(notes))
	}
	if fallbacks := llm.NewFallbackBrains(a, lookup, &cfg.Retry); len(fallbacks) > 0 {
		opts = append(opts, brain.WithFallbacks(fallbacks...))
	}
	if a.Context.MaxTokens > 0 {
		tk, err := tokenizer.NewTikToken(a.Context.Encoding)
		if err != nil {
			return nil, fmt.Errorf("context window: %w", err)
		}
		opts = append(opts, brain.WithContextManager(ctxwindow.NewManager(tk, a.Context.MaxTokens)))
	}
	dispatcher := brain.NewDispatcher(reg,
		brain.WithDispatchLogger(logger),
		brain.WithInjectionGuard(injection.NewScanner(a.Marker)),
	)

	rt := &Runtime{
		Config:   cfg,
		Registry: reg,
		Prompt:   systemPrompt,
		Wizard:   brain.NewWizard(b, dispatcher, opts...),
		logger:   logger,
	}
	if cfg.History.Driver == "sql" {
		conn, err := dbConnect(ctx, cfg.History.URL)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		rt.db = conn
	}
	return rt, nil
}

// NewAgent returns a fresh agent for channelID. With history configured its
// conversation is persisted per channel and the last history.restore
// messages are reloaded after the system prompt.
func (r *Runtime) NewAgent(channelID string) (*agent.Agent, error) {
	store, err := r.historyStore(channelID)
	if err != nil {
		return nil, err
	}
	convOpts := []session.Option{session.WithLogger(r.logger)}
	if store != nil {
		convOpts = append(convOpts, session.WithHistory(store))
	}
	conv := session.NewConversation(convOpts...)
	conv.SetSystemPrompt(r.Prompt)
	if n := r.Config.History.Restore; n > 0 {
		loaded, err := conv.Restore(n)
		if err != nil {
			r.logger.Warn("history restore failed", "channel", channelID, "error", err)
		} else if loaded > 0 {
			r.logger.Info("history restored", "channel", channelID, "messages", loaded)
		}
	}
	return agent.New(r.Wizard, r.Prompt, agent.WithConversation(conv), agent.WithLogger(r.logger)), nil
}

func (r *Runtime) historyStore(channelID string) (domain.SessionHistoryStore, error) {
	h := r.Config.History
	switch h.Driver {
	case "jsonl":
		return session.NewHistoryStore(session.ChannelHistoryPath(h.Path, channelID)), nil
	case "sql":
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		store, err := session.NewSQLHistoryStore(ctx, r.db, channelID)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// Close releases the history database, if any.
func (r *Runtime) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
