package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"spellcast/internal/banner"
	"spellcast/internal/cli"
	"spellcast/internal/config"
	"spellcast/internal/domain"
	"spellcast/internal/gateway"
	"spellcast/internal/memory"
	"spellcast/internal/prompt"
	"spellcast/internal/router"
	"spellcast/internal/scheduler"
	"spellcast/internal/security"
	"spellcast/internal/signals"
	"spellcast/internal/tooling"
)

// cliChannelID is the conversation used by ask and chat.
const cliChannelID = "cli"

var (
	// newRuntime builds the shared runtime; tests may replace it.
	newRuntime = cli.NewRuntime

	// serveShutdownCh is set by tests to stop serve without signals. Production leaves it nil.
	serveShutdownCh <-chan struct{}

	// serveBindWait is how long serve waits for the gateway to bind.
	serveBindWait = time.Second

	// serveEUID reports the effective user ID checked before serving; tests replace it.
	serveEUID = security.EffectiveUIDGetter()
)

// loadConfig loads the config named by --config and installs the configured
// logger as the slog default.
func loadConfig(cmd *cobra.Command) (*domain.Config, *slog.Logger, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w (run 'spellcast check --fix' to create %s)", err, path)
		}
		return nil, nil, err
	}
	logger := cli.NewLogger(cfg.Infra, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func loadRuntime(cmd *cobra.Command) (*cli.Runtime, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := newRuntime(cmd.Context(), cfg, keyLookup, logger)
	if err != nil {
		return nil, nil, err
	}
	return rt, logger, nil
}

// loadRegistry builds the registry without a provider, for commands that
// only describe spells.
func loadRegistry(cmd *cobra.Command) (*domain.Config, *tooling.Registry, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	var notes tooling.NoteStore
	if cfg.Agent.Memory != "" {
		notes = memory.NewFileMemoryStore(cfg.Agent.Memory)
	}
	reg, err := cli.BuildRegistry(cfg, notes)
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List every spell by book, as the model sees them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			book, err := cli.Spellbook(prompt.NewCompiler(reg, cfg.Agent.Marker), reg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), book)
			return nil
		},
	}
}

func newPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the compiled system prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			p, err := cli.SystemPrompt(cfg, reg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

// stdoutSink streams pass-through text to the command's output. Closing it
// is left to the command.
type stdoutSink struct{ io.Writer }

func (stdoutSink) Close() error { return nil }

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask one question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			a, err := rt.NewAgent(cliChannelID)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if noTools, _ := cmd.Flags().GetBool("no-tools"); noTools {
				answer, err := a.Proceed(cmd.Context(), question)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, answer)
				return nil
			}
			if _, err := a.ProceedWithStream(cmd.Context(), question, stdoutSink{out}); err != nil {
				fmt.Fprintln(out)
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().Bool("no-tools", false, "answer in one round without casting spells")
	return cmd
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat; /clear resets the conversation, /quit exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			rtr := router.NewRouter(rt.NewAgent, router.WithLogger(logger))
			defer rtr.Close()
			return chatLoop(cmd.Context(), rtr, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// chatLoop reads one prompt per line until EOF or /quit.
func chatLoop(ctx context.Context, rt gateway.ChatRouter, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := rt.Clear(ctx, cliChannelID); err != nil {
				fmt.Fprintf(errOut, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "(cleared)")
			continue
		}
		if _, err := rt.Route(ctx, cliChannelID, line, stdoutSink{out}); err != nil {
			fmt.Fprintln(out)
			fmt.Fprintf(errOut, "error: %v\n", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		fmt.Fprintln(out)
	}
}

func newServeCommand(bm buildMeta) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket gateway and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := security.RequireNonRoot(serveEUID); err != nil {
				return err
			}
			rt, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			a := rt.Config.Agent
			banner.Startup(cmd.OutOrStdout(), banner.Info{
				Version:  bm.Version,
				Provider: a.Provider,
				Model:    a.Model,
				Marker:   a.Marker,
			}, isTerminal(cmd.OutOrStdout()))
			return serve(cmd, rt, logger)
		},
	}
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func serve(cmd *cobra.Command, rt *cli.Runtime, logger *slog.Logger) error {
	ctx, stop := signals.Context(cmd.Context())
	defer stop()

	rtr := router.NewRouter(rt.NewAgent, router.WithLogger(logger))
	defer rtr.Close()

	cfg := rt.Config
	var sched *scheduler.Scheduler
	if len(cfg.Jobs) > 0 {
		sched = scheduler.NewScheduler(
			scheduler.NewRobfigCronEngine(logger),
			scheduler.RouteHandler(rtr, logger),
			scheduler.WithLogger(logger),
		)
		if err := sched.Load(cfg.Jobs); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "  scheduler: %d jobs\n", len(cfg.Jobs))
	}

	srv, err := gateway.NewServer(&cfg.Gateway, rtr, gateway.WithLogger(logger))
	if err != nil {
		return err
	}
	shutdown := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run(shutdown)
	}()

	bound, err := waitForBind(srv, runErr)
	if err != nil {
		close(shutdown)
		return fmt.Errorf("gateway failed to bind: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  listen %s\n  ready.\n", bound)

	select {
	case <-ctx.Done():
	case <-serveShutdownCh:
	case err := <-runErr:
		return err
	}
	close(shutdown)
	return <-runErr
}

// waitForBind waits until srv has bound its port or Run has returned.
func waitForBind(srv *gateway.Server, runErr <-chan error) (string, error) {
	select {
	case <-srv.Ready():
		return srv.Addr(), nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("gateway stopped before binding")
		}
		return "", err
	case <-time.After(serveBindWait):
		return "", errors.New("timed out (check port or permissions)")
	}
}
