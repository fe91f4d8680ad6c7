package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"spellcast/internal/cli"
	"spellcast/internal/config"
	"spellcast/internal/domain"
	"spellcast/internal/llm"
	"spellcast/internal/secrets"
	"spellcast/internal/security"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("spellcast %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "spellcast",
		Short:         "Chat agent that casts tools inline",
		Long:          "Spellcast streams a model's answer and runs the spells it casts between markers, feeding results back until the model is done.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, provider key, paths and spells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			code := cli.RunCheck(cli.CheckOptions{Path: configPath(cmd), Fix: fix, Lookup: keyLookup}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	configCmd := &cobra.Command{Use: "config", Short: "Get, set or unset config values by dot path"}
	for _, action := range []struct {
		name, short string
		args        cobra.PositionalArgs
	}{
		{"get", "Print the value at a path, e.g. agent.marker", cobra.ExactArgs(1)},
		{"set", "Set the value at a path; refused if the result is invalid", cobra.ExactArgs(2)},
		{"unset", "Remove the value at a path", cobra.ExactArgs(1)},
		{"allow", "Add a command binary to allowedCommands", cobra.ExactArgs(1)},
		{"deny", "Remove a command binary from allowedCommands", cobra.ExactArgs(1)},
	} {
		name := action.name
		configCmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: action.short,
			Args:  action.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				opts := cli.ConfigOptions{Path: configPath(cmd), Action: name, Key: args[0]}
				if len(args) > 1 {
					opts.Value = args[1]
				}
				if code := cli.RunConfig(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
					return exitCodeErr(code)
				}
				return nil
			},
		})
	}
	root.AddCommand(configCmd)

	root.AddCommand(newSecretsCommand())
	root.AddCommand(newToolsCommand(), newPromptCommand(), newAskCommand(), newChatCommand(), newServeCommand(bm))
	return root
}

// configPath returns the --config flag, falling back to config.Path().
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.Path()
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//
//	go build -ldflags "-X main.version=0.3.0" -o spellcast ./cmd/spellcast
var version string

// keyLookup resolves provider API keys. Tests replace it.
var keyLookup llm.KeyLookup = defaultKeyLookup

// openSecrets opens the encrypted key store; tests replace it.
var openSecrets = secrets.DefaultStore

// defaultKeyLookup reads the environment first, then the secrets store.
func defaultKeyLookup(name string) string {
	store, err := openSecrets()
	if err != nil {
		return os.Getenv(name)
	}
	return secrets.Lookup(store, os.Getenv)(name)
}

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// exitDuplicateTool is the exit code when two spells share a name.
const exitDuplicateTool = 3

// runApp runs the root command with the given args and returns the exit code.
func runApp(args []string) int {
	return runAppWith(args, os.Stdin, os.Stdout, os.Stderr)
}

func runAppWith(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, "Error:", err)
		switch {
		case errors.Is(err, security.ErrRunningAsRoot):
			return 2
		case errors.Is(err, domain.ErrDuplicateTool):
			return exitDuplicateTool
		}
		return 1
	}
	return 0
}
