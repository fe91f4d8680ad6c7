package tooling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"spellcast/internal/config"
	"spellcast/internal/domain"
	"spellcast/internal/tokenizer"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout string, stderr string, err error)
}

// ExitCoder is satisfied by errors that carry a process exit code
// (e.g., *exec.ExitError).
type ExitCoder interface {
	ExitCode() int
}

// CommandTools builds manifest command tools that share one allowlist, runner
// and working directory.
type CommandTools struct {
	cfg    *domain.Config
	runner CommandRunner
	dir    string
}

// NewCommandTools returns a factory for command tools. A nil runner uses ExecCommandRunner.
func NewCommandTools(cfg *domain.Config, runner CommandRunner, dir string) *CommandTools {
	if runner == nil {
		runner = &ExecCommandRunner{}
	}
	return &CommandTools{cfg: cfg, runner: runner, dir: dir}
}

// Tool turns a manifest command entry into a descriptor. The command line is
// tokenized once; invocation arguments are appended as extra argv entries and
// never pass through a shell. The allowlist is checked up front and again on
// every call so Save-d allowlist edits take effect.
func (c *CommandTools) Tool(spec ToolSpec) (domain.ToolDescriptor, error) {
	base := tokenizer.SplitInvocation(strings.TrimSpace(spec.Command))
	if base[0] == "" {
		return domain.ToolDescriptor{}, fmt.Errorf("command tool %s: empty command", spec.Name)
	}
	if err := config.ValidateCommand(c.cfg, base[0]); err != nil {
		return domain.ToolDescriptor{}, fmt.Errorf("command tool %s: %s: %w", spec.Name, base[0], err)
	}
	desc := spec.Description
	if desc == "" {
		desc = "Runs " + spec.Command
	}
	return domain.ToolDescriptor{
		Name:        spec.Name,
		Description: desc,
		Args:        spec.Args,
		Func: func(ctx context.Context, args []string) (string, error) {
			return c.run(ctx, base, args)
		},
	}, nil
}

func (c *CommandTools) run(ctx context.Context, base, args []string) (string, error) {
	if err := config.ValidateCommand(c.cfg, base[0]); err != nil {
		return "", err
	}
	argv := make([]string, 0, len(base)+len(args))
	argv = append(append(argv, base...), args...)

	stdout, stderr, err := c.runner.Run(ctx, c.dir, argv)
	exitCode := 0
	if err != nil {
		var exitErr ExitCoder
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to execute command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	output := strings.TrimRight(stdout, "\n")
	if stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "--- stderr ---\n" + strings.TrimRight(stderr, "\n")
	}
	if exitCode != 0 {
		if output != "" {
			output += "\n"
		}
		output += fmt.Sprintf("[exit status %d]", exitCode)
	}
	if output == "" {
		output = "(no output)"
	}
	return output, nil
}

// ExecCommandRunner executes argv directly with os/exec.
type ExecCommandRunner struct{}

// Run executes argv in dir and returns stdout, stderr, and any error.
func (e *ExecCommandRunner) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
