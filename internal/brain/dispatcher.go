package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"spellcast/internal/domain"
	"spellcast/internal/injection"
	"spellcast/internal/tokenizer"
)

const (
	// ResultPrefix opens a combined result block.
	ResultPrefix = "#S# "
	// ResultSuffix closes a combined result block.
	ResultSuffix = " #E#"
	// ErrorPrefix marks a failed invocation inside a result block.
	ErrorPrefix = "ERROR:"
)

// Resolver looks up tools by name. *tooling.Registry implements it.
type Resolver interface {
	Resolve(name string) (domain.ToolDescriptor, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets a structured logger for the Dispatcher. Nil is ignored.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithInjectionGuard scans every successful result with s and logs a warning
// when it matches. Results are passed on unchanged.
func WithInjectionGuard(s *injection.Scanner) DispatcherOption {
	return func(d *Dispatcher) {
		d.guard = s
	}
}

// Dispatcher turns raw invocation texts into tool calls.
type Dispatcher struct {
	tools  Resolver
	logger *slog.Logger
	guard  *injection.Scanner
}

// NewDispatcher returns a Dispatcher resolving against tools. Panics if tools is nil.
func NewDispatcher(tools Resolver, opts ...DispatcherOption) *Dispatcher {
	if tools == nil {
		panic("dispatcher: resolver must not be nil")
	}
	d := &Dispatcher{tools: tools}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

// Run tokenizes raw, resolves the tool and calls it. Errors are returned as
// is: domain.ErrMalformedInvocation, domain.ErrUnknownTool, or the tool's own
// error. A panicking tool is reported as an error.
func (d *Dispatcher) Run(ctx context.Context, raw string) (result string, err error) {
	inv, err := tokenizer.ParseInvocation(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	desc, err := d.tools.Resolve(inv.Name)
	if err != nil {
		if errors.Is(err, domain.ErrToolNotFound) {
			return "", fmt.Errorf("%w: %s", domain.ErrUnknownTool, inv.Name)
		}
		return "", err
	}

	defer func() {
		if p := recover(); p != nil {
			d.log().Error("dispatcher: tool panicked", "tool", inv.Name, "panic", p)
			result, err = "", fmt.Errorf("tool %s panicked: %v", inv.Name, p)
		}
	}()
	return desc.Func(ctx, inv.Args)
}

// Execute runs one invocation and returns its result text. Failures never
// propagate; they are rendered as ErrorPrefix followed by the message.
func (d *Dispatcher) Execute(ctx context.Context, raw string) string {
	start := time.Now()
	out, err := d.Run(ctx, raw)
	if err != nil {
		d.log().Warn("dispatcher: invocation failed", "invocation", truncate(strings.TrimSpace(raw), 50), "error", err)
		return ErrorPrefix + err.Error()
	}
	d.log().Debug("dispatcher: invocation done", "invocation", truncate(strings.TrimSpace(raw), 50), "duration", time.Since(start))
	if d.guard != nil {
		if r := d.guard.Scan(out); r.Detected {
			d.log().Warn("dispatcher: result may carry prompt injection", "invocation", truncate(strings.TrimSpace(raw), 50), "matched", r.Patterns)
		}
	}
	return out
}

// ExecuteBatch runs each invocation in order and combines the results as
// "#S# [1] r1\n[2] r2\n #E#".
func (d *Dispatcher) ExecuteBatch(ctx context.Context, raws []string) string {
	var sb strings.Builder
	for i, raw := range raws {
		sb.WriteString("[")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("] ")
		sb.WriteString(d.Execute(ctx, raw))
		sb.WriteString("\n")
	}
	return ResultPrefix + sb.String() + ResultSuffix
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
