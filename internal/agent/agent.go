// Package agent is the facade callers talk to: one conversation driven by one
// Wizard, with proceed, clear and idle operations.
package agent

import (
	"context"
	"io"
	"log/slog"

	"spellcast/internal/brain"
	"spellcast/internal/domain"
	"spellcast/internal/session"
)

var _ brain.Conversation = (*session.Conversation)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithConversation uses conv instead of a fresh in-memory conversation, e.g.
// one backed by history.
func WithConversation(conv *session.Conversation) Option {
	return func(a *Agent) {
		if conv != nil {
			a.conv = conv
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// Agent owns one conversation and the Wizard that drives it.
type Agent struct {
	conv   *session.Conversation
	wizard *brain.Wizard
	logger *slog.Logger
}

// New returns an Agent whose conversation starts with systemPrompt, which
// should already be compiled.
func New(wizard *brain.Wizard, systemPrompt string, opts ...Option) *Agent {
	if wizard == nil {
		panic("agent: New requires a non-nil Wizard")
	}
	a := &Agent{wizard: wizard}
	for _, opt := range opts {
		opt(a)
	}
	if a.conv == nil {
		a.conv = session.NewConversation(session.WithLogger(a.logger))
	}
	a.conv.SetSystemPrompt(systemPrompt)
	a.log().Debug("agent: system prompt set", "chars", len(systemPrompt))
	return a
}

func (a *Agent) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// Proceed appends userMessage and returns one non-streamed answer. Invocations
// in that answer are not executed.
func (a *Agent) Proceed(ctx context.Context, userMessage string) (string, error) {
	if err := a.checkIdle(); err != nil {
		return "", err
	}
	a.conv.Append(domain.RoleUser, userMessage)
	return a.wizard.Respond(ctx, a.conv)
}

// ProceedWithStream appends userMessage and runs the invocation loop,
// streaming pass-through text to sink. sink is closed exactly once.
func (a *Agent) ProceedWithStream(ctx context.Context, userMessage string, sink io.WriteCloser) (string, error) {
	if err := a.checkIdle(); err != nil {
		closeQuietly(sink)
		return "", err
	}
	a.conv.Append(domain.RoleUser, userMessage)
	return a.wizard.Think(ctx, a.conv, sink)
}

// ProceedChatWithStream resumes the loop without a new user message, e.g.
// after messages were appended by another collaborator.
func (a *Agent) ProceedChatWithStream(ctx context.Context, sink io.WriteCloser) (string, error) {
	return a.wizard.Think(ctx, a.conv, sink)
}

// Clear drops everything but the system prompt and returns the agent to idle,
// which also recovers a conversation left busy by a failed round.
func (a *Agent) Clear() {
	a.conv.Clear()
	a.conv.SetStatus(domain.StatusIdle)
}

// Reset returns the agent to idle keeping every message, so a failed round can be retried.
func (a *Agent) Reset() {
	a.conv.SetStatus(domain.StatusIdle)
}

func (a *Agent) IsIdle() bool {
	return a.conv.IsIdle()
}

// Conversation exposes the underlying conversation.
func (a *Agent) Conversation() *session.Conversation {
	return a.conv
}

func (a *Agent) checkIdle() error {
	if s := a.conv.Status(); s != domain.StatusIdle {
		return &domain.BusyError{Status: s}
	}
	return nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
