package context

import (
	"errors"
	"fmt"

	"spellcast/internal/domain"
)

// messageOverhead approximates the per-message framing tokens of chat APIs.
const messageOverhead = 4

// ErrWindowTooSmall is returned when the system prompt and the newest message
// cannot both fit the window.
var ErrWindowTooSmall = errors.New("context: window too small")

// Manager implements domain.ContextManager using a sliding-window strategy.
// A leading system message is always kept; the remaining messages are kept
// newest first until the token budget is spent.
type Manager struct {
	tokenizer domain.Tokenizer
	maxTokens int
}

// NewManager creates a Manager with the given tokenizer and max token limit.
// Panics if tokenizer is nil or maxTokens <= 0.
func NewManager(tokenizer domain.Tokenizer, maxTokens int) *Manager {
	if tokenizer == nil {
		panic("context: tokenizer must not be nil")
	}
	if maxTokens <= 0 {
		panic("context: maxTokens must be > 0")
	}
	return &Manager{
		tokenizer: tokenizer,
		maxTokens: maxTokens,
	}
}

// FitToWindow returns the messages that fit in the window, in their original
// order. The result shares no backing array with messages.
func (m *Manager) FitToWindow(messages []domain.Message) ([]domain.Message, error) {
	if len(messages) == 0 {
		return []domain.Message{}, nil
	}

	var head []domain.Message
	rest := messages
	budget := m.maxTokens
	if messages[0].Role == domain.RoleSystem {
		n, err := m.count(messages[0])
		if err != nil {
			return nil, fmt.Errorf("context: counting system prompt tokens: %w", err)
		}
		if n > budget {
			return nil, fmt.Errorf("%w: system prompt needs %d tokens, limit is %d", ErrWindowTooSmall, n, m.maxTokens)
		}
		budget -= n
		head = messages[:1]
		rest = messages[1:]
	}

	total := 0
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		n, err := m.count(rest[i])
		if err != nil {
			return nil, fmt.Errorf("context: counting tokens for message %d: %w", i+len(head), err)
		}
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	if len(rest) > 0 && start == len(rest) {
		return nil, fmt.Errorf("%w: newest message does not fit in %d tokens", ErrWindowTooSmall, budget)
	}

	out := make([]domain.Message, 0, len(head)+len(rest)-start)
	out = append(out, head...)
	return append(out, rest[start:]...), nil
}

func (m *Manager) count(msg domain.Message) (int, error) {
	if msg.Content == "" {
		return messageOverhead, nil
	}
	n, err := m.tokenizer.CountTokens(msg.Content)
	if err != nil {
		return 0, err
	}
	return n + messageOverhead, nil
}

// Ensure Manager implements domain.ContextManager.
var _ domain.ContextManager = (*Manager)(nil)
