package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"spellcast/internal/domain"
)

// Option configures a Conversation.
type Option func(*Conversation)

// WithHistory persists every appended message to store. Nil is ignored.
func WithHistory(store domain.SessionHistoryStore) Option {
	return func(c *Conversation) {
		if store != nil {
			c.history = store
		}
	}
}

// WithLogger sets a structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) {
		if l != nil {
			c.logger = l
		}
	}
}

// nowFunc is the clock for message timestamps; tests may replace it.
var nowFunc = time.Now

// Conversation is an ordered message list plus the agent status. The first
// message, once set, is kept by Clear. Safe for concurrent use; readers get copies.
type Conversation struct {
	mu       sync.RWMutex
	messages []domain.Message
	status   domain.AgentStatus
	history  domain.SessionHistoryStore
	logger   *slog.Logger
}

// NewConversation returns an empty, idle conversation.
func NewConversation(opts ...Option) *Conversation {
	c := &Conversation{status: domain.StatusIdle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conversation) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

func newMessage(role domain.MessageRole, content string) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: nowFunc(),
	}
}

// SetSystemPrompt makes prompt the first message. An existing leading system
// message is replaced; otherwise one is inserted at the front. The system
// prompt is not persisted to history.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 && c.messages[0].Role == domain.RoleSystem {
		c.messages[0].Content = prompt
		c.messages[0].Timestamp = nowFunc()
		return
	}
	c.messages = append([]domain.Message{newMessage(domain.RoleSystem, prompt)}, c.messages...)
}

// Append adds a message and persists it when history is configured.
// Persistence failures are logged, not returned.
func (c *Conversation) Append(role domain.MessageRole, content string) domain.Message {
	m := newMessage(role, content)
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()

	if c.history != nil {
		if err := c.history.Append(m); err != nil {
			c.log().Warn("session: persist message", "role", role, "error", err)
		}
	}
	return m
}

// Messages returns a copy of all messages.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Message(nil), c.messages...)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear truncates the conversation back to its first message. It is a no-op
// on an empty conversation.
func (c *Conversation) Clear() {
	c.mu.Lock()
	if len(c.messages) > 1 {
		c.messages = c.messages[:1:1]
	}
	c.mu.Unlock()

	if c.history != nil {
		if err := c.history.MarkCleared(); err != nil {
			c.log().Warn("session: persist clear", "error", err)
		}
	}
}

// Restore reloads up to n messages from history after the existing ones,
// without persisting them again. It returns how many were loaded.
func (c *Conversation) Restore(n int) (int, error) {
	if c.history == nil {
		return 0, nil
	}
	msgs, err := c.history.LoadHistory(n)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
	return len(msgs), nil
}

// Status returns the current agent status.
func (c *Conversation) Status() domain.AgentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus updates the agent status.
func (c *Conversation) SetStatus(s domain.AgentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// SwapStatus sets the status to `to` only when it currently equals `from`.
// It returns the status found and whether the swap happened.
func (c *Conversation) SwapStatus(from, to domain.AgentStatus) (domain.AgentStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != from {
		return c.status, false
	}
	c.status = to
	return from, true
}

func (c *Conversation) IsIdle() bool {
	return c.Status() == domain.StatusIdle
}
