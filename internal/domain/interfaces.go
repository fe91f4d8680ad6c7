package domain

import "context"

// Brain is the model-calling collaborator. Implementations may be an
// OpenAI-compatible API, Ollama, a local stub, or mocks.
type Brain interface {
	// StreamProcess starts a streamed completion for the conversation. The returned
	// stream is lazy and not restartable; callers must Close it.
	StreamProcess(ctx context.Context, messages []Message) (ChunkStream, error)

	// SingleResponse returns one decoded, non-streamed completion.
	SingleResponse(ctx context.Context, messages []Message) (string, error)
}

// ChunkStream yields decoded chunks until a ChunkDone chunk or io.EOF.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// SessionHistoryStore persists conversation messages and supports loading the
// last N messages to restore context on restart.
type SessionHistoryStore interface {
	// Append persists one message.
	Append(msg Message) error

	// LoadHistory reads the last n messages stored after the most recent clear.
	// Returns empty slice when nothing is stored or n <= 0.
	LoadHistory(n int) ([]Message, error)

	// MarkCleared records that the conversation was cleared; earlier messages
	// are no longer restored.
	MarkCleared() error
}

// Tokenizer counts tokens in a string for context window management.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// ContextManager fits messages into a model's context window.
type ContextManager interface {
	// FitToWindow returns the messages that fit within the configured token
	// limit. A leading system message is always kept; older messages after it
	// are dropped first (sliding window).
	FitToWindow(messages []Message) ([]Message, error)
}

// MemoryStore persists agent notes. Implementations must append only (no overwrite).
type MemoryStore interface {
	// Append writes content to the log for the given date (YYYY-MM-DD).
	Append(date string, content string) error

	// Remember appends a fact to the persistent long-term memory file.
	Remember(content string) error

	// LoadMemory reads the persistent long-term memory.
	// Returns empty string (not error) when nothing was remembered yet.
	LoadMemory() (string, error)
}
