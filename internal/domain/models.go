package domain

import (
	"context"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway         GatewayConfig `json:"gateway"`
	Agent           AgentConfig   `json:"agent"`
	Infra           InfraConfig   `json:"infra"`
	Retry           RetryConfig   `json:"retry"`
	History         HistoryConfig `json:"history"`
	AllowedCommands []string      `json:"allowedCommands"` // If non-empty, only these command binaries may be executed
	Jobs            []JobConfig   `json:"jobs,omitempty"`
}

// RetryConfig controls retry behaviour for opening model streams.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

type GatewayConfig struct {
	Port      int    `json:"port"`
	AuthToken string `json:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
}

type AgentConfig struct {
	Provider    string           `json:"provider"` // "local" | "openai" | "openrouter" | "ollama"
	Model       string           `json:"model"`
	APIURL      string           `json:"apiUrl,omitempty"`
	MaxRounds   int              `json:"maxRounds"`
	Marker      string           `json:"marker"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"maxTokens"`
	Timeouts    TimeoutConfig    `json:"timeouts"`
	Proxy       string           `json:"proxy,omitempty"` // e.g. http://127.0.0.1:7890
	PromptRoot  string           `json:"promptRoot"`      // directory holding SYSTEM.md
	Manifest    string           `json:"manifest"`        // books/tools manifest (YAML)
	Workspace   string           `json:"workspace"`       // jail root for the files book
	Memory      string           `json:"memory"`          // directory for the notes book
	Context     ContextConfig    `json:"context"`
	Fallbacks   []FallbackConfig `json:"fallbacks,omitempty"`
}

// TimeoutConfig holds model transport timeouts in seconds.
type TimeoutConfig struct {
	Read    int `json:"read"`
	Connect int `json:"connect"`
	Call    int `json:"call"`
}

// ContextConfig enables token-window fitting of the conversation before each model call.
type ContextConfig struct {
	MaxTokens int    `json:"maxTokens"` // 0 disables fitting
	Encoding  string `json:"encoding"`  // tiktoken encoding, e.g. "cl100k_base"
}

// FallbackConfig describes an alternative model provider for failover.
type FallbackConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIURL   string `json:"apiUrl,omitempty"`
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// HistoryConfig selects where conversation messages are persisted.
type HistoryConfig struct {
	Driver  string `json:"driver"`            // "" (off) | "jsonl" | "sql"
	Path    string `json:"path,omitempty"`    // directory for jsonl files
	URL     string `json:"url,omitempty"`     // database URL for sql, e.g. file:spellcast.db
	Restore int    `json:"restore,omitempty"` // messages to reload on start
}

// JobConfig is a cron schedule that injects Prompt into its own channel.
type JobConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	CronExpr string `json:"cron"`
	Prompt   string `json:"prompt"`
}

// =============================================================================
// Agent & Conversation Domain
// =============================================================================

type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusResponding AgentStatus = "responding"
	StatusSpelling   AgentStatus = "spelling"
)

type MessageRole string

const (
	RoleSystem       MessageRole = "system"
	RoleUser         MessageRole = "user"
	RoleAssistant    MessageRole = "assistant"
	RoleSystemResult MessageRole = "system-result"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// =============================================================================
// Streaming
// =============================================================================

type ChunkKind int

const (
	// ChunkContent carries decoded model text.
	ChunkContent ChunkKind = iota
	// ChunkError carries a provider error envelope (raw JSON) received in place of content.
	ChunkError
	// ChunkDone is the end-of-stream sentinel.
	ChunkDone
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkContent:
		return "content"
	case ChunkError:
		return "error"
	case ChunkDone:
		return "done"
	default:
		return "unknown"
	}
}

// Chunk is one decoded fragment of a model stream.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// =============================================================================
// Tooling
// =============================================================================

// ToolFunc is the callable behind a tool. Arguments are bound positionally;
// the function validates its own argument count and types.
type ToolFunc func(ctx context.Context, args []string) (string, error)

// ArgSpec documents one positional argument for prompt generation.
type ArgSpec struct {
	Name        string `json:"name" yaml:"name"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// ToolDescriptor identifies a tool in the registry. Name is unique across all books.
type ToolDescriptor struct {
	Name        string
	Description string
	Args        []ArgSpec
	Func        ToolFunc
}

// Invocation is a tokenized tool call.
type Invocation struct {
	Name string
	Args []string
}
