package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Use errors.Is to check.
var (
	ErrAgentBusy           = errors.New("agent is busy")
	ErrMalformedInvocation = errors.New("malformed invocation")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrToolNotFound        = errors.New("tool not found")
	ErrDuplicateTool       = errors.New("duplicate tool")
	ErrRegistryFrozen      = errors.New("registry is frozen")
	ErrStreamProcessing    = errors.New("stream processing failed")
	ErrRoundLimitExceeded  = errors.New("round limit exceeded")
)

// BusyError is returned when a turn is requested while the conversation is not idle.
type BusyError struct {
	Status AgentStatus
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("agent is busy (status=%s)", e.Status)
}

func (e *BusyError) Is(target error) bool { return target == ErrAgentBusy }

// StreamError wraps a brain or scanner failure during a round.
type StreamError struct {
	Round int
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream processing failed in round %d: %v", e.Round, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Is(target error) bool { return target == ErrStreamProcessing }

// RoundLimitError is returned when the model kept invoking tools for every
// allowed round. Last holds the pass-through text of the final round.
type RoundLimitError struct {
	Rounds int
	Last   string
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("round limit exceeded after %d rounds", e.Rounds)
}

func (e *RoundLimitError) Is(target error) bool { return target == ErrRoundLimitExceeded }

// ProviderError is a non-2xx answer from a model API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Status     string // e.g. "429 Too Many Requests"
	Body       string // bounded excerpt of the response body
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s api: %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s api: %s: %s", e.Provider, e.Status, e.Body)
}

// RateLimited reports a 429.
func (e *ProviderError) RateLimited() bool { return e.StatusCode == 429 }

// Transient reports whether the same request may succeed later.
func (e *ProviderError) Transient() bool {
	return e.RateLimited() || e.StatusCode >= 500
}
