// Package retry decorates a Brain so that opening a stream is retried with
// exponential backoff when the provider fails transiently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"spellcast/internal/domain"
)

// Config controls the backoff schedule. MaxRetries counts attempts after the
// first; zero disables retrying.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// FromDomain converts the "retry" config section, whose durations are in
// milliseconds.
func FromDomain(rc domain.RetryConfig) Config {
	return Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoff) * time.Millisecond,
		Multiplier:     float64(rc.Multiplier),
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("retry: maxRetries must be >= 0"))
	}
	if c.InitialBackoff <= 0 {
		errs = append(errs, errors.New("retry: initialBackoff must be > 0"))
	}
	if c.MaxBackoff <= 0 {
		errs = append(errs, errors.New("retry: maxBackoff must be > 0"))
	}
	if c.Multiplier < 1 {
		errs = append(errs, errors.New("retry: multiplier must be >= 1"))
	}
	return errors.Join(errs...)
}

// Delay is the wait before retry number attempt (0-based), capped at MaxBackoff.
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for range attempt {
		d *= c.Multiplier
		if d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return min(time.Duration(d), c.MaxBackoff)
}

// statusCodes are matched in the text of errors that carry no ProviderError.
var statusCodes = []string{"429", "500", "502", "503", "504", "529"}

// IsRetryable reports whether err is worth another attempt: a 429 or 5xx
// from the provider, a network timeout, a refused or reset connection, or an
// unexpected end of body. Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF") {
		return true
	}
	for _, code := range statusCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// Option configures a RetryableBrain.
type Option func(*RetryableBrain)

func WithLogger(l *slog.Logger) Option {
	return func(b *RetryableBrain) {
		b.logger = l
	}
}

// RetryableBrain retries opening a stream or a single response. A stream
// that fails after it was opened is not replayed.
type RetryableBrain struct {
	inner  domain.Brain
	config Config
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetryableBrain panics when inner is nil.
func NewRetryableBrain(inner domain.Brain, cfg Config, opts ...Option) *RetryableBrain {
	if inner == nil {
		panic("retry: inner brain must not be nil")
	}
	b := &RetryableBrain{inner: inner, config: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RetryableBrain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

func (b *RetryableBrain) StreamProcess(ctx context.Context, messages []domain.Message) (domain.ChunkStream, error) {
	return attempt(ctx, b, func() (domain.ChunkStream, error) {
		return b.inner.StreamProcess(ctx, messages)
	})
}

func (b *RetryableBrain) SingleResponse(ctx context.Context, messages []domain.Message) (string, error) {
	return attempt(ctx, b, func() (string, error) {
		return b.inner.SingleResponse(ctx, messages)
	})
}

func attempt[T any](ctx context.Context, b *RetryableBrain, fn func() (T, error)) (T, error) {
	var zero T
	for n := 0; ; n++ {
		out, err := fn()
		if err == nil || !IsRetryable(err) {
			return out, err
		}
		if n == b.config.MaxRetries {
			return zero, fmt.Errorf("retries exhausted after %d attempts: %w", n+1, err)
		}
		delay := b.config.Delay(n)
		b.log().Warn("retry: transient failure", "attempt", n+1, "delay", delay, "error", err)
		if err := b.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ domain.Brain = (*RetryableBrain)(nil)
