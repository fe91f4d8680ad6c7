package llm

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Option configures an HTTP brain.
type Option func(*settings)

type settings struct {
	url         string
	temperature *float64
	maxTokens   int
	client      *http.Client
	logger      *slog.Logger
	marshalFunc func(v any) ([]byte, error) // for testing
}

func newSettings(defaultURL string, opts []Option) settings {
	s := settings{
		url:         defaultURL,
		client:      &http.Client{},
		marshalFunc: json.Marshal,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *settings) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// WithURL overrides the endpoint. Empty is ignored.
func WithURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.url = u
		}
	}
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(s *settings) {
		s.temperature = &t
	}
}

// WithMaxTokens caps the completion length. Values below 1 leave it to the server.
func WithMaxTokens(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithHTTPClient sets the client, e.g. one built by NewHTTPClient. Nil is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
