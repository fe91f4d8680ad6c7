package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"spellcast/internal/domain"
)

const (
	// OpenAIURL is the default chat completions endpoint.
	OpenAIURL = "https://api.openai.com/v1/chat/completions"
	// OpenRouterURL is OpenRouter's OpenAI-compatible endpoint.
	OpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
)

// OpenAIBrain calls an OpenAI-compatible Chat Completions API. Streams are
// read as server-sent events.
type OpenAIBrain struct {
	settings
	name   string
	apiKey string
	model  string
}

// NewOpenAIBrain returns a brain for the OpenAI API. Use WithURL for any
// other OpenAI-compatible server.
func NewOpenAIBrain(apiKey, model string, opts ...Option) *OpenAIBrain {
	return &OpenAIBrain{
		settings: newSettings(OpenAIURL, opts),
		name:     "openai",
		apiKey:   apiKey,
		model:    model,
	}
}

// NewOpenRouterBrain returns an OpenAIBrain pointed at OpenRouter.
func NewOpenRouterBrain(apiKey, model string, opts ...Option) *OpenAIBrain {
	b := NewOpenAIBrain(apiKey, model, append([]Option{WithURL(OpenRouterURL)}, opts...)...)
	b.name = "openrouter"
	return b
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

// StreamProcess implements domain.Brain. Rate limits and server errors fail
// the open; any other non-2xx answer is delivered as a single error chunk.
func (b *OpenAIBrain) StreamProcess(ctx context.Context, messages []domain.Message) (domain.ChunkStream, error) {
	resp, err := b.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		if transientStatus(resp.StatusCode) {
			return nil, statusError(b.name, resp)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newErrorStream(string(body), resp.Status), nil
	}
	return newSSEStream(b.name, resp.Body, b.log()), nil
}

// SingleResponse implements domain.Brain.
func (b *OpenAIBrain) SingleResponse(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := b.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(b.name, resp)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s decode: %w", b.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", b.name)
	}
	for _, c := range out.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", nil
}

func (b *OpenAIBrain) post(ctx context.Context, messages []domain.Message, stream bool) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := chatRequest{
		Model:       b.model,
		Messages:    toChatMessages(messages),
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		Stream:      stream,
	}
	raw, err := b.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("%s marshal: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", b.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	b.log().Debug("llm: request", "provider", b.name, "model", b.model, "messages", len(messages), "stream", stream)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s do: %w", b.name, err)
	}
	return resp, nil
}

var _ domain.Brain = (*OpenAIBrain)(nil)

// =============================================================================
// SSE stream
// =============================================================================

// sseStream decodes "data:" lines into chunks. A line starting with "{" is an
// error envelope sent in place of events: the rest of the body is read into a
// single error chunk.
type sseStream struct {
	name   string
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
	logger *slog.Logger
}

func newSSEStream(name string, body io.ReadCloser, logger *slog.Logger) *sseStream {
	return &sseStream{name: name, body: body, reader: bufio.NewReader(body), logger: logger}
}

func (s *sseStream) Recv() (domain.Chunk, error) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return domain.Chunk{}, fmt.Errorf("%s stream: read: %w", s.name, err)
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "{"):
			rest, _ := io.ReadAll(io.LimitReader(s.reader, maxErrorBody))
			s.done = true
			return domain.Chunk{Kind: domain.ChunkError, Text: strings.TrimSpace(line + "\n" + string(rest))}, nil
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				s.done = true
				return domain.Chunk{Kind: domain.ChunkDone}, nil
			}
			var ev streamResponse
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				return domain.Chunk{}, fmt.Errorf("%s stream: parse chunk %q: %w", s.name, payload, err)
			}
			if len(ev.Error) > 0 && string(ev.Error) != "null" {
				s.done = true
				return domain.Chunk{Kind: domain.ChunkError, Text: payload}, nil
			}
			var text strings.Builder
			for _, c := range ev.Choices {
				text.WriteString(c.Delta.Content)
			}
			if text.Len() == 0 {
				continue
			}
			return domain.Chunk{Kind: domain.ChunkContent, Text: text.String()}, nil
		default:
			s.logger.Debug("llm: skipping stream line", "provider", s.name, "line", line)
		}
	}
	s.done = true
	return domain.Chunk{}, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// errorStream yields one error chunk holding a failed response body.
type errorStream struct {
	text string
	sent bool
}

func newErrorStream(body, status string) *errorStream {
	body = strings.TrimSpace(body)
	if body == "" {
		body = status
	}
	return &errorStream{text: body}
}

func (s *errorStream) Recv() (domain.Chunk, error) {
	if s.sent {
		return domain.Chunk{}, io.EOF
	}
	s.sent = true
	return domain.Chunk{Kind: domain.ChunkError, Text: s.text}, nil
}

func (s *errorStream) Close() error { return nil }
