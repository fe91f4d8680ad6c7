package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"spellcast/internal/domain"
)

// OllamaURL is the default local Ollama API base.
const OllamaURL = "http://localhost:11434/api"

// OllamaBrain calls the Ollama chat API. Streams are newline-delimited JSON.
type OllamaBrain struct {
	settings
	model string
}

// NewOllamaBrain returns an Ollama-backed brain. WithURL sets the API base
// (without the /chat suffix).
func NewOllamaBrain(model string, opts ...Option) *OllamaBrain {
	return &OllamaBrain{
		settings: newSettings(OllamaURL, opts),
		model:    model,
	}
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// StreamProcess implements domain.Brain.
func (b *OllamaBrain) StreamProcess(ctx context.Context, messages []domain.Message) (domain.ChunkStream, error) {
	resp, err := b.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		if transientStatus(resp.StatusCode) {
			return nil, statusError("ollama", resp)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newErrorStream(string(body), resp.Status), nil
	}
	return &ndjsonStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// SingleResponse implements domain.Brain.
func (b *OllamaBrain) SingleResponse(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := b.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("ollama", resp)
	}
	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Message.Content, nil
}

func (b *OllamaBrain) post(ctx context.Context, messages []domain.Message, stream bool) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := ollamaRequest{
		Model:    b.model,
		Messages: toChatMessages(messages),
		Stream:   stream,
	}
	if b.temperature != nil || b.maxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: b.temperature, NumPredict: b.maxTokens}
	}
	raw, err := b.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("ollama marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(b.url, "/")+"/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.log().Debug("llm: request", "provider", "ollama", "model", b.model, "messages", len(messages), "stream", stream)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama do: %w", err)
	}
	return resp, nil
}

var _ domain.Brain = (*OllamaBrain)(nil)

// ndjsonStream decodes one JSON object per line. An object carrying "error"
// becomes an error chunk; "done": true ends the stream.
type ndjsonStream struct {
	body        io.ReadCloser
	reader      *bufio.Reader
	done        bool
	pendingDone bool
}

func (s *ndjsonStream) Recv() (domain.Chunk, error) {
	if s.pendingDone {
		s.pendingDone = false
		s.done = true
		return domain.Chunk{Kind: domain.ChunkDone}, nil
	}
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return domain.Chunk{}, fmt.Errorf("ollama stream: read: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev ollamaResponse
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return domain.Chunk{}, fmt.Errorf("ollama stream: parse chunk %q: %w", line, err)
		}
		if ev.Error != "" {
			s.done = true
			return domain.Chunk{Kind: domain.ChunkError, Text: line}, nil
		}
		if ev.Done {
			if ev.Message.Content != "" {
				// the final object may still carry text
				s.pendingDone = true
				return domain.Chunk{Kind: domain.ChunkContent, Text: ev.Message.Content}, nil
			}
			s.done = true
			return domain.Chunk{Kind: domain.ChunkDone}, nil
		}
		if ev.Message.Content == "" {
			continue
		}
		return domain.Chunk{Kind: domain.ChunkContent, Text: ev.Message.Content}, nil
	}
	s.done = true
	return domain.Chunk{}, io.EOF
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
