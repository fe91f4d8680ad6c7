package llm

import (
	"context"
	"io"
	"strings"

	"spellcast/internal/domain"
)

// LocalBrain is a model-agnostic stub for manual testing without API keys.
// It answers with the last user message, optionally prefixed, streamed word
// by word.
type LocalBrain struct {
	Prefix string // prepended to the echoed message
}

// NewLocalBrain returns a local brain that echoes the last user message.
func NewLocalBrain(prefix string) *LocalBrain {
	return &LocalBrain{Prefix: prefix}
}

// StreamProcess implements domain.Brain.
func (b *LocalBrain) StreamProcess(ctx context.Context, messages []domain.Message) (domain.ChunkStream, error) {
	answer, err := b.SingleResponse(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &sliceStream{parts: strings.SplitAfter(answer, " ")}, nil
}

// SingleResponse implements domain.Brain.
func (b *LocalBrain) SingleResponse(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			last = messages[i].Content
			break
		}
	}
	return b.Prefix + last, nil
}

var _ domain.Brain = (*LocalBrain)(nil)

type sliceStream struct {
	parts []string
	pos   int
}

func (s *sliceStream) Recv() (domain.Chunk, error) {
	for s.pos < len(s.parts) {
		p := s.parts[s.pos]
		s.pos++
		if p != "" {
			return domain.Chunk{Kind: domain.ChunkContent, Text: p}, nil
		}
	}
	return domain.Chunk{}, io.EOF
}

func (s *sliceStream) Close() error { return nil }
