package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"spellcast/internal/domain"
)

// DefaultMarker delimits invocations on both sides.
const DefaultMarker = "@#%"

// ParseErrorMessage is written to the sink when the model answered with an
// error envelope instead of content.
const ParseErrorMessage = "Failed to parse the streamed model response, please contact the system administrator."

// Result is the outcome of scanning one model stream.
type Result struct {
	// Raw is the full response text, markers included.
	Raw string
	// PassThrough is everything written to the sink.
	PassThrough string
	// Invocations holds the text between each marker pair, in detection order.
	Invocations []string
	// Envelope is the provider error envelope when the stream carried one.
	Envelope string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets a structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scanner splits a model stream into pass-through text and invocations.
// A Scanner holds no per-stream state and may be shared.
type Scanner struct {
	marker string
	logger *slog.Logger
}

// New returns a Scanner for marker. An empty marker selects DefaultMarker.
func New(marker string, opts ...Option) *Scanner {
	if marker == "" {
		marker = DefaultMarker
	}
	s := &Scanner{marker: marker}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Marker() string { return s.marker }

func (s *Scanner) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Scan consumes stream until it ends and returns what it found. Pass-through
// text is written to sink after each chunk. The stream is closed before Scan
// returns. An error envelope is logged and replaced by ParseErrorMessage;
// such a result carries no invocations.
func (s *Scanner) Scan(ctx context.Context, stream domain.ChunkStream, sink io.Writer) (*Result, error) {
	defer func() {
		if err := stream.Close(); err != nil {
			s.log().Warn("scanner: close stream", "error", err)
		}
	}()

	st := NewScanState(s.marker)
loop:
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scanner: %w", err)
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanner: receive chunk: %w", err)
		}

		switch chunk.Kind {
		case domain.ChunkDone:
			break loop
		case domain.ChunkError:
			return s.abort(st, stream, chunk.Text, sink)
		default:
			if out := st.Feed(chunk.Text); out != "" {
				if err := write(sink, out); err != nil {
					return nil, err
				}
			}
		}
	}

	tail, unterminated := st.Finish()
	if unterminated {
		s.log().Warn("scanner: stream ended inside an invocation", "text", truncate(tail, 80))
	}
	if tail != "" {
		if err := write(sink, tail); err != nil {
			return nil, err
		}
	}
	res := &Result{
		Raw:         st.Raw(),
		PassThrough: st.PassThrough(),
		Invocations: st.Invocations(),
	}
	s.log().Debug("scanner: stream complete", "invocations", len(res.Invocations), "raw_len", len(res.Raw))
	return res, nil
}

// abort handles an error envelope: the remaining stream is drained and
// logged, and ParseErrorMessage replaces the answer.
func (s *Scanner) abort(st *ScanState, stream domain.ChunkStream, envelope string, sink io.Writer) (*Result, error) {
	var rest strings.Builder
	for {
		chunk, err := stream.Recv()
		if err != nil || chunk.Kind == domain.ChunkDone {
			break
		}
		rest.WriteString(chunk.Text)
	}
	if rest.Len() > 0 {
		s.log().Debug("scanner: drained after error envelope", "text", truncate(rest.String(), 200))
	}
	code, msg := envelopeDetails(envelope)
	s.log().Error("scanner: model returned an error envelope", "code", code, "message", msg)

	tail, _ := st.Finish()
	out := tail + ParseErrorMessage
	if err := write(sink, out); err != nil {
		return nil, err
	}
	return &Result{
		Raw:         st.Raw(),
		PassThrough: st.PassThrough() + ParseErrorMessage,
		Envelope:    envelope,
	}, nil
}

// envelopeDetails extracts error.code and error.message from an OpenAI-style
// error body. Unparseable bodies yield the raw text as message.
func envelopeDetails(body string) (code, message string) {
	var env struct {
		Error struct {
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", truncate(body, 200)
	}
	code = strings.Trim(string(env.Error.Code), `"`)
	if code == "null" {
		code = ""
	}
	return code, env.Error.Message
}

func write(sink io.Writer, s string) error {
	if _, err := io.WriteString(sink, s); err != nil {
		return fmt.Errorf("scanner: write pass-through: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
