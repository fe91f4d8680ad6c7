package brain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"spellcast/internal/domain"
	"spellcast/internal/scanner"
)

// DefaultMaxRounds bounds the model/tool loop of one Think call.
const DefaultMaxRounds = 20

// ErrEmptyResponse is returned when the model answers a single request with no text.
var ErrEmptyResponse = errors.New("brain: empty model response")

// Conversation is the state a Wizard drives. *session.Conversation implements it.
type Conversation interface {
	Messages() []domain.Message
	Append(role domain.MessageRole, content string) domain.Message
	Status() domain.AgentStatus
	SetStatus(status domain.AgentStatus)
	// SwapStatus sets to when the current status equals from and reports the
	// status found.
	SwapStatus(from, to domain.AgentStatus) (domain.AgentStatus, bool)
}

// Option is a functional option for configuring Wizard.
type Option func(*Wizard)

// WithMaxRounds sets the round limit. Values below 1 are ignored.
func WithMaxRounds(n int) Option {
	return func(w *Wizard) {
		if n > 0 {
			w.maxRounds = n
		}
	}
}

// WithMarker sets the invocation marker. Empty is ignored.
func WithMarker(m string) Option {
	return func(w *Wizard) {
		if m != "" {
			w.marker = m
		}
	}
}

// WithMemory sets the memory store whose content is prepended to the system
// prompt of every model call. If ms is nil it is ignored.
func WithMemory(ms domain.MemoryStore) Option {
	return func(w *Wizard) {
		if ms != nil {
			w.memory = ms
		}
	}
}

// WithContextManager fits the conversation into the model window before each
// call. If cm is nil it is ignored.
func WithContextManager(cm domain.ContextManager) Option {
	return func(w *Wizard) {
		if cm != nil {
			w.contextMgr = cm
		}
	}
}

// WithLogger sets a structured logger for the Wizard. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wizard) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFallbacks adds brains tried in order when the primary cannot open a
// stream or answer. Nil entries are skipped.
func WithFallbacks(brains ...domain.Brain) Option {
	return func(w *Wizard) {
		for _, b := range brains {
			if b != nil {
				w.fallbacks = append(w.fallbacks, b)
			}
		}
	}
}

// Wizard runs the conversation loop: call the model, scan its stream, run the
// invocations it contains, feed the results back, and repeat until the model
// answers without invoking anything or the round limit is hit.
type Wizard struct {
	brain      domain.Brain
	fallbacks  []domain.Brain
	dispatcher *Dispatcher
	scanner    *scanner.Scanner
	maxRounds  int
	marker     string
	memory     domain.MemoryStore
	contextMgr domain.ContextManager
	logger     *slog.Logger
}

// NewWizard returns a Wizard. brain and dispatcher must not be nil.
func NewWizard(brain domain.Brain, dispatcher *Dispatcher, opts ...Option) *Wizard {
	if brain == nil {
		panic("wizard: brain must not be nil")
	}
	if dispatcher == nil {
		panic("wizard: dispatcher must not be nil")
	}
	w := &Wizard{
		brain:      brain,
		dispatcher: dispatcher,
		maxRounds:  DefaultMaxRounds,
		marker:     scanner.DefaultMarker,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.scanner = scanner.New(w.marker, scanner.WithLogger(w.logger))
	return w
}

func (w *Wizard) MaxRounds() int { return w.maxRounds }

func (w *Wizard) Marker() string { return w.marker }

// log returns the Wizard's logger, falling back to the default slog logger.
func (w *Wizard) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Think runs the loop for conv, streaming pass-through text into sink, and
// returns the pass-through of the final round. sink is closed exactly once
// before Think returns. A non-idle conversation yields *domain.BusyError
// without changes. Brain or scanner failures yield *domain.StreamError and
// leave the status as it was. Running out of rounds sets the status back to
// idle and yields *domain.RoundLimitError.
func (w *Wizard) Think(ctx context.Context, conv Conversation, sink io.WriteCloser) (string, error) {
	if sink == nil {
		sink = nopCloser{io.Discard}
	}
	var once sync.Once
	closeSink := func() {
		once.Do(func() {
			if err := sink.Close(); err != nil {
				w.log().Warn("wizard: close sink", "error", err)
			}
		})
	}
	defer closeSink()

	if current, ok := conv.SwapStatus(domain.StatusIdle, domain.StatusResponding); !ok {
		return "", &domain.BusyError{Status: current}
	}

	var last string
	for round := 1; round <= w.maxRounds; round++ {
		res, err := w.round(ctx, conv, sink)
		if err != nil {
			w.log().Error("wizard: round failed", "round", round, "error", err)
			return "", &domain.StreamError{Round: round, Err: err}
		}
		if res.Raw != "" {
			conv.Append(domain.RoleAssistant, res.Raw)
		}
		last = res.PassThrough

		if len(res.Invocations) == 0 {
			conv.SetStatus(domain.StatusIdle)
			w.log().Debug("wizard: answer complete", "rounds", round)
			return last, nil
		}

		conv.SetStatus(domain.StatusSpelling)
		block := w.dispatcher.ExecuteBatch(ctx, res.Invocations)
		conv.Append(domain.RoleSystemResult, block)
		w.log().Debug("wizard: invocations executed", "round", round, "count", len(res.Invocations))
		conv.SetStatus(domain.StatusResponding)
	}

	conv.SetStatus(domain.StatusIdle)
	w.log().Warn("wizard: round limit reached", "max_rounds", w.maxRounds)
	return last, &domain.RoundLimitError{Rounds: w.maxRounds, Last: last}
}

func (w *Wizard) round(ctx context.Context, conv Conversation, sink io.Writer) (*scanner.Result, error) {
	msgs, err := w.prepare(conv.Messages())
	if err != nil {
		return nil, err
	}
	stream, err := w.openStream(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return w.scanner.Scan(ctx, stream, sink)
}

// Respond asks the model for one non-streamed answer and appends it to conv.
// Invocations in the answer are not executed.
func (w *Wizard) Respond(ctx context.Context, conv Conversation) (string, error) {
	if current, ok := conv.SwapStatus(domain.StatusIdle, domain.StatusResponding); !ok {
		return "", &domain.BusyError{Status: current}
	}
	msgs, err := w.prepare(conv.Messages())
	if err != nil {
		return "", &domain.StreamError{Round: 1, Err: err}
	}
	answer, err := w.respondWithFailover(ctx, msgs)
	if err != nil {
		return "", &domain.StreamError{Round: 1, Err: err}
	}
	if strings.TrimSpace(answer) == "" {
		return "", &domain.StreamError{Round: 1, Err: ErrEmptyResponse}
	}
	conv.Append(domain.RoleAssistant, answer)
	conv.SetStatus(domain.StatusIdle)
	return answer, nil
}

// prepare returns the messages to send: long-term memory is prepended to a
// leading system message and the result is fitted to the context window.
func (w *Wizard) prepare(messages []domain.Message) ([]domain.Message, error) {
	msgs := w.enrich(messages)
	if w.contextMgr == nil || len(msgs) == 0 {
		return msgs, nil
	}
	fitted, err := w.contextMgr.FitToWindow(msgs)
	if err != nil {
		return nil, fmt.Errorf("brain: context fitting failed: %w", err)
	}
	return fitted, nil
}

// enrich prepends long-term memory to the system prompt when available.
// On load error the memory is skipped.
func (w *Wizard) enrich(messages []domain.Message) []domain.Message {
	if w.memory == nil || len(messages) == 0 || messages[0].Role != domain.RoleSystem {
		return messages
	}
	content, err := w.memory.LoadMemory()
	if err != nil || content == "" {
		return messages
	}
	out := append([]domain.Message(nil), messages...)
	out[0].Content = fmt.Sprintf("%s\n\n[Long-term Memory]\n%s\n[End Memory]", out[0].Content, content)
	return out
}

// openStream tries the primary brain, then each fallback in order.
func (w *Wizard) openStream(ctx context.Context, msgs []domain.Message) (domain.ChunkStream, error) {
	stream, err := w.brain.StreamProcess(ctx, msgs)
	if err == nil {
		return stream, nil
	}
	if len(w.fallbacks) == 0 {
		return nil, err
	}
	errs := []error{err}
	for i, fb := range w.fallbacks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log().Warn("brain failed, trying fallback", "fallback_index", i, "error", err)
		stream, err = fb.StreamProcess(ctx, msgs)
		if err == nil {
			return stream, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("brain: all %d brains failed: %w", len(errs), errors.Join(errs...))
}

func (w *Wizard) respondWithFailover(ctx context.Context, msgs []domain.Message) (string, error) {
	answer, err := w.brain.SingleResponse(ctx, msgs)
	if err == nil {
		return answer, nil
	}
	if len(w.fallbacks) == 0 {
		return "", err
	}
	errs := []error{err}
	for i, fb := range w.fallbacks {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.log().Warn("brain failed, trying fallback", "fallback_index", i, "error", err)
		answer, err = fb.SingleResponse(ctx, msgs)
		if err == nil {
			return answer, nil
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("brain: all %d brains failed: %w", len(errs), errors.Join(errs...))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
