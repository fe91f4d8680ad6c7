package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"spellcast/internal/brain"
	"spellcast/internal/domain"
	"spellcast/internal/session"
	"spellcast/internal/tooling"
)

// =============================================================================
// fakes
// =============================================================================

type chunkStream struct {
	chunks []string
	pos    int
}

func (s *chunkStream) Recv() (domain.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return domain.Chunk{}, io.EOF
	}
	s.pos++
	return domain.Chunk{Kind: domain.ChunkContent, Text: s.chunks[s.pos-1]}, nil
}

func (s *chunkStream) Close() error { return nil }

type fakeBrain struct {
	rounds  [][]string
	calls   int
	openErr error
	single  string
}

func (b *fakeBrain) StreamProcess(ctx context.Context, msgs []domain.Message) (domain.ChunkStream, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	i := min(b.calls, len(b.rounds)-1)
	b.calls++
	return &chunkStream{chunks: b.rounds[i]}, nil
}

func (b *fakeBrain) SingleResponse(ctx context.Context, msgs []domain.Message) (string, error) {
	return b.single, nil
}

type sink struct {
	bytes.Buffer
	closed int
}

func (s *sink) Close() error {
	s.closed++
	return nil
}

func newAgent(t *testing.T, b domain.Brain) *Agent {
	t.Helper()
	reg := tooling.NewRegistry()
	err := reg.Register("clock", domain.ToolDescriptor{
		Name: "queryTime",
		Func: func(ctx context.Context, args []string) (string, error) { return "14:32:10", nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	reg.Freeze()
	return New(brain.NewWizard(b, brain.NewDispatcher(reg)), "system prompt")
}

// =============================================================================
// Agent
// =============================================================================

func TestAgent_New_ShouldStartWithSystemPromptAndIdle(t *testing.T) {
	a := newAgent(t, &fakeBrain{rounds: [][]string{{"hi"}}})
	msgs := a.Conversation().Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleSystem || msgs[0].Content != "system prompt" {
		t.Fatalf("got %+v", msgs)
	}
	if !a.IsIdle() {
		t.Error("new agent should be idle")
	}
}

func TestAgent_ProceedWithStream_ShouldRunToolAndAnswer(t *testing.T) {
	b := &fakeBrain{rounds: [][]string{
		{"Let me check. @#%que", "ryTime@#% one moment"},
		{"It is 14:32:10."},
	}}
	a := newAgent(t, b)
	out := &sink{}

	answer, err := a.ProceedWithStream(context.Background(), "what time is it", out)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "It is 14:32:10." {
		t.Errorf("answer: %q", answer)
	}
	if out.String() != "Let me check.  one momentIt is 14:32:10." {
		t.Errorf("streamed: %q", out.String())
	}
	if out.closed != 1 {
		t.Errorf("sink closed %d times", out.closed)
	}
	msgs := a.Conversation().Messages()
	roles := []domain.MessageRole{domain.RoleSystem, domain.RoleUser, domain.RoleAssistant, domain.RoleSystemResult, domain.RoleAssistant}
	if len(msgs) != len(roles) {
		t.Fatalf("want %d messages, got %d", len(roles), len(msgs))
	}
	for i, r := range roles {
		if msgs[i].Role != r {
			t.Errorf("message %d: want %s, got %s", i, r, msgs[i].Role)
		}
	}
	if msgs[3].Content != "#S# [1] 14:32:10\n #E#" {
		t.Errorf("result envelope: %q", msgs[3].Content)
	}
}

func TestAgent_ProceedWithStream_WhenBusy_ShouldNotAppendAndShouldCloseSink(t *testing.T) {
	a := newAgent(t, &fakeBrain{rounds: [][]string{{"x"}}})
	a.Conversation().SetStatus(domain.StatusSpelling)
	out := &sink{}

	_, err := a.ProceedWithStream(context.Background(), "hello", out)
	var busy *domain.BusyError
	if !errors.As(err, &busy) || busy.Status != domain.StatusSpelling {
		t.Fatalf("want BusyError(spelling), got %v", err)
	}
	if a.Conversation().Len() != 1 {
		t.Error("busy rejection must not append the user message")
	}
	if out.closed != 1 {
		t.Errorf("sink closed %d times", out.closed)
	}
}

func TestAgent_Proceed_ShouldReturnSingleResponse(t *testing.T) {
	a := newAgent(t, &fakeBrain{single: "Hello there"})
	got, err := a.Proceed(context.Background(), "hi")
	if err != nil || got != "Hello there" {
		t.Fatalf("got %q, %v", got, err)
	}
	if a.Conversation().Len() != 3 || !a.IsIdle() {
		t.Errorf("len=%d idle=%v", a.Conversation().Len(), a.IsIdle())
	}
}

func TestAgent_Proceed_WhenBusy_ShouldReturnErrAgentBusy(t *testing.T) {
	a := newAgent(t, &fakeBrain{single: "x"})
	a.Conversation().SetStatus(domain.StatusResponding)
	if _, err := a.Proceed(context.Background(), "hi"); !errors.Is(err, domain.ErrAgentBusy) {
		t.Errorf("want ErrAgentBusy, got %v", err)
	}
}

func TestAgent_ProceedChatWithStream_ShouldResumeWithoutUserMessage(t *testing.T) {
	a := newAgent(t, &fakeBrain{rounds: [][]string{{"resumed"}}})
	a.Conversation().Append(domain.RoleUser, "queued elsewhere")
	got, err := a.ProceedChatWithStream(context.Background(), nil)
	if err != nil || got != "resumed" {
		t.Fatalf("got %q, %v", got, err)
	}
	if a.Conversation().Len() != 3 {
		t.Errorf("want 3 messages, got %d", a.Conversation().Len())
	}
}

func TestAgent_Clear_AfterFailure_ShouldKeepSystemPromptAndRecoverIdle(t *testing.T) {
	a := newAgent(t, &fakeBrain{openErr: errors.New("connection refused")})
	_, err := a.ProceedWithStream(context.Background(), "hi", nil)
	if !errors.Is(err, domain.ErrStreamProcessing) {
		t.Fatalf("want ErrStreamProcessing, got %v", err)
	}
	if a.IsIdle() {
		t.Fatal("failed round should leave the agent busy")
	}

	a.Clear()
	msgs := a.Conversation().Messages()
	if len(msgs) != 1 || msgs[0].Content != "system prompt" {
		t.Errorf("after clear: %+v", msgs)
	}
	if !a.IsIdle() {
		t.Error("clear should return to idle")
	}
}

func TestAgent_Reset_ShouldKeepMessages(t *testing.T) {
	a := newAgent(t, &fakeBrain{openErr: errors.New("boom")})
	_, _ = a.ProceedWithStream(context.Background(), "hi", nil)
	a.Reset()
	if !a.IsIdle() || a.Conversation().Len() != 2 {
		t.Errorf("idle=%v len=%d", a.IsIdle(), a.Conversation().Len())
	}
}

func TestAgent_WithConversation_ShouldReplaceExistingSystemPrompt(t *testing.T) {
	conv := session.NewConversation()
	conv.SetSystemPrompt("old")
	conv.Append(domain.RoleUser, "kept")
	reg := tooling.NewRegistry()
	a := New(brain.NewWizard(&fakeBrain{rounds: [][]string{{"x"}}}, brain.NewDispatcher(reg)), "new", WithConversation(conv))
	msgs := a.Conversation().Messages()
	if len(msgs) != 2 || msgs[0].Content != "new" || msgs[1].Content != "kept" {
		t.Errorf("got %+v", msgs)
	}
}

func TestNew_WhenWizardNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(nil, "x")
}
