package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"spellcast/internal/domain"
)

// clock is a settable time source for KeyPool cooldowns.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newPool(t *testing.T, n int) (*KeyPool, *clock) {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("sk-%d", i)
	}
	p, err := NewKeyPool(keys, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p.now = c.now
	return p, c
}

func drawKeys(p *KeyPool, n int) string {
	var got []string
	for range n {
		key, _, err := p.Next()
		if err != nil {
			got = append(got, "!")
			continue
		}
		got = append(got, key)
	}
	return strings.Join(got, " ")
}

var (
	tooMany = &domain.ProviderError{Provider: "openai", StatusCode: 429, Status: "429 Too Many Requests"}
	denied  = &domain.ProviderError{Provider: "openai", StatusCode: 401, Status: "401 Unauthorized"}
	broken  = &domain.ProviderError{Provider: "openai", StatusCode: 500, Status: "500 Internal Server Error"}
)

// =============================================================================
// KeyPool
// =============================================================================

func TestNewKeyPool_WhenNoKeys_ShouldReturnError(t *testing.T) {
	for _, keys := range [][]string{nil, {}} {
		if _, err := NewKeyPool(keys, time.Minute); err == nil {
			t.Errorf("%v: expected error", keys)
		}
	}
}

func TestKeyPool_Next_ShouldRotateRoundRobin(t *testing.T) {
	p, _ := newPool(t, 3)
	if got := drawKeys(p, 5); got != "sk-0 sk-1 sk-2 sk-0 sk-1" {
		t.Errorf("got %q", got)
	}
	single, _ := newPool(t, 1)
	if got := drawKeys(single, 3); got != "sk-0 sk-0 sk-0" {
		t.Errorf("single key: got %q", got)
	}
}

func TestKeyPool_MarkCooldown_ShouldSkipKeyUntilExpiry(t *testing.T) {
	p, c := newPool(t, 3)
	p.MarkCooldown(1)
	if got := drawKeys(p, 4); got != "sk-0 sk-2 sk-0 sk-2" {
		t.Errorf("during cooldown: %q", got)
	}
	if p.Available() != 2 {
		t.Errorf("available %d", p.Available())
	}

	c.t = c.t.Add(time.Minute + time.Second)
	if p.Available() != 3 {
		t.Errorf("after expiry available %d", p.Available())
	}
	if got := drawKeys(p, 3); got != "sk-1 sk-2 sk-0" {
		t.Errorf("after expiry: %q", got)
	}
}

func TestKeyPool_Next_WhenAllCoolingDown_ShouldReturnErrAllKeysCoolingDown(t *testing.T) {
	p, _ := newPool(t, 2)
	p.MarkCooldown(0)
	p.MarkCooldown(1)
	_, idx, err := p.Next()
	if !errors.Is(err, ErrAllKeysCoolingDown) || idx != -1 {
		t.Errorf("idx=%d err=%v", idx, err)
	}
}

func TestKeyPool_MarkCooldown_WhenIndexOutOfRange_ShouldIgnore(t *testing.T) {
	p, _ := newPool(t, 2)
	p.MarkCooldown(-1)
	p.MarkCooldown(2)
	if p.Available() != 2 {
		t.Errorf("available %d", p.Available())
	}
}

func TestKeyPool_ShouldBeSafeForConcurrentUse(t *testing.T) {
	p, _ := newPool(t, 4)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, idx, err := p.Next(); err == nil && i%10 == 0 {
				p.MarkCooldown(idx)
			}
			_ = p.Available()
		}()
	}
	wg.Wait()
}

// =============================================================================
// isRateLimitError
// =============================================================================

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"provider 429", tooMany, true},
		{"wrapped provider 429", fmt.Errorf("round 1: %w", tooMany), true},
		{"provider 401", denied, false},
		{"provider 500", broken, false},
		{"text 429", errors.New("upstream: 429"), true},
		{"text rate limit", errors.New("Rate Limit reached for requests"), true},
		{"unrelated", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRateLimitError(tc.err); got != tc.want {
				t.Errorf("want %v, got %v", tc.want, got)
			}
		})
	}
}

// =============================================================================
// KeyPoolBrain
// =============================================================================

// mockBrain answers with its response followed by the last message.
type mockBrain struct {
	response string
	err      error
	calls    int
}

func (m *mockBrain) SingleResponse(_ context.Context, msgs []domain.Message) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response + ": " + msgs[len(msgs)-1].Content, nil
}

func (m *mockBrain) StreamProcess(ctx context.Context, msgs []domain.Message) (domain.ChunkStream, error) {
	answer, err := m.SingleResponse(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return &sliceStream{parts: []string{answer}}, nil
}

func userMsg(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: text}}
}

func newTestKeyPoolBrain(t *testing.T, brains ...domain.Brain) (*KeyPoolBrain, *KeyPool) {
	t.Helper()
	pool, _ := newPool(t, len(brains))
	kb, err := NewKeyPoolBrain(pool, brains)
	if err != nil {
		t.Fatal(err)
	}
	return kb, pool
}

func TestNewKeyPoolBrain_WhenMisconfigured_ShouldReturnError(t *testing.T) {
	pool, _ := newPool(t, 2)
	cases := map[string]func() (*KeyPoolBrain, error){
		"nil pool":  func() (*KeyPoolBrain, error) { return NewKeyPoolBrain(nil, []domain.Brain{&mockBrain{}}) },
		"no brains": func() (*KeyPoolBrain, error) { return NewKeyPoolBrain(pool, nil) },
		"mismatch":  func() (*KeyPoolBrain, error) { return NewKeyPoolBrain(pool, []domain.Brain{&mockBrain{}}) },
	}
	for name, build := range cases {
		if _, err := build(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestKeyPoolBrain_SingleResponse_ShouldRotateBrains(t *testing.T) {
	kb, _ := newTestKeyPoolBrain(t, &mockBrain{response: "a"}, &mockBrain{response: "b"})
	for i, want := range []string{"a: 1", "b: 2", "a: 3"} {
		got, err := kb.SingleResponse(context.Background(), userMsg(fmt.Sprint(i+1)))
		if err != nil || got != want {
			t.Errorf("call %d: got %q, %v", i+1, got, err)
		}
	}
}

func TestKeyPoolBrain_StreamProcess_WhenRateLimited_ShouldBenchKeyAndRetryNext(t *testing.T) {
	a := &mockBrain{err: fmt.Errorf("open: %w", tooMany)}
	b := &mockBrain{response: "b"}
	kb, pool := newTestKeyPoolBrain(t, a, b)

	stream, err := kb.StreamProcess(context.Background(), userMsg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	chunk, _ := stream.Recv()
	if chunk.Text != "b: hello" {
		t.Errorf("got %q", chunk.Text)
	}
	if a.calls != 1 || b.calls != 1 || pool.Available() != 1 {
		t.Errorf("a=%d b=%d available=%d", a.calls, b.calls, pool.Available())
	}
}

func TestKeyPoolBrain_WhenErrorIsNotRateLimit_ShouldReturnItUntouched(t *testing.T) {
	b := &mockBrain{response: "b"}
	kb, pool := newTestKeyPoolBrain(t, &mockBrain{err: denied}, b)

	_, err := kb.SingleResponse(context.Background(), userMsg("hello"))
	if err != denied {
		t.Errorf("want the 401 error, got %v", err)
	}
	if pool.Available() != 2 || b.calls != 0 {
		t.Errorf("available=%d b.calls=%d", pool.Available(), b.calls)
	}
}

func TestKeyPoolBrain_WhenRetryAlsoFails_ShouldReturnRetryError(t *testing.T) {
	kb, _ := newTestKeyPoolBrain(t, &mockBrain{err: tooMany}, &mockBrain{err: broken})
	if _, err := kb.SingleResponse(context.Background(), userMsg("hello")); err != broken {
		t.Errorf("want second brain's error, got %v", err)
	}
}

func TestKeyPoolBrain_WhenRateLimitedAndNoKeyLeft_ShouldWrapBoth(t *testing.T) {
	b := &mockBrain{response: "b"}
	kb, pool := newTestKeyPoolBrain(t, &mockBrain{err: tooMany}, b)
	pool.MarkCooldown(1)

	_, err := kb.SingleResponse(context.Background(), userMsg("hello"))
	if !errors.Is(err, ErrAllKeysCoolingDown) || !errors.Is(err, tooMany) {
		t.Errorf("got %v", err)
	}
	if b.calls != 0 {
		t.Errorf("benched brain called %d times", b.calls)
	}
}

func TestKeyPoolBrain_WhenPoolExhaustedOrContextDone_ShouldNotCall(t *testing.T) {
	a := &mockBrain{response: "a"}
	kb, pool := newTestKeyPoolBrain(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := kb.SingleResponse(ctx, userMsg("hello")); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: got %v", err)
	}
	pool.MarkCooldown(0)
	if _, err := kb.StreamProcess(context.Background(), userMsg("hello")); !errors.Is(err, ErrAllKeysCoolingDown) {
		t.Errorf("exhausted: got %v", err)
	}
	if a.calls != 0 {
		t.Errorf("brain called %d times", a.calls)
	}
}

// =============================================================================
// splitKeys
// =============================================================================

func TestSplitKeys(t *testing.T) {
	cases := map[string]string{
		"my-api-key":             "my-api-key",
		"key1,key2,key3":         "key1|key2|key3",
		"  key1 , key2 , key3  ": "key1|key2|key3",
		"key1,,key2,":            "key1|key2",
		",,,":                    "",
		"":                       "",
	}
	for raw, want := range cases {
		if got := strings.Join(splitKeys(raw), "|"); got != want {
			t.Errorf("splitKeys(%q) = %q, want %q", raw, got, want)
		}
	}
}
