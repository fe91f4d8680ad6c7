package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spellcast/internal/domain"
)

// =============================================================================
// Helpers
// =============================================================================

func textMessage(role domain.MessageRole, text string) domain.Message {
	return domain.Message{ID: "id-" + text, Role: role, Content: text, Timestamp: time.Unix(1700000000, 0).UTC()}
}

func newTempStore(t *testing.T) (*HistoryStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	return NewHistoryStore(path), path
}

// =============================================================================
// Append
// =============================================================================

func TestHistoryStore_Append_WhenFileDoesNotExist_ShouldCreateOneLinePerMessage(t *testing.T) {
	store, path := newTempStore(t)
	if err := store.Append(textMessage(domain.RoleUser, "hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(textMessage(domain.RoleSystemResult, "#S# [1] ok\n #E#")); err != nil {
		t.Fatalf("append: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d: %q", len(lines), b)
	}
	var m domain.Message
	if err := json.Unmarshal([]byte(lines[1]), &m); err != nil {
		t.Fatalf("line 2 is not JSON: %v", err)
	}
	if m.Role != domain.RoleSystemResult || m.Content != "#S# [1] ok\n #E#" {
		t.Errorf("decoded: %+v", m)
	}
	if strings.Contains(lines[0], "cleared") {
		t.Error("message records must not carry the cleared flag")
	}
}

func TestHistoryStore_Append_WhenDirMissing_ShouldReturnError(t *testing.T) {
	store := NewHistoryStore("/nonexistent/dir/history.jsonl")
	if err := store.Append(textMessage(domain.RoleUser, "x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestHistoryStore_Append_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	store, _ := newTempStore(t)
	store.marshalFn = func(v any) ([]byte, error) { return nil, errors.New("marshal boom") }
	if err := store.Append(textMessage(domain.RoleUser, "x")); err == nil || !strings.Contains(err.Error(), "marshal boom") {
		t.Fatalf("expected marshal error, got %v", err)
	}
}

func TestHistoryStore_Append_WhenWriteFails_ShouldReturnError(t *testing.T) {
	store, _ := newTempStore(t)
	store.writeFn = func(f *os.File, data []byte) (int, error) { return 0, errors.New("disk full") }
	if err := store.Append(textMessage(domain.RoleUser, "x")); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}
}

// =============================================================================
// LoadHistory
// =============================================================================

func TestHistoryStore_LoadHistory_WhenFileMissingOrNNotPositive_ShouldReturnEmpty(t *testing.T) {
	store, _ := newTempStore(t)
	if msgs, err := store.LoadHistory(10); err != nil || len(msgs) != 0 {
		t.Errorf("missing file: %v %v", msgs, err)
	}
	_ = store.Append(textMessage(domain.RoleUser, "x"))
	for _, n := range []int{0, -3} {
		if msgs, err := store.LoadHistory(n); err != nil || len(msgs) != 0 {
			t.Errorf("n=%d: %v %v", n, msgs, err)
		}
	}
}

func TestHistoryStore_LoadHistory_ShouldReturnLastNInOrder(t *testing.T) {
	store, _ := newTempStore(t)
	for i := 0; i < 5; i++ {
		if err := store.Append(textMessage(domain.RoleUser, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := store.LoadHistory(3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	if fmt.Sprint(got) != "[m2 m3 m4]" {
		t.Errorf("got %v", got)
	}
}

func TestHistoryStore_LoadHistory_ShouldSkipCorruptLines(t *testing.T) {
	store, path := newTempStore(t)
	_ = store.Append(textMessage(domain.RoleUser, "good1"))
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	_, _ = f.WriteString("{not json\n\n")
	f.Close()
	_ = store.Append(textMessage(domain.RoleUser, "good2"))

	msgs, err := store.LoadHistory(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("want 2 messages, got %d", len(msgs))
	}
}

func TestHistoryStore_LoadHistory_ShouldStartAfterLastClear(t *testing.T) {
	store, _ := newTempStore(t)
	_ = store.Append(textMessage(domain.RoleUser, "before"))
	if err := store.MarkCleared(); err != nil {
		t.Fatalf("mark cleared: %v", err)
	}
	_ = store.Append(textMessage(domain.RoleUser, "after"))

	msgs, err := store.LoadHistory(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "after" {
		t.Errorf("got %+v", msgs)
	}
}

func TestHistoryStore_LoadHistory_ShouldReadLongLines(t *testing.T) {
	store, _ := newTempStore(t)
	long := strings.Repeat("x", 200*1024)
	_ = store.Append(textMessage(domain.RoleSystemResult, long))
	msgs, err := store.LoadHistory(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Content) != len(long) {
		t.Error("long record not restored")
	}
}

func TestChannelHistoryPath_ShouldSanitizeChannelID(t *testing.T) {
	got := ChannelHistoryPath("/data", "cron:daily/../x")
	if got != filepath.Join("/data", "cron_daily____x.jsonl") {
		t.Errorf("got %q", got)
	}
	if got := ChannelHistoryPath("/data", ""); got != filepath.Join("/data", "default.jsonl") {
		t.Errorf("empty id: %q", got)
	}
}
