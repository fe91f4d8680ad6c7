package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"spellcast/internal/domain"
)

// maxLineSize bounds one JSONL record; tool results can be long.
const maxLineSize = 4 << 20

// writeFunc is used to write content so tests can inject a failing implementation.
type writeFunc func(f *os.File, data []byte) (int, error)

// marshalFunc is the JSON marshaling function; tests may replace it to force errors.
type marshalFunc func(v any) ([]byte, error)

// record is one JSONL line: either a message or a clear marker.
type record struct {
	domain.Message
	Cleared bool `json:"cleared,omitempty"`
}

// HistoryStore persists conversation messages to a JSONL file (one JSON object per line).
type HistoryStore struct {
	mu        sync.Mutex
	path      string
	writeFn   writeFunc   // nil means use f.Write
	marshalFn marshalFunc // nil means use json.Marshal
}

// NewHistoryStore returns a HistoryStore that reads/writes to the given JSONL file path.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// ChannelHistoryPath returns the JSONL file for a channel under dir.
// Path separators in the channel id are replaced.
func ChannelHistoryPath(dir, channelID string) string {
	safe := []rune(channelID)
	for i, r := range safe {
		if r == '/' || r == '\\' || r == ':' || r == '.' {
			safe[i] = '_'
		}
	}
	if len(safe) == 0 {
		safe = []rune("default")
	}
	return filepath.Join(dir, string(safe)+".jsonl")
}

// Append serializes a Message and appends it as a single line to the history file.
func (h *HistoryStore) Append(msg domain.Message) error {
	return h.write(record{Message: msg})
}

// MarkCleared appends a clear marker.
func (h *HistoryStore) MarkCleared() error {
	return h.write(record{Cleared: true})
}

func (h *HistoryStore) write(rec record) error {
	marshal := json.Marshal
	if h.marshalFn != nil {
		marshal = h.marshalFn
	}
	data, err := marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", h.path, err)
	}
	var writeErr error
	if h.writeFn != nil {
		_, writeErr = h.writeFn(f, data)
	} else {
		_, writeErr = f.Write(data)
	}
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("history: write: %w", writeErr)
	}
	return closeErr
}

// LoadHistory reads the last n messages written after the most recent clear marker.
// Returns empty slice when the file does not exist or n <= 0. Corrupt lines are skipped.
func (h *HistoryStore) LoadHistory(n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: open %s: %w", h.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var msgs []domain.Message
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Cleared {
			msgs = msgs[:0]
			continue
		}
		msgs = append(msgs, rec.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", h.path, err)
	}

	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// Ensure HistoryStore implements domain.SessionHistoryStore.
var _ domain.SessionHistoryStore = (*HistoryStore)(nil)
