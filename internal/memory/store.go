// Package memory backs the notes book with plain markdown files: a journal
// per day and one facts file the agent reads back into its context.
package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"spellcast/internal/domain"
)

const (
	factsFile   = "memory.md"
	factBullet  = "- "
	fallbackDay = "default"
)

// FileMemoryStore keeps its files under one directory, created on the first
// write. Journals are named <date>.md and facts go to memory.md, one per line.
// Files are only ever appended to.
type FileMemoryStore struct {
	dir string
	mu  sync.Mutex

	// wrap lets tests interpose on writes; nil writes straight to the file.
	wrap func(io.Writer) io.Writer
}

func NewFileMemoryStore(dir string) *FileMemoryStore {
	return &FileMemoryStore{dir: filepath.Clean(dir)}
}

// journal maps a date onto a file inside dir. Only the last path element of
// date is used, so "../../x" lands on dir/x.md.
func (f *FileMemoryStore) journal(date string) string {
	name := filepath.Base(date)
	switch name {
	case ".", "..", string(filepath.Separator):
		name = fallbackDay
	}
	return filepath.Join(f.dir, name+".md")
}

// Append adds content verbatim to the journal for date.
func (f *FileMemoryStore) Append(date string, content string) error {
	return f.write(f.journal(date), content)
}

// Remember stores content as a single bulleted line. Runs of whitespace,
// newlines included, collapse to one space. Blank content is a no-op.
func (f *FileMemoryStore) Remember(content string) error {
	fact := strings.Join(strings.Fields(content), " ")
	if fact == "" {
		return nil
	}
	return f.write(filepath.Join(f.dir, factsFile), factBullet+fact+"\n")
}

// LoadMemory returns memory.md as is, or "" when nothing was remembered yet.
func (f *FileMemoryStore) LoadMemory() (string, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, factsFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memory: %w", err)
	}
	return string(b), nil
}

// Facts lists remembered facts oldest first, keeping those that contain query
// regardless of case. Lines that are not bullets are ignored.
func (f *FileMemoryStore) Facts(query string) ([]string, error) {
	raw, err := f.LoadMemory()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	var out []string
	lines := bufio.NewScanner(strings.NewReader(raw))
	for lines.Scan() {
		fact, ok := strings.CutPrefix(strings.TrimSpace(lines.Text()), factBullet)
		switch {
		case !ok, fact == "":
		case needle != "" && !strings.Contains(strings.ToLower(fact), needle):
		default:
			out = append(out, fact)
		}
	}
	return out, lines.Err()
}

func (f *FileMemoryStore) write(path, content string) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("memory: %w", cerr)
		}
	}()

	var w io.Writer = file
	if f.wrap != nil {
		w = f.wrap(file)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("memory: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ domain.MemoryStore = (*FileMemoryStore)(nil)
