package tooling

import (
	"context"
	"fmt"
	"strings"

	"spellcast/internal/domain"
)

// NoteStore is the memory the notes book reads and writes.
type NoteStore interface {
	domain.MemoryStore
	Facts(query string) ([]string, error)
}

// NotesTools returns the remember and recall descriptors backed by store.
func NotesTools(store NoteStore) []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			Name:        "remember",
			Description: "Stores a fact in long-term memory",
			Args:        []domain.ArgSpec{{Name: "fact", Required: true, Description: "the fact, quoted when it has spaces"}},
			Func: func(ctx context.Context, args []string) (string, error) {
				if err := checkArgs("remember", args, 1, -1); err != nil {
					return "", err
				}
				fact := strings.Join(args, " ")
				if err := store.Remember(fact); err != nil {
					return "", fmt.Errorf("failed to remember: %w", err)
				}
				now := clockNow()
				// The journal is best effort; the fact is already stored.
				_ = store.Append(now.Format("2006-01-02"), now.Format("15:04:05")+" remembered: "+fact+"\n")
				return "Remembered.", nil
			},
		},
		{
			Name:        "recall",
			Description: "Lists remembered facts, optionally only those containing a word",
			Args:        []domain.ArgSpec{{Name: "query", Description: "case-insensitive filter"}},
			Func: func(ctx context.Context, args []string) (string, error) {
				if err := checkArgs("recall", args, 0, 1); err != nil {
					return "", err
				}
				facts, err := store.Facts(optional(args, 0, ""))
				if err != nil {
					return "", fmt.Errorf("failed to recall: %w", err)
				}
				if len(facts) == 0 {
					return "Nothing remembered.", nil
				}
				return "- " + strings.Join(facts, "\n- "), nil
			},
		},
	}
}
