package tooling

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"spellcast/internal/domain"
)

// ErrInvalidTool is returned when a descriptor or book name cannot be registered.
var ErrInvalidTool = errors.New("invalid tool")

// Registry maps tool names to descriptors. Names form one flat namespace
// across all books; books only group tools for prompt listing. Safe for
// concurrent use; resolves take a read lock.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.ToolDescriptor
	books  map[string][]string
	order  []string
	frozen bool
}

// NewRegistry returns an empty, ready-to-use registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]domain.ToolDescriptor),
		books: make(map[string][]string),
	}
}

// Register adds d to book. It fails with domain.ErrDuplicateTool if the name
// is already taken by any book, including when the same descriptor is
// registered twice, and with domain.ErrRegistryFrozen after Freeze.
func (r *Registry) Register(book string, d domain.ToolDescriptor) error {
	if strings.TrimSpace(book) == "" {
		return fmt.Errorf("registry: book name must not be blank: %w", ErrInvalidTool)
	}
	if strings.TrimSpace(d.Name) == "" || strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("registry: tool name %q must be a single non-blank word: %w", d.Name, ErrInvalidTool)
	}
	if d.Func == nil {
		return fmt.Errorf("registry: tool %q has no function: %w", d.Name, ErrInvalidTool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry: register %q: %w", d.Name, domain.ErrRegistryFrozen)
	}
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("registry: %q: %w", d.Name, domain.ErrDuplicateTool)
	}
	if _, ok := r.books[book]; !ok {
		r.order = append(r.order, book)
	}
	r.books[book] = append(r.books[book], d.Name)
	r.tools[d.Name] = d
	return nil
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (domain.ToolDescriptor, error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ToolDescriptor{}, fmt.Errorf("registry: %q: %w", name, domain.ErrToolNotFound)
	}
	return d, nil
}

// ListBook returns the tools of book in registration order. Unknown books yield an empty slice.
func (r *Registry) ListBook(book string) []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.books[book]
	out := make([]domain.ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// ListAll returns every tool, grouped by book in book registration order.
func (r *Registry) ListAll() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, b := range r.order {
		for _, n := range r.books[b] {
			out = append(out, r.tools[n])
		}
	}
	return out
}

// Books returns book names in registration order.
func (r *Registry) Books() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// HasBook reports whether at least one tool was registered under book.
func (r *Registry) HasBook(book string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.books[book]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Freeze rejects all further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
