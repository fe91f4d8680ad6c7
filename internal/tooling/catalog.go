package tooling

import (
	"errors"
	"fmt"

	"spellcast/internal/domain"
)

// ErrUnknownBuiltin is returned when a manifest references a builtin the catalog lacks.
var ErrUnknownBuiltin = errors.New("unknown builtin tool")

// Book is a named group of tools as listed in prompts.
type Book struct {
	Name        string
	Description string
	Tools       []domain.ToolDescriptor
}

// Catalog is everything Discover can register: the builtin books and the
// factory that turns manifest command entries into tools.
type Catalog struct {
	Books    []Book
	Commands *CommandTools
}

// BuiltinDeps are the collaborators builtin tools need. Nil fields disable the
// books that depend on them.
type BuiltinDeps struct {
	Workspace string
	FS        FileSystem
	Fetcher   HTTPFetcher
	Notes     NoteStore
}

// Builtins returns the builtin books: clock, math, files, web and notes.
// files is omitted without a workspace; notes without a note store.
func Builtins(deps BuiltinDeps) []Book {
	books := []Book{
		{Name: "clock", Description: "Current time and date", Tools: []domain.ToolDescriptor{QueryTimeTool(), QueryDateTool()}},
		{Name: "math", Description: "Arithmetic", Tools: []domain.ToolDescriptor{CalculateTool()}},
	}
	if deps.Workspace != "" {
		books = append(books, Book{
			Name:        "files",
			Description: "Files inside the agent workspace",
			Tools:       NewFileTools(deps.Workspace, deps.FS).Descriptors(),
		})
	}
	books = append(books, Book{Name: "web", Description: "Web pages", Tools: []domain.ToolDescriptor{FetchPageTool(deps.Fetcher)}})
	if deps.Notes != nil {
		books = append(books, Book{Name: "notes", Description: "Long-term memory", Tools: NotesTools(deps.Notes)})
	}
	return books
}

// lookup finds a builtin tool by name across all books.
func (c Catalog) lookup(name string) (domain.ToolDescriptor, bool) {
	for _, b := range c.Books {
		for _, t := range b.Tools {
			if t.Name == name {
				return t, true
			}
		}
	}
	return domain.ToolDescriptor{}, false
}

// Discover registers tools into reg and freezes it. With a nil manifest every
// catalog book is registered as is. Otherwise each manifest book is registered
// with its builtin references resolved against the catalog and its command
// entries built by the catalog's command factory. Every failure is collected;
// the registry is frozen even when some registrations failed.
func Discover(reg *Registry, manifest *Manifest, catalog Catalog) error {
	defer reg.Freeze()

	var errs []error
	if manifest == nil {
		for _, b := range catalog.Books {
			for _, t := range b.Tools {
				if err := reg.Register(b.Name, t); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return joinDiscover(errs)
	}

	for _, b := range manifest.Books {
		for _, spec := range b.Tools {
			d, err := catalog.resolve(spec)
			if err != nil {
				errs = append(errs, fmt.Errorf("book %s: %w", b.Name, err))
				continue
			}
			if err := reg.Register(b.Name, d); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return joinDiscover(errs)
}

func (c Catalog) resolve(spec ToolSpec) (domain.ToolDescriptor, error) {
	if spec.Builtin != "" {
		d, ok := c.lookup(spec.Builtin)
		if !ok {
			return domain.ToolDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownBuiltin, spec.Builtin)
		}
		if spec.Name != "" {
			d.Name = spec.Name
		}
		if spec.Description != "" {
			d.Description = spec.Description
		}
		return d, nil
	}
	if c.Commands == nil {
		return domain.ToolDescriptor{}, fmt.Errorf("command tool %s: commands are disabled", spec.Name)
	}
	return c.Commands.Tool(spec)
}

func joinDiscover(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("tooling: discover: %w", errors.Join(errs...))
}
