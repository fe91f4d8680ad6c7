// Package prompt compiles system prompt templates. A template may reference
// a whole book of tools with #{book}, a single tool with @{tool}, and caller
// parameters with ${key}.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"spellcast/internal/domain"
)

var (
	// ErrUnknownBook is returned when a template references a book with no tools.
	ErrUnknownBook = errors.New("prompt: unknown book")
	// ErrUnknownTool is returned when a template references an unregistered tool.
	ErrUnknownTool = errors.New("prompt: unknown tool")
)

var (
	bookRef  = regexp.MustCompile(`#\{([^}]+)\}`)
	toolRef  = regexp.MustCompile(`@\{([^}]+)\}`)
	paramRef = regexp.MustCompile(`\$\{(\w+)\}`)
)

// Tools is the read side of the tool registry the compiler lists from.
type Tools interface {
	ListBook(book string) []domain.ToolDescriptor
	HasBook(book string) bool
	Resolve(name string) (domain.ToolDescriptor, error)
}

// Compiler renders tool listings with the invocation marker the scanner detects.
type Compiler struct {
	tools  Tools
	marker string
}

// NewCompiler returns a Compiler that lists tools from tools using marker.
func NewCompiler(tools Tools, marker string) *Compiler {
	if tools == nil {
		panic("prompt: NewCompiler requires a non-nil Tools")
	}
	return &Compiler{tools: tools, marker: marker}
}

// Compile expands book references, then tool references, then parameters.
// Unknown parameters stay verbatim; unknown books and tools are errors, all
// of which are reported together.
func (c *Compiler) Compile(template string, params map[string]string) (string, error) {
	var errs []error

	out := bookRef.ReplaceAllStringFunc(template, func(m string) string {
		book := strings.TrimSpace(bookRef.FindStringSubmatch(m)[1])
		block, err := c.Book(book)
		if err != nil {
			errs = append(errs, err)
			return m
		}
		return block
	})
	out = toolRef.ReplaceAllStringFunc(out, func(m string) string {
		name := strings.TrimSpace(toolRef.FindStringSubmatch(m)[1])
		d, err := c.tools.Resolve(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownTool, name))
			return m
		}
		return c.ToolLine(d)
	})
	out = paramRef.ReplaceAllStringFunc(out, func(m string) string {
		if v, ok := params[paramRef.FindStringSubmatch(m)[1]]; ok {
			return v
		}
		return m
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// Book renders every tool of book, one line each, each line ending in a newline.
func (c *Compiler) Book(book string) (string, error) {
	if !c.tools.HasBook(book) {
		return "", fmt.Errorf("%w: %s", ErrUnknownBook, book)
	}
	var sb strings.Builder
	for _, d := range c.tools.ListBook(book) {
		sb.WriteString(c.ToolLine(d))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// ToolLine renders d as "- <m>name $a $b<m>: description", followed by the
// argument notes when any argument is documented.
func (c *Compiler) ToolLine(d domain.ToolDescriptor) string {
	var sb strings.Builder
	sb.WriteString("- ")
	sb.WriteString(c.marker)
	sb.WriteString(d.Name)
	for _, a := range d.Args {
		sb.WriteString(" $")
		sb.WriteString(a.Name)
	}
	sb.WriteString(c.marker)
	sb.WriteString(": ")
	sb.WriteString(strings.TrimSpace(d.Description))

	var notes []string
	for _, a := range d.Args {
		if strings.TrimSpace(a.Description) != "" {
			notes = append(notes, ArgNote(a))
		}
	}
	if len(notes) > 0 {
		sb.WriteString(" Arguments: ")
		sb.WriteString(strings.Join(notes, ", "))
	}
	return sb.String()
}

// ArgNote renders a as "$name(required. description)" or
// "$name(optional. description)"; an undocumented argument is just "$name".
func ArgNote(a domain.ArgSpec) string {
	desc := strings.TrimSpace(a.Description)
	if desc == "" {
		return "$" + a.Name
	}
	req := "optional"
	if a.Required {
		req = "required"
	}
	return fmt.Sprintf("$%s(%s. %s)", a.Name, req, desc)
}

// Preamble explains the invocation convention and the result envelope to the model.
func Preamble(marker string) string {
	return fmt.Sprintf(`You can cast spells (tools) while you answer.
To cast one, write %[1]sname arg1 arg2%[1]s inline: the spell name, then its arguments separated by spaces.
Wrap an argument containing spaces in double quotes; write \" for a quote, \\ for a backslash, \n for a newline.
You may cast several spells in one reply. Do not explain the syntax to the user.
After your reply the results arrive in one system message: #S# [1] <first result>
[2] <second result>
 #E#
A result starting with ERROR: means that spell failed. Use the results to continue your answer.`, marker)
}
