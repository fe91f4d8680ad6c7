package tokenizer

import (
	"fmt"
	"strings"

	"spellcast/internal/domain"
)

// SplitInvocation splits a raw invocation into its command name followed by
// its arguments. The name is everything before the first space, taken
// verbatim. Arguments are separated by spaces outside double quotes; an
// unescaped quote toggles quoting and is dropped, a quote preceded by a
// backslash is kept and unescaped afterwards. Empty arguments are dropped.
func SplitInvocation(raw string) []string {
	idx := strings.IndexByte(raw, ' ')
	if idx < 0 {
		return []string{raw}
	}
	parts := []string{raw[:idx]}
	return append(parts, splitArgs(strings.TrimSpace(raw[idx+1:]))...)
}

func splitArgs(s string) []string {
	var (
		args     []string
		cur      strings.Builder
		inQuotes bool
		prev     rune
	)
	for _, r := range s {
		switch {
		case r == '"' && prev != '\\':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	for i, a := range args {
		args[i] = unescape(a)
	}
	return args
}

// unescape applies each replacement once, in order.
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\t`, "\t")
}

// ParseInvocation tokenizes raw into an Invocation. It returns
// domain.ErrMalformedInvocation when no command name can be found.
func ParseInvocation(raw string) (domain.Invocation, error) {
	parts := SplitInvocation(raw)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return domain.Invocation{}, fmt.Errorf("tokenizer: %q: %w", truncate(raw, 50), domain.ErrMalformedInvocation)
	}
	return domain.Invocation{Name: parts[0], Args: parts[1:]}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
