// Package cli implements the spellcast subcommands that need more than flag
// parsing: assembling the runtime (registry, system prompt, wizard, agents),
// checking a config, and editing it in place.
package cli

import (
	"io"
	"log/slog"
	"strings"

	"spellcast/internal/domain"
)

// NewLogger builds the process logger from the infra section. Unknown levels
// fall back to info and unknown formats to text.
func NewLogger(infra domain.InfraConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(infra.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(infra.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
