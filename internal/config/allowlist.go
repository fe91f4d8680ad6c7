package config

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"spellcast/internal/domain"
)

// ErrCommandNotAllowed is returned when a command's binary is not in allowedCommands.
var ErrCommandNotAllowed = errors.New("command not allowed by policy")

// binaryName is the base name of the first word of cmd, e.g. "ls" for
// "/bin/ls -la".
func binaryName(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// allowIndex finds bin in the allowlist, comparing base names.
func allowIndex(allowed []string, bin string) int {
	return slices.IndexFunc(allowed, func(c string) bool { return filepath.Base(c) == bin })
}

// AddAllowedCommand appends cmd's binary name unless already listed.
func AddAllowedCommand(cfg *domain.Config, cmd string) {
	bin := binaryName(cmd)
	if cfg == nil || bin == "" || allowIndex(cfg.AllowedCommands, bin) >= 0 {
		return
	}
	cfg.AllowedCommands = append(cfg.AllowedCommands, bin)
}

// RemoveAllowedCommand drops every entry with cmd's binary name.
func RemoveAllowedCommand(cfg *domain.Config, cmd string) {
	if cfg == nil || len(cfg.AllowedCommands) == 0 {
		return
	}
	bin := binaryName(cmd)
	cfg.AllowedCommands = slices.DeleteFunc(slices.Clone(cfg.AllowedCommands), func(c string) bool {
		return filepath.Base(c) == bin
	})
}

// ValidateCommand allows anything when allowedCommands is empty; otherwise
// cmd's binary name must be listed.
func ValidateCommand(cfg *domain.Config, cmd string) error {
	if cfg == nil || len(cfg.AllowedCommands) == 0 {
		return nil
	}
	if bin := binaryName(cmd); bin != "" && allowIndex(cfg.AllowedCommands, bin) >= 0 {
		return nil
	}
	return ErrCommandNotAllowed
}
