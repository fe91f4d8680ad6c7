package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"spellcast/internal/domain"
)

func TestValidateCommand(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		cmd     string
		ok      bool
	}{
		{"nil list allows all", nil, "rm", true},
		{"empty list allows all", []string{}, "rm -rf x", true},
		{"listed", []string{"ls", "cat"}, "cat", true},
		{"path matches base name", []string{"ls"}, "/usr/bin/ls", true},
		{"args ignored", []string{"ls"}, "ls -la", true},
		{"listed as path", []string{"/usr/bin/git"}, "git status", true},
		{"not listed", []string{"ls"}, "rm", false},
		{"prefix is not a match", []string{"ls"}, "lsof", false},
		{"empty command", []string{"ls"}, "  ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCommand(&domain.Config{AllowedCommands: tc.allowed}, tc.cmd)
			if tc.ok && err != nil {
				t.Errorf("want allowed, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrCommandNotAllowed) {
				t.Errorf("want ErrCommandNotAllowed, got %v", err)
			}
		})
	}
	if err := ValidateCommand(nil, "rm"); err != nil {
		t.Errorf("nil config: %v", err)
	}
}

func TestAddAllowedCommand_ShouldAppendBinaryNamesOnce(t *testing.T) {
	cfg := &domain.Config{}
	for _, cmd := range []string{"cat", "/usr/bin/git status", "cat", "", "   ", "git"} {
		AddAllowedCommand(cfg, cmd)
	}
	if got := strings.Join(cfg.AllowedCommands, ","); got != "cat,git" {
		t.Errorf("got %q", got)
	}
	AddAllowedCommand(nil, "ls")
}

func TestRemoveAllowedCommand_ShouldMatchByBinaryName(t *testing.T) {
	original := []string{"ls", "/bin/cat", "git"}
	cfg := &domain.Config{AllowedCommands: original}
	RemoveAllowedCommand(cfg, "cat -n")
	RemoveAllowedCommand(cfg, "missing")
	if got := strings.Join(cfg.AllowedCommands, ","); got != "ls,git" {
		t.Errorf("got %q", got)
	}
	if original[1] != "/bin/cat" {
		t.Error("caller's slice must not be modified")
	}

	empty := &domain.Config{}
	RemoveAllowedCommand(empty, "ls")
	RemoveAllowedCommand(nil, "ls")
	if empty.AllowedCommands != nil {
		t.Errorf("got %v", empty.AllowedCommands)
	}
}

func TestAllowlist_EditThenSave_ShouldSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spellcast.json")
	cfg := Default()
	AddAllowedCommand(cfg, "cat")
	AddAllowedCommand(cfg, "echo")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(loaded.AllowedCommands, ","); got != "cat,echo" {
		t.Errorf("got %q", got)
	}
	if ValidateCommand(loaded, "echo hi") != nil || ValidateCommand(loaded, "rm") == nil {
		t.Error("reloaded allowlist not enforced")
	}
}
