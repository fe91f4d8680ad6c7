package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spellcast/internal/domain"
)

// writeConfig saves cfg as JSON in a temp dir and returns the path.
func writeConfig(t *testing.T, cfg *domain.Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "spellcast.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCheck(t *testing.T, opts CheckOptions) (int, string, string) {
	t.Helper()
	if opts.Lookup == nil {
		opts.Lookup = noKeys
	}
	var out, errOut bytes.Buffer
	code := RunCheck(opts, &out, &errOut)
	return code, out.String(), errOut.String()
}

// =============================================================================
// Config section
// =============================================================================

func TestRunCheck_WhenConfigMissing_ShouldNoteAndCompleteWithZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.json")
	code, out, _ := runCheck(t, CheckOptions{Path: path})
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "No config") || !strings.Contains(out, "--fix") || !strings.Contains(out, "Check complete.") {
		t.Errorf("got %s", out)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("config must not be written without --fix")
	}
}

func TestRunCheck_WhenConfigMissingAndFix_ShouldWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spellcast.json")
	code, out, _ := runCheck(t, CheckOptions{Path: path, Fix: true})
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file should exist after --fix: %v", err)
	}
	if !bytes.Contains(data, []byte("gateway")) || !bytes.Contains(data, []byte("8080")) {
		t.Errorf("expected default config content: %s", data)
	}
	if !strings.Contains(out, "Wrote default config") {
		t.Errorf("got %s", out)
	}
}

func TestRunCheck_WhenFixAndWriteDefaultFails_ShouldReturnOne(t *testing.T) {
	old := configWriteDefault
	configWriteDefault = func(string) error { return errors.New("disk full") }
	defer func() { configWriteDefault = old }()

	code, _, errOut := runCheck(t, CheckOptions{Path: filepath.Join(t.TempDir(), "x.json"), Fix: true})
	if code != 1 || !strings.Contains(errOut, "disk full") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
}

func TestRunCheck_WhenConfigInvalidJSON_ShouldReturnOneAndNoteError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spellcast.json")
	_ = os.WriteFile(path, []byte("{not json"), 0644)
	code, out, _ := runCheck(t, CheckOptions{Path: path})
	if code != 1 || !strings.Contains(out, "config parse") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

func TestRunCheck_WhenConfigValid_ShouldReportEverySectionAndPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Port = 9000
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 0 {
		t.Errorf("expected exit code 0, got %d:\n%s", code, out)
	}
	for _, want := range []string{"Loaded", "port=9000 auth=none", "provider=local", "agent.workspace", "agent.memory", "default template", "spells.", "Check complete."} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		t.Errorf("workspace should be created: %v", err)
	}
}

func TestRunCheck_WhenConfigFailsValidation_ShouldReportEachProblem(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Marker = "a b"
	cfg.Infra.LogFormat = "xml"
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "agent.marker") || !strings.Contains(out, "infra.logFormat") {
		t.Errorf("got %s", out)
	}
}

// =============================================================================
// Provider / Gateway
// =============================================================================

func TestRunCheck_WhenOpenAIKeyMissing_ShouldFail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Provider = "openai"
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 1 || !strings.Contains(out, "AI_API_KEY or OPENAI_API_KEY") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

func TestRunCheck_WhenOpenAIKeyPresent_ShouldPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Provider = "openai"
	cfg.Gateway.AuthToken = "s3cret"
	lookup := func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "sk-test"
		}
		return ""
	}
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg), Lookup: lookup})
	if code != 0 || !strings.Contains(out, "auth=token") || strings.Contains(out, "Auth is disabled") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

// =============================================================================
// Paths / Spells
// =============================================================================

func TestRunCheck_WhenMemoryPathIsFile_ShouldNotePathsError(t *testing.T) {
	cfg := testConfig(t)
	_ = os.MkdirAll(filepath.Dir(cfg.Agent.Memory), 0755)
	_ = os.WriteFile(cfg.Agent.Memory, []byte("x"), 0644)
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 1 || !strings.Contains(out, "not a directory") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

func TestRunCheck_WhenManifestHasDuplicate_ShouldReportSpellsError(t *testing.T) {
	cfg := testConfig(t)
	writeManifest(t, cfg, `
books:
  - name: a
    tools:
      - builtin: queryDate
  - name: b
    tools:
      - builtin: queryDate
`)
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 1 || !strings.Contains(out, "[Spells]") || !strings.Contains(out, "queryDate") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

func TestRunCheck_WhenTemplateReferencesUnknownTool_ShouldReportPromptError(t *testing.T) {
	cfg := testConfig(t)
	_ = os.MkdirAll(cfg.Agent.PromptRoot, 0755)
	_ = os.WriteFile(filepath.Join(cfg.Agent.PromptRoot, "SYSTEM.md"), []byte("@{teleport}"), 0644)
	code, out, _ := runCheck(t, CheckOptions{Path: writeConfig(t, cfg)})
	if code != 1 || !strings.Contains(out, "[Prompt]") {
		t.Errorf("code=%d out=%s", code, out)
	}
}

// =============================================================================
// ensureDir
// =============================================================================

func TestEnsureDir_WhenPathExistsAsFile_ShouldReturnNotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(f, []byte("x"), 0644)
	err := ensureDir(f, "label")
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("got %v", err)
	}
}

func TestEnsureDir_WhenPathUnderFile_ShouldReturnError(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(f, []byte("x"), 0644)
	if err := ensureDir(filepath.Join(f, "sub"), "label"); err == nil {
		t.Error("expected error")
	}
}

func TestEnsureDir_WhenPathNotExistButMkdirAllFails_ShouldReturnError(t *testing.T) {
	old := osMkdirAll
	osMkdirAll = func(string, os.FileMode) error { return errors.New("denied") }
	defer func() { osMkdirAll = old }()
	err := ensureDir(filepath.Join(t.TempDir(), "new"), "agent.workspace")
	if err == nil || !strings.Contains(err.Error(), "mkdir failed") {
		t.Errorf("got %v", err)
	}
}

func TestEnsureDir_WhenMissing_ShouldCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := ensureDir(dir, "label"); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("dir not created: %v", err)
	}
}
