package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTemplate is the system prompt used when the prompt root has no SYSTEM.md.
const DefaultTemplate = "${preamble}\n\nSpells you can cast:\n${spells}"

// PromptFiles holds the markdown files a system prompt is assembled from.
type PromptFiles struct {
	Identity string // IDENTITY.md: who the agent is
	Soul     string // SOUL.md: tone and values
	System   string // SYSTEM.md: the template with #{book}, @{tool} and ${key} references
}

// LoadPromptFiles reads IDENTITY.md, SOUL.md and SYSTEM.md from root. Root is
// cleaned with filepath.Clean. Missing files result in empty fields; only root
// not existing or not being a directory returns an error.
func LoadPromptFiles(root string) (*PromptFiles, error) {
	root = filepath.Clean(root)
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("agent: prompt root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("agent: prompt root %s: %w", root, os.ErrNotExist)
	}

	p := &PromptFiles{}
	for name, dst := range map[string]*string{
		"IDENTITY.md": &p.Identity,
		"SOUL.md":     &p.Soul,
		"SYSTEM.md":   &p.System,
	} {
		b, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("agent: read %s: %w", name, err)
		}
		*dst = strings.TrimSpace(string(b))
	}
	return p, nil
}

// Template joins identity, soul and system sections with blank lines. An
// empty SYSTEM.md falls back to DefaultTemplate.
func (p *PromptFiles) Template() string {
	system := p.System
	if system == "" {
		system = DefaultTemplate
	}
	var parts []string
	for _, s := range []string{p.Identity, p.Soul, system} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// LoadSystemPrompt returns the uncompiled system prompt template found under root.
func LoadSystemPrompt(root string) (string, error) {
	p, err := LoadPromptFiles(root)
	if err != nil {
		return "", err
	}
	return p.Template(), nil
}
