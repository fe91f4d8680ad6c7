package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"spellcast/internal/config"
	"spellcast/internal/domain"
)

// ConfigOptions selects one non-interactive edit of the config file.
type ConfigOptions struct {
	Path   string // config.Path() when empty
	Action string // get, set, unset, allow or deny
	Key    string // dot path such as "agent.model"; a command name for allow and deny
	Value  string // for set; JSON arrays and objects are decoded
}

// document is the config file as generic JSON, so unknown keys survive edits.
type document map[string]any

var errEmptyPath = errors.New("empty path")

// RunConfig applies opts to the config file. Edits that would leave the config
// invalid are refused and the file is left untouched. Returns the exit code.
func RunConfig(opts ConfigOptions, stdout, stderr io.Writer) int {
	path := opts.Path
	if path == "" {
		path = config.Path()
	}
	fail := func(format string, args ...any) int {
		fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: no configuration found at %s\n", path)
		fmt.Fprintln(stderr, "Run 'spellcast check --fix' first to create one.")
		return 1
	}
	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail("failed to parse config: %v", err)
	}
	if doc == nil {
		doc = document{}
	}
	keys := strings.Split(opts.Key, ".")

	switch opts.Action {
	case "get":
		v, ok := doc.get(keys)
		if !ok {
			return fail("path %q not found in config", opts.Key)
		}
		fmt.Fprintln(stdout, render(v))
		return 0
	case "set":
		err = setValueAtPathFn(doc, keys, parseValue(opts.Value))
	case "unset":
		err = doc.unset(keys)
	case "allow", "deny":
		err = doc.editAllowlist(opts.Action == "allow", opts.Key)
	default:
		return fail("unknown action %q (use get, set, unset, allow or deny)", opts.Action)
	}
	if err != nil {
		return fail("%v", err)
	}

	if err := doc.validate(); err != nil {
		return fail("%v", err)
	}
	if err := doc.save(path); err != nil {
		return fail("failed to save config: %v", err)
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// render prints strings bare, whole numbers without a fraction and anything
// else as JSON.
func render(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// parseValue reads a command-line value as a number, a bool or a JSON array
// or object, falling back to the string itself.
func parseValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		var v any
		if json.Unmarshal([]byte(t), &v) == nil {
			return v
		}
	}
	return s
}

// walk returns the object holding the last key of keys. With create, missing
// or non-object intermediates are replaced by empty objects.
func (d document) walk(keys []string, create bool) (map[string]any, string, error) {
	if len(keys) == 0 || keys[0] == "" {
		return nil, "", errEmptyPath
	}
	m := map[string]any(d)
	for i, k := range keys[:len(keys)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			if !create {
				if _, exists := m[k]; exists {
					return nil, "", fmt.Errorf("path %q is not an object", strings.Join(keys[:i+1], "."))
				}
				return nil, "", fmt.Errorf("path %q not found", strings.Join(keys, "."))
			}
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	return m, keys[len(keys)-1], nil
}

func (d document) get(keys []string) (any, bool) {
	m, k, err := d.walk(keys, false)
	if err != nil {
		return nil, false
	}
	v, ok := m[k]
	return v, ok && v != nil
}

func setValueAtPath(d document, keys []string, v any) error {
	m, k, err := d.walk(keys, true)
	if err != nil {
		return err
	}
	m[k] = v
	return nil
}

func (d document) unset(keys []string) error {
	m, k, err := d.walk(keys, false)
	if err != nil {
		return err
	}
	delete(m, k)
	return nil
}

// editAllowlist adds or removes a command binary from allowedCommands.
func (d document) editAllowlist(allow bool, command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.New("command name required")
	}
	var cfg domain.Config
	if raw, ok := d["allowedCommands"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				cfg.AllowedCommands = append(cfg.AllowedCommands, s)
			}
		}
	}
	if allow {
		config.AddAllowedCommand(&cfg, command)
	} else {
		config.RemoveAllowedCommand(&cfg, command)
	}
	if cfg.AllowedCommands == nil {
		cfg.AllowedCommands = []string{}
	}
	d["allowedCommands"] = cfg.AllowedCommands
	return nil
}

// validate decodes the document the way config.Load does and validates it.
func (d document) validate() error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var c domain.Config
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("config parse: %w", err)
	}
	config.ApplyDefaults(&c)
	return config.Validate(&c)
}

func (d document) save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
