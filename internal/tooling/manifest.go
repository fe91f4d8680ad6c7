package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"spellcast/internal/domain"
)

// ErrInvalidManifest is returned when a manifest fails to parse or validate.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest declares which books and tools an agent exposes.
type Manifest struct {
	Books []BookSpec `json:"books" yaml:"books" jsonschema:"minItems=1"`
}

// BookSpec is one book of a manifest.
type BookSpec struct {
	Name        string     `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Tools       []ToolSpec `json:"tools" yaml:"tools" jsonschema:"minItems=1"`
}

// ToolSpec either references a builtin tool by name or declares a command tool.
// Exactly one of Builtin and Command is set.
type ToolSpec struct {
	Builtin     string           `json:"builtin,omitempty" yaml:"builtin,omitempty"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty" jsonschema:"pattern=^[^\\s]+$"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string           `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []domain.ArgSpec `json:"args,omitempty" yaml:"args,omitempty"`
}

// marshalSchemaFunc is the JSON marshaler used by GenerateSchema. Package-level
// so tests can inject a failing marshaler.
var marshalSchemaFunc = func(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// GenerateSchema generates a JSON Schema string from a Go struct using
// invopop/jsonschema reflection.
func GenerateSchema(input any) string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(input)

	schemaBytes, err := marshalSchemaFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}

// ManifestSchema returns the JSON Schema every manifest must satisfy.
func ManifestSchema() string {
	return GenerateSchema(Manifest{})
}

// ValidateAgainstSchema validates decoded JSON-compatible data against a JSON Schema string.
func ValidateAgainstSchema(data any, schemaStr string) error {
	schema, err := jsonschema.CompileString("manifest.json", schemaStr)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ParseManifest decodes YAML (JSON is valid YAML), validates it against
// ManifestSchema and checks that every tool entry is either a builtin
// reference or a named command.
func ParseManifest(data []byte) (*Manifest, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := ValidateAgainstSchema(doc, ManifestSchema()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var errs []error
	for _, b := range m.Books {
		for i, t := range b.Tools {
			switch {
			case t.Builtin != "" && t.Command != "":
				errs = append(errs, fmt.Errorf("book %s tool %d: builtin and command are exclusive", b.Name, i+1))
			case t.Builtin == "" && t.Command == "":
				errs = append(errs, fmt.Errorf("book %s tool %d: needs builtin or command", b.Name, i+1))
			case t.Command != "" && strings.TrimSpace(t.Name) == "":
				errs = append(errs, fmt.Errorf("book %s tool %d: command tools need a name", b.Name, i+1))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
	}
	return &m, nil
}

// readFileFunc reads manifest files; tests may replace it.
var readFileFunc = os.ReadFile

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := readFileFunc(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}
