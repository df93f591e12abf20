// Package contract parses a Skill's declaration (contract.yaml), enforces
// the static path-sandboxing rules on it, and validates the outputs a Skill
// actually produced against it.
package contract

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/qfliuyang/skillpilot/protocol"
)

//go:embed schema/contract.json
var schemaFS embed.FS

var compiledSchema *jsonschema.Schema

func init() {
	data, err := schemaFS.ReadFile("schema/contract.json")
	if err != nil {
		panic(fmt.Sprintf("contract: reading embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("contract.json", bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("contract: adding schema resource: %v", err))
	}
	s, err := c.Compile("contract.json")
	if err != nil {
		panic(fmt.Sprintf("contract: compiling schema: %v", err))
	}
	compiledSchema = s
}

// ScriptEntry is one script shipped by the Skill.
type ScriptEntry struct {
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// RequiredOutput is one entry in required_outputs: a path (optionally a
// glob) under reports/, plus whether a zero-byte match is acceptable.
type RequiredOutput struct {
	Path     string `yaml:"path" json:"path"`
	Glob     string `yaml:"glob,omitempty" json:"glob,omitempty"`
	NonEmpty *bool  `yaml:"non_empty,omitempty" json:"non_empty,omitempty"`
}

// NonEmptyOrDefault returns the effective non_empty flag: true unless the
// entry explicitly sets it to false.
func (r RequiredOutput) NonEmptyOrDefault() bool {
	if r.NonEmpty == nil {
		return true
	}
	return *r.NonEmpty
}

// Pattern returns the glob pattern to expand under reports/: Glob if set,
// otherwise the literal Path.
func (r RequiredOutput) Pattern() string {
	if r.Glob != "" {
		return r.Glob
	}
	return r.Path
}

// Declaration is the parsed, schema-validated contract.yaml of a Skill.
type Declaration struct {
	Name            string           `yaml:"name" json:"name"`
	Version         string           `yaml:"version" json:"version"`
	SourcePath      string           `yaml:"-" json:"-"`
	Scripts         []ScriptEntry    `yaml:"scripts" json:"scripts"`
	RequiredOutputs []RequiredOutput `yaml:"required_outputs" json:"required_outputs"`
	DebugHints      []string         `yaml:"debug_hints,omitempty" json:"debug_hints,omitempty"`
}

// Identity returns the manifest-facing SkillIdentity for this declaration.
func (d *Declaration) Identity() protocol.SkillIdentity {
	return protocol.SkillIdentity{
		Name:       d.Name,
		Version:    d.Version,
		SourcePath: d.SourcePath,
	}
}

// Load parses and schema-validates contract.yaml at path, then applies the
// static path-sandboxing checks from StaticValidate. Any failure here
// classifies the job CONTRACT_INVALID.
func Load(path string) (*Declaration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrContractInvalid, path, err)
	}

	var decl Declaration
	if err := yaml.Unmarshal(raw, &decl); err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %v", ErrContractInvalid, path, err)
	}
	decl.SourcePath = path

	// Re-validate the parsed shape against the JSON Schema by round-tripping
	// through encoding/json, catching structural mistakes YAML's looser
	// typing would otherwise let through silently.
	asJSON, err := json.Marshal(decl)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encoding %q: %v", ErrContractInvalid, path, err)
	}
	var generic any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", ErrContractInvalid, path, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %q failed schema validation: %v", ErrContractInvalid, path, err)
	}

	if err := StaticValidate(&decl); err != nil {
		return nil, err
	}

	return &decl, nil
}

// StaticValidate enforces spec §4.D's static rules: at least one required
// output, every path relative with no ".." and no leading "/".
func StaticValidate(d *Declaration) error {
	if len(d.RequiredOutputs) == 0 {
		return fmt.Errorf("%w: contract %q declares zero required outputs", ErrContractInvalid, d.SourcePath)
	}
	for _, out := range d.RequiredOutputs {
		pattern := out.Pattern()
		if filepath.IsAbs(pattern) {
			return fmt.Errorf("%w: required output %q is an absolute path", ErrContractInvalid, pattern)
		}
		if strings.Contains(pattern, "..") {
			return fmt.Errorf("%w: required output %q contains '..'", ErrContractInvalid, pattern)
		}
	}
	return nil
}
