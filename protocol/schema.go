package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		names := []string{"manifest", "timeline", "request", "ack", "summary", "bundle_index"}
		for _, name := range names {
			data, err := schemaFS.ReadFile("schema/" + name + ".json")
			if err != nil {
				compileErr = fmt.Errorf("reading embedded schema %q: %w", name, err)
				return
			}
			if err := c.AddResource(name+".json", bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("adding schema resource %q: %w", name, err)
				return
			}
		}
		compiled = make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := c.Compile(name + ".json")
			if err != nil {
				compileErr = fmt.Errorf("compiling schema %q: %w", name, err)
				return
			}
			compiled[name] = s
		}
	})
	return compiled, compileErr
}

// validateAgainst decodes data as generic JSON and validates it against the
// named embedded schema. A failure here always means ErrInternal to the
// caller: this package does not attempt silent migration of an unknown or
// malformed schema_version (spec §4.A).
func validateAgainst(name string, data []byte) error {
	ss, err := schemas()
	if err != nil {
		return fmt.Errorf("loading record schemas: %w", err)
	}
	s, ok := ss[name]
	if !ok {
		return fmt.Errorf("no compiled schema named %q", name)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding %s record: %w", name, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s record failed schema validation: %w", name, err)
	}
	return nil
}
