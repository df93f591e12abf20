package protocol

import (
	"encoding/json"
	"errors"
)

// ErrSchemaInvalid wraps any schema validation failure encountered while
// loading a record. Callers (the orchestrator, the bundler) should treat it
// as ErrInternal: there is no silent migration path.
var ErrSchemaInvalid = errors.New("record failed schema validation")

func unmarshalStrict(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
