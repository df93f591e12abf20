package protocol

import (
	"fmt"
	"os"
	"time"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// Ack is a write-once record in ack/<request_id>.json describing how a
// request's script execution turned out.
type Ack struct {
	SchemaVersion string    `json:"schema_version"`
	RequestID     string    `json:"request_id"`
	JobID         string    `json:"job_id"`
	Status        AckStatus `json:"status"`
	ErrorType     ErrorType `json:"error_type"`
	Message       string    `json:"message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
	EvidencePaths []string   `json:"evidence_paths,omitempty"`
}

// Submit writes the ack exactly once to ack/<request_id>.json.
func (a *Ack) Submit(runDir string) error {
	return atomicfile.WriteJSONExclusive(ackPath(runDir, a.RequestID), a, 0o644)
}

// LoadAck loads and schema-validates an ack by request id.
func LoadAck(runDir, requestID string) (*Ack, error) {
	path := ackPath(runDir, requestID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ack %q: %w", path, err)
	}
	if err := validateAgainst("ack", data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	var ack Ack
	if err := unmarshalStrict(data, &ack); err != nil {
		return nil, fmt.Errorf("decoding ack %q: %w", path, err)
	}
	return &ack, nil
}

// AckExists reports whether an ack file is already present for requestID.
func AckExists(runDir, requestID string) bool {
	_, err := os.Stat(ackPath(runDir, requestID))
	return err == nil
}
