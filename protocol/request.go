package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// Request is a write-once record submitted into queue/<request_id>.json,
// asking the in-session queue processor to source a Tcl script.
type Request struct {
	SchemaVersion string  `json:"schema_version"`
	RequestID     string  `json:"request_id"`
	JobID         string  `json:"job_id"`
	Action        string  `json:"action"`
	Script        string  `json:"script"`
	TimeoutS      float64 `json:"timeout_s,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func queueDir(runDir string) string { return filepath.Join(runDir, "queue") }
func ackDir(runDir string) string   { return filepath.Join(runDir, "ack") }

func requestPath(runDir, requestID string) string {
	return filepath.Join(queueDir(runDir), requestID+".json")
}

func ackPath(runDir, requestID string) string {
	return filepath.Join(ackDir(runDir), requestID+".json")
}

// NewRequest builds a request to source scriptPath, which must already be
// relative to the run directory and begin with "scripts/".
func NewRequest(jobID, requestID, scriptPath string, timeoutS float64) (*Request, error) {
	if !strings.HasPrefix(scriptPath, "scripts/") {
		return nil, fmt.Errorf("request script path %q does not start with scripts/", scriptPath)
	}
	if strings.Contains(scriptPath, "..") {
		return nil, fmt.Errorf("request script path %q contains '..'", scriptPath)
	}
	return &Request{
		SchemaVersion: SchemaVersion,
		RequestID:     requestID,
		JobID:         jobID,
		Action:        ActionSourceTCL,
		Script:        scriptPath,
		TimeoutS:      timeoutS,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Submit writes the request exactly once to queue/<request_id>.json.
func (r *Request) Submit(runDir string) error {
	return atomicfile.WriteJSONExclusive(requestPath(runDir, r.RequestID), r, 0o644)
}

// LoadRequest loads and schema-validates a request by id.
func LoadRequest(runDir, requestID string) (*Request, error) {
	path := requestPath(runDir, requestID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request %q: %w", path, err)
	}
	if err := validateAgainst("request", data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	var req Request
	if err := unmarshalStrict(data, &req); err != nil {
		return nil, fmt.Errorf("decoding request %q: %w", path, err)
	}
	return &req, nil
}

// PendingRequestIDs returns the ids (without ".json") of every request in
// queue/ that has no corresponding ack yet, sorted by filename so the
// caller preserves submission order (ids embed a monotonic sequence).
func PendingRequestIDs(runDir string) ([]string, error) {
	entries, err := os.ReadDir(queueDir(runDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		if _, err := os.Stat(ackPath(runDir, id)); err == nil {
			continue // ack already exists; idempotency skip
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
