package protocol

import (
	"fmt"
	"os"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// BundleIndex is the manifest of a debug_bundle/ directory: every pointer in
// Artifacts is expected to resolve to a file that exists within the bundle
// (spec §8, "pointers that resolve to files that exist"), but the bundler
// degrades gracefully and only lists what it actually included.
type BundleIndex struct {
	SchemaVersion string            `json:"schema_version"`
	JobID         string            `json:"job_id"`
	ErrorType     ErrorType         `json:"error_type"`
	Summary       string            `json:"summary"`
	Artifacts     map[string]string `json:"artifacts,omitempty"`
	NextActions   []string          `json:"next_actions,omitempty"`
}

func bundleIndexPath(bundleDir string) string { return bundleDir + "/index.json" }

// Store writes index.json atomically.
func (b *BundleIndex) Store(bundleDir string) error {
	return atomicfile.WriteJSON(bundleIndexPath(bundleDir), b, 0o644)
}

// LoadBundleIndex loads and schema-validates a bundle's index.json.
func LoadBundleIndex(bundleDir string) (*BundleIndex, error) {
	path := bundleIndexPath(bundleDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle index %q: %w", path, err)
	}
	if err := validateAgainst("bundle_index", data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	var idx BundleIndex
	if err := unmarshalStrict(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding bundle index %q: %w", path, err)
	}
	return &idx, nil
}
