package protocol

import (
	"fmt"
	"os"
	"time"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// Candidate is one locator hit: a descriptor path paired with its companion
// data sibling, plus enough metadata to break ties deterministically.
type Candidate struct {
	EncPath    string    `json:"enc_path"`
	DatPath    string    `json:"dat_path"`
	ModifiedAt time.Time `json:"modified_at"`
	SizeBytes  int64     `json:"size_bytes"`
}

// DesignDescriptor records how the input database was located and which
// candidate, if any, was ultimately selected.
type DesignDescriptor struct {
	Query            string      `json:"query"`
	LocatorMode      string      `json:"locator_mode"` // "explicit_path" | "name_scan"
	Candidates       []Candidate `json:"candidates,omitempty"`
	Selected         *Candidate  `json:"selected,omitempty"`
	SelectionReason  string      `json:"selection_reason,omitempty"`
	SelectedIndex    *int        `json:"selected_index,omitempty"`
}

// SkillIdentity records which Skill package was loaded for this job.
type SkillIdentity struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	SourcePath string `json:"source_path"`
}

// Manifest is the one-per-job record describing a job's identity, lifecycle
// state, and terminal classification. It is rewritten atomically in place;
// see Store.
type Manifest struct {
	SchemaVersion string `json:"schema_version"`

	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`

	Status    Status    `json:"status"`
	ErrorType ErrorType `json:"error_type"`

	WorkingDir string `json:"working_dir"`
	RunDir     string `json:"run_dir"`
	Launcher   string `json:"launcher"`

	Design DesignDescriptor `json:"design"`
	Skill  *SkillIdentity    `json:"skill,omitempty"`

	ArtifactPointers map[string]string `json:"artifact_pointers,omitempty"`
}

// NewManifest builds the RUNNING/OK manifest stub written at job creation.
func NewManifest(jobID, workingDir, runDir, launcher string) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		JobID:         jobID,
		CreatedAt:     time.Now().UTC(),
		Status:        StatusRunning,
		ErrorType:     ErrOK,
		WorkingDir:    workingDir,
		RunDir:        runDir,
		Launcher:      launcher,
	}
}

func manifestPath(runDir string) string {
	return runDir + "/job_manifest.json"
}

// Store atomically (re)writes the manifest to <runDir>/job_manifest.json.
func (m *Manifest) Store(runDir string) error {
	if m.SchemaVersion == "" {
		return fmt.Errorf("refusing to write manifest without schema_version")
	}
	return atomicfile.WriteJSON(manifestPath(runDir), m, 0o644)
}

// LoadManifest loads and schema-validates the manifest from runDir.
func LoadManifest(runDir string) (*Manifest, error) {
	path := manifestPath(runDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %q: %w", path, err)
	}
	if err := validateAgainst("manifest", data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	var m Manifest
	if err := unmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %q: %w", path, err)
	}
	return &m, nil
}
