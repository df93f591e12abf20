package protocol

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// Summary is the terminal, caller-facing result of a job: summary.json plus
// a human-readable summary.md rendered from the same data.
type Summary struct {
	SchemaVersion string            `json:"schema_version"`
	JobID         string            `json:"job_id"`
	Status        Status            `json:"status"`
	ErrorType     ErrorType         `json:"error_type"`
	Metrics       map[string]any    `json:"metrics,omitempty"`
	Evidence      []string          `json:"evidence,omitempty"`
}

func summaryJSONPath(runDir string) string { return runDir + "/summary.json" }
func summaryMDPath(runDir string) string   { return runDir + "/summary.md" }

// Store writes both summary.json and summary.md atomically.
func (s *Summary) Store(runDir string) error {
	if err := atomicfile.WriteJSON(summaryJSONPath(runDir), s, 0o644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}
	return atomicfile.WriteFile(summaryMDPath(runDir), []byte(s.Markdown()), 0o644)
}

// Markdown renders the human-readable summary.md body.
func (s *Summary) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Job %s: %s\n\n", s.JobID, s.Status)
	fmt.Fprintf(&b, "Classification: `%s`\n\n", s.ErrorType)

	if len(s.Metrics) > 0 {
		b.WriteString("## Metrics\n\n")
		for k, v := range s.Metrics {
			fmt.Fprintf(&b, "- **%s**: %v\n", k, v)
		}
		b.WriteString("\n")
	}

	if len(s.Evidence) > 0 {
		b.WriteString("## Evidence\n\n")
		for _, e := range s.Evidence {
			info, err := os.Stat(e)
			if err == nil && !info.IsDir() {
				fmt.Fprintf(&b, "- `%s` (%s)\n", e, humanize.IBytes(uint64(info.Size())))
			} else {
				fmt.Fprintf(&b, "- `%s`\n", e)
			}
		}
		b.WriteString("\n")
	}

	if s.Status == StatusFail {
		b.WriteString("See `debug_bundle/` for a self-contained diagnosis package. ")
		b.WriteString("It is safe to discard the run directory once the bundle has been copied elsewhere.\n")
	}

	return b.String()
}

// LoadSummary loads and schema-validates summary.json.
func LoadSummary(runDir string) (*Summary, error) {
	path := summaryJSONPath(runDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary %q: %w", path, err)
	}
	if err := validateAgainst("summary", data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	var s Summary
	if err := unmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("decoding summary %q: %w", path, err)
	}
	return &s, nil
}
