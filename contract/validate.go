package contract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/qfliuyang/skillpilot/protocol"
)

// ErrContractInvalid is wrapped into every static-validation failure; the
// orchestrator classifies any error matching it as protocol.ErrContractInvalid.
var ErrContractInvalid = errors.New("contract invalid")

// Mismatch records one required output that failed post-execution
// validation. The orchestrator reports only how many there were; the debug
// bundle's report inventory lists the files under reports/ and does not
// include Mismatch values.
type Mismatch struct {
	Path   string
	Reason protocol.ErrorType // ErrOutputMissing or ErrOutputEmpty
}

// SandboxCheck verifies that pattern, once joined to reportsDir and
// lexically cleaned, cannot escape reportsDir. It is the sandboxing
// enforcement referenced in spec §4.D, done purely lexically since the
// static check runs before any output exists to canonicalize via realpath.
func SandboxCheck(reportsDir, pattern string) error {
	joined := filepath.Join(reportsDir, pattern)
	rel, err := filepath.Rel(reportsDir, joined)
	if err != nil {
		return fmt.Errorf("required output pattern %q cannot be related to reports dir: %w", pattern, err)
	}
	if rel == ".." || hasDotDotPrefix(rel) {
		return fmt.Errorf("required output pattern %q resolves outside reports/", pattern)
	}
	return nil
}

// Validate runs the post-execution checks of spec §4.D against reportsDir:
// for each required output, expand its glob and check existence and
// (if applicable) non-zero size. It returns every mismatch found, sorted by
// path, plus the highest-priority classification to assign the job:
// OUTPUT_MISSING if any required output has no match, else OUTPUT_EMPTY.
func Validate(d *Declaration, reportsDir string) (mismatches []Mismatch, classification protocol.ErrorType, err error) {
	for _, out := range d.RequiredOutputs {
		pattern := out.Pattern()
		if err := SandboxCheck(reportsDir, pattern); err != nil {
			return mismatches, protocol.ErrContractInvalid, err
		}

		full := filepath.Join(reportsDir, pattern)
		matches, globErr := filepath.Glob(full)
		if globErr != nil {
			return mismatches, protocol.ErrContractInvalid, fmt.Errorf("expanding glob %q: %w", pattern, globErr)
		}

		canonicalReports, err := filepath.EvalSymlinks(reportsDir)
		if err == nil {
			kept := matches[:0]
			for _, m := range matches {
				resolved, rErr := filepath.EvalSymlinks(m)
				if rErr != nil {
					continue
				}
				rel, relErr := filepath.Rel(canonicalReports, resolved)
				if relErr != nil || rel == ".." || hasDotDotPrefix(rel) {
					continue
				}
				kept = append(kept, m)
			}
			matches = kept
		}

		if len(matches) == 0 {
			mismatches = append(mismatches, Mismatch{Path: pattern, Reason: protocol.ErrOutputMissing})
			continue
		}

		if out.NonEmptyOrDefault() {
			for _, m := range matches {
				info, statErr := statSize(m)
				if statErr != nil || info == 0 {
					mismatches = append(mismatches, Mismatch{Path: m, Reason: protocol.ErrOutputEmpty})
				}
			}
		}
	}

	if len(mismatches) == 0 {
		return nil, protocol.ErrOK, nil
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Path < mismatches[j].Path })

	// OUTPUT_MISSING outranks OUTPUT_EMPTY per spec §4.H priority order.
	classification = protocol.ErrOutputEmpty
	for _, m := range mismatches {
		if m.Reason == protocol.ErrOutputMissing {
			classification = protocol.ErrOutputMissing
			break
		}
	}
	return mismatches, classification, nil
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
