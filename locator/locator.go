// Package locator resolves a user query (an explicit path or a bare name) to
// a design database: a ".enc" descriptor file paired with a companion
// ".enc.dat" data sibling (which may itself be a file or a directory).
package locator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qfliuyang/skillpilot/protocol"
)

// DefaultMaxDepth is the default recursion depth for a name scan.
const DefaultMaxDepth = 3

// Mode is how the query was interpreted.
type Mode string

const (
	ModeExplicitPath Mode = "explicit_path"
	ModeNameScan     Mode = "name_scan"
)

// Error is returned for every locator failure; callers classify the job
// protocol.ErrLocatorFail on seeing it.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func fail(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Result is the outcome of a Locate call: either exactly one candidate was
// found and Selected is set, or more than one was found and the caller must
// pause for a resume_job selection.
type Result struct {
	Mode       Mode
	Candidates []protocol.Candidate
	Selected   *protocol.Candidate
	Reason     string
}

// Locate resolves query relative to cwd. See package doc and spec §4.C for
// the explicit-path vs. name-scan rules.
func Locate(cwd, query string, maxDepth int) (*Result, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	if strings.ContainsRune(query, os.PathSeparator) || strings.ContainsRune(query, '/') || strings.HasSuffix(query, ".enc") {
		return locateExplicit(cwd, query)
	}
	return locateByScan(cwd, query, maxDepth)
}

func locateExplicit(cwd, query string) (*Result, error) {
	encPath := query
	if !strings.HasSuffix(encPath, ".enc") {
		encPath += ".enc"
	}
	if !filepath.IsAbs(encPath) {
		encPath = filepath.Join(cwd, encPath)
	}
	encPath = filepath.Clean(encPath)

	info, err := os.Stat(encPath)
	if err != nil || info.IsDir() {
		return nil, fail("explicit descriptor %q does not exist", encPath)
	}

	datPath := encPath + ".dat"
	if _, err := os.Stat(datPath); err != nil {
		return nil, fail("descriptor %q has no companion data sibling %q", encPath, datPath)
	}

	cand := protocol.Candidate{
		EncPath:    encPath,
		DatPath:    datPath,
		ModifiedAt: info.ModTime(),
		SizeBytes:  info.Size(),
	}

	return &Result{
		Mode:       ModeExplicitPath,
		Candidates: []protocol.Candidate{cand},
		Selected:   &cand,
		Reason:     "direct_match",
	}, nil
}

func locateByScan(cwd, name string, maxDepth int) (*Result, error) {
	target := name + ".enc"
	var candidates []protocol.Candidate

	root := filepath.Clean(cwd)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Skip unreadable subtrees rather than failing the whole scan.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(os.PathSeparator)) + 1
		}

		if d.IsDir() {
			if depth > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if depth > maxDepth {
			return nil
		}
		if d.Name() != target {
			return nil
		}

		datPath := path + ".dat"
		if _, statErr := os.Stat(datPath); statErr != nil {
			return nil // no companion sibling; not a valid candidate
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		candidates = append(candidates, protocol.Candidate{
			EncPath:    path,
			DatPath:    datPath,
			ModifiedAt: info.ModTime(),
			SizeBytes:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning for %q: %w", target, err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].EncPath < candidates[j].EncPath })

	switch len(candidates) {
	case 0:
		return nil, fail("no %q found with a companion data sibling under %q (depth <= %d)", target, cwd, maxDepth)
	case 1:
		return &Result{
			Mode:       ModeNameScan,
			Candidates: candidates,
			Selected:   &candidates[0],
			Reason:     "unique_scan_result",
		}, nil
	default:
		return &Result{
			Mode:       ModeNameScan,
			Candidates: candidates,
		}, nil
	}
}

// Select returns a copy of candidate index (bounds-checked) from a paused
// Result. It does not set a selection reason; the caller records
// user_selected.
func Select(candidates []protocol.Candidate, index int) (*protocol.Candidate, error) {
	if index < 0 || index >= len(candidates) {
		return nil, fmt.Errorf("selection index %d out of range [0,%d)", index, len(candidates))
	}
	c := candidates[index]
	return &c, nil
}
