// Package atomicfile provides same-directory temp-file-then-rename helpers
// so that readers of job-directory artifacts never observe a partially
// written file.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const defaultPerm = 0o644

// WriteFile atomically replaces path with data: it writes to a temporary
// file in the same directory, fsyncs it, then renames over the target.
// Callers on the same path must not run concurrently; the run-directory's
// single-writer-per-file policy guarantees that in practice.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if perm == 0 {
		perm = defaultPerm
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	// Any early return below must clean up the temp file.
	succeeded := false
	defer func() {
		if !succeeded {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file for %q: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsyncing temp file for %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %q: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file for %q: %w", path, err)
	}

	// Rename is atomic on the same filesystem; on Unix it also atomically
	// replaces an existing target.
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file to %q: %w", path, err)
	}

	succeeded = true
	return nil
}

// WriteJSON marshals v and writes it atomically to path.
func WriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFile(path, data, perm)
}

// WriteFileExclusive is like WriteFile but fails if path already exists,
// used where write-once semantics are required (requests, acks).
func WriteFileExclusive(path string, data []byte, perm os.FileMode) error {
	if perm == 0 {
		perm = defaultPerm
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%q already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	return WriteFile(path, data, perm)
}

// WriteJSONExclusive marshals v and writes it atomically to path, failing if
// path already exists.
func WriteJSONExclusive(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %q: %w", path, err)
	}
	data = append(data, '\n')
	return WriteFileExclusive(path, data, perm)
}
