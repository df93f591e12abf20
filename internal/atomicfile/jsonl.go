package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LineAppender appends JSON-encoded records to a single file, one record per
// line. It is safe to share across goroutines, but the design intent is one
// LineAppender per file, owned by a single writer (see protocol.TimelineWriter).
type LineAppender struct {
	path string
	file *os.File
}

// OpenLineAppender opens (creating if needed) path for append-only writes.
func OpenLineAppender(path string) (*LineAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultPerm)
	if err != nil {
		return nil, fmt.Errorf("opening %q for append: %w", path, err)
	}
	return &LineAppender{path: path, file: f}, nil
}

// AppendJSON marshals v to a single line and appends it, followed by fsync.
// A single O_APPEND write of a line-sized record is atomic with respect to
// other appenders on POSIX systems, but callers should still serialize
// writes through one owner to preserve total ordering of the lines.
func (a *LineAppender) AppendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling line for %q: %w", a.path, err)
	}
	data = append(data, '\n')
	if _, err := a.file.Write(data); err != nil {
		return fmt.Errorf("appending to %q: %w", a.path, err)
	}
	return a.file.Sync()
}

// Close closes the underlying file.
func (a *LineAppender) Close() error {
	return a.file.Close()
}
