package protocol

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// TimelineLevel is the severity of a timeline event.
type TimelineLevel string

const (
	LevelInfo  TimelineLevel = "INFO"
	LevelWarn  TimelineLevel = "WARN"
	LevelError TimelineLevel = "ERROR"
)

// TimelineEventKind is the kind of a timeline event.
type TimelineEventKind string

const (
	EventStateEnter TimelineEventKind = "STATE_ENTER"
	EventStateExit  TimelineEventKind = "STATE_EXIT"
	EventAction     TimelineEventKind = "ACTION"
	EventDone       TimelineEventKind = "DONE"
	EventFail       TimelineEventKind = "FAIL"
)

// TimelineEvent is one line of job_timeline.jsonl.
type TimelineEvent struct {
	SchemaVersion string            `json:"schema_version"`
	Timestamp     time.Time         `json:"ts"`
	JobID         string            `json:"job_id"`
	Level         TimelineLevel     `json:"level"`
	Event         TimelineEventKind `json:"event"`
	State         State             `json:"state,omitempty"`
	Message       string            `json:"message,omitempty"`
	Data          map[string]any    `json:"data,omitempty"`
}

func timelinePath(runDir string) string {
	return runDir + "/job_timeline.jsonl"
}

// TimelineWriter is the single writer of a job's timeline. All appends for
// one job should go through one TimelineWriter; it serializes writes onto a
// single goroutine that owns the file handle, so there is never a need for
// cross-process locking (spec §9, "funnel timeline writes through one
// dedicated task").
type TimelineWriter struct {
	jobID   string
	lines   chan TimelineEvent
	done    chan struct{}
	writeMu sync.Mutex // guards appender against Close racing a pending write
	appndr  *atomicfile.LineAppender
	appErr  error
}

// NewTimelineWriter opens (or creates) the timeline file and starts its
// writer goroutine.
func NewTimelineWriter(runDir, jobID string) (*TimelineWriter, error) {
	a, err := atomicfile.OpenLineAppender(timelinePath(runDir))
	if err != nil {
		return nil, fmt.Errorf("opening timeline: %w", err)
	}
	w := &TimelineWriter{
		jobID:  jobID,
		lines:  make(chan TimelineEvent, 64),
		done:   make(chan struct{}),
		appndr: a,
	}
	go w.run()
	return w, nil
}

func (w *TimelineWriter) run() {
	defer close(w.done)
	for ev := range w.lines {
		w.writeMu.Lock()
		if err := w.appndr.AppendJSON(ev); err != nil && w.appErr == nil {
			w.appErr = err
		}
		w.writeMu.Unlock()
	}
}

// Append enqueues a timeline event for the writer goroutine. It never
// blocks the caller on disk I/O beyond the channel send.
func (w *TimelineWriter) Append(level TimelineLevel, event TimelineEventKind, state State, message string, data map[string]any) {
	w.lines <- TimelineEvent{
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		JobID:         w.jobID,
		Level:         level,
		Event:         event,
		State:         state,
		Message:       message,
		Data:          data,
	}
}

// Close flushes and closes the timeline writer, returning any write error
// observed along the way.
func (w *TimelineWriter) Close() error {
	close(w.lines)
	<-w.done
	if err := w.appndr.Close(); err != nil && w.appErr == nil {
		w.appErr = err
	}
	return w.appErr
}

// LoadTimeline reads and schema-validates every line of a job's timeline,
// in order. It is used by tests; it tolerates a missing
// file by returning an empty slice.
func LoadTimeline(runDir string) ([]TimelineEvent, error) {
	path := timelinePath(runDir)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening timeline %q: %w", path, err)
	}
	defer f.Close()

	var events []TimelineEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := validateAgainst("timeline", line); err != nil {
			return nil, fmt.Errorf("timeline line %d: %w: %v", lineNo, ErrSchemaInvalid, err)
		}
		var ev TimelineEvent
		if err := unmarshalStrict(line, &ev); err != nil {
			return nil, fmt.Errorf("timeline line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning timeline %q: %w", path, err)
	}
	return events, nil
}
