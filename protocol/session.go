package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qfliuyang/skillpilot/internal/atomicfile"
)

// SessionState is session/state.json: the supervisor's record of the tool
// process, finalized once the process exits and read-only from then on.
type SessionState struct {
	SchemaVersion   string     `json:"schema_version"`
	PID             int        `json:"pid"`
	Launcher        string     `json:"launcher"`
	StartedAt       time.Time  `json:"started_at"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	ExitedAt        *time.Time `json:"exited_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	StopReason      string     `json:"stop_reason,omitempty"`
}

func sessionDir(runDir string) string       { return filepath.Join(runDir, "session") }
func StatePath(runDir string) string        { return filepath.Join(sessionDir(runDir), "state.json") }
func HeartbeatPath(runDir string) string    { return filepath.Join(sessionDir(runDir), "heartbeat") }
func ReadyPath(runDir string) string        { return filepath.Join(sessionDir(runDir), "ready") }
func StopPath(runDir string) string         { return filepath.Join(sessionDir(runDir), "stop") }
func SupervisorLogPath(runDir string) string { return filepath.Join(sessionDir(runDir), "supervisor.log") }
func ToolStdoutPath(runDir string) string    { return filepath.Join(sessionDir(runDir), "innovus.stdout.log") }
func ToolStderrPath(runDir string) string    { return filepath.Join(sessionDir(runDir), "innovus.stderr.log") }

// Store atomically (re)writes session/state.json. It is owned
// by the supervisor exclusively; the queue processor never writes it.
func (s *SessionState) Store(runDir string) error {
	if s.SchemaVersion == "" {
		return fmt.Errorf("session state missing schema_version")
	}
	return atomicfile.WriteJSON(StatePath(runDir), s, 0o644)
}

// LoadSessionState reads session/state.json, tolerating its absence by
// returning (nil, nil): the supervisor may not have written it yet.
func LoadSessionState(runDir string) (*SessionState, error) {
	data, err := os.ReadFile(StatePath(runDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}
	var s SessionState
	if err := unmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}
	return &s, nil
}

// TouchHeartbeat rewrites session/heartbeat with the current time, owned
// exclusively by the queue processor.
func TouchHeartbeat(runDir string) error {
	return atomicfile.WriteFile(HeartbeatPath(runDir), []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o644)
}

// HeartbeatAge returns how long it has been since the last heartbeat write,
// or an error if no heartbeat has ever been written.
func HeartbeatAge(runDir string) (time.Duration, error) {
	info, err := os.Stat(HeartbeatPath(runDir))
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}

// MarkReady creates session/ready, signaling wait_ready that the tool
// session has finished booting.
func MarkReady(runDir string) error {
	return atomicfile.WriteFile(ReadyPath(runDir), []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o644)
}

// IsReady reports whether session/ready exists.
func IsReady(runDir string) bool {
	_, err := os.Stat(ReadyPath(runDir))
	return err == nil
}

// RequestStop creates session/stop, the cooperative signal the queue
// processor polls for to exit its loop.
func RequestStop(runDir, reason string) error {
	return atomicfile.WriteFile(StopPath(runDir), []byte(reason), 0o644)
}

// StopRequested reports whether session/stop exists.
func StopRequested(runDir string) bool {
	_, err := os.Stat(StopPath(runDir))
	return err == nil
}
