package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qfliuyang/skillpilot/internal/fswatch"
	"github.com/qfliuyang/skillpilot/internal/process"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// Local starts the tool as a direct subprocess of skillpilot itself,
// writing its streams into session/innovus.{stdout,stderr}.log.
type Local struct {
	Logger   logger.Logger
	ToolPath string
	ToolArgs []string
	PTY      bool
}

// localHandle tracks one subprocess started by Local.
type localHandle struct {
	runDir string
	proc   *process.Process

	mu   sync.Mutex
	done bool
}

func (h *localHandle) Name() string { return "local" }

// Start launches scripts/bootstrap.tcl under the configured interpreter.
func (l *Local) Start(ctx context.Context, runDir string, env []string) (Handle, error) {
	outFile, err := os.OpenFile(protocol.ToolStdoutPath(runDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening tool stdout log: %w", err)
	}
	errFile, err := os.OpenFile(protocol.ToolStderrPath(runDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("opening tool stderr log: %w", err)
	}

	scriptPath := filepath.Join(runDir, "scripts", "bootstrap.tcl")
	proc := process.New(l.Logger, process.Config{
		PTY:    l.PTY,
		Path:   l.ToolPath,
		Args:   append(append([]string{}, l.ToolArgs...), scriptPath),
		Env:    env,
		Stdout: outFile,
		Stderr: errFile,
		Dir:    runDir,
	})

	h := &localHandle{runDir: runDir, proc: proc}

	go func() {
		defer outFile.Close()
		defer errFile.Close()
		runErr := proc.Run(ctx)
		h.finalize(runErr)
	}()

	select {
	case <-proc.Started():
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("tool process did not start within 10s")
	}

	state := &protocol.SessionState{
		SchemaVersion: protocol.SchemaVersion,
		PID:           proc.Pid(),
		Launcher:      "local",
		StartedAt:     time.Now().UTC(),
	}
	if err := state.Store(runDir); err != nil {
		return nil, fmt.Errorf("writing initial session state: %w", err)
	}

	l.Logger.Info("[launcher:local] started tool pid=%d run_dir=%s", proc.Pid(), runDir)
	return h, nil
}

func (h *localHandle) finalize(runErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true

	state, err := protocol.LoadSessionState(h.runDir)
	if err != nil || state == nil {
		state = &protocol.SessionState{SchemaVersion: protocol.SchemaVersion, PID: h.proc.Pid(), Launcher: "local"}
	}
	code := h.proc.ExitCode()
	now := time.Now().UTC()
	state.ExitCode = &code
	state.ExitedAt = &now
	if runErr != nil {
		state.StopReason = runErr.Error()
	}
	_ = state.Store(h.runDir)
}

// WaitReady blocks until session/ready appears or a heartbeat is observed,
// accelerated by an fsnotify watch on the session directory on top of a
// plain poll.
func (l *Local) WaitReady(ctx context.Context, h Handle, timeout time.Duration, heartbeatTimeout time.Duration) error {
	lh, ok := h.(*localHandle)
	if !ok {
		return fmt.Errorf("launcher: handle is not a local handle")
	}

	nudge, stop := fswatch.Nudge(protocol.ReadyPath(lh.runDir))
	defer stop()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if protocol.IsReady(lh.runDir) {
			return nil
		}
		if age, err := protocol.HeartbeatAge(lh.runDir); err == nil && age < heartbeatTimeout {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-nudge:
		case <-ticker.C:
		}
	}
}

// PollHealth combines process liveness with heartbeat age.
func (l *Local) PollHealth(h Handle, heartbeatTimeout time.Duration) (Health, error) {
	lh, ok := h.(*localHandle)
	if !ok {
		return "", fmt.Errorf("launcher: handle is not a local handle")
	}

	select {
	case <-lh.proc.Done():
		code := lh.proc.ExitCode()
		lh.mu.Lock()
		stopped := lh.done && code == 0
		lh.mu.Unlock()
		if !stopped {
			return HealthCrashed, nil
		}
	default:
	}

	age, err := protocol.HeartbeatAge(lh.runDir)
	if err != nil {
		return HealthAlive, nil // no heartbeat yet; not a failure on its own
	}
	if age > heartbeatTimeout {
		return HealthHeartbeatLost, nil
	}
	return HealthAlive, nil
}

// Stop requests a graceful stop, waits grace, then kills the process group.
func (l *Local) Stop(ctx context.Context, h Handle, reason string, grace time.Duration) error {
	lh, ok := h.(*localHandle)
	if !ok {
		return fmt.Errorf("launcher: handle is not a local handle")
	}

	if err := protocol.RequestStop(lh.runDir, reason); err != nil {
		return fmt.Errorf("writing session/stop: %w", err)
	}

	select {
	case <-lh.proc.Done():
		return nil
	case <-time.After(grace):
	}

	if err := lh.proc.Interrupt(); err != nil {
		l.Logger.Warn("[launcher:local] interrupt failed: %v", err)
	}

	select {
	case <-lh.proc.Done():
		return nil
	case <-time.After(grace):
	}

	return lh.proc.Terminate()
}
