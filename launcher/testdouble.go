package launcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/queueproc"
)

// TestDouble never forks a process. It runs queueproc.Processor in-process
// against the run directory, so the rest of the stack (kernel, orchestrator)
// exercises the exact same request/ack protocol it would against a real
// tool session. It exists for the end-to-end test suite (spec §4.E).
type TestDouble struct {
	Logger logger.Logger

	// Runner executes scripts submitted through the queue. Defaults to a
	// runner that always succeeds if nil.
	Runner queueproc.ScriptRunner

	// StartupDelay, if set, delays marking the session ready; used to
	// exercise SESSION_START_FAIL timeouts.
	StartupDelay time.Duration

	// StopHeartbeatAfter, if > 0, stops the in-process processor's
	// heartbeat refresh after that many ticks, simulating a wedged tool.
	StopHeartbeatAfter int

	// Crash, if true, Start returns a handle that is already marked crashed
	// and never starts the processor goroutine, simulating a crash.
	Crash bool
}

type testDoubleHandle struct {
	runDir string
	cancel context.CancelFunc

	mu      sync.Mutex
	crashed bool
	done    chan struct{}
}

func (h *testDoubleHandle) Name() string { return "testdouble" }

func (t *TestDouble) Start(ctx context.Context, runDir string, _ []string) (Handle, error) {
	runner := t.Runner
	if runner == nil {
		runner = queueproc.NoopRunner{}
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	h := &testDoubleHandle{runDir: runDir, cancel: cancel, done: make(chan struct{})}

	state := &protocol.SessionState{
		SchemaVersion: protocol.SchemaVersion,
		PID:           -1,
		Launcher:      "testdouble",
		StartedAt:     time.Now().UTC(),
	}
	if err := state.Store(runDir); err != nil {
		return nil, fmt.Errorf("writing initial session state: %w", err)
	}

	if t.Crash {
		close(h.done)
		h.mu.Lock()
		h.crashed = true
		h.mu.Unlock()
		return h, nil
	}

	go func() {
		defer close(h.done)
		if t.StartupDelay > 0 {
			select {
			case <-time.After(t.StartupDelay):
			case <-sessionCtx.Done():
				return
			}
		}
		if err := protocol.MarkReady(runDir); err != nil {
			t.Logger.Error("[launcher:testdouble] marking ready: %v", err)
		}

		ticks := 0
		proc := &queueproc.Processor{
			RunDir:       runDir,
			Runner:       runner,
			Logger:       t.Logger,
			PollInterval: 20 * time.Millisecond,
		}
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			ticks++
			if t.StopHeartbeatAfter <= 0 || ticks <= t.StopHeartbeatAfter {
				_ = protocol.TouchHeartbeat(runDir)
			}
			ids, err := protocol.PendingRequestIDs(runDir)
			if err == nil {
				for _, id := range ids {
					_ = proc.ProcessOne(sessionCtx, id)
				}
			}
			if protocol.StopRequested(runDir) {
				return
			}
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return h, nil
}

func (t *TestDouble) WaitReady(ctx context.Context, h Handle, timeout, heartbeatTimeout time.Duration) error {
	th, ok := h.(*testDoubleHandle)
	if !ok {
		return fmt.Errorf("launcher: handle is not a testdouble handle")
	}
	deadline := time.Now().Add(timeout)
	for {
		if protocol.IsReady(th.runDir) {
			return nil
		}
		if age, err := protocol.HeartbeatAge(th.runDir); err == nil && age < heartbeatTimeout {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (t *TestDouble) PollHealth(h Handle, heartbeatTimeout time.Duration) (Health, error) {
	th, ok := h.(*testDoubleHandle)
	if !ok {
		return "", fmt.Errorf("launcher: handle is not a testdouble handle")
	}

	th.mu.Lock()
	crashed := th.crashed
	th.mu.Unlock()
	if crashed {
		return HealthCrashed, nil
	}

	select {
	case <-th.done:
		return HealthCrashed, nil
	default:
	}

	age, err := protocol.HeartbeatAge(th.runDir)
	if err != nil {
		return HealthAlive, nil
	}
	if age > heartbeatTimeout {
		return HealthHeartbeatLost, nil
	}
	return HealthAlive, nil
}

func (t *TestDouble) Stop(ctx context.Context, h Handle, reason string, grace time.Duration) error {
	th, ok := h.(*testDoubleHandle)
	if !ok {
		return fmt.Errorf("launcher: handle is not a testdouble handle")
	}
	_ = protocol.RequestStop(th.runDir, reason)
	th.cancel()
	select {
	case <-th.done:
	case <-time.After(grace):
	}
	return nil
}
