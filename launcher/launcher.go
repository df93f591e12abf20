// Package launcher abstracts over how a tool session's process actually
// gets started (spec §4.E): a direct local subprocess, an interactive batch
// submission wrapping the same subprocess machinery, or an in-memory test
// double used by the end-to-end test suite. The orchestrator and kernel
// only ever see this package's small capability set; they never branch on
// which concrete launcher is in play.
package launcher

import (
	"context"
	"time"
)

// Health is the result of a poll_health check.
type Health string

const (
	HealthAlive          Health = "alive"
	HealthHeartbeatLost   Health = "heartbeat_lost"
	HealthCrashed         Health = "crashed"
)

// Handle identifies one launched session for subsequent WaitReady/PollHealth/
// Stop calls. Concrete launchers attach their own state behind it.
type Handle interface {
	// Name returns the launcher name that produced this handle (e.g.
	// "local", "batch", "testdouble"), recorded in the manifest.
	Name() string
}

// Launcher starts, monitors, and stops a tool session. It does not
// interpret Skill semantics; it only runs and watches a process (spec
// §4.E).
type Launcher interface {
	// Start forks/launches the tool against runDir, with env applied on
	// top of the current process environment. It returns immediately once
	// the process has been launched; it does not wait for readiness.
	Start(ctx context.Context, runDir string, env []string) (Handle, error)

	// WaitReady blocks until session/ready exists or the first heartbeat
	// update arrives, or returns an error if timeout elapses first.
	WaitReady(ctx context.Context, h Handle, timeout time.Duration, heartbeatTimeout time.Duration) error

	// PollHealth combines process liveness with heartbeat age.
	PollHealth(h Handle, heartbeatTimeout time.Duration) (Health, error)

	// Stop writes session/stop, waits a grace period, then forces
	// termination if the process has not exited on its own.
	Stop(ctx context.Context, h Handle, reason string, grace time.Duration) error
}
