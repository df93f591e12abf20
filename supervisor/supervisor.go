// Package supervisor wraps a launcher.Launcher with the health-watching
// background task described in spec §4.H: once a session is started, a
// goroutine polls poll_health and reports the first non-alive observation,
// so the orchestrator can interrupt whatever kernel wait is in flight
// (RESTORE_DB or RUN_SKILL) instead of waiting out its own timeout.
package supervisor

import (
	"context"
	"time"

	"github.com/qfliuyang/skillpilot/internal/fswatch"
	"github.com/qfliuyang/skillpilot/launcher"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// Supervisor starts a tool session through a pluggable Launcher and watches
// it for the remainder of the job.
type Supervisor struct {
	Launcher         launcher.Launcher
	Logger           logger.Logger
	HeartbeatTimeout time.Duration
	PollInterval     time.Duration
}

// Start launches the tool session.
func (s *Supervisor) Start(ctx context.Context, runDir string, env []string) (launcher.Handle, error) {
	return s.Launcher.Start(ctx, runDir, env)
}

// WaitReady blocks until the session reports readiness.
func (s *Supervisor) WaitReady(ctx context.Context, h launcher.Handle, timeout time.Duration) error {
	return s.Launcher.WaitReady(ctx, h, timeout, s.HeartbeatTimeout)
}

// Stop requests a graceful stop, escalating to termination after grace.
func (s *Supervisor) Stop(ctx context.Context, h launcher.Handle, reason string, grace time.Duration) error {
	return s.Launcher.Stop(ctx, h, reason, grace)
}

// Alert is sent on the channel WatchHealth returns the first (and only)
// time poll_health stops reporting alive.
type Alert struct {
	Health launcher.Health
}

// WatchHealth starts a background goroutine polling poll_health at
// PollInterval (accelerated by an fsnotify watch on session/heartbeat) and
// returns a channel that receives exactly one Alert the first time health
// is not alive. Cancel ctx or call the returned stop func to end the watch
// early without an alert.
func (s *Supervisor) WatchHealth(ctx context.Context, h launcher.Handle, runDir string) (alerts <-chan Alert, stop func()) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	out := make(chan Alert, 1)
	watchCtx, cancel := context.WithCancel(ctx)

	nudge, stopNudge := fswatch.Nudge(protocol.HeartbeatPath(runDir))

	go func() {
		defer stopNudge()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			case <-nudge:
			}

			health, err := s.Launcher.PollHealth(h, s.HeartbeatTimeout)
			if err != nil {
				s.Logger.Warn("[supervisor] poll_health error: %v", err)
				continue
			}
			if health != launcher.HealthAlive {
				select {
				case out <- Alert{Health: health}:
				default:
				}
				return
			}
		}
	}()

	return out, cancel
}
