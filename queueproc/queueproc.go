// Package queueproc is the Go-native reference implementation of the
// in-session queue processor described in spec §4.F. The real tool speaks
// Tcl, so the system of record ships as a rendered Tcl template
// (internal/tclgen); this package is functionally identical to that
// template and is what the testdouble launcher runs in-process, so the
// two never drift out of sync with each other's "classify outcome" rule.
package queueproc

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// ScriptRunner executes one whitelisted script and reports whether it
// succeeded. The testdouble launcher supplies a fake; a prospective
// non-Tcl local runner would supply a real interpreter invocation.
type ScriptRunner interface {
	RunScript(ctx context.Context, scriptAbsPath string) error
}

// Processor polls queue/ inside a run directory and drains it: the Go
// mirror of scripts/bootstrap.tcl.
type Processor struct {
	RunDir       string
	JobID        string
	Runner       ScriptRunner
	Logger       logger.Logger
	PollInterval time.Duration
}

// Run loops until ctx is cancelled or session/stop appears, refreshing the
// heartbeat and draining pending requests on every iteration.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.tick(ctx); err != nil {
			return err
		}
		if protocol.StopRequested(p.RunDir) {
			p.Logger.Debug("[queueproc] session/stop observed, exiting")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Processor) tick(ctx context.Context) error {
	if err := protocol.TouchHeartbeat(p.RunDir); err != nil {
		return err
	}

	ids, err := protocol.PendingRequestIDs(p.RunDir)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := p.ProcessOne(ctx, id); err != nil {
			p.Logger.Error("[queueproc] processing request %s: %v", id, err)
		}
	}
	return nil
}

// ProcessOne loads, executes, and acks a single pending request by id. It
// is exported so launchers that drive their own poll loop (the testdouble
// launcher) can reuse the exact same per-request logic as Run.
func (p *Processor) ProcessOne(ctx context.Context, requestID string) error {
	req, err := protocol.LoadRequest(p.RunDir, requestID)
	if err != nil {
		return err
	}

	start := time.Now().UTC()

	if violation := p.securityViolation(req); violation != "" {
		return p.writeAck(requestID, req.JobID, protocol.AckFail, protocol.ErrCmdFail,
			"security violation: "+violation, start, nil)
	}

	scriptAbs := filepath.Join(p.RunDir, req.Script)
	runErr := p.Runner.RunScript(ctx, scriptAbs)
	if runErr == nil {
		return p.writeAck(requestID, req.JobID, protocol.AckPass, protocol.ErrOK, "", start, nil)
	}

	classification := protocol.ErrCmdFail
	if filepath.ToSlash(req.Script) == "scripts/restore_wrapper.tcl" {
		classification = protocol.ErrRestoreFail
	}
	return p.writeAck(requestID, req.JobID, protocol.AckFail, classification, runErr.Error(), start, nil)
}

// securityViolation re-checks, inside the session, the same constraints the
// kernel enforced before submission: defense in depth against a queue
// directory populated by something other than the kernel.
func (p *Processor) securityViolation(req *protocol.Request) string {
	if req.Action != protocol.ActionSourceTCL {
		return "unrecognized action " + req.Action
	}
	if !strings.HasPrefix(req.Script, "scripts/") {
		return "script path does not start with scripts/"
	}
	if strings.Contains(req.Script, "..") {
		return "script path contains '..'"
	}
	scriptsDir := filepath.Join(p.RunDir, "scripts")
	full := filepath.Join(p.RunDir, req.Script)
	rel, err := filepath.Rel(scriptsDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "script path escapes scripts/"
	}
	return ""
}

func (p *Processor) writeAck(requestID, jobID string, status protocol.AckStatus, class protocol.ErrorType, message string, start time.Time, evidence []string) error {
	finish := time.Now().UTC()
	ack := &protocol.Ack{
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     requestID,
		JobID:         jobID,
		Status:        status,
		ErrorType:     class,
		Message:       message,
		StartedAt:     &start,
		FinishedAt:    &finish,
		DurationMS:    finish.Sub(start).Milliseconds(),
		EvidencePaths: evidence,
	}
	if err := ack.Submit(p.RunDir); err != nil {
		return err
	}
	p.Logger.Debug("[queueproc] ack %s status=%s class=%s", requestID, status, class)
	return nil
}

// NoopRunner always succeeds without doing anything; useful for tests
// exercising the idempotency and ack-writing paths without a real script.
type NoopRunner struct{}

func (NoopRunner) RunScript(context.Context, string) error { return nil }

// FuncRunner adapts a plain function to ScriptRunner.
type FuncRunner func(ctx context.Context, scriptAbsPath string) error

func (f FuncRunner) RunScript(ctx context.Context, scriptAbsPath string) error {
	return f(ctx, scriptAbsPath)
}

var errNotImplemented = errors.New("queueproc: script runner not implemented")

// UnimplementedRunner always fails with a "not implemented" error.
var UnimplementedRunner ScriptRunner = FuncRunner(func(context.Context, string) error {
	return errNotImplemented
})
