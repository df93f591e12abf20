// Package kernel is the execution kernel of spec §4.G: it renders scripts
// into a job's scripts/ directory, submits requests into queue/, and waits
// for the matching ack/ file to appear, never retrying.
package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/qfliuyang/skillpilot/internal/fswatch"
	"github.com/qfliuyang/skillpilot/internal/tclgen"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

// Kernel submits requests into one job's run directory and waits for acks.
type Kernel struct {
	RunDir         string
	JobID          string
	Logger         logger.Logger
	Timeline       *protocol.TimelineWriter
	DefaultTimeout time.Duration

	seq int64
}

// New returns a Kernel bound to runDir/jobID.
func New(logger_ logger.Logger, runDir, jobID string, tl *protocol.TimelineWriter, defaultTimeout time.Duration) *Kernel {
	if defaultTimeout <= 0 {
		defaultTimeout = 120 * time.Second
	}
	return &Kernel{RunDir: runDir, JobID: jobID, Logger: logger_, Timeline: tl, DefaultTimeout: defaultTimeout}
}

// nextRequestID returns "<job_id>_<seq>_<tag>", a monotonically increasing,
// lexicographically ordered id (spec §3's recommended shape).
func (k *Kernel) nextRequestID(tag string) string {
	n := atomic.AddInt64(&k.seq, 1)
	return fmt.Sprintf("%s_%04d_%s", k.JobID, n, tag)
}

// WriteRestoreWrapper renders scripts/restore_wrapper.tcl with the fixed
// cd-then-source body over descriptorPath, per spec §4.G.
func (k *Kernel) WriteRestoreWrapper(descriptorPath string) (string, error) {
	body, err := tclgen.RenderRestoreWrapper(tclgen.RestoreVars{
		JobID:          k.JobID,
		DescriptorPath: descriptorPath,
	})
	if err != nil {
		return "", fmt.Errorf("rendering restore wrapper: %w", err)
	}
	rel := "scripts/restore_wrapper.tcl"
	full := filepath.Join(k.RunDir, rel)
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing restore wrapper: %w", err)
	}
	return rel, nil
}

// SubmitAndWait submits a request to source scriptPath (relative, under
// scripts/) and blocks for its ack, up to timeout (DefaultTimeout if zero).
// It records submit_request and receive_ack timeline actions and never
// retries: a timeout is returned to the caller as an *ErrQueueTimeout,
// for the orchestrator to classify QUEUE_TIMEOUT.
func (k *Kernel) SubmitAndWait(ctx context.Context, tag, scriptPath string, timeout time.Duration) (*protocol.Ack, error) {
	if timeout <= 0 {
		timeout = k.DefaultTimeout
	}

	requestID := k.nextRequestID(tag)
	req, err := protocol.NewRequest(k.JobID, requestID, scriptPath, timeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if err := req.Submit(k.RunDir); err != nil {
		return nil, fmt.Errorf("submitting request %s: %w", requestID, err)
	}
	k.Timeline.Append(protocol.LevelInfo, protocol.EventAction, "", "submit_request",
		map[string]any{"request_id": requestID, "script": scriptPath})

	ack, err := k.waitForAck(ctx, requestID, timeout)
	if err != nil {
		return nil, err
	}

	k.Timeline.Append(protocol.LevelInfo, protocol.EventAction, "", "receive_ack",
		map[string]any{"request_id": requestID, "status": string(ack.Status), "error_type": string(ack.ErrorType)})
	return ack, nil
}

// ErrQueueTimeout is returned by waitForAck when no ack appears in time.
type ErrQueueTimeout struct {
	RequestID string
	Timeout   time.Duration
}

func (e *ErrQueueTimeout) Error() string {
	return fmt.Sprintf("no ack for request %s within %s", e.RequestID, e.Timeout)
}

func (k *Kernel) waitForAck(ctx context.Context, requestID string, timeout time.Duration) (*protocol.Ack, error) {
	nudge, stop := fswatch.Nudge(k.ackPathFor(requestID))
	defer stop()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if protocol.AckExists(k.RunDir, requestID) {
			return protocol.LoadAck(k.RunDir, requestID)
		}
		if time.Now().After(deadline) {
			return nil, &ErrQueueTimeout{RequestID: requestID, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-nudge:
		case <-ticker.C:
		}
	}
}

func (k *Kernel) ackPathFor(requestID string) string {
	return filepath.Join(k.RunDir, "ack", requestID+".json")
}
