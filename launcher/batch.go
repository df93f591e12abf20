package launcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qfliuyang/skillpilot/logger"
)

// Batch launches the tool through an interactive cluster submission
// command (e.g. "bsub -Is {{cmd}}") instead of forking it directly. It
// reuses Local's subprocess machinery and WaitReady/PollHealth/Stop
// entirely: only the command line assembled for Start changes, since the
// submitted job still writes the same session/* files the same way.
type Batch struct {
	Local

	// SubmitTemplate is the submission command line with a single "{{cmd}}"
	// placeholder for the tool invocation skillpilot would otherwise run
	// directly, e.g. "bsub -Is {{cmd}}".
	SubmitTemplate string
}

func (b *Batch) Start(ctx context.Context, runDir string, env []string) (Handle, error) {
	if b.SubmitTemplate == "" {
		return nil, fmt.Errorf("batch launcher: submit template not configured")
	}

	inner := append([]string{b.Local.ToolPath}, b.Local.ToolArgs...)
	cmdLine := strings.Join(inner, " ")
	submitLine := strings.ReplaceAll(b.SubmitTemplate, "{{cmd}}", cmdLine)

	fields := strings.Fields(submitLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("batch launcher: rendered submit line is empty")
	}

	delegate := Local{
		Logger:   b.Local.Logger,
		ToolPath: fields[0],
		ToolArgs: fields[1:],
		PTY:      b.Local.PTY,
	}
	h, err := delegate.Start(ctx, runDir, env)
	if err != nil {
		return nil, err
	}
	if lh, ok := h.(*localHandle); ok {
		return &batchHandle{localHandle: lh}, nil
	}
	return h, nil
}

// batchHandle only exists to report "batch" as the launcher name in the
// manifest while delegating every other behavior to localHandle.
type batchHandle struct {
	*localHandle
}

func (h *batchHandle) Name() string { return "batch" }

func (b *Batch) WaitReady(ctx context.Context, h Handle, timeout, heartbeatTimeout time.Duration) error {
	return b.Local.WaitReady(ctx, unwrapBatch(h), timeout, heartbeatTimeout)
}

func (b *Batch) PollHealth(h Handle, heartbeatTimeout time.Duration) (Health, error) {
	return b.Local.PollHealth(unwrapBatch(h), heartbeatTimeout)
}

func (b *Batch) Stop(ctx context.Context, h Handle, reason string, grace time.Duration) error {
	return b.Local.Stop(ctx, unwrapBatch(h), reason, grace)
}

func unwrapBatch(h Handle) Handle {
	if bh, ok := h.(*batchHandle); ok {
		return bh.localHandle
	}
	return h
}
