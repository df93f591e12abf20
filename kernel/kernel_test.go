package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/rundir"
)

func newKernel(t *testing.T) (*Kernel, string) {
	t.Helper()
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "testdouble")
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return New(logger.Discard, layout.RunDir, "job1", tl, 2*time.Second), layout.RunDir
}

func TestSubmitAndWaitTimesOutWithoutAck(t *testing.T) {
	k, _ := newKernel(t)
	k.DefaultTimeout = 100 * time.Millisecond

	_, err := k.SubmitAndWait(context.Background(), "skill", "scripts/skill.tcl", 0)
	require.Error(t, err)
	var timeoutErr *ErrQueueTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestSubmitAndWaitReturnsAckOnceWritten(t *testing.T) {
	k, runDir := newKernel(t)

	go func() {
		for {
			ids, _ := protocol.PendingRequestIDs(runDir)
			for _, id := range ids {
				ack := &protocol.Ack{SchemaVersion: protocol.SchemaVersion, RequestID: id, JobID: "job1", Status: protocol.AckPass, ErrorType: protocol.ErrOK}
				_ = ack.Submit(runDir)
			}
			if len(ids) > 0 {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ack, err := k.SubmitAndWait(context.Background(), "skill", "scripts/skill.tcl", time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckPass, ack.Status)
}

func TestWriteRestoreWrapperFixedBody(t *testing.T) {
	k, runDir := newKernel(t)

	rel, err := k.WriteRestoreWrapper("/data/top.enc")
	require.NoError(t, err)
	assert.Equal(t, "scripts/restore_wrapper.tcl", rel)

	data, err := os.ReadFile(filepath.Join(runDir, rel))
	require.NoError(t, err)
	assert.Contains(t, string(data), `source "/data/top.enc"`)
}
