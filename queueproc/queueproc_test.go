package queueproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
)

func newProcRunDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"scripts", "queue", "ack", "reports", "session"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	return dir
}

func TestProcessOneSuccessWritesPassAck(t *testing.T) {
	dir := newProcRunDir(t)
	p := &Processor{RunDir: dir, Runner: NoopRunner{}, Logger: logger.Discard}

	req, err := protocol.NewRequest("job1", "job1_0_skill", "scripts/skill.tcl", 5)
	require.NoError(t, err)
	require.NoError(t, req.Submit(dir))

	require.NoError(t, p.ProcessOne(context.Background(), "job1_0_skill"))

	ack, err := protocol.LoadAck(dir, "job1_0_skill")
	require.NoError(t, err)
	assert.Equal(t, protocol.AckPass, ack.Status)
	assert.Equal(t, protocol.ErrOK, ack.ErrorType)
}

func TestProcessOneRestoreFailureClassifiesRestoreFail(t *testing.T) {
	dir := newProcRunDir(t)
	runner := FuncRunner(func(context.Context, string) error { return errors.New("boom") })
	p := &Processor{RunDir: dir, Runner: runner, Logger: logger.Discard}

	req, err := protocol.NewRequest("job1", "job1_0_restore", "scripts/restore_wrapper.tcl", 5)
	require.NoError(t, err)
	require.NoError(t, req.Submit(dir))

	require.NoError(t, p.ProcessOne(context.Background(), "job1_0_restore"))

	ack, err := protocol.LoadAck(dir, "job1_0_restore")
	require.NoError(t, err)
	assert.Equal(t, protocol.AckFail, ack.Status)
	assert.Equal(t, protocol.ErrRestoreFail, ack.ErrorType)
}

func TestProcessOneOtherFailureClassifiesCmdFail(t *testing.T) {
	dir := newProcRunDir(t)
	runner := FuncRunner(func(context.Context, string) error { return errors.New("boom") })
	p := &Processor{RunDir: dir, Runner: runner, Logger: logger.Discard}

	req, err := protocol.NewRequest("job1", "job1_0_skill", "scripts/skill.tcl", 5)
	require.NoError(t, err)
	require.NoError(t, req.Submit(dir))

	require.NoError(t, p.ProcessOne(context.Background(), "job1_0_skill"))

	ack, err := protocol.LoadAck(dir, "job1_0_skill")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCmdFail, ack.ErrorType)
}

func TestRunExitsOnStopFile(t *testing.T) {
	dir := newProcRunDir(t)
	p := &Processor{RunDir: dir, Runner: NoopRunner{}, Logger: logger.Discard, PollInterval: 5 * time.Millisecond}

	require.NoError(t, protocol.RequestStop(dir, "test done"))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after session/stop appeared")
	}
}

func TestRunRefreshesHeartbeat(t *testing.T) {
	dir := newProcRunDir(t)
	p := &Processor{RunDir: dir, Runner: NoopRunner{}, Logger: logger.Discard, PollInterval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		age, err := protocol.HeartbeatAge(dir)
		return err == nil && age < time.Second
	}, time.Second, 5*time.Millisecond)

	cancel()
}
