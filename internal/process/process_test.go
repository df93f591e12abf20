package process

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/logger"
)

func TestRunCapturesStdout(t *testing.T) {
	var stdout bytes.Buffer
	p := New(logger.Discard, Config{
		Path:   "/bin/echo",
		Args:   []string{"hello"},
		Stdout: &stdout,
		Stderr: &stdout,
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, 0, p.ExitCode())
}

func TestRunNonZeroExit(t *testing.T) {
	var stdout bytes.Buffer
	p := New(logger.Discard, Config{
		Path:   "/bin/sh",
		Args:   []string{"-c", "exit 3"},
		Stdout: &stdout,
		Stderr: &stdout,
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, p.ExitCode())
}

func TestContextCancelInterruptsProcess(t *testing.T) {
	var stdout bytes.Buffer
	p := New(logger.Discard, Config{
		Path:              "/bin/sh",
		Args:              []string{"-c", "sleep 30"},
		Stdout:            &stdout,
		Stderr:            &stdout,
		SignalGracePeriod: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-p.Started()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after context cancellation")
	}
}
