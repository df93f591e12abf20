package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/rundir"
)

func newTestRunDir(t *testing.T) string {
	t.Helper()
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "testdouble")
	require.NoError(t, err)
	require.NoError(t, tl.Close())
	return layout.RunDir
}

func TestTestDoubleReachesReady(t *testing.T) {
	runDir := newTestRunDir(t)
	td := &TestDouble{Logger: logger.Discard}

	h, err := td.Start(context.Background(), runDir, nil)
	require.NoError(t, err)

	require.NoError(t, td.WaitReady(context.Background(), h, time.Second, 30*time.Second))

	health, err := td.PollHealth(h, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, HealthAlive, health)

	require.NoError(t, td.Stop(context.Background(), h, "test done", time.Second))
}

func TestTestDoubleDrainsRequests(t *testing.T) {
	runDir := newTestRunDir(t)
	td := &TestDouble{Logger: logger.Discard}

	h, err := td.Start(context.Background(), runDir, nil)
	require.NoError(t, err)
	require.NoError(t, td.WaitReady(context.Background(), h, time.Second, 30*time.Second))

	req, err := protocol.NewRequest("job1", "job1_0_skill", "scripts/skill.tcl", 5)
	require.NoError(t, err)
	require.NoError(t, req.Submit(runDir))

	require.Eventually(t, func() bool {
		return protocol.AckExists(runDir, "job1_0_skill")
	}, 2*time.Second, 10*time.Millisecond)

	ack, err := protocol.LoadAck(runDir, "job1_0_skill")
	require.NoError(t, err)
	assert.Equal(t, protocol.AckPass, ack.Status)

	require.NoError(t, td.Stop(context.Background(), h, "test done", time.Second))
}

func TestTestDoubleCrashIsDetected(t *testing.T) {
	runDir := newTestRunDir(t)
	td := &TestDouble{Logger: logger.Discard, Crash: true}

	h, err := td.Start(context.Background(), runDir, nil)
	require.NoError(t, err)

	health, err := td.PollHealth(h, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, HealthCrashed, health)
}

func TestTestDoubleHeartbeatLost(t *testing.T) {
	runDir := newTestRunDir(t)
	td := &TestDouble{Logger: logger.Discard, StopHeartbeatAfter: 1}

	h, err := td.Start(context.Background(), runDir, nil)
	require.NoError(t, err)
	require.NoError(t, td.WaitReady(context.Background(), h, time.Second, 30*time.Second))

	require.Eventually(t, func() bool {
		health, err := td.PollHealth(h, 40*time.Millisecond)
		return err == nil && health == HealthHeartbeatLost
	}, 2*time.Second, 10*time.Millisecond)
}
