package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/launcher"
	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/rundir"
)

func TestWatchHealthAlertsOnHeartbeatLoss(t *testing.T) {
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "testdouble")
	require.NoError(t, err)
	require.NoError(t, tl.Close())

	td := &launcher.TestDouble{Logger: logger.Discard, StopHeartbeatAfter: 1}
	sup := &Supervisor{Launcher: td, Logger: logger.Discard, HeartbeatTimeout: 40 * time.Millisecond, PollInterval: 10 * time.Millisecond}

	h, err := sup.Start(context.Background(), layout.RunDir, nil)
	require.NoError(t, err)
	require.NoError(t, sup.WaitReady(context.Background(), h, time.Second))

	alerts, stop := sup.WatchHealth(context.Background(), h, layout.RunDir)
	defer stop()

	select {
	case a := <-alerts:
		assert.Equal(t, launcher.HealthHeartbeatLost, a.Health)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a heartbeat_lost alert")
	}
}

func TestWatchHealthStaysQuietWhileAlive(t *testing.T) {
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "testdouble")
	require.NoError(t, err)
	require.NoError(t, tl.Close())

	td := &launcher.TestDouble{Logger: logger.Discard}
	sup := &Supervisor{Launcher: td, Logger: logger.Discard, HeartbeatTimeout: time.Second, PollInterval: 10 * time.Millisecond}

	h, err := sup.Start(context.Background(), layout.RunDir, nil)
	require.NoError(t, err)
	require.NoError(t, sup.WaitReady(context.Background(), h, time.Second))

	alerts, stop := sup.WatchHealth(context.Background(), h, layout.RunDir)
	defer stop()

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert while session healthy: %+v", a)
	case <-time.After(200 * time.Millisecond):
	}
}
