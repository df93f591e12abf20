package tclgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBootstrapSubstitutesVars(t *testing.T) {
	out, err := RenderBootstrap(Vars{
		RunDir:        "/runs/job1",
		ScriptsDir:    "/runs/job1/scripts",
		JobID:         "job1",
		HeartbeatPath: "/runs/job1/session/heartbeat",
		ReadyPath:     "/runs/job1/session/ready",
		StopPath:      "/runs/job1/session/stop",
	})
	require.NoError(t, err)
	assert.Contains(t, out, `set sp_run_dir     "/runs/job1"`)
	assert.Contains(t, out, `set sp_heartbeat   "/runs/job1/session/heartbeat"`)
	assert.Contains(t, out, "after 200")
}

func TestRenderRestoreWrapperFixedBody(t *testing.T) {
	out, err := RenderRestoreWrapper(RestoreVars{JobID: "job1", DescriptorPath: "/data/design.enc"})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines[len(lines)-2], "cd [file dirname")
	assert.Contains(t, lines[len(lines)-1], `source "/data/design.enc"`)
}
