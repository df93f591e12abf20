package bundler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/logger"
	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/rundir"
)

func TestPackIncludesManifestAndTimeline(t *testing.T) {
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "local")
	require.NoError(t, err)
	tl.Append(protocol.LevelError, protocol.EventFail, protocol.StateRunSkill, "cmd failed", nil)
	require.NoError(t, tl.Close())

	b := &Bundler{Logger: logger.Discard}
	idx, err := b.Pack(layout.RunDir, "job1", protocol.ErrCmdFail, "skill script failed", "")
	require.NoError(t, err)

	assert.Equal(t, protocol.ErrCmdFail, idx.ErrorType)
	assert.Contains(t, idx.Artifacts, "manifest")
	assert.Contains(t, idx.Artifacts, "timeline")
	assert.NotEmpty(t, idx.NextActions)

	_, err = os.Stat(filepath.Join(layout.BundleDir, "manifest.json"))
	require.NoError(t, err)

	reloaded, err := protocol.LoadBundleIndex(layout.BundleDir)
	require.NoError(t, err)
	assert.Equal(t, idx.Summary, reloaded.Summary)
}

func TestPackToleratesMissingSession(t *testing.T) {
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "local")
	require.NoError(t, err)
	require.NoError(t, tl.Close())

	b := &Bundler{Logger: logger.Discard}
	idx, err := b.Pack(layout.RunDir, "job1", protocol.ErrLocatorFail, "no candidate found", "")
	require.NoError(t, err)
	assert.NotContains(t, idx.Artifacts, "tool_stdout_tail")
	assert.Contains(t, idx.Artifacts, "manifest")
}

func TestPackIncludesLastFailingAck(t *testing.T) {
	cwd := t.TempDir()
	layout, tl, err := rundir.Build(logger.Discard, cwd, "job1", "local")
	require.NoError(t, err)
	require.NoError(t, tl.Close())

	ack := &protocol.Ack{SchemaVersion: protocol.SchemaVersion, RequestID: "job1_0001_skill", JobID: "job1", Status: protocol.AckFail, ErrorType: protocol.ErrCmdFail}
	require.NoError(t, ack.Submit(layout.RunDir))

	b := &Bundler{Logger: logger.Discard}
	idx, err := b.Pack(layout.RunDir, "job1", protocol.ErrCmdFail, "cmd failed", "")
	require.NoError(t, err)
	assert.Equal(t, "last_failing_ack.json", idx.Artifacts["last_failing_ack"])
}
