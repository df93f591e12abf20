package protocol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest("job1", "/cwd", dir, "local")
	require.NoError(t, m.Store(dir))

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, ErrOK, loaded.ErrorType)
	assert.Equal(t, "job1", loaded.JobID)
}

func TestManifestRejectsMissingSchemaVersion(t *testing.T) {
	m := &Manifest{JobID: "x"}
	dir := t.TempDir()
	err := m.Store(dir)
	assert.Error(t, err)
}

func TestTimelineWriterOrderingAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTimelineWriter(dir, "job1")
	require.NoError(t, err)

	w.Append(LevelInfo, EventStateEnter, StateInit, "entering init", nil)
	w.Append(LevelInfo, EventStateExit, StateInit, "leaving init", nil)
	w.Append(LevelError, EventFail, StateFail, "boom", map[string]any{"error_type": "LOCATOR_FAIL"})
	require.NoError(t, w.Close())

	events, err := LoadTimeline(dir)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventStateEnter, events[0].Event)
	assert.Equal(t, EventStateExit, events[1].Event)
	assert.Equal(t, EventFail, events[2].Event)
}

func TestLoadTimelineMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	events, err := LoadTimeline(dir)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRequestRejectsBadScriptPath(t *testing.T) {
	_, err := NewRequest("job1", "job1_1_restore", "not_scripts/x.tcl", 30)
	assert.Error(t, err)

	_, err = NewRequest("job1", "job1_1_restore", "scripts/../etc/passwd", 30)
	assert.Error(t, err)
}

func TestRequestSubmitIsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queue"), 0o755))

	req, err := NewRequest("job1", "job1_1_restore", "scripts/restore_wrapper.tcl", 30)
	require.NoError(t, err)
	require.NoError(t, req.Submit(dir))

	err = req.Submit(dir)
	assert.Error(t, err, "second submit of the same request id must fail")

	loaded, err := LoadRequest(dir, "job1_1_restore")
	require.NoError(t, err)
	assert.Equal(t, ActionSourceTCL, loaded.Action)
}

func TestPendingRequestIDsSkipsAcked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queue"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ack"), 0o755))

	for _, id := range []string{"job1_1_a", "job1_2_b", "job1_3_c"} {
		req, err := NewRequest("job1", id, "scripts/"+id+".tcl", 30)
		require.NoError(t, err)
		require.NoError(t, req.Submit(dir))
	}

	ack := &Ack{SchemaVersion: SchemaVersion, RequestID: "job1_2_b", JobID: "job1", Status: AckPass, ErrorType: ErrOK}
	require.NoError(t, ack.Submit(dir))

	pending, err := PendingRequestIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"job1_1_a", "job1_3_c"}, pending)
}

func TestAckIsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ack"), 0o755))

	ack := &Ack{SchemaVersion: SchemaVersion, RequestID: "job1_1_a", JobID: "job1", Status: AckPass, ErrorType: ErrOK}
	require.NoError(t, ack.Submit(dir))
	assert.True(t, AckExists(dir, "job1_1_a"))

	err := ack.Submit(dir)
	assert.Error(t, err)
}

func TestSummaryMarkdownMentionsBundleOnFail(t *testing.T) {
	s := &Summary{SchemaVersion: SchemaVersion, JobID: "job1", Status: StatusFail, ErrorType: ErrOutputMissing}
	md := s.Markdown()
	assert.Contains(t, md, "FAIL")
	assert.Contains(t, md, "OUTPUT_MISSING")
	assert.Contains(t, md, "debug_bundle/")
}

func TestHighestPriorityClassification(t *testing.T) {
	got := HighestPriority(ErrOutputMissing, ErrLocatorFail, ErrCmdFail)
	assert.Equal(t, ErrLocatorFail, got)

	got = HighestPriority()
	assert.Equal(t, ErrInternal, got)
}

func TestBundleIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := &BundleIndex{
		SchemaVersion: SchemaVersion,
		JobID:         "job1",
		ErrorType:     ErrRestoreFail,
		Summary:       "restore wrapper raised an error",
	}
	require.NoError(t, idx.Store(dir))

	loaded, err := LoadBundleIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, ErrRestoreFail, loaded.ErrorType)

	if diff := cmp.Diff(idx, loaded); diff != "" {
		t.Errorf("bundle index changed across a store/load round trip (-want +got):\n%s", diff)
	}
}
