package locator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestLocateExplicitPath(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "a.enc"))
	touch(t, filepath.Join(cwd, "a.enc.dat"))

	res, err := Locate(cwd, "a.enc", 0)
	require.NoError(t, err)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "direct_match", res.Reason)
	assert.Equal(t, ModeExplicitPath, res.Mode)
}

func TestLocateExplicitPathMissingCompanionFails(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "c.enc"))

	_, err := Locate(cwd, "c.enc", 0)
	assert.Error(t, err)
	var lerr *Error
	assert.ErrorAs(t, err, &lerr)
}

func TestLocateScanUniqueResult(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "sub", "a.enc"))
	touch(t, filepath.Join(cwd, "sub", "a.enc.dat"))

	res, err := Locate(cwd, "a", 0)
	require.NoError(t, err)
	require.NotNil(t, res.Selected)
	assert.Equal(t, "unique_scan_result", res.Reason)
}

func TestLocateScanMultipleCandidatesSortedNoSelection(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "b2", "a.enc"))
	touch(t, filepath.Join(cwd, "b2", "a.enc.dat"))
	touch(t, filepath.Join(cwd, "b1", "a.enc"))
	touch(t, filepath.Join(cwd, "b1", "a.enc.dat"))

	res, err := Locate(cwd, "a", 0)
	require.NoError(t, err)
	assert.Nil(t, res.Selected)
	require.Len(t, res.Candidates, 2)
	assert.Contains(t, res.Candidates[0].EncPath, filepath.Join("b1", "a.enc"))
	assert.Contains(t, res.Candidates[1].EncPath, filepath.Join("b2", "a.enc"))

	chosen, err := Select(res.Candidates, 1)
	require.NoError(t, err)
	assert.Contains(t, chosen.EncPath, filepath.Join("b2", "a.enc"))
}

func TestLocateScanRespectsMaxDepth(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "l1", "l2", "l3", "l4", "deep.enc"))
	touch(t, filepath.Join(cwd, "l1", "l2", "l3", "l4", "deep.enc.dat"))

	_, err := Locate(cwd, "deep", 3)
	assert.Error(t, err, "a match beyond the configured depth must be ignored")
}

func TestLocateScanMissingCompanionIsIgnored(t *testing.T) {
	cwd := t.TempDir()
	touch(t, filepath.Join(cwd, "no_dat", "a.enc"))
	touch(t, filepath.Join(cwd, "with_dat", "a.enc"))
	touch(t, filepath.Join(cwd, "with_dat", "a.enc.dat"))

	res, err := Locate(cwd, "a", 0)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Contains(t, res.Selected.EncPath, "with_dat")
}
