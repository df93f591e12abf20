package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfliuyang/skillpilot/protocol"
)

func writeContract(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validContract = `
name: summary_health_mock
version: "1.0"
scripts:
  - path: skill.tcl
required_outputs:
  - path: summary_health.txt
  - path: timing_health.txt
    non_empty: false
`

func TestLoadValidContract(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, validContract)

	decl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "summary_health_mock", decl.Name)
	assert.Len(t, decl.RequiredOutputs, 2)
}

func TestLoadRejectsZeroRequiredOutputs(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, `
name: x
version: "1.0"
scripts: []
required_outputs: []
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrContractInvalid)
}

func TestLoadRejectsAbsoluteOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, `
name: x
version: "1.0"
scripts: []
required_outputs:
  - path: /etc/passwd
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrContractInvalid)
}

func TestLoadRejectsDotDotOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, `
name: x
version: "1.0"
scripts: []
required_outputs:
  - path: "../escape.txt"
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrContractInvalid)
}

func TestValidatePassesWhenOutputsPresentAndNonEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, validContract)
	decl, err := Load(path)
	require.NoError(t, err)

	reportsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(reportsDir, "summary_health.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(reportsDir, "timing_health.txt"), nil, 0o644))

	mismatches, class, err := Validate(decl, reportsDir)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
	assert.Equal(t, protocol.ErrOK, class)
}

func TestValidateMissingOutputsOutranksEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, validContract)
	decl, err := Load(path)
	require.NoError(t, err)

	reportsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(reportsDir, "timing_health.txt"), nil, 0o644))
	// summary_health.txt intentionally absent

	mismatches, class, err := Validate(decl, reportsDir)
	require.NoError(t, err)
	require.NotEmpty(t, mismatches)
	assert.Equal(t, protocol.ErrOutputMissing, class)
}

func TestValidateEmptyRequiredOutputFails(t *testing.T) {
	dir := t.TempDir()
	path := writeContract(t, dir, `
name: x
version: "1.0"
scripts: []
required_outputs:
  - path: out.txt
`)
	decl, err := Load(path)
	require.NoError(t, err)

	reportsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(reportsDir, "out.txt"), nil, 0o644))

	mismatches, class, err := Validate(decl, reportsDir)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, protocol.ErrOutputEmpty, class)
}
