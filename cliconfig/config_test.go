package cliconfig

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func newCtx(t *testing.T, args []string, setup func(fs *flag.FlagSet)) *cli.Context {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("launcher", "local", "")
	fs.String("tool-path", "", "")
	fs.String("submit-template", "", "")
	fs.String("log-level", "notice", "")
	fs.Duration("heartbeat-timeout", 30*time.Second, "")
	fs.Duration("session-start-timeout", 30*time.Second, "")
	fs.Duration("restore-timeout", 120*time.Second, "")
	fs.Duration("skill-timeout", 120*time.Second, "")
	fs.Duration("stop-grace", 5*time.Second, "")
	fs.Int("name-scan-max-depth", 3, "")
	fs.Int("bundle-tail-lines", 2000, "")
	fs.Var(&cli.StringSlice{}, "tool-arg", "")
	if setup != nil {
		setup(fs)
	}
	require.NoError(t, fs.Parse(args))
	return cli.NewContext(cli.NewApp(), fs, nil)
}

func TestLoadUsesBuiltinDefaultsWithNoFlagsOrFile(t *testing.T) {
	ctx := newCtx(t, nil, nil)
	l := &Loader{CLI: ctx}

	cfg, warnings, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.LauncherName)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 3, cfg.NameScanMaxDepth)
	assert.Contains(t, warnings, "no tool-path configured; the session will fail to start")
}

func TestLoadExplicitFlagOverridesDefault(t *testing.T) {
	ctx := newCtx(t, []string{"-tool-path", "/opt/tool/bin/innovus", "-heartbeat-timeout", "45s"}, nil)
	l := &Loader{CLI: ctx}

	cfg, _, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/tool/bin/innovus", cfg.ToolPath)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
}

func TestLoadConfigFileOverridesDefaultButNotFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat-timeout: 90s\nname-scan-max-depth: 7\ntool-path: /from/file\n"), 0o644))

	ctx := newCtx(t, []string{"-tool-path", "/from/flag"}, nil)
	l := &Loader{CLI: ctx, DefaultConfigFilePaths: []string{path}}

	cfg, _, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 7, cfg.NameScanMaxDepth)
	assert.Equal(t, "/from/flag", cfg.ToolPath, "an explicitly passed flag must win over the config file")
}

func TestLoadBatchLauncherRequiresSubmitTemplate(t *testing.T) {
	ctx := newCtx(t, []string{"-launcher", "batch", "-tool-path", "/opt/tool/bin/innovus"}, nil)
	l := &Loader{CLI: ctx}

	_, _, err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit-template")
}
