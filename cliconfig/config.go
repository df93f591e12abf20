// Package cliconfig loads SkillPilot's runtime configuration from CLI
// flags, SKILLPILOT_* environment variables, and an optional YAML config
// file, in that order of precedence, mirroring the buildkite-agent
// cliconfig package's file-then-flags-then-env layering (spec §6).
package cliconfig

import (
	"fmt"
	"time"

	"github.com/urfave/cli"
)

// Config is the full set of values read once at startup and handed to the
// orchestrator, launcher, and bundler.
type Config struct {
	Cwd            string
	LauncherName   string
	ToolPath       string
	ToolArgs       []string
	SubmitTemplate string

	HeartbeatTimeout    time.Duration
	SessionStartTimeout time.Duration
	RestoreTimeout      time.Duration
	SkillTimeout        time.Duration
	StopGrace           time.Duration

	NameScanMaxDepth int
	BundleTailLines  int

	LogLevel  string
	LogFormat string
}

// Defaults mirrors orchestrator.DefaultConfig's values so cliconfig has no
// hidden dependency on the orchestrator package's own defaulting.
func Defaults() Config {
	return Config{
		Cwd:                 ".",
		LauncherName:        "local",
		HeartbeatTimeout:    30 * time.Second,
		SessionStartTimeout: 30 * time.Second,
		RestoreTimeout:      120 * time.Second,
		SkillTimeout:        120 * time.Second,
		StopGrace:           5 * time.Second,
		NameScanMaxDepth:    3,
		BundleTailLines:     2000,
		LogLevel:            "notice",
		LogFormat:           "text",
	}
}

// Loader resolves Config from a urfave/cli context, an optional config
// file, and environment variables, in increasing order of precedence
// (config file overrides builtin defaults; CLI flags and env vars, which
// urfave/cli resolves together onto the context, override the file).
type Loader struct {
	CLI                    *cli.Context
	DefaultConfigFilePaths []string

	File *File
}

// Load finds and (if present) parses a config file, then layers flags/env
// on top of builtin defaults and the file, returning the final Config.
func (l *Loader) Load() (Config, []string, error) {
	var warnings []string
	cfg := Defaults()

	if err := l.locateFile(); err != nil {
		return Config{}, warnings, err
	}
	if l.File != nil {
		if err := l.File.Load(); err != nil {
			return Config{}, warnings, err
		}
	}

	cfg.Cwd = l.resolveString("cwd", "SKILLPILOT_CWD", cfg.Cwd)
	cfg.LauncherName = l.resolveString("launcher", "SKILLPILOT_LAUNCHER", cfg.LauncherName)
	cfg.ToolPath = l.resolveString("tool-path", "SKILLPILOT_TOOL_PATH", cfg.ToolPath)
	cfg.SubmitTemplate = l.resolveString("submit-template", "SKILLPILOT_SUBMIT_TEMPLATE", cfg.SubmitTemplate)
	cfg.LogLevel = l.resolveString("log-level", "SKILLPILOT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = l.resolveString("log-format", "SKILLPILOT_LOG_FORMAT", cfg.LogFormat)

	if l.CLI.IsSet("tool-arg") {
		cfg.ToolArgs = l.CLI.StringSlice("tool-arg")
	} else if l.File != nil {
		if v, ok := l.File.Values["tool-args"]; ok && v != "" {
			cfg.ToolArgs = splitCommaList(v)
		}
	}

	var err error
	if cfg.HeartbeatTimeout, err = l.resolveDuration("heartbeat-timeout", "SKILLPILOT_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return Config{}, warnings, err
	}
	if cfg.SessionStartTimeout, err = l.resolveDuration("session-start-timeout", "SKILLPILOT_SESSION_START_TIMEOUT", cfg.SessionStartTimeout); err != nil {
		return Config{}, warnings, err
	}
	if cfg.RestoreTimeout, err = l.resolveDuration("restore-timeout", "SKILLPILOT_RESTORE_TIMEOUT", cfg.RestoreTimeout); err != nil {
		return Config{}, warnings, err
	}
	if cfg.SkillTimeout, err = l.resolveDuration("skill-timeout", "SKILLPILOT_SKILL_TIMEOUT", cfg.SkillTimeout); err != nil {
		return Config{}, warnings, err
	}
	if cfg.StopGrace, err = l.resolveDuration("stop-grace", "SKILLPILOT_STOP_GRACE", cfg.StopGrace); err != nil {
		return Config{}, warnings, err
	}
	if cfg.NameScanMaxDepth, err = l.resolveInt("name-scan-max-depth", "SKILLPILOT_NAME_SCAN_MAX_DEPTH", cfg.NameScanMaxDepth); err != nil {
		return Config{}, warnings, err
	}
	if cfg.BundleTailLines, err = l.resolveInt("bundle-tail-lines", "SKILLPILOT_BUNDLE_TAIL_LINES", cfg.BundleTailLines); err != nil {
		return Config{}, warnings, err
	}

	if cfg.LauncherName == "local" || cfg.LauncherName == "batch" {
		if cfg.ToolPath == "" {
			warnings = append(warnings, "no tool-path configured; the session will fail to start")
		}
	}
	if cfg.LauncherName == "batch" && cfg.SubmitTemplate == "" {
		return Config{}, warnings, fmt.Errorf("launcher=batch requires submit-template (e.g. \"bsub -Is {{cmd}}\")")
	}

	return cfg, warnings, nil
}

func (l *Loader) locateFile() error {
	if path := l.CLI.String("config"); path != "" {
		f := &File{Path: path}
		if !f.Exists() {
			abs, _ := f.AbsolutePath()
			return fmt.Errorf("config file not found at %q", abs)
		}
		l.File = f
		return nil
	}
	for _, path := range l.DefaultConfigFilePaths {
		f := &File{Path: path}
		if f.Exists() {
			l.File = f
			return nil
		}
	}
	return nil
}

// resolveString applies file-then-flags/env precedence for one string
// option. cliName must be a flag urfave/cli already resolves from envName
// (the flag definition carries the EnvVar); resolveString just decides
// whether the file's value should be allowed to win over the builtin
// default when neither a flag nor its env var was actually supplied.
func (l *Loader) resolveString(cliName, envName, def string) string {
	value := def
	if l.File != nil {
		if v, ok := l.File.Values[cliName]; ok && v != "" {
			value = v
		}
	}
	if l.CLI.IsSet(cliName) || envSet(envName) {
		value = l.CLI.String(cliName)
	}
	return value
}

func (l *Loader) resolveDuration(cliName, envName string, def time.Duration) (time.Duration, error) {
	value := def
	if l.File != nil {
		if v, ok := l.File.Values[cliName]; ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return 0, fmt.Errorf("config file option %q: %w", cliName, err)
			}
			value = parsed
		}
	}
	if l.CLI.IsSet(cliName) || envSet(envName) {
		value = l.CLI.Duration(cliName)
	}
	return value, nil
}

func (l *Loader) resolveInt(cliName, envName string, def int) (int, error) {
	value := def
	if l.File != nil {
		if v, ok := l.File.Values[cliName]; ok && v != "" {
			var parsed int
			if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil {
				return 0, fmt.Errorf("config file option %q: %w", cliName, err)
			}
			value = parsed
		}
	}
	if l.CLI.IsSet(cliName) || envSet(envName) {
		value = l.CLI.Int(cliName)
	}
	return value, nil
}

func envSet(name string) bool {
	_, ok := lookupEnv(name)
	return ok
}
