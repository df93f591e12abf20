// Package clicommand wires SkillPilot's urfave/cli commands to cliconfig
// for configuration and to orchestrator/launcher/bundler for the actual
// work, following the buildkite-agent clicommand package's shape: a shared
// set of global flags plus one file per subcommand.
package clicommand

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/qfliuyang/skillpilot/cliconfig"
	"github.com/qfliuyang/skillpilot/launcher"
	"github.com/qfliuyang/skillpilot/logger"
)

// GlobalFlags are accepted by every subcommand.
var GlobalFlags = []cli.Flag{
	cli.StringFlag{Name: "config", Usage: "Path to a SkillPilot YAML config file", EnvVar: "SKILLPILOT_CONFIG"},
	cli.StringFlag{Name: "cwd", Value: ".", Usage: "Project directory holding .skillpilot/runs", EnvVar: "SKILLPILOT_CWD"},
	cli.StringFlag{Name: "launcher", Value: "local", Usage: "Session launcher: local, batch, or testdouble", EnvVar: "SKILLPILOT_LAUNCHER"},
	cli.StringFlag{Name: "tool-path", Usage: "Path to the tool interpreter binary", EnvVar: "SKILLPILOT_TOOL_PATH"},
	cli.StringSliceFlag{Name: "tool-arg", Usage: "Extra argument for the tool binary (repeatable)", EnvVar: "SKILLPILOT_TOOL_ARG"},
	cli.StringFlag{Name: "submit-template", Usage: `Batch submission command line, e.g. "bsub -Is {{cmd}}"`, EnvVar: "SKILLPILOT_SUBMIT_TEMPLATE"},
	cli.DurationFlag{Name: "heartbeat-timeout", Value: 0, Usage: "Max age of session/heartbeat before a session is heartbeat_lost", EnvVar: "SKILLPILOT_HEARTBEAT_TIMEOUT"},
	cli.DurationFlag{Name: "session-start-timeout", Value: 0, Usage: "Max time to wait for session readiness", EnvVar: "SKILLPILOT_SESSION_START_TIMEOUT"},
	cli.DurationFlag{Name: "restore-timeout", Value: 0, Usage: "Max time to wait for the restore ack", EnvVar: "SKILLPILOT_RESTORE_TIMEOUT"},
	cli.DurationFlag{Name: "skill-timeout", Value: 0, Usage: "Max time to wait for the skill script's ack", EnvVar: "SKILLPILOT_SKILL_TIMEOUT"},
	cli.DurationFlag{Name: "stop-grace", Value: 0, Usage: "Grace period before escalating a stop to termination", EnvVar: "SKILLPILOT_STOP_GRACE"},
	cli.IntFlag{Name: "name-scan-max-depth", Value: 0, Usage: "Max recursion depth for a bare-name database scan", EnvVar: "SKILLPILOT_NAME_SCAN_MAX_DEPTH"},
	cli.IntFlag{Name: "bundle-tail-lines", Value: 0, Usage: "Trailing lines of each log kept in a debug bundle", EnvVar: "SKILLPILOT_BUNDLE_TAIL_LINES"},
	cli.StringFlag{Name: "log-level", Value: "notice", Usage: "debug, notice, info, warn, error, or fatal", EnvVar: "SKILLPILOT_LOG_LEVEL"},
	cli.StringFlag{Name: "log-format", Value: "text", Usage: "text or json", EnvVar: "SKILLPILOT_LOG_FORMAT"},
}

// loadConfig resolves cliconfig.Config from ctx, applying flag/env/file
// precedence. Durations and the int flags default to 0 on GlobalFlags so an
// unset flag never masks a config-file or builtin value; cliconfig.Defaults
// supplies the real defaults.
func loadConfig(ctx *cli.Context) (cliconfig.Config, []string, error) {
	l := &cliconfig.Loader{
		CLI: ctx,
		DefaultConfigFilePaths: []string{
			".skillpilot/config.yaml",
			"skillpilot.yaml",
		},
	}
	return l.Load()
}

func newLogger(cfg cliconfig.Config) (logger.Logger, error) {
	level, err := logger.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var printer logger.Printer
	switch cfg.LogFormat {
	case "", "text":
		printer = logger.NewTextPrinter(os.Stderr)
	case "json":
		printer = logger.NewJSONPrinter(os.Stderr)
	default:
		return nil, fmt.Errorf("unknown --log-format %q (want text or json)", cfg.LogFormat)
	}

	log := logger.NewConsoleLogger(printer, os.Exit)
	log.SetLevel(level)
	return log, nil
}

func buildLauncher(cfg cliconfig.Config, log logger.Logger) (launcher.Launcher, error) {
	switch cfg.LauncherName {
	case "", "local":
		return &launcher.Local{Logger: log, ToolPath: cfg.ToolPath, ToolArgs: cfg.ToolArgs}, nil
	case "batch":
		return &launcher.Batch{
			Local:          launcher.Local{Logger: log, ToolPath: cfg.ToolPath, ToolArgs: cfg.ToolArgs},
			SubmitTemplate: cfg.SubmitTemplate,
		}, nil
	case "testdouble":
		return &launcher.TestDouble{Logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown --launcher %q (want local, batch, or testdouble)", cfg.LauncherName)
	}
}
