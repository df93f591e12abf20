package clicommand

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/qfliuyang/skillpilot/orchestrator"
)

var RunJobCommand = cli.Command{
	Name:  "run-job",
	Usage: "Drive a job from INIT to a terminal state or to awaiting_selection",
	Flags: append(append([]cli.Flag{}, GlobalFlags...),
		cli.StringFlag{Name: "query", Usage: "Database name or path to locate", Required: true},
		cli.StringFlag{Name: "skill", Usage: "Path to the skill's contract.yaml", Required: true},
	),
	Action: func(ctx *cli.Context) error {
		query := ctx.String("query")
		skill := ctx.String("skill")

		cfg, warnings, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			log.Warn("%s", w)
		}

		l, err := buildLauncher(cfg, log)
		if err != nil {
			return err
		}

		orch := orchestrator.New(log, orchestratorConfig(cfg), l)

		out, err := orch.RunJob(context.Background(), cfg.Cwd, query, skill)
		if err != nil {
			return fmt.Errorf("run-job: %w", err)
		}

		printOutcome(out)
		return nil
	},
}
