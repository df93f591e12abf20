package clicommand

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/qfliuyang/skillpilot/orchestrator"
)

var ResumeJobCommand = cli.Command{
	Name:  "resume-job",
	Usage: "Re-enter LOCATE_DB for a job paused awaiting_selection",
	Flags: append(append([]cli.Flag{}, GlobalFlags...),
		cli.StringFlag{Name: "job-id", Usage: "Job id printed by run-job", Required: true},
		cli.IntFlag{Name: "select", Usage: "Index of the candidate to use, from the run-job candidate list", Required: true},
	),
	Action: func(ctx *cli.Context) error {
		jobID := ctx.String("job-id")
		selected := ctx.Int("select")

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

		out, err := orch.ResumeJob(context.Background(), cfg.Cwd, jobID, selected)
		if err != nil {
			return fmt.Errorf("resume-job: %w", err)
		}

		printOutcome(out)
		return nil
	},
}
