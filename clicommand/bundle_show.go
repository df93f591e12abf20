package clicommand

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/qfliuyang/skillpilot/protocol"
	"github.com/qfliuyang/skillpilot/rundir"
)

var BundleShowCommand = cli.Command{
	Name:  "bundle-show",
	Usage: "Print a job's debug_bundle/index.json in human form",
	Flags: append(append([]cli.Flag{}, GlobalFlags...),
		cli.StringFlag{Name: "job-id", Usage: "Job id printed by run-job", Required: true},
	),
	Action: func(ctx *cli.Context) error {
		jobID := ctx.String("job-id")
		cfg, _, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		layout, err := rundir.Open(cfg.Cwd, jobID)
		if err != nil {
			return fmt.Errorf("bundle-show: %w", err)
		}

		index, err := protocol.LoadBundleIndex(layout.BundleDir)
		if err != nil {
			return fmt.Errorf("bundle-show: %w", err)
		}

		fmt.Printf("job:        %s\n", index.JobID)
		fmt.Printf("error_type: %s\n", index.ErrorType)
		fmt.Printf("summary:    %s\n", index.Summary)
		fmt.Println("artifacts:")
		for name, path := range index.Artifacts {
			fmt.Printf("  %-20s %s\n", name, path)
		}
		if len(index.NextActions) > 0 {
			fmt.Println("next actions:")
			for _, a := range index.NextActions {
				fmt.Printf("  - %s\n", a)
			}
		}
		return nil
	},
}
