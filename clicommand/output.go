package clicommand

import (
	"fmt"

	"github.com/qfliuyang/skillpilot/cliconfig"
	"github.com/qfliuyang/skillpilot/orchestrator"
	"github.com/qfliuyang/skillpilot/protocol"
)

// orchestratorConfig translates the flat CLI-facing config into the
// orchestrator's own Config, so the two packages can evolve independently
// the way cliconfig.Defaults and orchestrator.DefaultConfig already do.
func orchestratorConfig(cfg cliconfig.Config) orchestrator.Config {
	return orchestrator.Config{
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		SessionStartTimeout: cfg.SessionStartTimeout,
		RestoreTimeout:      cfg.RestoreTimeout,
		SkillTimeout:        cfg.SkillTimeout,
		NameScanMaxDepth:    cfg.NameScanMaxDepth,
		BundleTailLines:     cfg.BundleTailLines,
		StopGrace:           cfg.StopGrace,
		LauncherName:        cfg.LauncherName,
	}
}

func printOutcome(out *orchestrator.Outcome) {
	if out.AwaitingSelection {
		fmt.Printf("job %s is awaiting_selection: %d candidate(s) found\n", out.JobID, len(out.Candidates))
		for i, c := range out.Candidates {
			fmt.Printf("  [%d] %s (%d bytes, modified %s)\n", i, c.EncPath, c.SizeBytes, c.ModifiedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("resume with: skillpilot resume-job --job-id %s --select <index>\n", out.JobID)
		return
	}

	fmt.Printf("job %s finished: %s", out.JobID, out.Manifest.Status)
	if out.Manifest.ErrorType != protocol.ErrOK {
		fmt.Printf(" (%s)", out.Manifest.ErrorType)
	}
	fmt.Println()
	if out.Summary != nil {
		for _, e := range out.Summary.Evidence {
			fmt.Printf("  evidence: %s\n", e)
		}
	}
}
