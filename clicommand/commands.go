package clicommand

import "github.com/urfave/cli"

// SkillPilotCommands is the full set of commands the CLI binary registers.
var SkillPilotCommands = []cli.Command{
	RunJobCommand,
	ResumeJobCommand,
	BundleShowCommand,
}
