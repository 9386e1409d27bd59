package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/docgate/internal/cmd/base"
	"github.com/hashicorp-forge/docgate/internal/cmd/commands/migrate"
	"github.com/hashicorp-forge/docgate/internal/cmd/commands/scanworker"
	"github.com/hashicorp-forge/docgate/internal/cmd/commands/serve"
	"github.com/hashicorp-forge/docgate/internal/cmd/commands/version"
)

// Commands is the mapping of all available commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := &base.Command{
		Log: log,
		UI:  ui,
	}

	Commands = map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &serve.Command{Command: baseCommand}, nil
		},
		"scan-worker": func() (cli.Command, error) {
			return &scanworker.Command{Command: baseCommand}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &migrate.Command{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: baseCommand}, nil
		},
	}
}
