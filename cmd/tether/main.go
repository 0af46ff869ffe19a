package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/commands"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
	Author     = "unknown"
	Email      = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "tether",
		Usage: "Keep local tasks and documents in sync with GitHub issues",
		Description: "tether links local elements to external items and reconciles them in both " +
			"directions, resolving conflicting edits with a configurable strategy.\n\n" +
			"Run 'tether init' once to create ~/.tether and the database.",
		Version: fmt.Sprintf("%s (%s)", Version, CommitHash),
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Authors: []*cli.Author{
			{
				Name:  Author,
				Email: Email,
			},
		},
		After: func(c *cli.Context) error {
			// Only commands that used the app opened the database
			if application, ok := app.Loaded(c); ok {
				return application.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.MigrateCommand(),
			commands.AuthCommand(),
			commands.ElementCommand(),
			commands.LinkCommand(),
			commands.UnlinkCommand(),
			commands.PushCommand(),
			commands.PullCommand(),
			commands.SyncCommand(),
			commands.ConflictsCommand(),
			commands.StatusCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
