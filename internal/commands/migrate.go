package commands

import (
	"fmt"

	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/database"
	"github.com/tildaslashalef/tether/internal/migrations"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage database migrations",
		Hidden: true,
		Before: func(c *cli.Context) error {
			// Opens the configured database
			_, err := app.FromContext(c)
			return err
		},
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					utils.PrintInfo("Applying embedded migrations")

					version, err := database.RunMigrations()
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return err
					}

					utils.PrintSuccess(fmt.Sprintf("Database schema at version %d", version))
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					utils.PrintWarning(fmt.Sprintf("Reverting %d migration(s)", steps))

					version, err := database.RevertMigrations(steps)
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return err
					}

					utils.PrintSuccess(fmt.Sprintf("Database schema at version %d", version))
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show the applied schema version and the embedded migrations",
				Action: func(c *cli.Context) error {
					version, dirty, err := database.MigrationVersion()
					if err != nil {
						return fmt.Errorf("reading migration version: %w", err)
					}
					files, err := migrations.Files()
					if err != nil {
						return err
					}

					utils.PrintKeyValue("Version", fmt.Sprintf("%d", version))
					if dirty {
						utils.PrintWarning("The last migration failed part way; the schema is dirty")
					}
					utils.PrintTreeList("Embedded migrations", files)
					return nil
				},
			},
		},
	}
}
