package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/config"
	"github.com/tildaslashalef/tether/internal/database"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing tether
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the tether environment",
		Description: "Sets up the configuration directory and the database. Run it once " +
			"before first use and again after upgrading to apply new migrations.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Configuration directory (default: ~/.tether)",
			},
			&cli.BoolFlag{
				Name:  "reset-env",
				Usage: "Replace an existing .env with the sample, keeping a dated backup",
			},
		},
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing tether")

			configDir := c.String("config-dir")
			if configDir == "" {
				dir, err := config.DefaultConfigDir()
				if err != nil {
					utils.PrintError(err.Error())
					return err
				}
				configDir = dir
			}
			utils.PrintInfo("Configuration directory: " + color.YellowString("%s", configDir))

			if err := config.SetupConfigDirectory(configDir, c.Bool("reset-env")); err != nil {
				utils.PrintWarning(fmt.Sprintf("Failed to set up configuration files: %s", err))
			}

			cfg, err := config.LoadFromEnv(configDir, "")
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.CloseDB()

			utils.PrintInfo("Applying database migrations...")
			version, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("tether initialized successfully")
			utils.PrintKeyValue("Schema version", fmt.Sprintf("%d", version))
			utils.PrintKeyValue("Configuration", color.YellowString("%s", configDir+"/.env"))
			utils.PrintKeyValue("Database", color.YellowString("%s", cfg.Database.Path))
			utils.PrintKeyValue("Log file", color.YellowString("%s", cfg.Logging.Output))
			if cfg.GitHub.Token == "" {
				fmt.Fprintln(utils.Output)
				utils.PrintWarning("No GitHub token configured. Set TETHER_GITHUB_TOKEN or run " +
					color.CyanString("tether auth login --token <token>"))
			}

			return nil
		},
	}
}
