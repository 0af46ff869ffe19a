package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/config"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// AuthCommand returns the CLI command managing the stored GitHub token
func AuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the GitHub token stored in the local database",
		Description: "TETHER_GITHUB_TOKEN takes precedence over the stored token. " +
			"The stored token is used when the variable is unset.",
		Subcommands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Store a GitHub personal access token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Personal access token with the repo scope", Required: true},
				},
				Action: func(c *cli.Context) error {
					a, err := app.FromContext(c)
					if err != nil {
						return err
					}
					token := strings.TrimSpace(c.String("token"))
					if token == "" {
						return fmt.Errorf("token cannot be empty")
					}
					if err := a.Settings.SetGitHubToken(c.Context, token); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to store token: %s", err))
						return err
					}
					utils.PrintSuccess("GitHub token stored")
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Remove the stored GitHub token",
				Action: func(c *cli.Context) error {
					a, err := app.FromContext(c)
					if err != nil {
						return err
					}
					if err := a.Settings.DeleteSetting(c.Context, config.SettingGitHubToken); err != nil {
						return err
					}
					utils.PrintSuccess("Stored GitHub token removed")
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show where the GitHub token comes from",
				Action: func(c *cli.Context) error {
					a, err := app.FromContext(c)
					if err != nil {
						return err
					}
					stored, err := a.Settings.GetSetting(c.Context, config.SettingGitHubToken)
					if err != nil {
						return err
					}

					switch {
					case a.Config.GitHub.Token == "":
						utils.PrintWarning("No GitHub token; run " + color.CyanString("tether auth login --token <token>"))
					case stored != "" && stored == a.Config.GitHub.Token:
						utils.PrintSuccess("Using the stored GitHub token")
					default:
						utils.PrintSuccess("Using the GitHub token from the environment")
					}
					utils.PrintKeyValue("API", a.Config.GitHub.APIURL)
					return nil
				},
			},
		},
	}
}
