package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the CLI command showing recent sync activity
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show providers, the current repository and recent sync activity",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "Only this provider"},
			&cli.StringFlag{Name: "project", Usage: "Only this project"},
			&cli.StringFlag{Name: "run", Usage: "Only entries of this run id"},
			&cli.IntFlag{Name: "limit", Usage: "Number of log entries", Value: 20},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	utils.PrintHeading("Providers")
	providers := a.Adapters.Providers()
	if len(providers) == 0 {
		utils.PrintWarning("No provider configured; set TETHER_GITHUB_TOKEN")
	}
	for _, p := range providers {
		line := p
		if project := c.String("project"); project != "" {
			cursor, err := a.Settings.GetCursor(c.Context, p, project)
			if err != nil {
				return err
			}
			line += fmt.Sprintf(" %s last pulled %s", project, utils.FormatAge(cursor, time.Now()))
		}
		utils.PrintSuccess(line)
	}

	if cwd, err := os.Getwd(); err == nil && a.Git.HasGitRepo(cwd) {
		if err := a.Git.InitRepo(cwd); err == nil {
			if info, err := a.Git.Info(); err == nil {
				fmt.Fprintln(utils.Output)
				utils.PrintHeading("Repository")
				utils.PrintKeyValue("Root", info.Root)
				if info.Branch != "" {
					utils.PrintKeyValue("Branch", info.Branch)
				}
				if info.Project != "" {
					utils.PrintKeyValue("GitHub project", color.YellowString("%s", info.Project))
				}
			}
		}
	}

	pending, err := a.Engine.Conflicts(c.Context)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Fprintln(utils.Output)
		utils.PrintWarning(fmt.Sprintf("%d unresolved conflict(s); run %s",
			len(pending), color.CyanString("tether conflicts list")))
	}

	failed, err := a.SyncLogs.GetFailedElements(c.Context, c.String("provider"), 10)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		fmt.Fprintln(utils.Output)
		utils.PrintTreeList(color.RedString("Elements whose last sync failed"), failed)
	}

	logs, err := a.SyncLogs.GetSyncLogs(c.Context, sync.LogFilter{
		RunID:    c.String("run"),
		Provider: c.String("provider"),
		Project:  c.String("project"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(utils.Output)
	if len(logs) == 0 {
		utils.PrintInfo("No sync activity yet")
		return nil
	}
	utils.PrintTable([]string{"When", "Run", "Op", "Element", "Item", "Outcome", "Error"}, logRows(logs),
		utils.TableOptions{Title: "Recent sync activity", Style: utils.DefaultTableOptions().Style})
	return nil
}

func logRows(logs []*sync.SyncLog) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		item := "-"
		if l.ExternalID != "" {
			item = l.Project + "#" + l.ExternalID
		}
		errText := ""
		if !l.Success {
			errText = strings.TrimSpace(fmt.Sprintf("[%s] %s", l.ErrorType, utils.Truncate(l.ErrorMessage, 40)))
		}
		rows = append(rows, []string{
			utils.FormatTime(l.StartedAt),
			utils.Truncate(l.RunID, 12),
			string(l.Operation),
			l.ElementID,
			item,
			actionLabel(l.Outcome),
			errText,
		})
	}
	return rows
}
