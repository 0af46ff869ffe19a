package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/lock"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

func scopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "provider", Usage: "Provider name", Value: "github"},
		&cli.StringFlag{Name: "project", Usage: "Project, e.g. owner/repo for GitHub"},
		&cli.BoolFlag{Name: "dry-run", Usage: "Report what would change without writing anything"},
	}
}

// PushCommand returns the CLI command that sends local changes to providers
func PushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Push local changes to linked items",
		ArgsUsage: "[element ids...]",
		Flags: append(scopeFlags(),
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Push even when nothing changed locally"},
			&cli.BoolFlag{Name: "create", Usage: "Create and link items for unlinked elements (project defaults to the git origin)"},
		),
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			s := resolveScope(c, a, c.Bool("create"))
			opts := sync.PushOptions{
				Provider:       s.provider,
				Project:        s.project,
				IDs:            c.Args().Slice(),
				Force:          c.Bool("force"),
				CreateUnlinked: c.Bool("create"),
				DryRun:         c.Bool("dry-run"),
			}
			return runLocked(c, a, s, "Pushing", func(ctx context.Context) (*sync.Result, error) {
				return a.Engine.Push(ctx, opts)
			})
		},
	}
}

// PullCommand returns the CLI command that applies provider changes locally
func PullCommand() *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Pull remote changes into linked elements",
		ArgsUsage: "[element ids...]",
		Flags: append(scopeFlags(),
			&cli.BoolFlag{Name: "create-missing", Usage: "Create local elements for open items nothing is linked to (needs --project)"},
			&cli.BoolFlag{Name: "full", Usage: "Forget the stored cursor and fetch every item of --project"},
		),
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			s := resolveScope(c, a, c.Bool("create-missing"))
			opts := sync.PullOptions{
				Provider:      s.provider,
				Project:       s.project,
				IDs:           c.Args().Slice(),
				CreateMissing: c.Bool("create-missing"),
				DryRun:        c.Bool("dry-run"),
			}
			if c.Bool("full") && s.project == "" {
				return fmt.Errorf("--full needs --project")
			}
			return runLocked(c, a, s, "Pulling", func(ctx context.Context) (*sync.Result, error) {
				if c.Bool("full") && !opts.DryRun {
					if err := a.Settings.ResetCursor(ctx, s.provider, s.project); err != nil {
						return nil, err
					}
				}
				return a.Engine.Pull(ctx, opts)
			})
		},
	}
}

// SyncCommand returns the CLI command that reconciles both directions
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Reconcile linked elements with their items in both directions",
		ArgsUsage: "[element ids...]",
		Flags: append(scopeFlags(),
			&cli.StringFlag{Name: "strategy", Usage: "last_write_wins, local_wins, remote_wins or manual (default from config)"},
		),
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			opts := sync.SyncOptions{
				IDs:    c.Args().Slice(),
				DryRun: c.Bool("dry-run"),
			}
			if c.IsSet("strategy") {
				if opts.Strategy, err = sync.ParseStrategy(c.String("strategy")); err != nil {
					return err
				}
			}
			s := resolveScope(c, a, false)
			opts.Provider, opts.Project = s.provider, s.project
			return runLocked(c, a, s, "Syncing", func(ctx context.Context) (*sync.Result, error) {
				return a.Engine.Sync(ctx, opts)
			})
		},
	}
}

// runLocked holds the provider/project lock for the duration of fn
func runLocked(c *cli.Context, a *app.App, s scope, verb string, fn func(ctx context.Context) (*sync.Result, error)) error {
	ctx, cancel := signalContext(c)
	defer cancel()

	release, err := a.Locker.Acquire(ctx, s.provider, s.project)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			utils.PrintError(fmt.Sprintf("Another run is in progress for %s", s))
		}
		return err
	}
	defer func() {
		if err := release(); err != nil {
			a.Logger.Warn("Failed to release sync lock", "scope", s.String(), "error", err)
		}
	}()

	utils.PrintInfo(fmt.Sprintf("%s %s", verb, color.YellowString("%s", s)))
	result, err := fn(ctx)
	if result != nil {
		// Cancelled runs still report what was done
		if printErr := printResult(result); err == nil {
			return printErr
		}
	}
	if err != nil {
		err = adapterHint(err)
		utils.PrintError(err.Error())
	}
	return err
}

// printResult shows every outcome that changed something and returns an
// error when any element failed, so the exit status reflects it
func printResult(result *sync.Result) error {
	rows := resultRows(result)
	if len(rows) > 0 {
		utils.PrintTable([]string{"Element", "Item", "Action", "Detail"}, rows)
	}

	if result.Failed > 0 {
		utils.PrintWarning(result.Summary())
	} else {
		utils.PrintSuccess(result.Summary())
	}

	if result.Simplified > 0 {
		utils.PrintWarning(fmt.Sprintf("%d element(s) were pushed with title, body and state only", result.Simplified))
	}
	if len(result.ManualConflicts) > 0 {
		utils.PrintWarning(fmt.Sprintf("%d conflict(s) need a decision: run %s",
			len(result.ManualConflicts), color.CyanString("tether conflicts list")))
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d element(s) failed", result.Failed)
	}
	return nil
}

func resultRows(result *sync.Result) [][]string {
	var rows [][]string
	for _, o := range result.Outcomes {
		if o.Action == sync.ActionUnchanged {
			continue
		}
		item := "-"
		if o.ExternalID != "" {
			item = o.Project + "#" + o.ExternalID
		}
		rows = append(rows, []string{o.ElementID, item, actionLabel(o.Action), outcomeDetail(o)})
	}
	return rows
}

func actionLabel(a sync.Action) string {
	switch a {
	case sync.ActionFailed:
		return color.RedString("%s", a)
	case sync.ActionConflict:
		return color.YellowString("%s", a)
	case sync.ActionSkipped:
		return string(a)
	default:
		return color.GreenString("%s", a)
	}
}

func outcomeDetail(o sync.Outcome) string {
	var parts []string
	if o.Err != nil {
		parts = append(parts, fmt.Sprintf("[%s] %s", sync.ClassifyError(o.Err), o.Err))
	}
	if o.Winner != "" {
		parts = append(parts, string(o.Winner)+" kept")
	}
	if len(o.Fields) > 0 {
		parts = append(parts, strings.Join(o.Fields, ", "))
	}
	if o.Reason != "" {
		parts = append(parts, o.Reason)
	}
	if o.Simplified {
		parts = append(parts, "simplified")
	}
	return utils.Truncate(strings.Join(parts, "; "), 60)
}

// LinkCommand returns the CLI command that links an element to an item
func LinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Link an element to an external item",
		ArgsUsage: "<element id>",
		Description: "Without --external-id the link is pending and the next push creates the item. " +
			"For GitHub the project defaults to the origin remote of the current repository.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "Provider name", Value: "github"},
			&cli.StringFlag{Name: "project", Usage: "Project, e.g. owner/repo for GitHub"},
			&cli.StringFlag{Name: "external-id", Aliases: []string{"i"}, Usage: "Existing item id, e.g. an issue number"},
			&cli.StringFlag{Name: "direction", Usage: "bidirectional, push or pull (default from config)"},
		},
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			id, err := requireArg(c, "element id")
			if err != nil {
				return err
			}
			s := resolveScope(c, a, true)
			if s.project == "" {
				return fmt.Errorf("--project is required outside a GitHub repository")
			}

			direction := c.String("direction")
			if direction == "" {
				direction = a.Config.Sync.DefaultDirection
			}
			dir, err := sync.ParseDirection(direction)
			if err != nil {
				return err
			}

			e, err := a.Engine.Link(c.Context, id, sync.LinkOptions{
				Provider:   s.provider,
				Project:    s.project,
				ExternalID: c.String("external-id"),
				Direction:  dir,
			})
			if err != nil {
				err = adapterHint(err)
				utils.PrintError(err.Error())
				return err
			}

			utils.PrintSuccess(fmt.Sprintf("Linked %s to %s", e.ID, color.YellowString("%s", linkLabel(e))))
			return nil
		},
	}
}

// UnlinkCommand returns the CLI command that removes an element's link
func UnlinkCommand() *cli.Command {
	return &cli.Command{
		Name:      "unlink",
		Usage:     "Remove an element's link; the external item is left untouched",
		ArgsUsage: "<element id>",
		Action: func(c *cli.Context) error {
			a, err := app.FromContext(c)
			if err != nil {
				return err
			}
			id, err := requireArg(c, "element id")
			if err != nil {
				return err
			}
			if _, err := a.Engine.Unlink(c.Context, id); err != nil {
				utils.PrintError(err.Error())
				return err
			}
			utils.PrintSuccess("Unlinked " + id)
			return nil
		},
	}
}
