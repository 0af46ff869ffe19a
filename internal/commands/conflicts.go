package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// ConflictsCommand returns the CLI command for manual conflicts
func ConflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Inspect and resolve conflicts recorded by the manual strategy",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List elements waiting for a decision",
				Action: listConflictsAction,
			},
			{
				Name:      "show",
				Usage:     "Show both sides of a conflict",
				ArgsUsage: "<element id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "width", Usage: "Output width", Value: utils.DefaultWidth},
				},
				Action: showConflictAction,
			},
			{
				Name:      "resolve",
				Usage:     "Settle a conflict by keeping one side",
				ArgsUsage: "<element id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keep", Usage: "local or remote", Required: true},
				},
				Action: resolveConflictAction,
			},
		},
	}
}

func listConflictsAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	pending, err := a.Engine.Conflicts(c.Context)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		utils.PrintSuccess("No unresolved conflicts")
		return nil
	}

	rows := make([][]string, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, []string{
			p.Element.ID,
			utils.Truncate(p.Element.Title, 40),
			p.State.Project + "#" + p.State.ExternalID,
			strings.Join(p.State.Conflict.Fields, ", "),
			utils.FormatTime(p.State.Conflict.DetectedAt),
		})
	}
	utils.PrintTable([]string{"Element", "Title", "Item", "Fields", "Detected"}, rows)
	return nil
}

func loadConflict(c *cli.Context, a *app.App) (*sync.PendingConflict, error) {
	id, err := requireArg(c, "element id")
	if err != nil {
		return nil, err
	}
	e, err := a.Elements.Get(c.Context, id)
	if err != nil {
		return nil, err
	}
	state, err := sync.ReadSyncState(e)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Conflict == nil {
		return nil, fmt.Errorf("%s: %w", id, sync.ErrNoConflict)
	}
	return &sync.PendingConflict{Element: e, State: state}, nil
}

func showConflictAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	p, err := loadConflict(c, a)
	if err != nil {
		return err
	}
	rec := p.State.Conflict

	utils.PrintHeading(p.Element.Title)
	utils.PrintKeyValue("Item", p.State.Project+"#"+p.State.ExternalID)
	if p.State.URL != "" {
		utils.PrintKeyValue("URL", color.CyanString("%s", p.State.URL))
	}
	utils.PrintKeyValue("Detected", utils.FormatTime(rec.DetectedAt))
	utils.PrintKeyValue("Fields", strings.Join(rec.Fields, ", "))
	fmt.Fprintln(utils.Output)

	fields := conflictFields(rec, "body")
	if len(fields) > 0 {
		fmt.Fprintln(utils.Output, utils.SideBySide(
			"Local", formatFields(rec.Local, fields),
			"Remote", formatFields(rec.Remote, fields),
			c.Int("width"),
		))
	}

	// Bodies are long; show each rendered in full
	if containsField(rec.Fields, "body") {
		for _, side := range []struct {
			name   string
			values map[string]any
		}{{"Local body", rec.Local}, {"Remote body", rec.Remote}} {
			utils.PrintDivider()
			utils.PrintHeading(side.name)
			body, _ := side.values["body"].(string)
			fmt.Fprint(utils.Output, utils.RenderMarkdown(body, c.Int("width")))
		}
	}

	fmt.Fprintln(utils.Output)
	utils.PrintInfo("Resolve with " + color.CyanString("tether conflicts resolve %s --keep local|remote", p.Element.ID))
	return nil
}

func conflictFields(rec *sync.ConflictRecord, exclude string) []string {
	out := make([]string, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		if f != exclude {
			out = append(out, f)
		}
	}
	return out
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func parseWinner(s string) (sync.Winner, error) {
	switch w := sync.Winner(strings.ToLower(s)); w {
	case sync.WinnerLocal, sync.WinnerRemote:
		return w, nil
	}
	return "", fmt.Errorf("--keep must be local or remote, got %q", s)
}

func resolveConflictAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	keep, err := parseWinner(c.String("keep"))
	if err != nil {
		return err
	}
	p, err := loadConflict(c, a)
	if err != nil {
		return err
	}

	s := scope{provider: p.State.Provider, project: p.State.Project}
	ctx, cancel := signalContext(c)
	defer cancel()

	release, err := a.Locker.Acquire(ctx, s.provider, s.project)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			a.Logger.Warn("Failed to release sync lock", "scope", s.String(), "error", err)
		}
	}()

	o, err := a.Engine.ResolveManual(ctx, p.Element.ID, keep)
	if err != nil {
		err = adapterHint(err)
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Kept %s values for %s (%s)", keep, p.Element.ID, strings.Join(o.Fields, ", ")))
	return nil
}

