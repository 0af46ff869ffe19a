package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/tildaslashalef/tether/internal/utils"
	"github.com/urfave/cli/v2"
)

// ElementCommand returns the CLI command for managing local elements
func ElementCommand() *cli.Command {
	return &cli.Command{
		Name:    "element",
		Aliases: []string{"el"},
		Usage:   "Manage local tasks and documents",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create an element",
				ArgsUsage: "<title>",
				Flags: append(elementFlags(),
					&cli.StringFlag{Name: "type", Usage: "task or document", Value: string(element.TypeTask)},
				),
				Action: addElementAction,
			},
			{
				Name:  "list",
				Usage: "List elements",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "Only these statuses (repeatable)"},
					&cli.StringFlag{Name: "type", Usage: "task or document"},
					&cli.StringFlag{Name: "tag", Usage: "Only elements carrying this tag"},
					&cli.StringFlag{Name: "provider", Usage: "Only elements linked to this provider"},
					&cli.StringFlag{Name: "project", Usage: "Only elements linked to this project"},
					&cli.BoolFlag{Name: "linked", Usage: "Only linked elements"},
					&cli.BoolFlag{Name: "unlinked", Usage: "Only unlinked elements"},
					&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Include closed and tombstoned elements"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of rows", Value: 50},
				},
				Action: listElementsAction,
			},
			{
				Name:      "show",
				Usage:     "Show an element and its sync state",
				ArgsUsage: "<id>",
				Action:    showElementAction,
			},
			{
				Name:      "update",
				Usage:     "Change fields of an element",
				ArgsUsage: "<id>",
				Flags: append(elementFlags(),
					&cli.StringFlag{Name: "title", Usage: "New title"},
				),
				Action: updateElementAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete an element locally; a linked item is left untouched",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					a, err := app.FromContext(c)
					if err != nil {
						return err
					}
					id, err := requireArg(c, "element id")
					if err != nil {
						return err
					}
					if err := a.Elements.Delete(c.Context, id); err != nil {
						return err
					}
					utils.PrintSuccess("Deleted " + id)
					return nil
				},
			},
		},
	}
}

func elementFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "body", Usage: "Body text"},
		&cli.StringFlag{Name: "body-file", Usage: "Read the body from a file"},
		&cli.StringFlag{Name: "description-ref", Usage: "File whose contents are pushed as the description"},
		&cli.StringFlag{Name: "status", Usage: "open, in_progress, blocked, deferred, review, closed or tombstone"},
		&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Usage: "1-5 or critical, high, medium, low, minimal"},
		&cli.StringFlag{Name: "category", Usage: "bug, feature, task or chore"},
		&cli.StringSliceFlag{Name: "assignee", Usage: "Assignee login (repeatable)"},
		&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable)"},
	}
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() < 1 || strings.TrimSpace(c.Args().First()) == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return c.Args().First(), nil
}

// patchFromFlags builds a patch from the flags that were set
func patchFromFlags(c *cli.Context) (element.Patch, error) {
	var patch element.Patch

	if c.IsSet("title") {
		patch.Title = element.Ptr(c.String("title"))
	}
	if c.IsSet("body") {
		patch.Body = element.Ptr(c.String("body"))
	}
	if path := c.String("body-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return patch, fmt.Errorf("reading body file: %w", err)
		}
		patch.Body = element.Ptr(string(data))
	}
	if c.IsSet("status") {
		status, err := parseStatus(c.String("status"))
		if err != nil {
			return patch, err
		}
		patch.Status = &status
	}
	if c.IsSet("priority") {
		p, err := parsePriority(c.String("priority"))
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}
	if c.IsSet("category") {
		patch.Category = element.Ptr(c.String("category"))
	}
	if c.IsSet("assignee") {
		patch.Assignees = c.StringSlice("assignee")
	}
	if c.IsSet("tag") {
		patch.Tags = c.StringSlice("tag")
	}
	if ref := c.String("description-ref"); ref != "" {
		patch.Metadata = map[string]any{sync.DescriptionRefKey: ref}
	}
	return patch, nil
}

func addElementAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	title, err := requireArg(c, "title")
	if err != nil {
		return err
	}
	elType, err := parseType(c.String("type"))
	if err != nil {
		return err
	}
	patch, err := patchFromFlags(c)
	if err != nil {
		return err
	}
	if err := a.Adapters.CheckUserTags(patch.Tags); err != nil {
		return err
	}

	input := element.CreateInput{
		Type:      elType,
		Title:     title,
		Assignees: patch.Assignees,
		Tags:      patch.Tags,
		Metadata:  patch.Metadata,
	}
	if patch.Body != nil {
		input.Body = *patch.Body
	}
	if patch.Status != nil {
		input.Status = *patch.Status
	}
	if patch.Priority != nil {
		input.Priority = *patch.Priority
	}
	if patch.Category != nil {
		input.Category = *patch.Category
	}

	e, err := a.Elements.Create(c.Context, input)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}

	utils.PrintSuccess("Created " + color.YellowString("%s", e.ID))
	return nil
}

func listElementsAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	filter := element.Filter{
		Tag:             c.String("tag"),
		Provider:        c.String("provider"),
		Project:         c.String("project"),
		IncludeTerminal: c.Bool("all"),
		Limit:           c.Int("limit"),
	}
	if c.IsSet("type") {
		if filter.Type, err = parseType(c.String("type")); err != nil {
			return err
		}
	}
	for _, s := range c.StringSlice("status") {
		status, err := parseStatus(s)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	switch {
	case c.Bool("linked") && c.Bool("unlinked"):
		return fmt.Errorf("--linked and --unlinked are mutually exclusive")
	case c.Bool("linked"):
		filter.Linked = element.Ptr(true)
	case c.Bool("unlinked"):
		filter.Linked = element.Ptr(false)
	}

	elements, err := a.Elements.List(c.Context, filter)
	if err != nil {
		return err
	}
	if len(elements) == 0 {
		utils.PrintInfo("No elements found")
		return nil
	}

	rows := make([][]string, 0, len(elements))
	for _, e := range elements {
		rows = append(rows, []string{
			e.ID,
			utils.Truncate(e.Title, 48),
			string(e.Status),
			priorityName(e.Priority),
			e.Category,
			linkLabel(e),
		})
	}
	utils.PrintTable([]string{"ID", "Title", "Status", "Priority", "Category", "Linked"}, rows)
	return nil
}

// linkLabel is a short description of an element's link, "-" when unlinked
func linkLabel(e *element.Element) string {
	state, err := sync.ReadSyncState(e)
	if err != nil {
		return color.RedString("invalid")
	}
	if state == nil {
		return "-"
	}
	label := state.Project + "#" + state.ExternalID
	if state.ExternalID == "" {
		label = state.Project + " (pending)"
	}
	if state.Conflict != nil {
		label += " " + color.RedString("conflict")
	}
	return label
}

func showElementAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	id, err := requireArg(c, "element id")
	if err != nil {
		return err
	}
	e, err := a.Elements.Get(c.Context, id)
	if err != nil {
		return err
	}

	utils.PrintHeading(e.Title)
	utils.PrintKeyValue("ID", e.ID)
	utils.PrintKeyValue("Type", string(e.Type))
	utils.PrintKeyValue("Status", string(e.Status))
	utils.PrintKeyValue("Priority", priorityName(e.Priority))
	utils.PrintKeyValue("Category", e.Category)
	if len(e.Assignees) > 0 {
		utils.PrintKeyValue("Assignees", strings.Join(e.Assignees, ", "))
	}
	if len(e.Tags) > 0 {
		utils.PrintKeyValue("Tags", strings.Join(e.Tags, ", "))
	}
	utils.PrintKeyValue("Updated", utils.FormatTime(e.UpdatedAt))

	state, err := sync.ReadSyncState(e)
	if err != nil {
		utils.PrintWarning("Sync state is unreadable: " + err.Error())
	} else if state != nil {
		utils.PrintDivider()
		printSyncState(state)
	}

	if e.Body != "" {
		utils.PrintDivider()
		fmt.Fprint(utils.Output, utils.RenderMarkdown(e.Body, utils.DefaultWidth))
	}
	return nil
}

func printSyncState(state *sync.SyncState) {
	utils.PrintKeyValue("Provider", state.Provider)
	utils.PrintKeyValue("Project", state.Project)
	if state.ExternalID == "" {
		utils.PrintKeyValue("External ID", "(created on next push)")
	} else {
		utils.PrintKeyValue("External ID", state.ExternalID)
	}
	if state.URL != "" {
		utils.PrintKeyValue("URL", color.CyanString("%s", state.URL))
	}
	utils.PrintKeyValue("Direction", string(state.Direction))
	if state.LastPushedAt != nil {
		utils.PrintKeyValue("Last pushed", utils.FormatTime(*state.LastPushedAt))
	}
	if state.LastPulledAt != nil {
		utils.PrintKeyValue("Last pulled", utils.FormatTime(*state.LastPulledAt))
	}
	if state.Conflict != nil {
		utils.PrintWarning(fmt.Sprintf("Unresolved conflict on %s; see tether conflicts show",
			strings.Join(state.Conflict.Fields, ", ")))
	}
}

func updateElementAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	id, err := requireArg(c, "element id")
	if err != nil {
		return err
	}
	patch, err := patchFromFlags(c)
	if err != nil {
		return err
	}
	if err := a.Adapters.CheckUserTags(patch.Tags); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return fmt.Errorf("nothing to update")
	}

	e, err := a.Elements.Update(c.Context, id, patch)
	if err != nil {
		utils.PrintError(err.Error())
		return err
	}
	utils.PrintSuccess("Updated " + color.YellowString("%s", e.ID))
	return nil
}
