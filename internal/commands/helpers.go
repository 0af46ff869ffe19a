package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/tildaslashalef/tether/internal/app"
	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/git"
	"github.com/tildaslashalef/tether/internal/github"
	"github.com/tildaslashalef/tether/internal/sync"
	"github.com/urfave/cli/v2"
)

var priorityNames = map[string]int{
	"critical": element.PriorityCritical,
	"high":     element.PriorityHigh,
	"medium":   element.PriorityMedium,
	"low":      element.PriorityLow,
	"minimal":  element.PriorityMinimal,
}

// parsePriority accepts 1-5 or a priority name
func parsePriority(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < element.PriorityCritical || n > element.PriorityMinimal {
			return 0, fmt.Errorf("priority %d out of range 1-5", n)
		}
		return n, nil
	}
	if n, ok := priorityNames[strings.ToLower(s)]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

func priorityName(p int) string {
	for name, n := range priorityNames {
		if n == p {
			return name
		}
	}
	return strconv.Itoa(p)
}

// parseStatus accepts the stored form and the hyphenated form used in labels
func parseStatus(s string) (element.Status, error) {
	status := element.Status(strings.ReplaceAll(strings.ToLower(s), "-", "_"))
	if !status.Valid() {
		return "", fmt.Errorf("invalid status %q", s)
	}
	return status, nil
}

func parseType(s string) (element.Type, error) {
	switch t := element.Type(strings.ToLower(s)); t {
	case "", element.TypeTask, element.TypeDocument:
		return t, nil
	}
	return "", fmt.Errorf("invalid element type %q", s)
}

// scope is the provider and project a command operates on
type scope struct {
	provider string
	project  string
}

func (s scope) String() string {
	if s.project == "" {
		return s.provider
	}
	return s.provider + " " + s.project
}

// resolveScope reads --provider and --project. When inferProject is set and
// no project was given, the GitHub project is taken from the current
// directory's origin remote.
func resolveScope(c *cli.Context, a *app.App, inferProject bool) scope {
	s := scope{provider: c.String("provider"), project: c.String("project")}
	if s.provider == "" {
		s.provider = github.Provider
	}
	if s.project == "" && inferProject && s.provider == github.Provider {
		s.project = projectFromGit(a)
	}
	return s
}

func projectFromGit(a *app.App) string {
	cwd, err := os.Getwd()
	if err != nil || !a.Git.HasGitRepo(cwd) {
		return ""
	}
	if err := a.Git.InitRepo(cwd); err != nil {
		return ""
	}
	project, err := a.Git.GitHubProject(git.DefaultRemote)
	if err != nil {
		a.Logger.Debug("No GitHub project from git remote", "error", err)
		return ""
	}
	return project
}

// signalContext is cancelled on SIGINT or SIGTERM; the engine stops between elements
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// adapterHint explains the most common reason a provider is missing
func adapterHint(err error) error {
	if errors.Is(err, sync.ErrAdapterNotFound) {
		return fmt.Errorf("%w (is %s configured?)", err, color.YellowString("TETHER_GITHUB_TOKEN"))
	}
	return err
}

// formatValue renders a conflict field value for display
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(none)"
	case string:
		if val == "" {
			return `""`
		}
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// formatFields renders the named fields of values one per line
func formatFields(values map[string]any, fields []string) string {
	if len(fields) == 0 {
		for k := range values {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, fmt.Sprintf("%s: %s", f, formatValue(values[f])))
	}
	return strings.Join(lines, "\n")
}
