package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/sync"
)

// Provider is the provider name stored in sync state
const Provider = "github"

const listPageSize = 100

// Adapter syncs elements with GitHub issues. Projects are "owner/repo",
// external ids are issue numbers. Pull requests are never treated as items.
type Adapter struct {
	client   *Client
	fieldMap *sync.FieldMapConfig
	logger   *loggy.Logger
}

// NewAdapter creates a GitHub Issues adapter
func NewAdapter(client *Client, fieldMap *sync.FieldMapConfig, logger *loggy.Logger) *Adapter {
	return &Adapter{
		client:   client,
		fieldMap: fieldMap,
		logger:   logger,
	}
}

// Provider returns "github"
func (a *Adapter) Provider() string {
	return Provider
}

// FieldMapConfig returns the label vocabulary
func (a *Adapter) FieldMapConfig() *sync.FieldMapConfig {
	return a.fieldMap
}

// GetItem fetches one issue
func (a *Adapter) GetItem(ctx context.Context, project, externalID string) (*sync.ExternalItem, error) {
	owner, repo, err := SplitProject(project)
	if err != nil {
		return nil, err
	}
	number, err := issueNumber(externalID)
	if err != nil {
		return nil, err
	}

	var issue *github.Issue
	err = a.client.do(ctx, "get issue "+externalID, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = a.client.client.Issues.Get(ctx, owner, repo, number)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if issue.IsPullRequest() {
		return nil, fmt.Errorf("%s#%s is a pull request: %w", project, externalID, sync.ErrItemNotFound)
	}

	return toItem(issue, project), nil
}

// ListItemsSince lists issues updated at or after since, oldest first
func (a *Adapter) ListItemsSince(ctx context.Context, project string, since time.Time) ([]*sync.ExternalItem, error) {
	owner, repo, err := SplitProject(project)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "asc",
		Since:     since,
		ListOptions: github.ListOptions{
			PerPage: listPageSize,
		},
	}

	var items []*sync.ExternalItem
	for {
		var page []*github.Issue
		var resp *github.Response
		err := a.client.do(ctx, "list issues", func() (*github.Response, error) {
			var err error
			page, resp, err = a.client.client.Issues.ListByRepo(ctx, owner, repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			items = append(items, toItem(issue, project))
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	a.logger.Debug("Listed GitHub issues", "project", project, "since", since, "count", len(items))
	return items, nil
}

// CreateItem opens an issue, closing it straight away when the input is closed
func (a *Adapter) CreateItem(ctx context.Context, project string, input sync.ExternalItemInput) (*sync.ExternalItem, error) {
	owner, repo, err := SplitProject(project)
	if err != nil {
		return nil, err
	}

	req := &github.IssueRequest{
		Title:     github.String(input.Title),
		Body:      github.String(input.Body),
		Labels:    stringsPtr(input.Labels),
		Assignees: stringsPtr(input.Assignees),
	}

	var issue *github.Issue
	err = a.client.do(ctx, "create issue", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = a.client.client.Issues.Create(ctx, owner, repo, req)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	externalID := strconv.Itoa(issue.GetNumber())
	a.logger.Info("Created GitHub issue", "project", project, "number", externalID, "url", issue.GetHTMLURL())

	// Issues cannot be created closed
	if input.State == sync.StateClosed {
		closed := sync.StateClosed
		return a.UpdateItem(ctx, project, externalID, sync.ExternalItemPatch{State: &closed})
	}
	return toItem(issue, project), nil
}

// UpdateItem edits an issue. Labels and assignees replace the existing lists.
func (a *Adapter) UpdateItem(ctx context.Context, project, externalID string, patch sync.ExternalItemPatch) (*sync.ExternalItem, error) {
	owner, repo, err := SplitProject(project)
	if err != nil {
		return nil, err
	}
	number, err := issueNumber(externalID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return a.GetItem(ctx, project, externalID)
	}

	req := &github.IssueRequest{
		Title:     patch.Title,
		Body:      patch.Body,
		Labels:    stringsPtr(patch.Labels),
		Assignees: stringsPtr(patch.Assignees),
	}
	if patch.State != nil {
		req.State = github.String(string(*patch.State))
	}

	var issue *github.Issue
	err = a.client.do(ctx, "update issue "+externalID, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = a.client.client.Issues.Edit(ctx, owner, repo, number, req)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Updated GitHub issue", "project", project, "number", externalID)
	return toItem(issue, project), nil
}

// SplitProject splits "owner/repo"
func SplitProject(project string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(project, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid GitHub project %q, expected owner/repo", project)
	}
	return owner, repo, nil
}

func issueNumber(externalID string) (int, error) {
	number, err := strconv.Atoi(externalID)
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("invalid GitHub issue number %q", externalID)
	}
	return number, nil
}

func toItem(issue *github.Issue, project string) *sync.ExternalItem {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	assignees := make([]string, 0, len(issue.Assignees))
	for _, u := range issue.Assignees {
		assignees = append(assignees, u.GetLogin())
	}

	state := sync.StateOpen
	if issue.GetState() == "closed" {
		state = sync.StateClosed
	}

	return &sync.ExternalItem{
		ExternalID: strconv.Itoa(issue.GetNumber()),
		URL:        issue.GetHTMLURL(),
		Provider:   Provider,
		Project:    project,
		Title:      issue.GetTitle(),
		Body:       issue.GetBody(),
		State:      state,
		Labels:     labels,
		Assignees:  assignees,
		UpdatedAt:  issue.GetUpdatedAt().Time,
	}
}

// stringsPtr keeps nil as "unchanged" and anything else as a full replacement
func stringsPtr(s []string) *[]string {
	if s == nil {
		return nil
	}
	return &s
}
