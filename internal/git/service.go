package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/tildaslashalef/tether/internal/loggy"
)

// DefaultRemote is the remote used to infer the GitHub project
const DefaultRemote = "origin"

// Service provides Git operations
type Service struct {
	logger *loggy.Logger
	repo   *git.Repository
	root   string
}

// NewService creates a new Git service
func NewService(logger *loggy.Logger) *Service {
	return &Service{
		logger: logger,
	}
}

// InitRepo opens the repository containing path, searching parent directories
func (s *Service) InitRepo(path string) error {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("opening git repo: %w", err)
	}

	s.repo = repo
	s.root = path
	if wt, err := repo.Worktree(); err == nil {
		s.root = wt.Filesystem.Root()
	}
	return nil
}

// ensureRepo ensures the repository is initialized before performing operations
func (s *Service) ensureRepo() error {
	if s.repo == nil {
		return fmt.Errorf("git repository not initialized")
	}
	return nil
}

// HasGitRepo checks if path is inside a Git repository
func (s *Service) HasGitRepo(path string) bool {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		s.logger.Debug("Not a valid Git repository", "path", path, "error", err)
		return false
	}
	return true
}

// Remotes lists the configured remotes sorted by name
func (s *Service) Remotes() ([]Remote, error) {
	if err := s.ensureRepo(); err != nil {
		return nil, err
	}

	remotes, err := s.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("listing remotes: %w", err)
	}

	out := make([]Remote, 0, len(remotes))
	for _, r := range remotes {
		cfg := r.Config()
		out = append(out, Remote{Name: cfg.Name, URLs: cfg.URLs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoteURL returns the first URL of the named remote
func (s *Service) RemoteURL(name string) (string, error) {
	if err := s.ensureRepo(); err != nil {
		return "", err
	}

	remote, err := s.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("getting remote %s: %w", name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no URL", name)
	}
	return urls[0], nil
}

// GitHubProject infers "owner/repo" from the named remote
func (s *Service) GitHubProject(remote string) (string, error) {
	remoteURL, err := s.RemoteURL(remote)
	if err != nil {
		return "", err
	}

	owner, repo, err := ParseGitHubURL(remoteURL)
	if err != nil {
		return "", err
	}
	return owner + "/" + repo, nil
}

// CurrentBranch returns the checked out branch, empty on a detached HEAD
func (s *Service) CurrentBranch() (string, error) {
	if err := s.ensureRepo(); err != nil {
		return "", err
	}

	head, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// Info summarises the repository; missing pieces are left empty
func (s *Service) Info() (*RepoInfo, error) {
	remotes, err := s.Remotes()
	if err != nil {
		return nil, err
	}

	info := &RepoInfo{Root: s.root, Remotes: remotes}
	if info.Branch, err = s.CurrentBranch(); err != nil {
		s.logger.Debug("Could not read current branch", "error", err)
	}
	if info.Project, err = s.GitHubProject(DefaultRemote); err != nil {
		s.logger.Debug("Could not infer GitHub project", "remote", DefaultRemote, "error", err)
	}
	return info, nil
}

// ParseGitHubURL extracts owner and repo from a GitHub remote URL:
// https://github.com/owner/repo(.git), git@github.com:owner/repo(.git)
// or ssh://git@github.com/owner/repo(.git)
func ParseGitHubURL(gitURL string) (owner, repo string, err error) {
	if gitURL == "" {
		return "", "", fmt.Errorf("empty Git URL")
	}

	trimmed := strings.TrimSuffix(strings.TrimSuffix(gitURL, "/"), ".git")

	var path string
	switch {
	case strings.Contains(trimmed, "github.com/"):
		_, path, _ = strings.Cut(trimmed, "github.com/")
	case strings.Contains(trimmed, "github.com:"):
		_, path, _ = strings.Cut(trimmed, "github.com:")
	default:
		return "", "", fmt.Errorf("not a GitHub URL: %s", gitURL)
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("could not extract owner/repo from URL: %s", gitURL)
	}
	return parts[0], parts[1], nil
}
