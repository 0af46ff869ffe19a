// Package git reads the local repository tether runs in
package git

// Remote is a configured git remote
type Remote struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

// RepoInfo summarises the repository for status output
type RepoInfo struct {
	Root    string   `json:"root"`
	Branch  string   `json:"branch,omitempty"`
	Project string   `json:"project,omitempty"`
	Remotes []Remote `json:"remotes"`
}
