package github

import "time"

// PullRequest is a merged (or closed) pull request with the files it touched
type PullRequest struct {
	ID           int64      `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	Author       string     `json:"author"`
	AuthorName   string     `json:"author_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Labels       []string   `json:"labels"`
	BaseBranch   string     `json:"base_branch"`
	HeadBranch   string     `json:"head_branch"`
	Merged       bool       `json:"merged"`
	Draft        bool       `json:"draft"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	URL          string     `json:"url"`
	HTMLURL      string     `json:"html_url"`
	Files        []File     `json:"files,omitempty"`
}

// File is one file changed by a pull request
type File struct {
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	Status           string `json:"status"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Patch            string `json:"patch,omitempty"`
}

// Repository is the subset of repository metadata kept in the knowledge base
type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// ListOptions bounds a pull request listing
type ListOptions struct {
	// MaxPullRequests caps the number of merged pull requests returned (0 = unlimited)
	MaxPullRequests int
	// IncludeFiles fetches per-file changes for every pull request
	IncludeFiles bool
	// IncludePatches keeps the unified diff text of each file
	IncludePatches bool
	// PerPage is the API page size (max 100)
	PerPage int
}

// DefaultListOptions returns the listing defaults used by ingestion
func DefaultListOptions() ListOptions {
	return ListOptions{
		MaxPullRequests: 200,
		IncludeFiles:    true,
		IncludePatches:  true,
		PerPage:         100,
	}
}
