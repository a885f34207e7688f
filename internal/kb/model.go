// Package kb defines the typed entities of the expertise knowledge base:
// contributors, repositories, changesets, files and technologies, and the
// edges between them. Entities are immutable once loaded into a store.
package kb

import "time"

// ChangesetKind distinguishes pull requests from individual commits
type ChangesetKind string

const (
	KindPullRequest ChangesetKind = "pull_request"
	KindCommit      ChangesetKind = "commit"
)

// EdgeKind names a typed relationship in the knowledge graph
type EdgeKind string

const (
	EdgeAuthored       EdgeKind = "authored"        // contributor -> changeset
	EdgeTouches        EdgeKind = "touches"         // changeset -> file
	EdgeUsesTechnology EdgeKind = "uses_technology" // file -> technology
	EdgeBelongsTo      EdgeKind = "belongs_to"      // changeset -> repository
)

// Contributor is a person who authored changesets
type Contributor struct {
	Handle         string    `json:"handle"`
	Name           string    `json:"name,omitempty"`
	ChangesetCount int       `json:"changeset_count"`
	Additions      int       `json:"additions"`
	Deletions      int       `json:"deletions"`
	LastActive     time.Time `json:"last_active"`
}

// Repository is a source repository contributions were made to
type Repository struct {
	ID            string `json:"id"` // owner/name
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Language      string `json:"language,omitempty"`
	URL           string `json:"url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// FileChange is a single file touched by a changeset
type FileChange struct {
	Path      string `json:"path"`
	Status    string `json:"status,omitempty"` // added, modified, deleted, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Changeset is a pull request or commit, the unit of evidence
type Changeset struct {
	ID           string        `json:"id"`
	Kind         ChangesetKind `json:"kind"`
	RepositoryID string        `json:"repository_id"`
	Number       int           `json:"number,omitempty"` // pull request number
	Title        string        `json:"title"`
	Body         string        `json:"body,omitempty"`
	URL          string        `json:"url,omitempty"`
	AuthorHandle string        `json:"author_handle"`
	AuthorName   string        `json:"author_name,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Files        []FileChange  `json:"files,omitempty"`
}

// Additions sums added lines over all touched files
func (c *Changeset) Additions() int {
	n := 0
	for _, f := range c.Files {
		n += f.Additions
	}
	return n
}

// Deletions sums deleted lines over all touched files
func (c *Changeset) Deletions() int {
	n := 0
	for _, f := range c.Files {
		n += f.Deletions
	}
	return n
}

// File is a path inside a repository with its inferred technology tags
type File struct {
	ID           string   `json:"id"` // repository id + "/" + path
	RepositoryID string   `json:"repository_id"`
	Path         string   `json:"path"`
	Technologies []string `json:"technologies,omitempty"`
}

// Technology is a canonical technology name such as "gRPC" or "React"
type Technology struct {
	Name string `json:"name"`
}

// Edge is a typed directed relationship between two entity ids
type Edge struct {
	Kind   EdgeKind `json:"kind"`
	Source string   `json:"source"`
	Target string   `json:"target"`
}

// Snapshot is a deduplicated set of entities and edges ready for loading
type Snapshot struct {
	Repositories []Repository  `json:"repositories"`
	Contributors []Contributor `json:"contributors"`
	Changesets   []Changeset   `json:"changesets"`
	Files        []File        `json:"files"`
	Technologies []Technology  `json:"technologies"`
	Edges        []Edge        `json:"edges"`
}

// FileID builds the stable identifier of a file within a repository
func FileID(repositoryID, path string) string {
	return repositoryID + "/" + path
}
