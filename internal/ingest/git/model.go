package git

import "time"

// Author is the identity recorded on a commit
type Author struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// Diff is one file touched by a commit
type Diff struct {
	FilePath  string `json:"file_path"`
	OldPath   string `json:"old_path,omitempty"` // set for renames
	Status    string `json:"status"`             // added, modified, deleted, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"` // +/- lines only, capped at MaxPatchBytes
	IsBinary  bool   `json:"is_binary"`
}

// Commit is a parsed commit ready to become a changeset
type Commit struct {
	Hash           string `json:"hash"`
	Author         Author `json:"author"`
	MessageSubject string `json:"message_subject"`
	MessageBody    string `json:"message_body"`
	Diffs          []Diff `json:"diffs"`
	IsMerge        bool   `json:"is_merge"`
}

// Repository is the parsed history of one repository
type Repository struct {
	URL           string   `json:"url"`
	DefaultBranch string   `json:"default_branch"` // branch HEAD points at
	Commits       []Commit `json:"commits"`
}
