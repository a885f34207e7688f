package adapter

import (
	"strings"

	"github.com/Yates-Labs/knowhow/internal/ingest/git"
	"github.com/Yates-Labs/knowhow/internal/kb"
)

const noreplySuffix = "@users.noreply.github.com"

// ConvertCommit converts a parsed git commit into a kb.Changeset.
// webURL is the browsable repository URL used to link the commit; it may be empty.
func ConvertCommit(repositoryID, webURL string, commit *git.Commit) kb.Changeset {
	cs := kb.Changeset{
		ID:           ChangesetID(repositoryID, kb.KindCommit, commit.Hash),
		Kind:         kb.KindCommit,
		RepositoryID: repositoryID,
		Title:        commit.MessageSubject,
		Body:         commit.MessageBody,
		AuthorHandle: AuthorHandle(commit.Author),
		AuthorName:   commit.Author.Name,
		CreatedAt:    commit.Author.When,
	}
	if webURL != "" {
		cs.URL = strings.TrimSuffix(webURL, "/") + "/commit/" + commit.Hash
	}

	cs.Files = make([]kb.FileChange, 0, len(commit.Diffs))
	for _, d := range commit.Diffs {
		if d.IsBinary && d.Additions == 0 && d.Deletions == 0 {
			continue
		}
		cs.Files = append(cs.Files, kb.FileChange{
			Path:      d.FilePath,
			Status:    d.Status,
			Additions: d.Additions,
			Deletions: d.Deletions,
			Patch:     d.Patch,
		})
	}

	return cs
}

// ConvertCommits converts every non-merge commit
func ConvertCommits(repositoryID, webURL string, commits []git.Commit) []kb.Changeset {
	changesets := make([]kb.Changeset, 0, len(commits))
	for i := range commits {
		if commits[i].IsMerge {
			continue
		}
		changesets = append(changesets, ConvertCommit(repositoryID, webURL, &commits[i]))
	}
	return changesets
}

// AuthorHandle derives a contributor handle from a git identity.
// GitHub noreply addresses yield the login; other addresses yield their
// local part; identities without an email fall back to the slugged name.
func AuthorHandle(author git.Author) string {
	email := strings.ToLower(strings.TrimSpace(author.Email))
	if strings.HasSuffix(email, noreplySuffix) {
		local := strings.TrimSuffix(email, noreplySuffix)
		if i := strings.Index(local, "+"); i >= 0 {
			local = local[i+1:]
		}
		if local != "" {
			return local
		}
	}
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return strings.Join(strings.Fields(strings.ToLower(author.Name)), "-")
}
