package git

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	fdiff "github.com/go-git/go-git/v6/plumbing/format/diff"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage/memory"
)

// MaxPatchBytes caps the diff text kept per file
const MaxPatchBytes = 8 * 1024

var errStopIteration = errors.New("stop iteration")

// ParseOptions bounds commit extraction
type ParseOptions struct {
	// MaxCommits limits the number of commits walked from HEAD (0 = unlimited)
	MaxCommits int
	// IncludePatch keeps added and deleted lines of each file diff
	IncludePatch bool
	// SkipMerges leaves merge commits out; their changes are already in the merged branch
	SkipMerges bool
	// Since drops commits authored before this time (zero = no bound)
	Since time.Time
}

// DefaultParseOptions returns the options used by ingestion
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		MaxCommits:   500,
		IncludePatch: true,
		SkipMerges:   true,
	}
}

// OpenRepository opens a Git repository from a local path
func OpenRepository(path string) (*git.Repository, error) {
	return git.PlainOpen(path)
}

// CloneRepository clones a Git repository to memory
func CloneRepository(url string) (*git.Repository, error) {
	return git.Clone(memory.NewStorage(), nil, &git.CloneOptions{
		URL: url,
	})
}

// ParseAuthor converts go-git Signature to Author
func ParseAuthor(sig object.Signature) Author {
	return Author{
		Name:  sig.Name,
		Email: sig.Email,
		When:  sig.When,
	}
}

// ParseCommitDiffs extracts diffs for a commit with detailed metadata
func ParseCommitDiffs(commit *object.Commit, includePatch bool) ([]Diff, error) {
	var diffs []Diff

	// Get parent commit for diff comparison
	parent, err := commit.Parents().Next()
	if err != nil {
		// First commit has no parent, every file is added
		tree, err := commit.Tree()
		if err != nil {
			return nil, fmt.Errorf("failed to get tree: %w", err)
		}

		err = tree.Files().ForEach(func(file *object.File) error {
			isBinary, _ := file.IsBinary()
			d := Diff{
				FilePath: file.Name,
				Status:   "added",
				IsBinary: isBinary,
			}
			if !isBinary {
				content, _ := file.Contents()
				d.Additions = strings.Count(content, "\n")
				if includePatch {
					d.Patch = capPatch(prefixLines(content, "+"))
				}
			}
			diffs = append(diffs, d)
			return nil
		})

		return diffs, err
	}

	patch, err := parent.Patch(commit)
	if err != nil {
		return nil, fmt.Errorf("failed to get patch: %w", err)
	}

	for _, filePatch := range patch.FilePatches() {
		from, to := filePatch.Files()

		d := Diff{}
		switch {
		case from == nil && to != nil:
			d.FilePath = to.Path()
			d.Status = "added"
		case from != nil && to == nil:
			d.FilePath = from.Path()
			d.Status = "deleted"
		case from != nil && to != nil:
			d.FilePath = to.Path()
			d.Status = "modified"
			if from.Path() != to.Path() {
				d.OldPath = from.Path()
				d.Status = "renamed"
			}
		default:
			continue
		}
		d.IsBinary = filePatch.IsBinary()

		var text strings.Builder
		for _, chunk := range filePatch.Chunks() {
			content := chunk.Content()
			switch chunk.Type() {
			case fdiff.Add:
				d.Additions += strings.Count(content, "\n")
				if includePatch {
					text.WriteString(prefixLines(content, "+"))
				}
			case fdiff.Delete:
				d.Deletions += strings.Count(content, "\n")
				if includePatch {
					text.WriteString(prefixLines(content, "-"))
				}
			}
		}
		if includePatch && !d.IsBinary {
			d.Patch = capPatch(text.String())
		}

		diffs = append(diffs, d)
	}

	return diffs, nil
}

// prefixLines marks each line of a chunk the way a unified diff does
func prefixLines(content, marker string) string {
	if content == "" {
		return ""
	}
	lines := strings.SplitAfter(content, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString(marker)
		b.WriteString(line)
	}
	return b.String()
}

func capPatch(patch string) string {
	if len(patch) <= MaxPatchBytes {
		return patch
	}
	cut := MaxPatchBytes
	if i := strings.LastIndexByte(patch[:cut], '\n'); i > 0 {
		cut = i + 1
	}
	return patch[:cut]
}

// parseCommitMessage splits commit message into subject and body
func parseCommitMessage(message string) (subject, body string) {
	lines := strings.SplitN(message, "\n", 2)
	subject = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		body = strings.TrimSpace(lines[1])
	}
	return
}

// ParseCommit converts a go-git commit with its file diffs
func ParseCommit(commit *object.Commit, includePatch bool) (*Commit, error) {
	diffs, err := ParseCommitDiffs(commit, includePatch)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diffs: %w", err)
	}

	subject, body := parseCommitMessage(commit.Message)

	return &Commit{
		Hash:           commit.Hash.String(),
		Author:         ParseAuthor(commit.Author),
		MessageSubject: subject,
		MessageBody:    body,
		Diffs:          diffs,
		IsMerge:        commit.NumParents() > 1,
	}, nil
}

// ParseCommits walks history from HEAD, newest first
func ParseCommits(repo *git.Repository, opts ParseOptions) ([]Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	commitIter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	defer commitIter.Close()

	var commits []Commit
	err = commitIter.ForEach(func(c *object.Commit) error {
		if opts.MaxCommits > 0 && len(commits) >= opts.MaxCommits {
			return errStopIteration
		}
		if opts.SkipMerges && c.NumParents() > 1 {
			return nil
		}
		if !opts.Since.IsZero() && c.Author.When.Before(opts.Since) {
			return nil
		}

		commit, err := ParseCommit(c, opts.IncludePatch)
		if err != nil {
			return fmt.Errorf("failed to parse commit %s: %w", c.Hash, err)
		}
		commits = append(commits, *commit)
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("failed to iterate commits: %w", err)
	}

	return commits, nil
}

// ParseRepository extracts commit history and the checked-out branch
func ParseRepository(repo *git.Repository, url string, opts ParseOptions) (*Repository, error) {
	commits, err := ParseCommits(repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commits: %w", err)
	}

	var branch string
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		branch = head.Name().Short()
	}

	log.Printf("[Git] Parsed %d commits on %s from %s", len(commits), branch, url)

	return &Repository{
		URL:           url,
		DefaultBranch: branch,
		Commits:       commits,
	}, nil
}

// GetRemoteURL returns the URL for a given remote name (e.g., "origin")
// Returns empty string if remote doesn't exist
func GetRemoteURL(repo *git.Repository, remoteName string) string {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return ""
	}

	config := remote.Config()
	if len(config.URLs) == 0 {
		return ""
	}

	return config.URLs[0]
}
