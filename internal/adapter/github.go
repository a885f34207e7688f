package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/go-github/v77/github"

	githubmodel "github.com/Yates-Labs/knowhow/internal/github"
	"github.com/Yates-Labs/knowhow/internal/kb"
)

// Common errors for adapter operations
var (
	ErrInvalidPRType = errors.New("invalid pull request type: expected *github.PullRequest")
	ErrInvalidID     = errors.New("invalid changeset id")
)

// GitHubAdapter implements the Adapter interface for GitHub
type GitHubAdapter struct {
	// Options bounds the pull request listing
	Options githubmodel.ListOptions
	// BaseURL points at a GitHub Enterprise API (empty for github.com)
	BaseURL string
	// ResolveNames looks up author display names with one request per author
	ResolveNames bool
}

var _ Adapter = (*GitHubAdapter)(nil)

// NewGitHubAdapter creates a new GitHub adapter instance
func NewGitHubAdapter() *GitHubAdapter {
	return &GitHubAdapter{
		Options:      githubmodel.DefaultListOptions(),
		ResolveNames: true,
	}
}

// GetPlatform returns the GitHub platform identifier
func (a *GitHubAdapter) GetPlatform() Platform {
	return PlatformGitHub
}

// ConvertPullRequest converts a GitHub pull request to a kb.Changeset.
// The repository id is taken from the pull request URL.
func (a *GitHubAdapter) ConvertPullRequest(pr interface{}) (*kb.Changeset, error) {
	ghPR, ok := pr.(*githubmodel.PullRequest)
	if !ok {
		return nil, ErrInvalidPRType
	}
	cs := convertGitHubPullRequest(repositoryFromURL(ghPR.HTMLURL), ghPR)
	return &cs, nil
}

func (a *GitHubAdapter) client(token string) (*github.Client, error) {
	if a.BaseURL == "" {
		return githubmodel.NewClient(token), nil
	}
	return githubmodel.NewClientWithBaseURL(token, a.BaseURL)
}

// FetchRepository fetches repository metadata from GitHub
func (a *GitHubAdapter) FetchRepository(ctx context.Context, token, owner, repo string) (*kb.Repository, error) {
	client, err := a.client(token)
	if err != nil {
		return nil, err
	}

	ghRepo, err := githubmodel.GetRepository(ctx, client, owner, repo)
	if err != nil {
		return nil, err
	}

	id := ghRepo.FullName
	if id == "" {
		id = owner + "/" + repo
	}
	return &kb.Repository{
		ID:            id,
		Name:          ghRepo.Name,
		Description:   ghRepo.Description,
		Language:      ghRepo.Language,
		URL:           ghRepo.HTMLURL,
		DefaultBranch: ghRepo.DefaultBranch,
	}, nil
}

// FetchChangesets fetches merged pull requests with their files from GitHub
func (a *GitHubAdapter) FetchChangesets(ctx context.Context, token, owner, repo string) ([]kb.Changeset, error) {
	client, err := a.client(token)
	if err != nil {
		return nil, err
	}

	log.Printf("[GitHub] Fetching merged pull requests from %s/%s", owner, repo)
	prs, err := githubmodel.ListMergedPullRequests(ctx, client, owner, repo, a.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull requests: %w", err)
	}

	if a.ResolveNames {
		resolveAuthorNames(ctx, client, prs)
	}

	return ConvertPullRequests(owner+"/"+repo, prs), nil
}

// FetchChangeset fetches one pull request with its files. Unmerged pull
// requests are converted too; their timestamp falls back to creation time.
func (a *GitHubAdapter) FetchChangeset(ctx context.Context, token, owner, repo string, number int) (*kb.Changeset, error) {
	if number <= 0 {
		return nil, fmt.Errorf("invalid pull request number %d", number)
	}
	client, err := a.client(token)
	if err != nil {
		return nil, err
	}

	log.Printf("[GitHub] Fetching pull request %s/%s#%d", owner, repo, number)
	pr, err := githubmodel.GetPullRequest(ctx, client, owner, repo, number, a.Options.IncludePatches)
	if err != nil {
		return nil, err
	}
	if a.ResolveNames {
		prs := []githubmodel.PullRequest{*pr}
		resolveAuthorNames(ctx, client, prs)
		pr = &prs[0]
	}
	if pr.HTMLURL == "" {
		pr.HTMLURL = fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number)
	}
	return a.ConvertPullRequest(pr)
}

// resolveAuthorNames fills missing author display names in place
func resolveAuthorNames(ctx context.Context, client *github.Client, prs []githubmodel.PullRequest) {
	logins := make([]string, 0, len(prs))
	for _, pr := range prs {
		if pr.AuthorName == "" {
			logins = append(logins, pr.Author)
		}
	}
	names := githubmodel.ResolveUserNames(ctx, client, logins)
	for i := range prs {
		if prs[i].AuthorName == "" {
			prs[i].AuthorName = names[prs[i].Author]
		}
	}
}

// convertGitHubPullRequest converts a GitHub pull request to a kb.Changeset
func convertGitHubPullRequest(repositoryID string, pr *githubmodel.PullRequest) kb.Changeset {
	createdAt := pr.CreatedAt
	if pr.MergedAt != nil {
		createdAt = *pr.MergedAt
	}

	cs := kb.Changeset{
		ID:           ChangesetID(repositoryID, kb.KindPullRequest, strconv.Itoa(pr.Number)),
		Kind:         kb.KindPullRequest,
		RepositoryID: repositoryID,
		Number:       pr.Number,
		Title:        pr.Title,
		Body:         pr.Description,
		URL:          pr.HTMLURL,
		AuthorHandle: pr.Author,
		AuthorName:   pr.AuthorName,
		CreatedAt:    createdAt,
	}

	cs.Files = make([]kb.FileChange, 0, len(pr.Files))
	for _, f := range pr.Files {
		cs.Files = append(cs.Files, kb.FileChange{
			Path:      f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}

	return cs
}

// ConvertPullRequests is a convenience function to convert multiple PRs
func ConvertPullRequests(repositoryID string, prs []githubmodel.PullRequest) []kb.Changeset {
	changesets := make([]kb.Changeset, 0, len(prs))
	for i := range prs {
		changesets = append(changesets, convertGitHubPullRequest(repositoryID, &prs[i]))
	}
	return changesets
}

// repositoryFromURL extracts owner/name from a pull request HTML URL
func repositoryFromURL(htmlURL string) string {
	rest := htmlURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	parts := strings.Split(rest, "/")
	if len(parts) >= 3 {
		return parts[1] + "/" + parts[2]
	}
	return ""
}

// ChangesetID builds the stable id of a changeset.
// Pull requests are "owner/repo/pr/123"; commits are their full SHA.
func ChangesetID(repositoryID string, kind kb.ChangesetKind, ref string) string {
	if kind == kb.KindPullRequest {
		return repositoryID + "/pr/" + ref
	}
	return ref
}

// ParseChangesetID parses a changeset id back into its parts. Commit ids
// carry no repository.
func ParseChangesetID(id string) (repositoryID string, kind kb.ChangesetKind, ref string, err error) {
	if i := strings.LastIndex(id, "/pr/"); i > 0 {
		ref = id[i+len("/pr/"):]
		if _, convErr := strconv.Atoi(ref); convErr != nil {
			return "", "", "", fmt.Errorf("%w: invalid pull request number in %s", ErrInvalidID, id)
		}
		return id[:i], kb.KindPullRequest, ref, nil
	}

	if isCommitHash(id) {
		return "", kb.KindCommit, id, nil
	}
	return "", "", "", fmt.Errorf("%w: %s", ErrInvalidID, id)
}

func isCommitHash(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
