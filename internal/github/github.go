package github

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v77/github"
)

// NewClient creates a GitHub API client with authentication
// token: GitHub personal access token (empty for anonymous access)
func NewClient(token string) *github.Client {
	client := github.NewClient(nil)
	if token == "" {
		return client
	}
	return client.WithAuthToken(token)
}

// NewClientWithBaseURL creates a client for a GitHub Enterprise or test endpoint
func NewClientWithBaseURL(token, baseURL string) (*github.Client, error) {
	client := NewClient(token)
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub base URL %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return client, nil
}

// GetRepository fetches repository metadata
func GetRepository(ctx context.Context, client *github.Client, owner, repo string) (*Repository, error) {
	ghRepo, _, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, handleAPIError(err, "failed to get repository")
	}
	return ParseRepository(ghRepo), nil
}

// ParseRepository converts a go-github Repository to our Repository struct
func ParseRepository(ghRepo *github.Repository) *Repository {
	return &Repository{
		ID:            ghRepo.GetID(),
		FullName:      ghRepo.GetFullName(),
		Name:          ghRepo.GetName(),
		Description:   ghRepo.GetDescription(),
		Language:      ghRepo.GetLanguage(),
		DefaultBranch: ghRepo.GetDefaultBranch(),
		HTMLURL:       ghRepo.GetHTMLURL(),
	}
}

// GetPullRequest fetches a single pull request with its files
func GetPullRequest(ctx context.Context, client *github.Client, owner, repo string, number int, includePatches bool) (*PullRequest, error) {
	ghPR, _, err := client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, handleAPIError(err, "failed to get pull request")
	}

	pr := ParsePullRequest(ghPR)
	files, err := ListPullRequestFiles(ctx, client, owner, repo, number, includePatches)
	if err != nil {
		return nil, err
	}
	pr.Files = files
	return pr, nil
}

// ListMergedPullRequests pages through closed pull requests, newest first,
// and keeps the merged ones until MaxPullRequests is reached.
func ListMergedPullRequests(ctx context.Context, client *github.Client, owner, repo string, opts ListOptions) ([]PullRequest, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	listOpts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var prs []PullRequest
	for {
		page, resp, err := client.PullRequests.List(ctx, owner, repo, listOpts)
		if err != nil {
			return nil, handleAPIError(err, "failed to list pull requests")
		}

		for _, ghPR := range page {
			if ghPR == nil || ghPR.MergedAt == nil {
				continue
			}
			prs = append(prs, *ParsePullRequest(ghPR))
			if opts.MaxPullRequests > 0 && len(prs) >= opts.MaxPullRequests {
				break
			}
		}

		if opts.MaxPullRequests > 0 && len(prs) >= opts.MaxPullRequests {
			break
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		listOpts.Page = resp.NextPage
	}

	if opts.IncludeFiles {
		for i := range prs {
			files, err := ListPullRequestFiles(ctx, client, owner, repo, prs[i].Number, opts.IncludePatches)
			if err != nil {
				return nil, err
			}
			prs[i].Files = files
			prs[i].ChangedFiles = len(files)
			prs[i].Additions, prs[i].Deletions = fileTotals(files)
		}
	}

	sortPullRequestsByMergeTime(prs)
	log.Printf("[GitHub] Listed %d merged pull requests for %s/%s", len(prs), owner, repo)
	return prs, nil
}

// ListPullRequestFiles fetches every file changed by a pull request
func ListPullRequestFiles(ctx context.Context, client *github.Client, owner, repo string, number int, includePatches bool) ([]File, error) {
	opts := &github.ListOptions{PerPage: 100}

	var files []File
	for {
		page, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, handleAPIError(err, fmt.Sprintf("failed to list files of pull request #%d", number))
		}
		for _, f := range page {
			if f == nil {
				continue
			}
			file := ParseFile(f)
			if !includePatches {
				file.Patch = ""
			}
			files = append(files, file)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// ResolveUserNames looks up display names for logins. Lookups that fail are
// skipped so that ingestion never stops on a missing profile.
func ResolveUserNames(ctx context.Context, client *github.Client, logins []string) map[string]string {
	names := make(map[string]string, len(logins))
	for _, login := range logins {
		if login == "" {
			continue
		}
		if _, seen := names[login]; seen {
			continue
		}
		user, _, err := client.Users.Get(ctx, login)
		if err != nil {
			log.Printf("[GitHub] Warning: %v", handleAPIError(err, "failed to get user "+login))
			names[login] = ""
			continue
		}
		names[login] = user.GetName()
	}
	return names
}

// ParsePullRequest converts a go-github PullRequest to our PullRequest struct
func ParsePullRequest(ghPR *github.PullRequest) *PullRequest {
	pr := &PullRequest{
		ID:           ghPR.GetID(),
		Number:       ghPR.GetNumber(),
		Title:        ghPR.GetTitle(),
		Description:  ghPR.GetBody(),
		State:        ghPR.GetState(),
		CreatedAt:    ghPR.GetCreatedAt().Time,
		UpdatedAt:    ghPR.GetUpdatedAt().Time,
		URL:          ghPR.GetURL(),
		HTMLURL:      ghPR.GetHTMLURL(),
		Merged:       ghPR.GetMerged() || ghPR.MergedAt != nil,
		Draft:        ghPR.GetDraft(),
		Additions:    ghPR.GetAdditions(),
		Deletions:    ghPR.GetDeletions(),
		ChangedFiles: ghPR.GetChangedFiles(),
	}

	if user := ghPR.GetUser(); user != nil {
		pr.Author = user.GetLogin()
		pr.AuthorName = user.GetName()
	}

	if base := ghPR.GetBase(); base != nil {
		pr.BaseBranch = base.GetRef()
	}
	if head := ghPR.GetHead(); head != nil {
		pr.HeadBranch = head.GetRef()
	}

	if ghPR.MergedAt != nil {
		mergedAt := ghPR.GetMergedAt().Time
		pr.MergedAt = &mergedAt
	}
	if ghPR.ClosedAt != nil {
		closedAt := ghPR.GetClosedAt().Time
		pr.ClosedAt = &closedAt
	}

	for _, label := range ghPR.Labels {
		if label != nil {
			pr.Labels = append(pr.Labels, label.GetName())
		}
	}

	return pr
}

// ParseFile converts a go-github CommitFile to our File struct
func ParseFile(f *github.CommitFile) File {
	return File{
		Filename:         f.GetFilename(),
		PreviousFilename: f.GetPreviousFilename(),
		Status:           f.GetStatus(),
		Additions:        f.GetAdditions(),
		Deletions:        f.GetDeletions(),
		Patch:            f.GetPatch(),
	}
}

// handleAPIError annotates rate limit failures with their reset information
func handleAPIError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return fmt.Errorf("%s: hit primary rate limit (used %d of %d, resets at %v): %w",
			msg, rateLimitErr.Rate.Used, rateLimitErr.Rate.Limit, rateLimitErr.Rate.Reset.Time, err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		retryAfter := abuseErr.GetRetryAfter()
		return fmt.Errorf("%s: hit secondary rate limit (retry after %v): %w",
			msg, retryAfter, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func fileTotals(files []File) (additions, deletions int) {
	for _, f := range files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}

// sortPullRequestsByMergeTime sorts oldest merge first, then by number
func sortPullRequestsByMergeTime(prs []PullRequest) {
	sort.Slice(prs, func(i, j int) bool {
		a, b := prs[i].MergedAt, prs[j].MergedAt
		if a == nil || b == nil || a.Equal(*b) {
			return prs[i].Number < prs[j].Number
		}
		return a.Before(*b)
	})
}
