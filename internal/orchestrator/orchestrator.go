// Package orchestrator drives batch ingestion (extract, transform, load)
// and wires configured stores and models into a question engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	gogit "github.com/go-git/go-git/v6"

	"github.com/Yates-Labs/knowhow/internal/adapter"
	githubmodel "github.com/Yates-Labs/knowhow/internal/github"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/ingest/git"
	"github.com/Yates-Labs/knowhow/internal/kb"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

var (
	// ErrNothingToLoad is returned when a snapshot has no changesets
	ErrNothingToLoad = errors.New("snapshot has no changesets")
	// ErrTokenRequired is returned for a pull request URL without a GitHub token
	ErrTokenRequired = errors.New("a GitHub token is required to ingest a single pull request")
)

// Options controls how a repository is extracted
type Options struct {
	// Token enables the GitHub API path for github.com repositories
	Token string
	// GitHubBaseURL points at a GitHub Enterprise API (empty for github.com)
	GitHubBaseURL string
	// ResolveNames looks up GitHub display names for pull request authors
	ResolveNames bool
	// PullRequests bounds the GitHub listing
	PullRequests githubmodel.ListOptions
	// Git bounds local history extraction
	Git git.ParseOptions
}

// DefaultOptions returns ingestion defaults
func DefaultOptions() Options {
	return Options{
		ResolveNames: true,
		PullRequests: githubmodel.DefaultListOptions(),
		Git:          git.DefaultParseOptions(),
	}
}

// BuildSnapshot extracts one or more repositories and transforms their
// activity into a deduplicated knowledge-base snapshot. Each repo can be a
// local path or a remote URL.
func BuildSnapshot(ctx context.Context, opts Options, repos ...string) (*kb.Snapshot, error) {
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repositories given")
	}

	builder := kb.NewBuilder()
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled before ingesting %s: %w", repo, err)
		}

		repository, changesets, err := ingestRepository(ctx, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest repository: %w", err)
		}

		builder.AddRepository(*repository)
		added := 0
		for _, cs := range changesets {
			if builder.AddChangeset(cs) {
				added++
			}
		}
		log.Printf("[Ingest] %s: %d changesets (%d new)", repository.ID, len(changesets), added)
	}

	snapshot := builder.Snapshot()
	log.Printf("[Ingest] Snapshot: %d repositories, %d contributors, %d changesets, %d files, %d technologies",
		len(snapshot.Repositories), len(snapshot.Contributors), len(snapshot.Changesets),
		len(snapshot.Files), len(snapshot.Technologies))
	return &snapshot, nil
}

// ingestRepository chooses the GitHub API when a token is available for a
// github.com repository and falls back to git history otherwise
func ingestRepository(ctx context.Context, repo string, opts Options) (*kb.Repository, []kb.Changeset, error) {
	platform, owner, name := detectPlatform(repo)

	if number := pullRequestNumber(repo); number > 0 && platform == adapter.PlatformGitHub && owner != "" {
		if opts.Token == "" {
			return nil, nil, fmt.Errorf("%s: %w", repo, ErrTokenRequired)
		}
		return ingestPullRequest(ctx, newGitHubSource(opts), owner, name, number, opts.Token)
	}

	if platform == adapter.PlatformGitHub && opts.Token != "" && owner != "" {
		repository, changesets, err := ingestGitHub(ctx, newGitHubSource(opts), owner, name, opts.Token)
		if err == nil {
			return repository, changesets, nil
		}
		// Log error but don't fail - continue with git history
		log.Printf("[Ingest] Warning: GitHub API ingestion of %s/%s failed, using git history: %v", owner, name, err)
	}

	return ingestGit(repo, opts)
}

// newGitHubSource configures the GitHub adapter from ingestion options
func newGitHubSource(opts Options) adapter.Adapter {
	gh := adapter.NewGitHubAdapter()
	gh.Options = opts.PullRequests
	gh.BaseURL = opts.GitHubBaseURL
	gh.ResolveNames = opts.ResolveNames
	return gh
}

func ingestGitHub(ctx context.Context, source adapter.Adapter, owner, name, token string) (*kb.Repository, []kb.Changeset, error) {
	log.Printf("[Ingest] Reading %s/%s from %s", owner, name, source.GetPlatform())
	repository, err := source.FetchRepository(ctx, token, owner, name)
	if err != nil {
		return nil, nil, err
	}

	changesets, err := source.FetchChangesets(ctx, token, owner, name)
	if err != nil {
		return nil, nil, err
	}
	return repository, changesets, nil
}

// ingestPullRequest reads one pull request. There is no git fallback: a
// pull request URL cannot be cloned.
func ingestPullRequest(ctx context.Context, source adapter.Adapter, owner, name string, number int, token string) (*kb.Repository, []kb.Changeset, error) {
	log.Printf("[Ingest] Reading %s/%s#%d from %s", owner, name, number, source.GetPlatform())
	repository, err := source.FetchRepository(ctx, token, owner, name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch repository %s/%s: %w", owner, name, err)
	}

	cs, err := source.FetchChangeset(ctx, token, owner, name, number)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch pull request %s/%s#%d: %w", owner, name, number, err)
	}
	return repository, []kb.Changeset{*cs}, nil
}

func ingestGit(repo string, opts Options) (*kb.Repository, []kb.Changeset, error) {
	// Try to open as local repository first
	gitRepo, err := git.OpenRepository(repo)
	if err != nil {
		gitRepo, err = git.CloneRepository(repo)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open or clone repository '%s': %w", repo, err)
		}
	}

	parsed, err := git.ParseRepository(gitRepo, repo, opts.Git)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse repository: %w", err)
	}

	repository := identifyRepository(repo, gitRepo)
	repository.DefaultBranch = parsed.DefaultBranch
	changesets := adapter.ConvertCommits(repository.ID, repository.URL, parsed.Commits)
	return &repository, changesets, nil
}

// identifyRepository names a git repository. A github.com location or
// origin remote yields owner/name; anything else uses the directory name.
func identifyRepository(location string, gitRepo *gogit.Repository) kb.Repository {
	for _, candidate := range []string{location, git.GetRemoteURL(gitRepo, "origin")} {
		platform, owner, name := detectPlatform(candidate)
		if platform == adapter.PlatformGitHub && owner != "" {
			return kb.Repository{ID: owner + "/" + name, Name: name, URL: githubWebURL(owner, name)}
		}
	}

	name := extractRepoName(location)
	return kb.Repository{ID: name, Name: name}
}

// LoadResult summarizes a load into both stores
type LoadResult struct {
	Graph   graph.LoadStats
	Indexed int
	// IndexSize is the embedding index row count after the load (-1 when unknown)
	IndexSize int
}

// Load bulk-loads a snapshot into the relationship store, then embeds and
// indexes one document per changeset. Indexing is skipped when embedder or
// vectorStore is nil.
func Load(
	ctx context.Context,
	snapshot *kb.Snapshot,
	loader graph.Loader,
	embedder rag.Embedder,
	vectorStore rag.VectorStore,
	indexOpts rag.IndexOptions,
) (*LoadResult, error) {
	if snapshot == nil || len(snapshot.Changesets) == 0 {
		return nil, ErrNothingToLoad
	}

	result := &LoadResult{IndexSize: -1}
	if loader != nil {
		if err := loader.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}

		if withStats, ok := loader.(interface {
			LoadWithStats(context.Context, kb.Snapshot) (graph.LoadStats, error)
		}); ok {
			stats, err := withStats.LoadWithStats(ctx, *snapshot)
			if err != nil {
				return nil, fmt.Errorf("failed to load graph: %w", err)
			}
			result.Graph = stats
		} else if err := loader.Load(ctx, *snapshot); err != nil {
			return nil, fmt.Errorf("failed to load graph: %w", err)
		}
		log.Printf("[Ingest] Loaded %d changesets and %d edges into the relationship store",
			len(snapshot.Changesets), len(snapshot.Edges))
	}

	if embedder == nil || vectorStore == nil {
		log.Printf("[Ingest] Embedding index not configured, skipping semantic indexing")
		return result, nil
	}

	artifacts := rag.ArtifactsFromChangesets(snapshot.Changesets)
	indexed, err := rag.IndexArtifacts(ctx, artifacts, embedder, vectorStore, indexOpts)
	if err != nil {
		return result, fmt.Errorf("failed to index artifacts: %w", err)
	}
	result.Indexed = indexed
	log.Printf("[Ingest] Indexed %d of %d changeset documents", indexed, len(artifacts))

	stats, err := vectorStore.GetStats(ctx)
	if err != nil {
		log.Printf("[Ingest] Warning: failed to read embedding index stats: %v", err)
		return result, nil
	}
	if size, ok := rowCount(stats["row_count"]); ok {
		result.IndexSize = size
		log.Printf("[Ingest] Embedding index holds %d documents", size)
	}

	return result, nil
}

// rowCount reads a row count from vector store stats. Milvus reports it as
// a decimal string.
func rowCount(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	}
	return 0, false
}
