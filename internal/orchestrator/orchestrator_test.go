package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"

	"github.com/Yates-Labs/knowhow/internal/adapter"
	"github.com/Yates-Labs/knowhow/internal/config"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/kb"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// fixtureRepo creates a local repository named payments with two authors
func fixtureRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "payments")

	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	commit := func(msg, name, email string, when time.Time, path, content string) {
		full := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := wt.Add(path); err != nil {
			t.Fatalf("add: %v", err)
		}
		sig := &object.Signature{Name: name, Email: email, When: when}
		if _, err := wt.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	commit("Initial commit", "Alice Moreno", "alice@example.com", base, "README.md", "# payments\n")
	commit("Add gRPC server", "Alice Moreno", "alice@example.com", base.Add(time.Hour), "rpc/server.go",
		"package rpc\n\nimport \"google.golang.org/grpc\"\n\nvar _ = grpc.NewServer\n")
	commit("Add checkout page", "Bob Chen", "bob@example.com", base.Add(2*time.Hour), "web/Checkout.tsx",
		"export const Checkout = () => null\n")

	return dir
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([]rag.EmbeddingRecord, error) {
	f.calls++
	records := make([]rag.EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = rag.EmbeddingRecord{Text: text, Embedding: []float32{float32(len(text)), 1}, Index: i, Model: "fake"}
	}
	return records, nil
}

func (f *fakeEmbedder) GetModel() string  { return "fake" }
func (f *fakeEmbedder) GetDimension() int { return 2 }

type fakeVectorStore struct {
	mu      sync.Mutex
	records map[string]rag.ArtifactRecord
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{records: make(map[string]rag.ArtifactRecord)}
}

func (f *fakeVectorStore) Insert(ctx context.Context, records []rag.ArtifactRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeVectorStore) Flush(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Search(ctx context.Context, queryVector []float32, topK int, opts *rag.SearchOptions) ([]rag.ContextChunk, error) {
	return nil, nil
}

func (f *fakeVectorStore) Query(ctx context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := f.records[id]
		out[id] = ok
	}
	return out, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeVectorStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"row_count": len(f.records)}, nil
}

func (f *fakeVectorStore) Close() error { return nil }

var _ rag.VectorStore = (*fakeVectorStore)(nil)

func openTestStore(t *testing.T) *graph.SQLStore {
	t.Helper()
	cfg := graph.DefaultSQLConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "kb.db")
	store, err := graph.OpenSQL(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildSnapshot_LocalRepository(t *testing.T) {
	dir := fixtureRepo(t)

	snapshot, err := BuildSnapshot(context.Background(), DefaultOptions(), dir)
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}

	if len(snapshot.Repositories) != 1 || snapshot.Repositories[0].ID != "payments" {
		t.Fatalf("Unexpected repositories: %+v", snapshot.Repositories)
	}
	if snapshot.Repositories[0].DefaultBranch == "" {
		t.Error("Expected the default branch to be recorded")
	}
	if len(snapshot.Changesets) != 3 {
		t.Fatalf("Expected 3 changesets, got %d", len(snapshot.Changesets))
	}
	if len(snapshot.Contributors) != 2 {
		t.Errorf("Expected 2 contributors, got %d", len(snapshot.Contributors))
	}
	for _, cs := range snapshot.Changesets {
		if cs.Kind != kb.KindCommit || cs.RepositoryID != "payments" {
			t.Errorf("Unexpected changeset: %s %s %s", cs.ID, cs.Kind, cs.RepositoryID)
		}
	}

	techs := make(map[string]bool)
	for _, tech := range snapshot.Technologies {
		techs[tech.Name] = true
	}
	for _, want := range []string{"gRPC", "Go", "TypeScript"} {
		if !techs[want] {
			t.Errorf("Expected technology %s in %v", want, snapshot.Technologies)
		}
	}
}

func TestBuildSnapshot_Errors(t *testing.T) {
	if _, err := BuildSnapshot(context.Background(), DefaultOptions()); err == nil {
		t.Error("Expected error without repositories")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildSnapshot(ctx, DefaultOptions(), fixtureRepo(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := BuildSnapshot(context.Background(), DefaultOptions(), missing); err == nil {
		t.Error("Expected error for a missing repository")
	}
}

func TestBuildSnapshot_PullRequestURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/payments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name": "payments", "full_name": "acme/payments", "default_branch": "main",
			"html_url": "https://github.com/acme/payments"}`)
	})
	mux.HandleFunc("/repos/acme/payments/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "title": "Add gRPC retry interceptor", "user": {"login": "alice", "name": "Alice Moreno"},
			"created_at": "2024-04-28T10:00:00Z", "merged_at": "2024-05-01T08:00:00Z",
			"html_url": "https://github.com/acme/payments/pull/42"}`)
	})
	mux.HandleFunc("/repos/acme/payments/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"filename": "rpc/retry.go", "status": "added", "additions": 80,
			"patch": "+import \"google.golang.org/grpc\""}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	opts := DefaultOptions()
	opts.Token = "token"
	opts.GitHubBaseURL = server.URL

	snapshot, err := BuildSnapshot(context.Background(), opts, "https://github.com/acme/payments/pull/42")
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	if len(snapshot.Changesets) != 1 || snapshot.Changesets[0].ID != "acme/payments/pr/42" {
		t.Fatalf("Unexpected changesets: %+v", snapshot.Changesets)
	}
	if len(snapshot.Repositories) != 1 || snapshot.Repositories[0].DefaultBranch != "main" {
		t.Errorf("Unexpected repositories: %+v", snapshot.Repositories)
	}

	opts.Token = ""
	_, err = BuildSnapshot(context.Background(), opts, "https://github.com/acme/payments/pull/42")
	if !errors.Is(err, ErrTokenRequired) {
		t.Errorf("Expected ErrTokenRequired, got %v", err)
	}
}

func TestLoad_GraphAndIndex(t *testing.T) {
	ctx := context.Background()
	snapshot, err := BuildSnapshot(ctx, DefaultOptions(), fixtureRepo(t))
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}

	store := openTestStore(t)
	embedder := &fakeEmbedder{}
	vectors := newFakeVectorStore()

	result, err := Load(ctx, snapshot, store, embedder, vectors, rag.DefaultIndexOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Indexed != 3 || len(vectors.records) != 3 {
		t.Errorf("Expected 3 indexed documents, got %d (%d stored)", result.Indexed, len(vectors.records))
	}
	if result.IndexSize != 3 {
		t.Errorf("Expected index size 3, got %d", result.IndexSize)
	}
	if result.Graph.Changesets != 3 {
		t.Errorf("Expected load stats for 3 changesets, got %+v", result.Graph)
	}

	rows, err := store.Run(ctx, graph.TemplateTechnologyChangesets, graph.Params{Technology: "gRPC"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "Add gRPC server" || rows[0].ContributorHandle != "alice" {
		t.Errorf("Unexpected gRPC rows: %+v", rows)
	}

	// a second load skips documents that are already indexed
	again, err := Load(ctx, snapshot, store, embedder, vectors, rag.DefaultIndexOptions())
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if again.Indexed != 0 || again.IndexSize != 3 {
		t.Errorf("Expected nothing re-indexed, got %d (size %d)", again.Indexed, again.IndexSize)
	}
}

func TestLoad_WithoutIndex(t *testing.T) {
	ctx := context.Background()
	snapshot, err := BuildSnapshot(ctx, DefaultOptions(), fixtureRepo(t))
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}

	result, err := Load(ctx, snapshot, openTestStore(t), nil, nil, rag.DefaultIndexOptions())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Indexed != 0 || result.IndexSize != -1 {
		t.Errorf("Expected no indexing, got %d (size %d)", result.Indexed, result.IndexSize)
	}
}

func TestLoad_EmptySnapshot(t *testing.T) {
	_, err := Load(context.Background(), &kb.Snapshot{}, nil, nil, nil, rag.DefaultIndexOptions())
	if !errors.Is(err, ErrNothingToLoad) {
		t.Errorf("Expected ErrNothingToLoad, got %v", err)
	}
}

func TestIngestOptions(t *testing.T) {
	cfg := &config.Config{Ingest: config.IngestConfig{
		GitHubToken:     "ghp_token",
		MaxPullRequests: 25,
		MaxCommits:      0,
		IncludePatches:  false,
	}}

	opts := IngestOptions(cfg)
	if opts.Token != "ghp_token" || opts.PullRequests.MaxPullRequests != 25 {
		t.Errorf("Unexpected GitHub options: %+v", opts)
	}
	if opts.Git.MaxCommits != DefaultOptions().Git.MaxCommits {
		t.Errorf("Expected default commit cap, got %d", opts.Git.MaxCommits)
	}
	if opts.Git.IncludePatch || opts.PullRequests.IncludePatches {
		t.Error("Expected patches disabled")
	}
}

func TestRowCount(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int
		ok    bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(12), 12, true},
		{"milvus string", "345", 345, true},
		{"bad string", "n/a", 0, false},
		{"missing", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rowCount(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("rowCount(%v) = %d, %v; want %d, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPullRequestNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"https://github.com/acme/payments/pull/42", 42},
		{"https://github.com/acme/payments/pull/42/", 42},
		{"https://github.com/acme/payments", 0},
		{"https://github.com/acme/payments/pull/abc", 0},
		{"/local/pull/requests", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := pullRequestNumber(tt.input); got != tt.expected {
				t.Errorf("pullRequestNumber(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractRepoName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/myrepo", "myrepo"},
		{"https://github.com/user/myrepo", "myrepo"},
		{"https://github.com/user/myrepo.git", "myrepo"},
		{"myrepo", "myrepo"},
		{"/path/to/myrepo/", "myrepo"},
		{"https://github.com/user/myrepo/", "myrepo"},
		{"git@gitlab.com:group/service.git", "service"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractRepoName(tt.input); got != tt.expected {
				t.Errorf("extractRepoName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url              string
		expectedPlatform adapter.Platform
		expectedOwner    string
		expectedRepo     string
	}{
		{"https://github.com/acme/payments", adapter.PlatformGitHub, "acme", "payments"},
		{"git@github.com:acme/payments.git", adapter.PlatformGitHub, "acme", "payments"},
		{"/local/path/to/repo", adapter.PlatformGit, "", "repo"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			platform, owner, repo := detectPlatform(tt.url)
			if platform != tt.expectedPlatform {
				t.Errorf("Expected platform %s, got %s", tt.expectedPlatform, platform)
			}
			if owner != tt.expectedOwner {
				t.Errorf("Expected owner %s, got %s", tt.expectedOwner, owner)
			}
			if repo != tt.expectedRepo {
				t.Errorf("Expected repo %s, got %s", tt.expectedRepo, repo)
			}
		})
	}
}

func TestParseHostedGitURL(t *testing.T) {
	tests := []struct {
		url           string
		expectedOwner string
		expectedRepo  string
	}{
		{"https://github.com/owner/repo", "owner", "repo"},
		{"git@github.com:owner/repo.git", "owner", "repo"},
		{"https://github.com/owner/repo/", "owner", "repo"},
		{"github.com/owner/repo.git", "owner", "repo"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo := parseHostedGitURL(tt.url, "github.com")
			if owner != tt.expectedOwner || repo != tt.expectedRepo {
				t.Errorf("Got %s/%s, want %s/%s", owner, repo, tt.expectedOwner, tt.expectedRepo)
			}
		})
	}
}

func TestIdentifyRepository_NoRemote(t *testing.T) {
	dir := fixtureRepo(t)
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := identifyRepository(dir, repo); got.ID != "payments" {
		t.Errorf("Expected directory name without origin, got %q", got.ID)
	}
}

func TestGitHubIngestion_Live(t *testing.T) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		t.Skip("GITHUB_TOKEN not set, skipping GitHub integration test")
	}

	opts := DefaultOptions()
	opts.Token = token
	opts.PullRequests.MaxPullRequests = 5
	opts.ResolveNames = false

	snapshot, err := BuildSnapshot(context.Background(), opts, "https://github.com/Yates-Labs/knowhow")
	if err != nil {
		t.Fatalf("BuildSnapshot failed: %v", err)
	}
	t.Logf("Ingested %d changesets from %d contributors", len(snapshot.Changesets), len(snapshot.Contributors))
}
