package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Yates-Labs/knowhow/internal/kb"
)

func testSnapshot() kb.Snapshot {
	b := kb.NewBuilder()
	b.AddRepository(kb.Repository{ID: "acme/api", Name: "api", Description: "Public API", DefaultBranch: "main"})
	b.AddChangeset(kb.Changeset{
		ID:           "acme/api/pr/1",
		Kind:         kb.KindPullRequest,
		RepositoryID: "acme/api",
		Number:       1,
		Title:        "Add gRPC retry logic",
		Body:         "Retries unary calls with exponential backoff.",
		URL:          "https://github.com/acme/api/pull/1",
		AuthorHandle: "jane",
		AuthorName:   "Jane Doe",
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Files: []kb.FileChange{
			{Path: "internal/rpc/retry.go", Additions: 40, Deletions: 2, Patch: "+\t\"google.golang.org/grpc\""},
		},
	})
	b.AddChangeset(kb.Changeset{
		ID:           "acme/api/pr/2",
		Kind:         kb.KindPullRequest,
		RepositoryID: "acme/api",
		Number:       2,
		Title:        "Dashboard widgets",
		AuthorHandle: "bob",
		AuthorName:   "Bob Smith",
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Files: []kb.FileChange{
			{Path: "web/Widget.tsx", Additions: 10, Patch: "+import React from 'react'"},
		},
	})
	b.AddChangeset(kb.Changeset{
		ID:           "acme/api/pr/3",
		Kind:         kb.KindPullRequest,
		RepositoryID: "acme/api",
		Number:       3,
		Title:        "Streaming gRPC health checks",
		AuthorHandle: "jane",
		CreatedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Files: []kb.FileChange{
			{Path: "internal/rpc/health.go", Additions: 12, Deletions: 1, Patch: "+grpc.NewServer()"},
		},
	})
	return b.Snapshot()
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	store, err := OpenSQL(ctx, SQLConfig{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if err := store.Load(ctx, testSnapshot()); err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	return store
}

func rowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ChangesetID
	}
	return ids
}

func TestSQLStore_ChangesetTemplates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		template TemplateID
		params   Params
		want     []string
	}{
		{
			name:     "contributor by handle",
			template: TemplateContributorChangesets,
			params:   Params{Contributor: "jane"},
			want:     []string{"acme/api/pr/3", "acme/api/pr/1"},
		},
		{
			name:     "contributor by display name is case-insensitive",
			template: TemplateContributorChangesets,
			params:   Params{Contributor: "jane doe"},
			want:     []string{"acme/api/pr/3", "acme/api/pr/1"},
		},
		{
			name:     "contributor within time range",
			template: TemplateContributorChangesets,
			params:   Params{Contributor: "jane", Until: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
			want:     []string{"acme/api/pr/1"},
		},
		{
			name:     "technology",
			template: TemplateTechnologyChangesets,
			params:   Params{Technology: "grpc"},
			want:     []string{"acme/api/pr/3", "acme/api/pr/1"},
		},
		{
			name:     "contributor and technology",
			template: TemplateContributorTechnologyChangesets,
			params:   Params{Contributor: "Bob Smith", Technology: "React"},
			want:     []string{"acme/api/pr/2"},
		},
		{
			name:     "contributor and unrelated technology",
			template: TemplateContributorTechnologyChangesets,
			params:   Params{Contributor: "bob", Technology: "gRPC"},
			want:     []string{},
		},
		{
			name:     "by number",
			template: TemplateChangesetByNumber,
			params:   Params{Number: 2},
			want:     []string{"acme/api/pr/2"},
		},
		{
			name:     "limit",
			template: TemplateTechnologyChangesets,
			params:   Params{Technology: "Go", Limit: 1},
			want:     []string{"acme/api/pr/3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := store.Run(ctx, tt.template, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := rowIDs(rows)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
			for _, r := range rows {
				if r.ScoreHint != ScoreChangeset {
					t.Errorf("expected score hint %v, got %v", ScoreChangeset, r.ScoreHint)
				}
			}
		})
	}
}

func TestSQLStore_RowFields(t *testing.T) {
	store := newTestStore(t)

	rows, err := store.Run(context.Background(), TemplateChangesetByNumber, Params{Number: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	r := rows[0]
	if r.ContributorHandle != "jane" || r.ContributorName != "Jane Doe" {
		t.Errorf("unexpected author: %s / %s", r.ContributorHandle, r.ContributorName)
	}
	if r.Title != "Add gRPC retry logic" {
		t.Errorf("unexpected title: %q", r.Title)
	}
	if r.Snippet != "Retries unary calls with exponential backoff." {
		t.Errorf("unexpected snippet: %q", r.Snippet)
	}
	if !r.CreatedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %v", r.CreatedAt)
	}
	if len(r.Technologies) != 2 || r.Technologies[0] != "Go" || r.Technologies[1] != "gRPC" {
		t.Errorf("unexpected technologies: %v", r.Technologies)
	}
}

func TestSQLStore_ChangesetsByID(t *testing.T) {
	store := newTestStore(t)

	rows, err := store.Run(context.Background(), TemplateChangesetsByID, Params{
		IDs: []string{"acme/api/pr/1", "missing", "acme/api/pr/2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := rowIDs(rows)
	if len(got) != 2 || got[0] != "acme/api/pr/2" || got[1] != "acme/api/pr/1" {
		t.Fatalf("expected newest first without unknown ids, got %v", got)
	}
	if rows[1].URL != "https://github.com/acme/api/pull/1" || rows[1].ContributorName != "Jane Doe" {
		t.Errorf("unexpected row metadata: %+v", rows[1])
	}
	if len(rows[1].Technologies) != 2 || rows[0].Technologies[0] != "React" {
		t.Errorf("expected technologies attached, got %v and %v", rows[0].Technologies, rows[1].Technologies)
	}
}

func TestSQLStore_ContributorLevelTemplates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	experts, err := store.Run(ctx, TemplateTechnologyExperts, Params{Technology: "gRPC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(experts) != 1 {
		t.Fatalf("expected 1 expert, got %d", len(experts))
	}
	if experts[0].ChangesetID != "" || experts[0].ContributorHandle != "jane" {
		t.Errorf("unexpected expert row: %+v", experts[0])
	}
	if experts[0].ScoreHint != ScoreExperts {
		t.Errorf("expected score hint %v, got %v", ScoreExperts, experts[0].ScoreHint)
	}

	expertise, err := store.Run(ctx, TemplateContributorExpertise, Params{Contributor: "Jane Doe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expertise) != 1 {
		t.Fatalf("expected 1 expertise row, got %d", len(expertise))
	}
	row := expertise[0]
	if row.ContributorHandle != "jane" {
		t.Errorf("expected jane, got %s", row.ContributorHandle)
	}
	if len(row.Technologies) != 2 || row.Technologies[0] != "Go" || row.Technologies[1] != "gRPC" {
		t.Errorf("unexpected technologies: %v", row.Technologies)
	}
	if !row.CreatedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected last active from latest changeset, got %v", row.CreatedAt)
	}

	missing, err := store.Run(ctx, TemplateContributorExpertise, Params{Contributor: "nobody"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no rows for unknown contributor, got %d", len(missing))
	}
}

func TestSQLStore_KnownEntities(t *testing.T) {
	store := newTestStore(t)

	entities, err := store.KnownEntities(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities.Contributors) != 2 {
		t.Fatalf("expected 2 contributors, got %d", len(entities.Contributors))
	}
	if entities.Contributors[0].Handle != "bob" || entities.Contributors[1].Name != "Jane Doe" {
		t.Errorf("unexpected contributors: %+v", entities.Contributors)
	}

	want := map[string]bool{"Go": true, "gRPC": true, "React": true, "TypeScript": true}
	if len(entities.Technologies) != len(want) {
		t.Fatalf("expected %d technologies, got %v", len(want), entities.Technologies)
	}
	for _, tech := range entities.Technologies {
		if !want[tech] {
			t.Errorf("unexpected technology %q", tech)
		}
	}
}

func TestSQLStore_LoadIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Load(ctx, testSnapshot()); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	rows, err := store.Run(ctx, TemplateContributorExpertise, Params{Contributor: "jane"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := "Jane Doe (@jane) authored 2 changeset(s), +52/-3 lines, last active 2024-06-01."
	if got := rows[0].Snippet[:len(want)]; got != want {
		t.Errorf("expected stats %q, got %q", want, got)
	}
}

func TestSQLStore_LoadsRepositoryDefaultBranch(t *testing.T) {
	store := newTestStore(t)

	var branch string
	err := store.db.QueryRowContext(context.Background(),
		"SELECT default_branch FROM repositories WHERE id = ?", "acme/api").Scan(&branch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "main" {
		t.Errorf("expected default branch main, got %q", branch)
	}
}

func TestSQLStore_InvalidParams(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Run(context.Background(), TemplateContributorTechnologyChangesets, Params{Contributor: "jane"})
	if !errors.Is(err, ErrQuery) {
		t.Errorf("expected ErrQuery, got %v", err)
	}
}

func TestSQLStore_ClosedStoreIsUnavailable(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	_, err := store.Run(context.Background(), TemplateTechnologyChangesets, Params{Technology: "Go"})
	if !errors.Is(err, ErrStoreUnavailable) && !errors.Is(err, ErrQuery) {
		t.Errorf("expected a classified store error, got %v", err)
	}
}

func TestOpenSQL_UnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLConfig{Driver: "mysql", DSN: "x"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
