package graph

import (
	"context"
	"fmt"
	"log"

	"github.com/Yates-Labs/knowhow/internal/kb"
)

const (
	insertRepository = `INSERT INTO repositories (id, name, description, language, url, default_branch)
VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`

	insertContributor = `INSERT INTO contributors (handle, name)
VALUES (?, ?) ON CONFLICT (handle) DO NOTHING`

	insertChangeset = `INSERT INTO changesets (id, kind, repository_id, number, title, body, url, author_handle, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`

	insertFile = `INSERT INTO files (id, repository_id, path)
VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`

	insertTechnology = `INSERT INTO technologies (name) VALUES (?) ON CONFLICT (name) DO NOTHING`

	insertChangesetFile = `INSERT INTO changeset_files (changeset_id, file_id, additions, deletions)
VALUES (?, ?, ?, ?) ON CONFLICT (changeset_id, file_id) DO NOTHING`

	insertFileTechnology = `INSERT INTO file_technologies (file_id, technology)
VALUES (?, ?) ON CONFLICT (file_id, technology) DO NOTHING`
)

// LoadStats counts the entities submitted by one Load call
type LoadStats struct {
	Repositories int
	Contributors int
	Changesets   int
	Files        int
	Technologies int
	Edges        int
}

// Load bulk-inserts a snapshot inside one transaction. Existing rows are kept,
// so loading the same snapshot twice is a no-op apart from refreshed stats.
func (s *SQLStore) Load(ctx context.Context, snapshot kb.Snapshot) error {
	_, err := s.LoadWithStats(ctx, snapshot)
	return err
}

// LoadWithStats is Load that also reports what was submitted
func (s *SQLStore) LoadWithStats(ctx context.Context, snapshot kb.Snapshot) (LoadStats, error) {
	var stats LoadStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	}

	for _, r := range snapshot.Repositories {
		if err := exec(insertRepository, r.ID, r.Name, r.Description, r.Language, r.URL, r.DefaultBranch); err != nil {
			return stats, s.classify(fmt.Errorf("failed to insert repository %s: %w", r.ID, err))
		}
		stats.Repositories++
	}

	for _, c := range snapshot.Contributors {
		if err := exec(insertContributor, c.Handle, c.Name); err != nil {
			return stats, s.classify(fmt.Errorf("failed to insert contributor %s: %w", c.Handle, err))
		}
		stats.Contributors++
	}

	for _, t := range snapshot.Technologies {
		if err := exec(insertTechnology, t.Name); err != nil {
			return stats, s.classify(fmt.Errorf("failed to insert technology %s: %w", t.Name, err))
		}
		stats.Technologies++
	}

	for _, f := range snapshot.Files {
		if err := exec(insertFile, f.ID, f.RepositoryID, f.Path); err != nil {
			return stats, s.classify(fmt.Errorf("failed to insert file %s: %w", f.ID, err))
		}
		stats.Files++
	}

	for _, cs := range snapshot.Changesets {
		if err := exec(insertChangeset, cs.ID, string(cs.Kind), cs.RepositoryID, cs.Number,
			cs.Title, cs.Body, cs.URL, cs.AuthorHandle, cs.CreatedAt.Unix()); err != nil {
			return stats, s.classify(fmt.Errorf("failed to insert changeset %s: %w", cs.ID, err))
		}
		stats.Changesets++

		for _, fc := range cs.Files {
			if fc.Path == "" {
				continue
			}
			if err := exec(insertChangesetFile, cs.ID, kb.FileID(cs.RepositoryID, fc.Path), fc.Additions, fc.Deletions); err != nil {
				return stats, s.classify(fmt.Errorf("failed to link changeset %s: %w", cs.ID, err))
			}
		}
	}

	for _, e := range snapshot.Edges {
		if e.Kind != kb.EdgeUsesTechnology {
			continue
		}
		if err := exec(insertFileTechnology, e.Source, e.Target); err != nil {
			return stats, s.classify(fmt.Errorf("failed to tag file %s: %w", e.Source, err))
		}
		stats.Edges++
	}

	if _, err := tx.ExecContext(ctx, refreshContributorStats); err != nil {
		return stats, s.classify(fmt.Errorf("failed to refresh contributor stats: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return stats, s.classify(fmt.Errorf("failed to commit snapshot: %w", err))
	}

	log.Printf("[Graph] Loaded %d repositories, %d contributors, %d changesets, %d files, %d technologies",
		stats.Repositories, stats.Contributors, stats.Changesets, stats.Files, stats.Technologies)

	return stats, nil
}

var (
	_ Store  = (*SQLStore)(nil)
	_ Loader = (*SQLStore)(nil)
)
