package kb

import (
	"sort"
	"strings"
)

// Builder accumulates repositories and changesets into a deduplicated Snapshot.
// Files get technology tags from DetectTechnologies; contributors aggregate
// activity across every changeset they authored.
type Builder struct {
	repos        map[string]Repository
	contributors map[string]*Contributor
	changesets   map[string]Changeset
	files        map[string]*File
	technologies map[string]struct{}
	edges        map[Edge]struct{}
}

// NewBuilder creates an empty snapshot builder
func NewBuilder() *Builder {
	return &Builder{
		repos:        make(map[string]Repository),
		contributors: make(map[string]*Contributor),
		changesets:   make(map[string]Changeset),
		files:        make(map[string]*File),
		technologies: make(map[string]struct{}),
		edges:        make(map[Edge]struct{}),
	}
}

// AddRepository registers a repository. Repeated ids only fill in fields
// that are still empty.
func (b *Builder) AddRepository(repo Repository) {
	if repo.ID == "" {
		return
	}
	existing, ok := b.repos[repo.ID]
	if !ok {
		b.repos[repo.ID] = repo
		return
	}
	if existing.Name == "" {
		existing.Name = repo.Name
	}
	if existing.Description == "" {
		existing.Description = repo.Description
	}
	if existing.Language == "" {
		existing.Language = repo.Language
	}
	if existing.URL == "" {
		existing.URL = repo.URL
	}
	if existing.DefaultBranch == "" {
		existing.DefaultBranch = repo.DefaultBranch
	}
	b.repos[repo.ID] = existing
}

// AddChangeset registers a changeset with its author, files and technologies.
// Returns false if the changeset has no id or was already added.
func (b *Builder) AddChangeset(cs Changeset) bool {
	if cs.ID == "" {
		return false
	}
	if _, ok := b.changesets[cs.ID]; ok {
		return false
	}
	b.changesets[cs.ID] = cs

	if cs.RepositoryID != "" {
		b.AddRepository(Repository{ID: cs.RepositoryID, Name: repoName(cs.RepositoryID)})
		b.addEdge(EdgeBelongsTo, cs.ID, cs.RepositoryID)
	}

	handle := strings.TrimSpace(cs.AuthorHandle)
	if handle != "" {
		c, ok := b.contributors[handle]
		if !ok {
			c = &Contributor{Handle: handle, Name: strings.TrimSpace(cs.AuthorName)}
			b.contributors[handle] = c
		}
		if c.Name == "" {
			c.Name = strings.TrimSpace(cs.AuthorName)
		}
		c.ChangesetCount++
		c.Additions += cs.Additions()
		c.Deletions += cs.Deletions()
		if cs.CreatedAt.After(c.LastActive) {
			c.LastActive = cs.CreatedAt
		}
		b.addEdge(EdgeAuthored, handle, cs.ID)
	}

	for _, fc := range cs.Files {
		if fc.Path == "" {
			continue
		}
		id := FileID(cs.RepositoryID, fc.Path)
		f, ok := b.files[id]
		if !ok {
			f = &File{ID: id, RepositoryID: cs.RepositoryID, Path: fc.Path}
			b.files[id] = f
		}
		b.addEdge(EdgeTouches, cs.ID, id)

		for _, tech := range DetectTechnologies(fc.Path, fc.Patch) {
			if !containsString(f.Technologies, tech) {
				f.Technologies = append(f.Technologies, tech)
				sort.Strings(f.Technologies)
			}
			b.technologies[tech] = struct{}{}
			b.addEdge(EdgeUsesTechnology, id, tech)
		}
	}

	return true
}

func (b *Builder) addEdge(kind EdgeKind, source, target string) {
	b.edges[Edge{Kind: kind, Source: source, Target: target}] = struct{}{}
}

// Snapshot returns the accumulated entities in deterministic order
func (b *Builder) Snapshot() Snapshot {
	var snap Snapshot

	for _, r := range b.repos {
		snap.Repositories = append(snap.Repositories, r)
	}
	sort.Slice(snap.Repositories, func(i, j int) bool { return snap.Repositories[i].ID < snap.Repositories[j].ID })

	for _, c := range b.contributors {
		snap.Contributors = append(snap.Contributors, *c)
	}
	sort.Slice(snap.Contributors, func(i, j int) bool { return snap.Contributors[i].Handle < snap.Contributors[j].Handle })

	for _, cs := range b.changesets {
		snap.Changesets = append(snap.Changesets, cs)
	}
	sort.Slice(snap.Changesets, func(i, j int) bool {
		if snap.Changesets[i].CreatedAt.Equal(snap.Changesets[j].CreatedAt) {
			return snap.Changesets[i].ID < snap.Changesets[j].ID
		}
		return snap.Changesets[i].CreatedAt.Before(snap.Changesets[j].CreatedAt)
	})

	for _, f := range b.files {
		snap.Files = append(snap.Files, *f)
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].ID < snap.Files[j].ID })

	for tech := range b.technologies {
		snap.Technologies = append(snap.Technologies, Technology{Name: tech})
	}
	sort.Slice(snap.Technologies, func(i, j int) bool { return snap.Technologies[i].Name < snap.Technologies[j].Name })

	for e := range b.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, c := snap.Edges[i], snap.Edges[j]
		if a.Kind != c.Kind {
			return a.Kind < c.Kind
		}
		if a.Source != c.Source {
			return a.Source < c.Source
		}
		return a.Target < c.Target
	})

	return snap
}

func repoName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
