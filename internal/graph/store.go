// Package graph provides the relationship store client: parameterized,
// read-only query templates over contributors, repositories, changesets,
// files and technologies, plus the bulk loader used by ingestion.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/Yates-Labs/knowhow/internal/kb"
)

var (
	// ErrStoreUnavailable means the store could not be reached or timed out
	ErrStoreUnavailable = errors.New("relationship store unavailable")

	// ErrQuery means the template or its parameters were invalid, or the query failed
	ErrQuery = errors.New("relationship query failed")
)

// Store runs structured query templates against the relationship graph.
// Implementations must be safe for concurrent use.
type Store interface {
	// Run executes the named template with bound parameters
	Run(ctx context.Context, template TemplateID, params Params) ([]Row, error)

	// KnownEntities returns every contributor and technology name in the store
	KnownEntities(ctx context.Context) (Entities, error)

	// Close releases the underlying connection pool
	Close() error
}

// Loader persists a knowledge-base snapshot into a store
type Loader interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context, snapshot kb.Snapshot) error
}

// Params are the bound parameters of a template request.
// Zero values mean "not set".
type Params struct {
	Contributor string    `json:"contributor,omitempty"`
	Technology  string    `json:"technology,omitempty"`
	Number      int       `json:"number,omitempty"`
	IDs         []string  `json:"ids,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

// Row is one result of a structured query. Rows produced by contributor-level
// templates carry an empty ChangesetID.
type Row struct {
	ChangesetID       string
	ContributorHandle string
	ContributorName   string
	Title             string
	Snippet           string
	URL               string
	CreatedAt         time.Time
	ScoreHint         float64
	Technologies      []string
}

// ContributorName pairs a contributor handle with its display name
type ContributorName struct {
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`
}

// Entities is the set of names the planner can recognize in a question
type Entities struct {
	Contributors []ContributorName `json:"contributors"`
	Technologies []string          `json:"technologies"`
}
