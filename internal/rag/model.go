package rag

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIndexUnavailable means the embedding index could not serve a request
	ErrIndexUnavailable = errors.New("embedding index unavailable")

	// ErrInvalidQuery means the similarity request itself was malformed
	ErrInvalidQuery = errors.New("invalid similarity query")
)

// Index answers nearest-neighbor queries over embedded artifacts
type Index interface {
	// Nearest returns up to k matches sorted by descending similarity
	Nearest(ctx context.Context, text string, k int) ([]Match, error)
}

// Match is one nearest-neighbor hit
type Match struct {
	ArtifactID string    `json:"artifact_id"`
	Kind       string    `json:"kind,omitempty"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Artifact is a text document keyed by the changeset it describes
type Artifact struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	RepositoryID string    `json:"repository_id,omitempty"`
	Text         string    `json:"text"`
	Author       string    `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ArtifactRecord is an artifact paired with its embedding, ready for insertion
type ArtifactRecord struct {
	Artifact
	Embedding []float32 `json:"embedding"`
}

// VectorStore defines the interface for vector storage and similarity search
// Implementations should support artifact embeddings for retrieval pipelines
type VectorStore interface {
	// Insert efficiently inserts multiple artifacts in a single operation
	Insert(ctx context.Context, records []ArtifactRecord) error

	// Flush ensures all pending data is persisted
	Flush(ctx context.Context) error

	// Search performs top-K similarity search with optional filtering
	Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ContextChunk, error)

	// Query checks which artifact IDs exist in the store
	// Returns a map where keys are artifact IDs and values indicate existence
	Query(ctx context.Context, artifactIDs []string) (map[string]bool, error)

	// Delete removes records by artifact IDs
	Delete(ctx context.Context, artifactIDs []string) error

	// GetStats returns collection statistics (record count, index status, etc.)
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close releases resources and closes connections
	Close() error
}

// SearchOptions provides filtering options for vector search
type SearchOptions struct {
	ArtifactIDs  []string `json:"artifact_ids,omitempty"`  // Filter by specific artifact IDs
	Kinds        []string `json:"kinds,omitempty"`         // Filter by artifact kind
	RepositoryID string   `json:"repository_id,omitempty"` // Filter by repository
}

// ContextChunk represents a retrieved artifact with similarity score
type ContextChunk struct {
	ArtifactID   string    `json:"artifact_id"`
	Kind         string    `json:"kind"`
	RepositoryID string    `json:"repository_id,omitempty"`
	Text         string    `json:"text"`
	Author       string    `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Score        float32   `json:"score"` // cosine similarity, higher is closer
}

// IndexOptions provides configuration for artifact indexing
type IndexOptions struct {
	// BatchSize determines how many artifacts to embed at once
	BatchSize int

	// ForceReindex will delete and re-insert artifacts even if they exist
	ForceReindex bool

	// SkipExisting will check if an artifact already exists and skip if present
	SkipExisting bool
}
