package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Retriever provides semantic retrieval over artifact embeddings.
// It implements Index.
type Retriever struct {
	embedder    Embedder
	vectorStore VectorStore
	opts        *SearchOptions
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(embedder Embedder, vectorStore VectorStore) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	return &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
	}, nil
}

// WithSearchOptions returns a copy of the retriever that applies opts to every search
func (r *Retriever) WithSearchOptions(opts *SearchOptions) *Retriever {
	clone := *r
	clone.opts = opts
	return &clone
}

// Nearest embeds text and returns the k closest artifacts by descending
// similarity. Embedding or search failures wrap ErrIndexUnavailable.
func (r *Retriever) Nearest(ctx context.Context, text string, k int) ([]Match, error) {
	chunks, err := r.RetrieveContextForQuery(ctx, text, k, r.opts)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(chunks))
	for i, chunk := range chunks {
		matches[i] = Match{
			ArtifactID: chunk.ArtifactID,
			Kind:       chunk.Kind,
			Score:      float64(chunk.Score),
			Snippet:    chunk.Text,
			Author:     chunk.Author,
			CreatedAt:  chunk.CreatedAt,
		}
	}

	return matches, nil
}

// RetrieveContextForQuery performs semantic search using a free-text query.
func (r *Retriever) RetrieveContextForQuery(
	ctx context.Context,
	query string,
	topK int,
	opts *SearchOptions,
) ([]ContextChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, topK)
	}

	// Generate embedding for the query
	embeddingRecords, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %v", ErrIndexUnavailable, err)
	}
	if len(embeddingRecords) == 0 {
		return nil, fmt.Errorf("%w: no embedding generated for query", ErrIndexUnavailable)
	}

	queryVector := embeddingRecords[0].Embedding

	// Perform vector similarity search
	chunks, err := r.vectorStore.Search(ctx, queryVector, topK, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search for query: %v", ErrIndexUnavailable, err)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

var _ Index = (*Retriever)(nil)
