package rag

import (
	"context"
	"fmt"
	"log"
)

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:    50, // Batch size for embedding API calls
		ForceReindex: false,
		SkipExisting: true,
	}
}

// IndexArtifacts embeds artifacts and stores them in the vector store.
// This function:
// 1. Optionally deletes (force reindex) or skips (skip existing) known artifacts
// 2. Generates embeddings in batches
// 3. Inserts records with metadata and flushes after each batch
// It returns the number of artifacts indexed.
func IndexArtifacts(
	ctx context.Context,
	artifacts []Artifact,
	embedder Embedder,
	vectorStore VectorStore,
	opts IndexOptions,
) (int, error) {
	if len(artifacts) == 0 {
		return 0, nil
	}

	if embedder == nil {
		return 0, fmt.Errorf("embedder cannot be nil")
	}

	if vectorStore == nil {
		return 0, fmt.Errorf("vector store cannot be nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexOptions().BatchSize
	}

	if opts.ForceReindex {
		if err := vectorStore.Delete(ctx, artifactIDs(artifacts)); err != nil {
			return 0, fmt.Errorf("failed to delete existing artifacts: %w", err)
		}
	}

	toIndex := artifacts
	if opts.SkipExisting && !opts.ForceReindex {
		toIndex = filterNewArtifacts(ctx, artifacts, vectorStore)
		if skipped := len(artifacts) - len(toIndex); skipped > 0 {
			log.Printf("[Index] Skipping %d already indexed artifacts", skipped)
		}
	}

	indexed := 0
	for batchStart := 0; batchStart < len(toIndex); batchStart += opts.BatchSize {
		batchEnd := batchStart + opts.BatchSize
		if batchEnd > len(toIndex) {
			batchEnd = len(toIndex)
		}

		batch := toIndex[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, artifact := range batch {
			texts[i] = artifact.Text
		}

		embeddingRecords, err := embedder.Embed(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("failed to generate embeddings for batch starting at %d: %w", batchStart, err)
		}
		if len(embeddingRecords) != len(batch) {
			return indexed, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(batch), len(embeddingRecords))
		}

		records := make([]ArtifactRecord, len(batch))
		for i, artifact := range batch {
			records[i] = ArtifactRecord{
				Artifact:  artifact,
				Embedding: embeddingRecords[i].Embedding,
			}
		}

		if err := vectorStore.Insert(ctx, records); err != nil {
			return indexed, fmt.Errorf("failed to insert batch starting at %d: %w", batchStart, err)
		}

		if err := vectorStore.Flush(ctx); err != nil {
			return indexed, fmt.Errorf("failed to flush batch starting at %d: %w", batchStart, err)
		}

		indexed += len(batch)
		log.Printf("[Index] Indexed %d/%d artifacts", indexed, len(toIndex))
	}

	return indexed, nil
}

// filterNewArtifacts removes artifacts that already exist in the vector store
func filterNewArtifacts(
	ctx context.Context,
	artifacts []Artifact,
	vectorStore VectorStore,
) []Artifact {
	existingMap, err := vectorStore.Query(ctx, artifactIDs(artifacts))
	if err != nil {
		// If query fails, index everything; insertion errors surface to the caller
		log.Printf("[Index] Existence check failed, indexing all artifacts: %v", err)
		return artifacts
	}

	fresh := make([]Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if !existingMap[a.ID] {
			fresh = append(fresh, a)
		}
	}

	return fresh
}

func artifactIDs(artifacts []Artifact) []string {
	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.ID
	}
	return ids
}
