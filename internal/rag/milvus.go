package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for Milvus operations
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrConnectionFailed = errors.New("failed to connect to Milvus")
	ErrInsertFailed     = errors.New("failed to insert records")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// VarChar limits of the artifact collection, in bytes
const (
	maxIDLength     = 256
	maxKindLength   = 32
	maxAuthorLength = 256
	maxTextLength   = 65535
)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (e.g., 1536 for text-embedding-3-small)
	IndexType      string // Index type (default: "HNSW")
	MetricType     string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
	SearchEf       int // HNSW ef at query time (default: 64)
}

// DefaultMilvusConfig returns default configuration from environment variables
func DefaultMilvusConfig() MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	collection := os.Getenv("MILVUS_COLLECTION")
	if collection == "" {
		collection = "knowhow_artifacts"
	}

	dimension := 1536 // text-embedding-3-small
	if raw := os.Getenv("MILVUS_DIMENSION"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			dimension = n
		}
	}

	return MilvusConfig{
		Address:        address,
		CollectionName: collection,
		Dimension:      dimension,
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
		SearchEf:       64,
	}
}

// MilvusStore implements VectorStore interface using Milvus
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore creates a new Milvus vector store instance
// Connects to Milvus and ensures the collection exists with proper schema
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client: c,
		config: config,
	}

	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

// artifactSchema describes the artifact collection
func artifactSchema(name string, dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "changeset artifacts for expertise retrieval",
		AutoID:         true,
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     "artifact_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxIDLength),
				},
			},
			{
				Name:     "kind",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxKindLength),
				},
			},
			{
				Name:     "repository_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxIDLength),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxTextLength),
				},
			},
			{
				Name:     "author",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxAuthorLength),
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64, // Unix timestamp
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dimension),
				},
			},
		},
	}
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		schema := artifactSchema(m.config.CollectionName, m.config.Dimension)
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}

		if err := m.client.CreateIndex(ctx, m.config.CollectionName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Insert adds artifact records to Milvus. An empty batch is a no-op.
func (m *MilvusStore) Insert(ctx context.Context, records []ArtifactRecord) error {
	if len(records) == 0 {
		return nil
	}

	artifactIDs := make([]string, len(records))
	kinds := make([]string, len(records))
	repositoryIDs := make([]string, len(records))
	texts := make([]string, len(records))
	authors := make([]string, len(records))
	createdAts := make([]int64, len(records))
	embeddings := make([][]float32, len(records))

	for i, record := range records {
		if record.ID == "" {
			return fmt.Errorf("%w: record %d has no artifact id", ErrInsertFailed, i)
		}
		if len(record.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(record.Embedding))
		}
		artifactIDs[i] = truncateBytes(record.ID, maxIDLength)
		kinds[i] = truncateBytes(record.Kind, maxKindLength)
		repositoryIDs[i] = truncateBytes(record.RepositoryID, maxIDLength)
		texts[i] = truncateBytes(record.Text, maxTextLength)
		authors[i] = truncateBytes(record.Author, maxAuthorLength)
		createdAts[i] = record.CreatedAt.Unix()
		embeddings[i] = record.Embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("artifact_id", artifactIDs),
		entity.NewColumnVarChar("kind", kinds),
		entity.NewColumnVarChar("repository_id", repositoryIDs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("author", authors),
		entity.NewColumnInt64("created_at", createdAts),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, embeddings),
	}

	if _, err := m.client.Insert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	return nil
}

// Flush ensures inserted data is persisted
func (m *MilvusStore) Flush(ctx context.Context) error {
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}
	return nil
}

// Search performs top-K similarity search with optional filtering
func (m *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ContextChunk, error) {
	if len(queryVector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(queryVector))
	}

	ef := m.config.SearchEf
	if ef < topK {
		ef = topK
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(queryVector)}
	outputFields := []string{"artifact_id", "kind", "repository_id", "text", "author", "created_at"}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		buildFilterExpr(opts),
		outputFields,
		vectors,
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []ContextChunk{}, nil
	}

	chunks := make([]ContextChunk, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		chunk := ContextChunk{Score: results[0].Scores[i]}

		for _, field := range results[0].Fields {
			switch field.Name() {
			case "artifact_id":
				chunk.ArtifactID = field.(*entity.ColumnVarChar).Data()[i]
			case "kind":
				chunk.Kind = field.(*entity.ColumnVarChar).Data()[i]
			case "repository_id":
				chunk.RepositoryID = field.(*entity.ColumnVarChar).Data()[i]
			case "text":
				chunk.Text = field.(*entity.ColumnVarChar).Data()[i]
			case "author":
				chunk.Author = field.(*entity.ColumnVarChar).Data()[i]
			case "created_at":
				chunk.CreatedAt = time.Unix(field.(*entity.ColumnInt64).Data()[i], 0).UTC()
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Query checks which artifact IDs exist in the store
func (m *MilvusStore) Query(ctx context.Context, artifactIDs []string) (map[string]bool, error) {
	existenceMap := make(map[string]bool, len(artifactIDs))
	if len(artifactIDs) == 0 {
		return existenceMap, nil
	}
	for _, id := range artifactIDs {
		existenceMap[id] = false
	}

	results, err := m.client.Query(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		inExpr("artifact_id", artifactIDs),
		[]string{"artifact_id"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}

	for _, column := range results {
		if column.Name() != "artifact_id" {
			continue
		}
		if varcharCol, ok := column.(*entity.ColumnVarChar); ok {
			for _, id := range varcharCol.Data() {
				existenceMap[id] = true
			}
		}
	}

	return existenceMap, nil
}

// Delete removes records by artifact IDs
func (m *MilvusStore) Delete(ctx context.Context, artifactIDs []string) error {
	if len(artifactIDs) == 0 {
		return nil
	}

	if err := m.client.Delete(ctx, m.config.CollectionName, "", inExpr("artifact_id", artifactIDs)); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	return nil
}

// GetStats returns collection statistics
func (m *MilvusStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]interface{}{
		"collection": m.config.CollectionName,
		"row_count":  stats["row_count"],
	}, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// buildFilterExpr renders SearchOptions as a Milvus boolean expression
func buildFilterExpr(opts *SearchOptions) string {
	if opts == nil {
		return ""
	}

	var clauses []string
	if len(opts.ArtifactIDs) > 0 {
		clauses = append(clauses, inExpr("artifact_id", opts.ArtifactIDs))
	}
	if len(opts.Kinds) > 0 {
		clauses = append(clauses, inExpr("kind", opts.Kinds))
	}
	if opts.RepositoryID != "" {
		clauses = append(clauses, "repository_id == "+strconv.Quote(opts.RepositoryID))
	}
	return strings.Join(clauses, " and ")
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}

// truncateBytes shortens s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
