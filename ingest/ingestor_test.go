package ingest

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/database"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// stubEmbedder 为每句产生确定性互异向量。
type stubEmbedder struct{ embedded int }

func vec(rad float64) []float64 { return []float64{math.Cos(rad), math.Sin(rad)} }

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float64, error) {
	return vec(0), nil
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = vec(float64(s.embedded+i+1) * 0.7)
	}
	s.embedded += len(docs)
	return out, nil
}

func (s *stubEmbedder) Name() string    { return "stub" }
func (s *stubEmbedder) Dimensions() int { return 2 }

func newTestIngestor(t *testing.T) (*Ingestor, *rag.MemoryVectorStore, *rag.SparseIndex) {
	t.Helper()
	chunker := rag.NewChunker(config.ChunkingConfig{
		SimilarityThreshold: 0.99,
		MaxChunkSentences:   8,
	}, &stubEmbedder{}, nil, nil)
	store := rag.NewMemoryVectorStore()
	sparse := rag.NewSparseIndex(config.RetrievalConfig{})

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ingest.db"),
	}, nil)
	require.NoError(t, err)

	in, err := NewIngestor(chunker, store, sparse, db, nil)
	require.NoError(t, err)
	return in, store, sparse
}

func TestIngestDocumentChunksAndIndexes(t *testing.T) {
	in, store, sparse := newTestIngestor(t)
	ctx := context.Background()

	res, err := in.IngestDocument(ctx, Document{
		ID:     "doc-1",
		Title:  "Raft notes",
		Source: "notes/raft.md",
		Text:   "Raft elects a leader. Followers replicate the log. 任期号单调递增。",
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, 3, res.Chunks)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, sparse.Len())

	// 稀疏索引立即可检索
	hits := sparse.Search("leader", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc-1", hits[0].DocumentID)

	// 分块带上标题元数据供引用展示
	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Raft notes", all[0].Metadata["title"])

	records, err := in.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Raft notes", records[0].Title)
	assert.Equal(t, 3, records[0].Chunks)
}

func TestIngestGeneratesDocumentID(t *testing.T) {
	in, _, _ := newTestIngestor(t)

	res, err := in.IngestDocument(context.Background(), Document{Text: "One sentence."})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	in, _, _ := newTestIngestor(t)

	_, err := in.IngestDocument(context.Background(), Document{ID: "d", Text: "   "})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestReingestReplacesOldChunks(t *testing.T) {
	in, store, _ := newTestIngestor(t)
	ctx := context.Background()

	_, err := in.IngestDocument(ctx, Document{ID: "doc-1", Text: "Alpha one. Beta two. Gamma three."})
	require.NoError(t, err)

	res, err := in.IngestDocument(ctx, Document{ID: "doc-1", Text: "Only sentence now."})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := in.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Chunks)
}

func TestDeleteDocumentClearsIndexes(t *testing.T) {
	in, store, sparse := newTestIngestor(t)
	ctx := context.Background()

	_, err := in.IngestDocument(ctx, Document{ID: "doc-1", Text: "Alpha one. Beta two."})
	require.NoError(t, err)
	require.NoError(t, in.DeleteDocument(ctx, "doc-1"))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, sparse.Len())

	records, err := in.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
