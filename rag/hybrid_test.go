package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/rerank"
	"github.com/BaSui01/ragflow/types"
)

// hashEmbedder 把文本映射到确定性向量：共享词越多，向量越接近。
type hashEmbedder struct{}

func (hashEmbedder) embed(text string) []float64 {
	vec := make([]float64, 8)
	for _, term := range TokenizeTerms(text) {
		h := 0
		for _, r := range term {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%8]++
	}
	return vec
}

func (e hashEmbedder) EmbedQuery(ctx context.Context, q string) ([]float64, error) {
	return e.embed(q), nil
}

func (e hashEmbedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i, d := range docs {
		out[i] = e.embed(d)
	}
	return out, nil
}

func (hashEmbedder) Name() string    { return "hash" }
func (hashEmbedder) Dimensions() int { return 8 }

// identityReranker 按输入顺序返回固定递减分数。
type identityReranker struct{ name string }

func (r identityReranker) Name() string { return r.name }
func (r identityReranker) Rerank(ctx context.Context, req *rerank.Request) (*rerank.Response, error) {
	n := len(req.Documents)
	if req.TopN > 0 && req.TopN < n {
		n = req.TopN
	}
	results := make([]rerank.Result, n)
	for i := 0; i < n; i++ {
		results[i] = rerank.Result{Index: i, RelevanceScore: 1.0 - float64(i)*0.1}
	}
	return &rerank.Response{Results: results, Provider: r.name}, nil
}

type failingReranker struct{ name string }

func (r failingReranker) Name() string { return r.name }
func (r failingReranker) Rerank(ctx context.Context, req *rerank.Request) (*rerank.Response, error) {
	return nil, types.NewError(types.ErrExternalTimeout, "rerank down")
}

func hybridCorpus(t *testing.T, embedder hashEmbedder) (*MemoryVectorStore, *SparseIndex) {
	t.Helper()
	ctx := context.Background()

	texts := []string{
		"reciprocal rank fusion merges ranked retrieval lists",
		"semantic chunking splits documents into coherent passages",
		"bm25 scores lexical overlap between query and passage",
		"completely unrelated cooking recipe with tomatoes",
	}
	passages := make([]types.Passage, len(texts))
	for i, text := range texts {
		vec, err := embedder.EmbedDocuments(ctx, []string{text})
		require.NoError(t, err)
		passages[i] = types.Passage{
			ID:        string(rune('a' + i)),
			Text:      text,
			Embedding: vec[0],
			Source:    types.SourceDocument,
		}
	}

	store := NewMemoryVectorStore()
	require.NoError(t, store.Upsert(ctx, passages))

	sparse := NewSparseIndex(config.RetrievalConfig{})
	sparse.Rebuild(passages)
	return store, sparse
}

func retrievalCfg() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 3, CandidateN: 10, RRFK: 60, BM25K1: 1.5, BM25B: 0.75}
}

func TestHybridSearchReturnsTopK(t *testing.T) {
	embedder := hashEmbedder{}
	store, sparse := hybridCorpus(t, embedder)
	chain := rerank.NewChain(nil, identityReranker{name: "cohere"})
	h := NewHybridRetriever(embedder, store, sparse, chain, retrievalCfg(), nil)

	result, err := h.Search(context.Background(), "rank fusion retrieval", 2)
	require.NoError(t, err)
	assert.Len(t, result.Passages, 2)
	assert.Empty(t, result.Degraded)
	assert.Equal(t, "cohere", result.Reranker)
}

func TestHybridSearchRerankSkippedOnTotalFailure(t *testing.T) {
	embedder := hashEmbedder{}
	store, sparse := hybridCorpus(t, embedder)
	chain := rerank.NewChain(nil,
		failingReranker{name: "cohere"},
		failingReranker{name: "jina"})
	h := NewHybridRetriever(embedder, store, sparse, chain, retrievalCfg(), nil)

	result, err := h.Search(context.Background(), "rank fusion retrieval", 3)
	require.NoError(t, err, "rerank failure must not fail the search")
	assert.NotEmpty(t, result.Passages, "fused order kept on rerank failure")
	assert.Contains(t, result.Degraded, DegradedRerankSkipped)
	assert.Empty(t, result.Reranker)
}

func TestHybridSearchFallbackRerankerFlagged(t *testing.T) {
	embedder := hashEmbedder{}
	store, sparse := hybridCorpus(t, embedder)
	chain := rerank.NewChain(nil,
		failingReranker{name: "cohere"},
		identityReranker{name: "jina"})
	h := NewHybridRetriever(embedder, store, sparse, chain, retrievalCfg(), nil)

	result, err := h.Search(context.Background(), "rank fusion retrieval", 3)
	require.NoError(t, err)
	assert.Contains(t, result.Degraded, DegradedRerankFallback)
	assert.Equal(t, "jina", result.Reranker)
}

func TestHybridSearchEmptyCorpus(t *testing.T) {
	embedder := hashEmbedder{}
	store := NewMemoryVectorStore()
	sparse := NewSparseIndex(config.RetrievalConfig{})
	h := NewHybridRetriever(embedder, store, sparse, nil, retrievalCfg(), nil)

	result, err := h.Search(context.Background(), "anything at all", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Passages, "empty candidates yield empty result, not an error")
	assert.Empty(t, result.Degraded)
}

func TestHybridSearchNoReranker(t *testing.T) {
	embedder := hashEmbedder{}
	store, sparse := hybridCorpus(t, embedder)
	h := NewHybridRetriever(embedder, store, sparse, nil, retrievalCfg(), nil)

	result, err := h.Search(context.Background(), "bm25 lexical overlap", 2)
	require.NoError(t, err)
	require.NotEmpty(t, result.Passages)
	assert.Empty(t, result.Degraded)
	assert.LessOrEqual(t, len(result.Passages), 2)
}
