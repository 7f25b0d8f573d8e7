package rag

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/rerank"
	"github.com/BaSui01/ragflow/types"
)

// 检索降级事件标记
const (
	DegradedRerankFallback = "fallback_reranker" // 主重排器失败，回退重排器生效
	DegradedRerankSkipped  = "rerank_skipped"    // 所有重排器失败，保留融合排序
)

// SearchResult 混合检索结果。
type SearchResult struct {
	Passages []types.Passage // 最终 top-k，按相关性降序
	Degraded []string        // 本次检索发生的降级事件
	Reranker string          // 实际执行重排的提供者，未重排为空
}

// HybridRetriever 稠密 + 稀疏混合检索器。
//
// 查询流程：嵌入查询 → 并行取稠密/稀疏两路各 N 条候选 → RRF 融合 →
// 交叉编码器重排 → 截断 top-k。重排链失败时保留融合排序并记录降级，
// 检索本身不因重排失败而失败。
type HybridRetriever struct {
	embedder embedding.Provider
	store    VectorStore
	sparse   *SparseIndex
	reranker *rerank.Chain
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

// NewHybridRetriever 创建混合检索器。reranker 为 nil 时跳过重排。
func NewHybridRetriever(
	embedder embedding.Provider,
	store VectorStore,
	sparse *SparseIndex,
	reranker *rerank.Chain,
	cfg config.RetrievalConfig,
	logger *zap.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		embedder: embedder,
		store:    store,
		sparse:   sparse,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// Search 对查询执行混合检索，返回最多 topK 个 Passage。
// 两路候选都为空时返回空结果而非错误，由上游决定改写或报告无结果。
func (h *HybridRetriever) Search(ctx context.Context, query string, topK int) (*SearchResult, error) {
	if topK <= 0 {
		topK = h.cfg.TopK
	}
	candidateN := h.cfg.CandidateN
	if candidateN < topK {
		candidateN = topK
	}

	queryVec, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var dense, sparse []types.Passage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = h.store.Query(gctx, VectorQuery{
			Embedding: queryVec,
			TopK:      candidateN,
			Source:    types.SourceDocument,
		})
		return err
	})
	g.Go(func() error {
		sparse = h.sparse.Search(query, candidateN)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(dense) == 0 && len(sparse) == 0 {
		h.logger.Debug("hybrid search found no candidates", zap.String("query", query))
		return &SearchResult{}, nil
	}

	fused := FuseRRF(h.cfg.RRFK, dense, sparse)
	if len(fused) > candidateN {
		fused = fused[:candidateN]
	}

	result := &SearchResult{}
	ranked, reranker, degraded := h.rerank(ctx, query, fused, topK)
	result.Passages = ranked
	result.Reranker = reranker
	result.Degraded = degraded

	if len(result.Passages) > topK {
		result.Passages = result.Passages[:topK]
	}
	return result, nil
}

// rerank 对融合候选执行重排链。返回重排后的列表、生效的提供者与降级事件。
func (h *HybridRetriever) rerank(ctx context.Context, query string, fused []types.Passage, topK int) ([]types.Passage, string, []string) {
	if h.reranker == nil || h.reranker.Len() == 0 {
		return fused, "", nil
	}

	docs := make([]string, len(fused))
	for i, p := range fused {
		docs[i] = p.Text
	}

	resp, err := h.reranker.Rerank(ctx, &rerank.Request{
		Query:     query,
		Documents: docs,
		TopN:      topK,
	})
	if err != nil {
		h.logger.Warn("rerank chain exhausted, keeping fused order", zap.Error(err))
		return fused, "", []string{DegradedRerankSkipped}
	}

	ranked := make([]types.Passage, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(fused) {
			continue
		}
		p := fused[r.Index]
		p.Score = r.RelevanceScore
		ranked = append(ranked, p)
	}

	var degraded []string
	if resp.Provider != h.reranker.Name() {
		degraded = append(degraded, DegradedRerankFallback)
	}
	return ranked, resp.Provider, degraded
}
