package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// VectorSearcher 文档混合检索策略契约。
type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int) (*rag.SearchResult, error)
}

// GraphRetriever 知识图谱检索策略契约。
type GraphRetriever interface {
	Retrieve(ctx context.Context, query string, entities []string, limit int) ([]types.Passage, error)
}

// WebRetriever 实时网页检索策略契约。
type WebRetriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]types.Passage, error)
}

// Retriever 多策略扇出检索。
//
// 路由选中的策略并发执行，各自带独立超时；单个策略失败只会被记录并
// 从候选池剔除，只要还有一个策略成功整步就成功。全部失败返回
// NO_RETRIEVAL_RESULTS。
type Retriever struct {
	vector VectorSearcher
	graph  GraphRetriever
	web    WebRetriever

	timeout time.Duration
	topK    int
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRetriever 创建扇出检索器。graph / web 可为 nil，表示对应策略未部署。
func NewRetriever(vector VectorSearcher, graph GraphRetriever, web WebRetriever, timeout time.Duration, topK int, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if topK <= 0 {
		topK = 10
	}
	return &Retriever{
		vector:  vector,
		graph:   graph,
		web:     web,
		timeout: timeout,
		topK:    topK,
		logger:  logger.With(zap.String("component", "fanout_retriever")),
	}
}

// WithMetrics 附加指标收集器，记录单策略失败次数。
func (r *Retriever) WithMetrics(c *metrics.Collector) *Retriever {
	r.metrics = c
	return r
}

// Retrieve 并发执行选中的策略，返回各策略独立的结果与降级事件。
// 全部策略都失败时返回 NO_RETRIEVAL_RESULTS。
func (r *Retriever) Retrieve(ctx context.Context, qc *types.QueryContext) (map[types.RetrievalStrategy][]types.Passage, []string, error) {
	if len(qc.Strategies) == 0 {
		return nil, nil, types.NewError(types.ErrInternalError, "no strategies selected")
	}

	var (
		mu       sync.Mutex
		results  = map[types.RetrievalStrategy][]types.Passage{}
		degraded []string
		failed   int
		lastErr  error
	)

	g := &errgroup.Group{}
	for _, strategy := range qc.Strategies {
		strategy := strategy
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			passages, flags, err := r.runStrategy(sctx, strategy, qc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				if r.metrics != nil {
					r.metrics.RecordStrategyFailure(string(strategy))
				}
				r.logger.Warn("retrieval strategy failed",
					zap.String("strategy", string(strategy)),
					zap.Error(err))
				return nil // 单策略失败不终止扇出
			}
			results[strategy] = passages
			degraded = append(degraded, flags...)
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(qc.Strategies) {
		return nil, nil, types.NewError(types.ErrNoRetrievalResults,
			"all retrieval strategies failed").WithCause(lastErr)
	}

	r.logger.Debug("fan-out retrieval completed",
		zap.Int("strategies", len(qc.Strategies)),
		zap.Int("failed", failed))
	return results, degraded, nil
}

func (r *Retriever) runStrategy(ctx context.Context, strategy types.RetrievalStrategy, qc *types.QueryContext) ([]types.Passage, []string, error) {
	switch strategy {
	case types.StrategyVector:
		if r.vector == nil {
			return nil, nil, types.NewError(types.ErrInternalError, "vector strategy not configured")
		}
		result, err := r.vector.Search(ctx, qc.CurrentQuery, r.topK)
		if err != nil {
			return nil, nil, err
		}
		return result.Passages, result.Degraded, nil

	case types.StrategyGraph:
		if r.graph == nil {
			return nil, nil, types.NewError(types.ErrInternalError, "graph strategy not configured")
		}
		var entities []string
		if qc.Analysis != nil {
			entities = qc.Analysis.Entities
		}
		passages, err := r.graph.Retrieve(ctx, qc.CurrentQuery, entities, r.topK)
		return passages, nil, err

	case types.StrategyWeb:
		if r.web == nil {
			return nil, nil, types.NewError(types.ErrInternalError, "web strategy not configured")
		}
		passages, err := r.web.Retrieve(ctx, qc.CurrentQuery, r.topK)
		return passages, nil, err

	default:
		return nil, nil, types.NewError(types.ErrInternalError, "unknown strategy "+string(strategy))
	}
}

// MergeCandidates 把各策略结果合并为单一候选池，按分数降序，带上限。
func MergeCandidates(results map[types.RetrievalStrategy][]types.Passage, limit int) []types.Passage {
	var merged []types.Passage
	// 按固定策略顺序合并，保证同分时顺序确定
	for _, strategy := range []types.RetrievalStrategy{types.StrategyVector, types.StrategyGraph, types.StrategyWeb} {
		merged = append(merged, results[strategy]...)
	}

	seen := map[string]bool{}
	out := merged[:0]
	for _, p := range merged {
		if p.ID != "" && seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
