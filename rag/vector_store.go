package rag

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/ragflow/types"
)

// VectorQuery 稠密检索请求
type VectorQuery struct {
	Embedding  []float64        // 查询向量
	TopK       int              // 返回条数
	Source     types.SourceType // 可选：按来源过滤
	DocumentID string           // 可选：按文档过滤
}

// VectorStore 稠密向量索引契约。
// 实现：内存（测试/单机）、Qdrant、pgvector。
type VectorStore interface {
	// Upsert 写入或覆盖 Passage（按 ID 幂等）。
	Upsert(ctx context.Context, passages []types.Passage) error
	// Query 返回与查询向量最相似的 Passage，Score 为余弦相似度。
	Query(ctx context.Context, q VectorQuery) ([]types.Passage, error)
	// DeleteByDocument 删除某文档的全部 Passage。
	DeleteByDocument(ctx context.Context, documentID string) error
	// Count 返回索引内 Passage 总数。
	Count(ctx context.Context) (int, error)
}

// MemoryVectorStore 进程内向量索引，精确余弦相似度扫描。
type MemoryVectorStore struct {
	mu       sync.RWMutex
	passages map[string]types.Passage
}

// NewMemoryVectorStore 创建空的内存向量索引。
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{passages: map[string]types.Passage{}}
}

func (m *MemoryVectorStore) Upsert(ctx context.Context, passages []types.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range passages {
		m.passages[p.ID] = p
	}
	return nil
}

func (m *MemoryVectorStore) Query(ctx context.Context, q VectorQuery) ([]types.Passage, error) {
	if q.TopK <= 0 || len(q.Embedding) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	scored := make([]types.Passage, 0, len(m.passages))
	for _, p := range m.passages {
		if q.Source != "" && p.Source != q.Source {
			continue
		}
		if q.DocumentID != "" && p.DocumentID != q.DocumentID {
			continue
		}
		p.Score = CosineSimilarity(q.Embedding, p.Embedding)
		scored = append(scored, p)
	}
	m.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > q.TopK {
		scored = scored[:q.TopK]
	}
	return scored, nil
}

func (m *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.passages {
		if p.DocumentID == documentID {
			delete(m.passages, id)
		}
	}
	return nil
}

func (m *MemoryVectorStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.passages), nil
}

// All 返回全部 Passage 的快照，供稀疏索引重建使用。
func (m *MemoryVectorStore) All(ctx context.Context) ([]types.Passage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Passage, 0, len(m.passages))
	for _, p := range m.passages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
