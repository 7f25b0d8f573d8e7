package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// Retriever 把图遍历结果适配为检索 Passage。
type Retriever struct {
	client Client
	cfg    config.GraphConfig
	logger *zap.Logger
}

// NewRetriever 创建图检索策略。
func NewRetriever(client Client, cfg config.GraphConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxHopDepth <= 0 {
		cfg.MaxHopDepth = 2
	}
	return &Retriever{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "graph_retriever")),
	}
}

// Retrieve 以抽取的实体为起点遍历图，把实体与路径转换为 source=graph
// 的 Passage。没有实体可用时直接返回空结果。
func (r *Retriever) Retrieve(ctx context.Context, query string, entities []string, limit int) ([]types.Passage, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	result, err := r.client.Traverse(ctx, TraversalQuery{
		Entities: entities,
		MaxDepth: r.cfg.MaxHopDepth,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	passages := make([]types.Passage, 0, len(result.Entities)+len(result.Paths))
	for i, e := range result.Entities {
		score := e.Score
		if score == 0 {
			// 图网关未打分时按匹配顺序衰减
			score = 1.0 / float64(i+1)
		}
		passages = append(passages, types.Passage{
			ID:     "graph:entity:" + e.ID,
			Text:   entityText(e),
			Source: types.SourceGraph,
			Score:  score,
			Metadata: map[string]any{
				"entity_id":   e.ID,
				"entity_name": e.Name,
				"entity_type": e.Type,
			},
		})
	}
	for i, p := range result.Paths {
		text := pathText(p)
		if text == "" {
			continue
		}
		passages = append(passages, types.Passage{
			ID:     fmt.Sprintf("graph:path:%d", i),
			Text:   text,
			Source: types.SourceGraph,
			Score:  1.0 / float64(i+2),
			Metadata: map[string]any{
				"path_length": len(p.Relations),
			},
		})
	}

	if len(passages) > limit {
		passages = passages[:limit]
	}

	r.logger.Debug("graph retrieval completed",
		zap.String("query", query),
		zap.Strings("entities", entities),
		zap.Int("passages", len(passages)))
	return passages, nil
}

// entityText 把实体渲染成可被评分与引用的自然语言片段。
func entityText(e Entity) string {
	var b strings.Builder
	b.WriteString(e.Name)
	if e.Type != "" {
		b.WriteString(" (")
		b.WriteString(e.Type)
		b.WriteString(")")
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// pathText 把关系路径渲染为 "A -[rel]-> B -[rel]-> C" 形式。
func pathText(p Path) string {
	if len(p.Nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Nodes[0])
	for i, rel := range p.Relations {
		if i+1 >= len(p.Nodes) {
			break
		}
		b.WriteString(" -[")
		b.WriteString(rel)
		b.WriteString("]-> ")
		b.WriteString(p.Nodes[i+1])
	}
	return b.String()
}
