package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// Rewriter 查询改写阶段：检索质量不足时生成新的查询表述。
// 预算控制在 orchestrator，Rewriter 只负责产出改写。
type Rewriter struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewRewriter 创建查询改写器。
func NewRewriter(provider llm.Provider, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{
		provider: provider,
		logger:   logger.With(zap.String("component", "rewriter")),
	}
}

var rewriteSchema = types.NewObjectSchema(map[string]*types.JSONSchema{
	"query": {Type: types.SchemaTypeString, Description: "the rewritten search query"},
}, "query")

const rewriterSystem = `You rewrite search queries that retrieved poor results.
Keep the user's intent, add missing entities, and adjust specificity.
Respond with JSON only.`

// Rewrite 基于原始查询、当前查询与低分原因生成改写。
// 能力失败或产出空串/原样查询时返回当前查询，调用方据此判定改写无效。
func (r *Rewriter) Rewrite(ctx context.Context, originalQuery, currentQuery, reason string) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Original query: %s\n", originalQuery)
	if currentQuery != originalQuery {
		fmt.Fprintf(&prompt, "Current query: %s\n", currentQuery)
	}
	if reason != "" {
		fmt.Fprintf(&prompt, "Why results were poor: %s\n", reason)
	}
	prompt.WriteString("\nRewrite the query to retrieve better passages.")

	var out struct {
		Query string `json:"query"`
	}
	err := llm.CompleteStructured(ctx, r.provider, &llm.CompletionRequest{
		System: rewriterSystem,
		Prompt: prompt.String(),
	}, rewriteSchema, &out)
	if err != nil {
		r.logger.Warn("rewrite failed, keeping current query", zap.Error(err))
		return currentQuery, nil
	}

	rewritten := strings.TrimSpace(out.Query)
	if rewritten == "" {
		return currentQuery, nil
	}

	r.logger.Debug("query rewritten",
		zap.String("from", currentQuery),
		zap.String("to", rewritten))
	return rewritten, nil
}
