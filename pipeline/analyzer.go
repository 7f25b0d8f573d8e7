package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// Analyzer 查询意图分析阶段：抽取意图、实体、复杂度与时效性特征。
type Analyzer struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewAnalyzer 创建意图分析器。
func NewAnalyzer(provider llm.Provider, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		provider: provider,
		logger:   logger.With(zap.String("component", "analyzer")),
	}
}

var analysisSchema = types.NewObjectSchema(map[string]*types.JSONSchema{
	"intent": {
		Type: types.SchemaTypeString,
		Enum: []any{"factual_qa", "comparison", "explanation", "how_to", "code_example", "greeting"},
	},
	"entities":               {Type: types.SchemaTypeArray, Items: &types.JSONSchema{Type: types.SchemaTypeString}},
	"complexity":             {Type: types.SchemaTypeString, Enum: []any{"simple", "moderate", "multi_hop"}},
	"time_sensitive":         {Type: types.SchemaTypeBoolean},
	"requires_code_examples": {Type: types.SchemaTypeBoolean},
	"ambiguity_score":        {Type: types.SchemaTypeNumber},
}, "intent", "complexity")

const analyzerSystem = `You are a query analyst for a retrieval system.
Classify the user query and extract retrieval-relevant features.
Respond with JSON only.`

// Analyze 对查询做结构化意图分析。能力失败时返回保守的默认分析
// （factual_qa / simple，无实体），不阻断流程。
func (a *Analyzer) Analyze(ctx context.Context, query string, history []types.Turn) (*types.QueryAnalysis, error) {
	var prompt strings.Builder
	if len(history) > 0 {
		prompt.WriteString("Recent conversation:\n")
		for _, turn := range tailTurns(history, 6) {
			fmt.Fprintf(&prompt, "%s: %s\n", turn.Role, turn.Content)
		}
		prompt.WriteString("\n")
	}
	fmt.Fprintf(&prompt, "Query: %s\n\nAnalyze the query.", query)

	analysis := &types.QueryAnalysis{}
	err := llm.CompleteStructured(ctx, a.provider, &llm.CompletionRequest{
		System: analyzerSystem,
		Prompt: prompt.String(),
	}, analysisSchema, analysis)
	if err != nil {
		a.logger.Warn("query analysis failed, using conservative default", zap.Error(err))
		analysis = &types.QueryAnalysis{
			Intent:     types.IntentFactualQA,
			Complexity: types.ComplexitySimple,
		}
	}
	analysis.Normalize()

	a.logger.Debug("query analyzed",
		zap.String("intent", string(analysis.Intent)),
		zap.String("complexity", string(analysis.Complexity)),
		zap.Int("entities", len(analysis.Entities)))
	return analysis, nil
}

// tailTurns 取最近的 n 轮对话。
func tailTurns(history []types.Turn, n int) []types.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
