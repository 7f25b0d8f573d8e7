package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/types"
)

// Grader 检索质量评分阶段。
//
// 外部判断能力对每个候选 Passage 给出二元相关性标记，Grader 自身只做
// 聚合：质量分 = 相关 Passage 的排名加权占比（名次越靠前权重越大）。
// 判断能力失败时降级：全部候选视作相关，质量分取检索分均值。
type Grader struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewGrader 创建评分器。
func NewGrader(provider llm.Provider, logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grader{
		provider: provider,
		logger:   logger.With(zap.String("component", "grader")),
	}
}

var gradingSchema = types.NewObjectSchema(map[string]*types.JSONSchema{
	"relevant": {Type: types.SchemaTypeArray, Items: &types.JSONSchema{Type: types.SchemaTypeBoolean}},
	"reason":   {Type: types.SchemaTypeString},
}, "relevant")

const graderSystem = `You judge whether retrieved passages are relevant to a query.
For each numbered passage output a boolean in the same order.
If most passages miss the point, explain briefly what is missing (entities, specificity).
Respond with JSON only.`

// Grade 对候选集评分。候选为空直接返回 0 分报告。
func (g *Grader) Grade(ctx context.Context, query string, passages []types.Passage) (*types.GradingReport, error) {
	if len(passages) == 0 {
		return &types.GradingReport{Score: 0, Relevant: []bool{}}, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nPassages:\n", query)
	for i, p := range passages {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, truncate(p.Text, 500))
	}

	var judged struct {
		Relevant []bool `json:"relevant"`
		Reason   string `json:"reason"`
	}
	err := llm.CompleteStructured(ctx, g.provider, &llm.CompletionRequest{
		System: graderSystem,
		Prompt: prompt.String(),
	}, gradingSchema, &judged)
	if err != nil || len(judged.Relevant) != len(passages) {
		if err == nil {
			err = types.NewError(types.ErrExternalError,
				fmt.Sprintf("grading returned %d flags for %d passages", len(judged.Relevant), len(passages)))
		}
		g.logger.Warn("grading judgment failed, degrading to retrieval scores", zap.Error(err))
		return g.fallbackReport(passages), nil
	}

	report := &types.GradingReport{
		Relevant: judged.Relevant,
		Reason:   judged.Reason,
		Score:    rankWeightedScore(judged.Relevant),
	}
	g.logger.Debug("grading completed",
		zap.Float64("score", report.Score),
		zap.Int("passages", len(passages)))
	return report, nil
}

// fallbackReport 判断能力失败时的保守降级：全部视作相关，
// 质量分取检索分均值并截断到 [0,1]。
func (g *Grader) fallbackReport(passages []types.Passage) *types.GradingReport {
	relevant := make([]bool, len(passages))
	var sum float64
	for i, p := range passages {
		relevant[i] = true
		sum += clamp01(p.Score)
	}
	return &types.GradingReport{
		Score:    sum / float64(len(passages)),
		Relevant: relevant,
		Fallback: true,
	}
}

// rankWeightedScore 排名加权相关占比：第 i 名的权重为 1/i。
func rankWeightedScore(relevant []bool) float64 {
	var got, total float64
	for i, r := range relevant {
		w := 1.0 / float64(i+1)
		total += w
		if r {
			got += w
		}
	}
	if total == 0 {
		return 0
	}
	return got / total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
