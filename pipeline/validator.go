package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/types"
)

// Validator 答案验证阶段：逐句检查草稿答案是否有证据支撑。
// 只报告不改写，补救措施由 Synthesizer / orchestrator 决定。
type Validator struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewValidator 创建验证器。
func NewValidator(provider llm.Provider, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		provider: provider,
		logger:   logger.With(zap.String("component", "validator")),
	}
}

var validationSchema = types.NewObjectSchema(map[string]*types.JSONSchema{
	"supported": {Type: types.SchemaTypeArray, Items: &types.JSONSchema{Type: types.SchemaTypeBoolean}},
}, "supported")

const validatorSystem = `You verify whether claims are supported by evidence passages.
For each numbered claim output a boolean: true if at least one passage supports it.
Respond with JSON only.`

// Validate 把草稿按句切分为原子断言并逐条做支撑检查。
// 判断能力失败时保守降级：全部断言视作无支撑（Fallback 置位）。
func (v *Validator) Validate(ctx context.Context, draft string, evidence []types.Passage) (*types.ValidationReport, error) {
	claims := rag.SplitSentences(draft)
	if len(claims) == 0 {
		return &types.ValidationReport{Confidence: 0}, nil
	}
	if len(evidence) == 0 {
		return &types.ValidationReport{
			UnsupportedClaims: claims,
			TotalClaims:       len(claims),
			Confidence:        0,
		}, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Evidence passages:\n")
	for i, p := range evidence {
		fmt.Fprintf(&prompt, "[%d] %s\n", i+1, truncate(p.Text, 500))
	}
	prompt.WriteString("\nClaims:\n")
	for i, c := range claims {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, c)
	}

	var judged struct {
		Supported []bool `json:"supported"`
	}
	err := llm.CompleteStructured(ctx, v.provider, &llm.CompletionRequest{
		System: validatorSystem,
		Prompt: prompt.String(),
	}, validationSchema, &judged)
	if err != nil || len(judged.Supported) != len(claims) {
		if err == nil {
			err = types.NewError(types.ErrExternalError,
				fmt.Sprintf("validation returned %d flags for %d claims", len(judged.Supported), len(claims)))
		}
		v.logger.Warn("validation judgment failed, treating claims as unsupported", zap.Error(err))
		return &types.ValidationReport{
			UnsupportedClaims: claims,
			TotalClaims:       len(claims),
			Confidence:        0,
			Fallback:          true,
		}, nil
	}

	report := &types.ValidationReport{TotalClaims: len(claims)}
	for i, ok := range judged.Supported {
		if ok {
			report.SupportedCount++
		} else {
			report.UnsupportedClaims = append(report.UnsupportedClaims, claims[i])
		}
	}
	report.Confidence = float64(report.SupportedCount) / float64(report.TotalClaims)

	v.logger.Debug("validation completed",
		zap.Int("claims", report.TotalClaims),
		zap.Int("supported", report.SupportedCount),
		zap.Float64("confidence", report.Confidence))
	return report, nil
}
