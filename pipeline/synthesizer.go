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

// Synthesizer 答案合成阶段：基于证据与会话历史生成最终答案与引用。
type Synthesizer struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewSynthesizer 创建合成器。
func NewSynthesizer(provider llm.Provider, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		provider: provider,
		logger:   logger.With(zap.String("component", "synthesizer")),
	}
}

const synthesizerSystem = `You answer questions strictly from the provided evidence passages.
Every factual sentence must be traceable to at least one passage.
Do not invent facts. Answer in the language of the question.`

// Synthesize 生成草稿答案。引用列表来自实际使用的证据集合。
func (s *Synthesizer) Synthesize(ctx context.Context, query string, evidence []types.Passage, history []types.Turn) (string, []types.Citation, error) {
	var prompt strings.Builder
	if len(history) > 0 {
		prompt.WriteString("Conversation so far:\n")
		for _, turn := range tailTurns(history, 6) {
			fmt.Fprintf(&prompt, "%s: %s\n", turn.Role, turn.Content)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Evidence passages:\n")
	for i, p := range evidence {
		fmt.Fprintf(&prompt, "[%d] %s\n", i+1, truncate(p.Text, 800))
	}
	fmt.Fprintf(&prompt, "\nQuestion: %s\n\nAnswer using only the evidence above.", query)

	resp, err := s.provider.Complete(ctx, &llm.CompletionRequest{
		System: synthesizerSystem,
		Prompt: prompt.String(),
	})
	if err != nil {
		return "", nil, err
	}

	answer := strings.TrimSpace(resp.Text)
	citations := BuildCitations(evidence)

	s.logger.Debug("answer synthesized",
		zap.Int("evidence", len(evidence)),
		zap.Int("answer_chars", len(answer)))
	return answer, citations, nil
}

// TrimUnsupported 按验证报告删掉无支撑的句子。
// 验证报告为空或全部支撑时原样返回。
func TrimUnsupported(answer string, report *types.ValidationReport) string {
	if report == nil || len(report.UnsupportedClaims) == 0 {
		return answer
	}

	unsupported := make(map[string]bool, len(report.UnsupportedClaims))
	for _, c := range report.UnsupportedClaims {
		unsupported[strings.TrimSpace(c)] = true
	}

	var kept []string
	for _, sentence := range rag.SplitSentences(answer) {
		if !unsupported[strings.TrimSpace(sentence)] {
			kept = append(kept, sentence)
		}
	}
	return strings.Join(kept, " ")
}

// BuildCitations 把证据集合转换为引用列表，引用永远是证据的子集。
func BuildCitations(evidence []types.Passage) []types.Citation {
	citations := make([]types.Citation, 0, len(evidence))
	for _, p := range evidence {
		c := types.Citation{
			PassageID: p.ID,
			Source:    p.Source,
			Score:     p.Score,
		}
		if p.DocumentID != "" {
			c.Locator = fmt.Sprintf("%s#%d", p.DocumentID, p.ChunkIndex)
		}
		if title, ok := p.Metadata["title"].(string); ok {
			c.Title = title
		}
		if url, ok := p.Metadata["url"].(string); ok {
			c.Locator = url
		}
		if name, ok := p.Metadata["entity_name"].(string); ok && c.Title == "" {
			c.Title = name
		}
		citations = append(citations, c)
	}
	return citations
}
