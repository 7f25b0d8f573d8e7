package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/types"
)

// Chunker Max-Min 语义分块器。
//
// 对文档的有序句子序列做单遍聚类：维护一个打开的当前块，新句子与块内
// 所有句子的最大余弦相似度 max_sim ≥ τ 且块未满时并入，否则关闭当前块
// 并以该句子开启新块。关闭的块作为 Passage 发出，cohesion 为块内全部
// 两两相似度的平均值。
type Chunker struct {
	cfg       config.ChunkingConfig
	embedder  embedding.Provider
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewChunker 创建语义分块器。tokenizer 可为 nil，此时不做 token 预算限制。
func NewChunker(cfg config.ChunkingConfig, embedder embedding.Provider, tokenizer Tokenizer, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{
		cfg:       cfg,
		embedder:  embedder,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "chunker")),
	}
}

// ChunkDocument 将一篇文档切分为语义连贯的 Passage 序列。
// 句子嵌入一次性批量计算，每个 Passage 的 Embedding 为其句子嵌入的均值。
func (c *Chunker) ChunkDocument(ctx context.Context, docID, text string) ([]types.Passage, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	embeddings, err := c.embedder.EmbedDocuments(ctx, sentences)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(sentences) {
		return nil, types.NewError(types.ErrExternalError,
			fmt.Sprintf("embedding count mismatch: %d sentences, %d vectors", len(sentences), len(embeddings)))
	}

	passages := c.ChunkSentences(docID, sentences, embeddings)
	c.logger.Debug("document chunked",
		zap.String("document_id", docID),
		zap.Int("sentences", len(sentences)),
		zap.Int("chunks", len(passages)))
	return passages, nil
}

// ChunkSentences 对已带嵌入的句子序列执行 Max-Min 聚类。
// 每个输入句子恰好落入一个输出块，块大小不超过配置的句子上限。
func (c *Chunker) ChunkSentences(docID string, sentences []string, embeddings [][]float64) []types.Passage {
	if len(sentences) == 0 {
		return nil
	}

	var passages []types.Passage
	cur := []int{0} // 当前块内句子下标

	flush := func() {
		passages = append(passages, c.buildPassage(docID, len(passages), sentences, embeddings, cur))
	}

	for i := 1; i < len(sentences); i++ {
		maxSim := math.Inf(-1)
		for _, j := range cur {
			if sim := CosineSimilarity(embeddings[i], embeddings[j]); sim > maxSim {
				maxSim = sim
			}
		}

		if maxSim >= c.cfg.SimilarityThreshold && len(cur) < c.cfg.MaxChunkSentences && c.withinTokenBudget(sentences, cur, i) {
			cur = append(cur, i)
			continue
		}
		flush()
		cur = []int{i}
	}
	flush()

	return passages
}

// withinTokenBudget 判断把句子 next 并入当前块后是否仍在 token 预算内。
func (c *Chunker) withinTokenBudget(sentences []string, cur []int, next int) bool {
	if c.cfg.MaxChunkTokens <= 0 || c.tokenizer == nil {
		return true
	}
	total := c.tokenizer.CountTokens(sentences[next])
	for _, j := range cur {
		total += c.tokenizer.CountTokens(sentences[j])
	}
	return total <= c.cfg.MaxChunkTokens
}

func (c *Chunker) buildPassage(docID string, chunkIndex int, sentences []string, embeddings [][]float64, idx []int) types.Passage {
	texts := make([]string, len(idx))
	vecs := make([][]float64, len(idx))
	for i, j := range idx {
		texts[i] = sentences[j]
		vecs[i] = embeddings[j]
	}

	return types.Passage{
		ID:         uuid.NewString(),
		DocumentID: docID,
		ChunkIndex: chunkIndex,
		Text:       strings.Join(texts, " "),
		Embedding:  meanVector(vecs),
		Source:     types.SourceDocument,
		Cohesion:   cohesion(vecs),
	}
}

// cohesion 块内全部两两相似度的平均值；单句块按约定返回 1.0。
func cohesion(vecs [][]float64) float64 {
	if len(vecs) <= 1 {
		return 1.0
	}
	var sum float64
	var n int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += CosineSimilarity(vecs[i], vecs[j])
			n++
		}
	}
	return sum / float64(n)
}

func meanVector(vecs [][]float64) []float64 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}
	mean := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			mean[i] += v[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vecs))
	}
	return mean
}

// CosineSimilarity 计算两个向量的余弦相似度，零向量或维度不一致返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sentenceTerminators 句子终结符，覆盖中英文标点。
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '；': true,
}

// SplitSentences 按句子边界切分文本，保留终结符，丢弃空白句。
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if !sentenceTerminators[r] {
			if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
				flush() // 段落边界同样作为句子边界
			}
			continue
		}
		// 避免把 "3.14" 或 "v1.2" 里的点当作句号
		if r == '.' && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		flush()
	}
	flush()

	return sentences
}
