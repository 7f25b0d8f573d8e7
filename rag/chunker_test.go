package rag

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/ragflow/config"
)

func chunkerFor(tau float64, maxSentences int) *Chunker {
	return NewChunker(config.ChunkingConfig{
		SimilarityThreshold: tau,
		MaxChunkSentences:   maxSentences,
	}, nil, nil, nil)
}

// unitVec 单位圆上角度为 rad 的二维向量，角度差直接决定余弦相似度。
func unitVec(rad float64) []float64 {
	return []float64{math.Cos(rad), math.Sin(rad)}
}

func TestChunkSentencesSingleSentence(t *testing.T) {
	c := chunkerFor(0.5, 12)
	passages := c.ChunkSentences("doc1", []string{"only sentence."}, [][]float64{unitVec(0)})

	require.Len(t, passages, 1)
	assert.Equal(t, "only sentence.", passages[0].Text)
	assert.Equal(t, 1.0, passages[0].Cohesion, "single-sentence chunk cohesion is 1.0 by convention")
	assert.Equal(t, "doc1", passages[0].DocumentID)
	assert.Equal(t, 0, passages[0].ChunkIndex)
}

func TestChunkSentencesMergeAndSplit(t *testing.T) {
	c := chunkerFor(0.9, 12)
	sentences := []string{"a.", "b.", "c."}
	embeddings := [][]float64{
		unitVec(0),
		unitVec(0.1),           // cos(0.1) ≈ 0.995 ≥ 0.9，并入
		unitVec(math.Pi / 2),   // 与前两句正交，新块
	}

	passages := c.ChunkSentences("doc1", sentences, embeddings)
	require.Len(t, passages, 2)
	assert.Equal(t, "a. b.", passages[0].Text)
	assert.Equal(t, "c.", passages[1].Text)
	assert.Greater(t, passages[0].Cohesion, 0.9)
	assert.Equal(t, 1.0, passages[1].Cohesion)
	assert.Equal(t, 0, passages[0].ChunkIndex)
	assert.Equal(t, 1, passages[1].ChunkIndex)
}

func TestChunkSentencesMaxSizeForcesSplit(t *testing.T) {
	// 全部句子两两相似，但 S=2 强制切块
	c := chunkerFor(0.5, 2)
	sentences := []string{"a.", "b.", "c.", "d.", "e."}
	embeddings := make([][]float64, len(sentences))
	for i := range embeddings {
		embeddings[i] = unitVec(float64(i) * 0.01)
	}

	passages := c.ChunkSentences("doc1", sentences, embeddings)
	require.Len(t, passages, 3)
	for _, p := range passages[:2] {
		assert.Len(t, splitWords(p.Text), 2)
	}
}

func TestChunkSentencesTokenBudget(t *testing.T) {
	c := NewChunker(config.ChunkingConfig{
		SimilarityThreshold: 0.0,
		MaxChunkSentences:   10,
		MaxChunkTokens:      15,
	}, nil, fixedCounter{perText: 10}, nil)

	sentences := []string{"a.", "b.", "c."}
	embeddings := [][]float64{unitVec(0), unitVec(0), unitVec(0)}

	// 每句 10 token，两句 20 > 15，即使语义完全相同也各自成块
	passages := c.ChunkSentences("doc1", sentences, embeddings)
	assert.Len(t, passages, 3)
}

type fixedCounter struct{ perText int }

func (f fixedCounter) CountTokens(string) int { return f.perText }

func TestChunkSentencesTauOneNoMerges(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(rt, "n")
		c := chunkerFor(1.0, 12)

		sentences := make([]string, n)
		embeddings := make([][]float64, n)
		for i := 0; i < n; i++ {
			sentences[i] = "s"
			// 互不相同的角度保证任意两句相似度严格小于 1
			embeddings[i] = unitVec(float64(i+1) * 0.05)
		}

		passages := c.ChunkSentences("doc", sentences, embeddings)
		if len(passages) != n {
			rt.Fatalf("τ=1.0 must put every sentence in its own chunk: got %d chunks for %d sentences", len(passages), n)
		}
	})
}

func TestChunkSentencesPartitionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(rt, "n")
		maxSize := rapid.IntRange(1, 8).Draw(rt, "max_size")
		tau := rapid.Float64Range(0, 1).Draw(rt, "tau")
		c := chunkerFor(tau, maxSize)

		sentences := make([]string, n)
		embeddings := make([][]float64, n)
		for i := 0; i < n; i++ {
			sentences[i] = "w" // 单词句子，便于按词重新计数
			embeddings[i] = unitVec(rapid.Float64Range(0, 2*math.Pi).Draw(rt, "angle"))
		}

		passages := c.ChunkSentences("doc", sentences, embeddings)

		total := 0
		for i, p := range passages {
			size := len(splitWords(p.Text))
			if size > maxSize {
				rt.Fatalf("chunk %d has %d sentences, exceeds max %d", i, size, maxSize)
			}
			if p.ChunkIndex != i {
				rt.Fatalf("chunk index %d != position %d", p.ChunkIndex, i)
			}
			total += size
		}
		if total != n {
			rt.Fatalf("partition violated: %d sentences in, %d out", n, total)
		}
	})
}

func TestChunkDocumentEmbedsSentences(t *testing.T) {
	embedder := &sequentialEmbedder{dim: 2}
	c := NewChunker(config.ChunkingConfig{
		SimilarityThreshold: 0.99,
		MaxChunkSentences:   12,
	}, embedder, nil, nil)

	passages, err := c.ChunkDocument(context.Background(), "doc1",
		"First sentence here. Second sentence here. 第三句在这里。")
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	total := 0
	for _, p := range passages {
		assert.Equal(t, "doc1", p.DocumentID)
		assert.NotEmpty(t, p.ID)
		assert.NotEmpty(t, p.Embedding)
		total++
	}
	assert.Equal(t, 3, total, "dissimilar sentences stay in separate chunks")
	assert.Equal(t, 3, embedder.embedded, "all sentences embedded in one batch")
}

func TestChunkDocumentEmptyText(t *testing.T) {
	c := chunkerFor(0.5, 12)
	passages, err := c.ChunkDocument(context.Background(), "doc1", "   \n ")
	require.NoError(t, err)
	assert.Empty(t, passages)
}

// sequentialEmbedder 为每个文本产生确定性的互异向量。
type sequentialEmbedder struct {
	dim      int
	embedded int
}

func (s *sequentialEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return unitVec(0), nil
}

func (s *sequentialEmbedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float64, error) {
	out := make([][]float64, len(docs))
	for i := range docs {
		out[i] = unitVec(float64(s.embedded+i+1) * 0.7)
	}
	s.embedded += len(docs)
	return out, nil
}

func (s *sequentialEmbedder) Name() string    { return "stub" }
func (s *sequentialEmbedder) Dimensions() int { return s.dim }

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "english sentences",
			input:    "Hello world. How are you? Fine!",
			expected: []string{"Hello world.", "How are you?", "Fine!"},
		},
		{
			name:     "decimal point not a boundary",
			input:    "Pi is 3.14 approximately. Next sentence.",
			expected: []string{"Pi is 3.14 approximately.", "Next sentence."},
		},
		{
			name:     "chinese punctuation",
			input:    "你好世界。今天怎么样？很好！",
			expected: []string{"你好世界。", "今天怎么样？", "很好！"},
		},
		{
			name:     "paragraph break without terminator",
			input:    "first paragraph\n\nsecond paragraph",
			expected: []string{"first paragraph", "second paragraph"},
		},
		{
			name:     "blank input",
			input:    "  \n ",
			expected: nil,
		},
		{
			name:     "trailing text without terminator",
			input:    "Complete sentence. trailing fragment",
			expected: []string{"Complete sentence.", "trailing fragment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitSentences(tt.input))
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}), "zero vector")
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 0}), "dimension mismatch")
}

func splitWords(s string) []string {
	var words []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				words = append(words, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		words = append(words, cur)
	}
	return words
}
