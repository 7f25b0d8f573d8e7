package rag

import (
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// SparseIndex 进程内 BM25 词法索引。
//
// 重建采用写时复制：Rebuild 在旁路构建完整快照后原子替换，
// 查询方永远只会看到完整的旧快照或完整的新快照。
type SparseIndex struct {
	k1       float64
	b        float64
	snapshot atomic.Pointer[sparseSnapshot]
}

type sparseSnapshot struct {
	passages  []types.Passage
	docTokens [][]string
	docLen    []int
	avgDocLen float64
	// term → 含该词的文档下标及词频
	postings map[string][]posting
}

type posting struct {
	doc int
	tf  int
}

// NewSparseIndex 创建空的 BM25 索引。
func NewSparseIndex(cfg config.RetrievalConfig) *SparseIndex {
	k1, b := cfg.BM25K1, cfg.BM25B
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}
	idx := &SparseIndex{k1: k1, b: b}
	idx.snapshot.Store(&sparseSnapshot{postings: map[string][]posting{}})
	return idx
}

// Rebuild 用给定 Passage 全量重建索引，构建完成后原子切换。
func (s *SparseIndex) Rebuild(passages []types.Passage) {
	snap := &sparseSnapshot{
		passages:  make([]types.Passage, len(passages)),
		docTokens: make([][]string, len(passages)),
		docLen:    make([]int, len(passages)),
		postings:  map[string][]posting{},
	}
	copy(snap.passages, passages)

	var totalLen int
	for i, p := range passages {
		tokens := TokenizeTerms(p.Text)
		snap.docTokens[i] = tokens
		snap.docLen[i] = len(tokens)
		totalLen += len(tokens)

		tf := map[string]int{}
		for _, t := range tokens {
			tf[t]++
		}
		for term, n := range tf {
			snap.postings[term] = append(snap.postings[term], posting{doc: i, tf: n})
		}
	}
	if len(passages) > 0 {
		snap.avgDocLen = float64(totalLen) / float64(len(passages))
	}

	s.snapshot.Store(snap)
}

// Len 返回当前快照中的文档数。
func (s *SparseIndex) Len() int {
	return len(s.snapshot.Load().passages)
}

// Search 对查询词打 BM25 分并按分数降序返回前 n 个 Passage，
// 返回的 Passage 副本以 BM25 分数填充 Score。无匹配返回空切片。
func (s *SparseIndex) Search(query string, n int) []types.Passage {
	snap := s.snapshot.Load()
	if len(snap.passages) == 0 || n <= 0 {
		return nil
	}

	terms := TokenizeTerms(query)
	scores := map[int]float64{}
	docCount := float64(len(snap.passages))

	for _, term := range terms {
		plist := snap.postings[term]
		if len(plist) == 0 {
			continue
		}
		// BM25 IDF，+1 保证非负
		idf := math.Log(1 + (docCount-float64(len(plist))+0.5)/(float64(len(plist))+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1 - s.b + s.b*float64(snap.docLen[p.doc])/snap.avgDocLen
			scores[p.doc] += idf * tf * (s.k1 + 1) / (tf + s.k1*norm)
		}
	}
	if len(scores) == 0 {
		return nil
	}

	docs := make([]int, 0, len(scores))
	for d := range scores {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if scores[docs[i]] != scores[docs[j]] {
			return scores[docs[i]] > scores[docs[j]]
		}
		return docs[i] < docs[j] // 同分按索引顺序，保证确定性
	})
	if len(docs) > n {
		docs = docs[:n]
	}

	out := make([]types.Passage, len(docs))
	for i, d := range docs {
		out[i] = snap.passages[d]
		out[i].Score = scores[d]
	}
	return out
}

// TokenizeTerms 把文本切成小写检索词：连续的字母/数字串为一个词，
// CJK 字符逐字成词。
func TokenizeTerms(text string) []string {
	var terms []string
	var b strings.Builder

	flush := func() {
		if b.Len() > 0 {
			terms = append(terms, b.String())
			b.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			terms = append(terms, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()

	return terms
}
