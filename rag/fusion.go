package rag

import (
	"sort"

	"github.com/BaSui01/ragflow/types"
)

// fusedEntry RRF 融合的中间结果
type fusedEntry struct {
	passage  types.Passage
	score    float64
	bestRank int // 在任一列表中的最好（最小）名次
	firstPos int // 首次出现的 (列表序号, 列表内名次)，用于最终决胜
}

// FuseRRF 用 Reciprocal Rank Fusion 合并多个排名列表。
//
// 每个 Passage 的融合分 = Σ 1/(k+rank)，rank 从 1 起，只出现在某一个
// 列表中的 Passage 同样参与。结果按融合分降序构成全序：同分先比较各自
// 在单个列表中的最好名次，再比较首次出现位置，不保留并列。
// 返回的 Passage 副本以融合分填充 Score。
func FuseRRF(k int, lists ...[]types.Passage) []types.Passage {
	if k <= 0 {
		k = 60
	}

	order := make([]string, 0)
	entries := map[string]*fusedEntry{}

	for li, list := range lists {
		for rank, p := range list {
			e, ok := entries[p.ID]
			if !ok {
				e = &fusedEntry{
					passage:  p,
					bestRank: rank + 1,
					firstPos: li*1_000_000 + rank,
				}
				entries[p.ID] = e
				order = append(order, p.ID)
			}
			e.score += 1.0 / float64(k+rank+1)
			if rank+1 < e.bestRank {
				e.bestRank = rank + 1
			}
		}
	}
	if len(entries) == 0 {
		return nil
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, id := range order {
		fused = append(fused, entries[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].bestRank != fused[j].bestRank {
			return fused[i].bestRank < fused[j].bestRank
		}
		return fused[i].firstPos < fused[j].firstPos
	})

	out := make([]types.Passage, len(fused))
	for i, e := range fused {
		out[i] = e.passage
		out[i].Score = e.score
	}
	return out
}
