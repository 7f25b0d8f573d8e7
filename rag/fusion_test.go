package rag

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/ragflow/types"
)

func ps(ids ...string) []types.Passage {
	out := make([]types.Passage, len(ids))
	for i, id := range ids {
		out[i] = types.Passage{ID: id, Text: "text-" + id}
	}
	return out
}

func TestFuseRRFScores(t *testing.T) {
	// a 在两个列表都排第 1：1/61 + 1/61
	// b 只在列表 1 排第 2：1/62
	fused := FuseRRF(60, ps("a", "b"), ps("a"))

	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.InDelta(t, 2.0/61.0, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62.0, fused[1].Score, 1e-12)
}

func TestFuseRRFSingleListMembershipQualifies(t *testing.T) {
	fused := FuseRRF(60, ps("a", "b"), ps("c"))
	ids := make([]string, len(fused))
	for i, p := range fused {
		ids[i] = p.ID
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestFuseRRFTieBreakByFirstPosition(t *testing.T) {
	// x: 列表1 第1 + 列表2 第3；y: 列表1 第3 + 列表2 第1 —— 融合分相同，
	// 最好名次也相同（都是 1），按首次出现位置取 x
	fused := FuseRRF(60, ps("x", "z", "y"), ps("y", "z", "x"))

	require.Len(t, fused, 3)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	assert.Equal(t, "x", fused[0].ID)
	assert.Equal(t, "y", fused[1].ID)
	assert.Equal(t, "z", fused[2].ID)
}

func TestFuseRRFTieBreakByBestRank(t *testing.T) {
	// d/c 各自是单列表第 1（同分），a/b 各自是单列表第 2（同分）
	// 同分同最好名次时列表 1 的成员先出现
	fused := FuseRRF(60, ps("d", "a"), ps("c", "b"))

	require.Len(t, fused, 4)
	// d 与 c 同分（各自第 1），a 与 b 同分（各自第 2）
	assert.Equal(t, "d", fused[0].ID)
	assert.Equal(t, "c", fused[1].ID)
	assert.Equal(t, "a", fused[2].ID)
	assert.Equal(t, "b", fused[3].ID)
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	assert.Nil(t, FuseRRF(60))
	assert.Nil(t, FuseRRF(60, nil, nil))
}

func TestFuseRRFDefaultK(t *testing.T) {
	fused := FuseRRF(0, ps("a"))
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12)
}

func TestFuseRRFTotalOrderDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n1 := rapid.IntRange(0, 20).Draw(rt, "n1")
		n2 := rapid.IntRange(0, 20).Draw(rt, "n2")

		list1 := make([]types.Passage, n1)
		for i := range list1 {
			list1[i] = types.Passage{ID: fmt.Sprintf("p%d", rapid.IntRange(0, 30).Draw(rt, "id1"))}
		}
		list2 := make([]types.Passage, n2)
		for i := range list2 {
			list2[i] = types.Passage{ID: fmt.Sprintf("p%d", rapid.IntRange(0, 30).Draw(rt, "id2"))}
		}
		// 列表内去重，排名列表不含重复项
		list1 = dedupeByID(list1)
		list2 = dedupeByID(list2)

		a := FuseRRF(60, list1, list2)
		b := FuseRRF(60, list1, list2)

		if len(a) != len(b) {
			rt.Fatalf("non-deterministic length: %d vs %d", len(a), len(b))
		}
		seen := map[string]bool{}
		for i := range a {
			if a[i].ID != b[i].ID {
				rt.Fatalf("non-deterministic order at %d: %s vs %s", i, a[i].ID, b[i].ID)
			}
			if i > 0 && a[i].Score > a[i-1].Score {
				rt.Fatalf("scores not descending at %d", i)
			}
			if seen[a[i].ID] {
				rt.Fatalf("duplicate id %s in fused output", a[i].ID)
			}
			seen[a[i].ID] = true
		}
	})
}

func dedupeByID(list []types.Passage) []types.Passage {
	seen := map[string]bool{}
	out := list[:0]
	for _, p := range list {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}
