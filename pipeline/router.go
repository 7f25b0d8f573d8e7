package pipeline

import (
	"github.com/BaSui01/ragflow/types"
)

// Route 根据查询分析决定检索策略集合。决策表按顺序求值，首条命中生效；
// 文档向量检索在所有分支都参与。纯函数，便于表驱动测试。
func Route(analysis *types.QueryAnalysis) []types.RetrievalStrategy {
	switch {
	case len(analysis.Entities) > 1 &&
		(analysis.Complexity == types.ComplexityModerate || analysis.Complexity == types.ComplexityMultiHop):
		return []types.RetrievalStrategy{types.StrategyGraph, types.StrategyVector}
	case analysis.TimeSensitive:
		return []types.RetrievalStrategy{types.StrategyWeb, types.StrategyVector}
	case analysis.RequiresCode:
		return []types.RetrievalStrategy{types.StrategyVector}
	case analysis.Complexity == types.ComplexityMultiHop:
		return []types.RetrievalStrategy{types.StrategyVector, types.StrategyGraph}
	default:
		return []types.RetrievalStrategy{types.StrategyVector}
	}
}
