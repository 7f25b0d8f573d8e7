package types

// QueryIntent 查询意图类型。
type QueryIntent string

const (
	IntentFactualQA   QueryIntent = "factual_qa"
	IntentComparison  QueryIntent = "comparison"
	IntentExplanation QueryIntent = "explanation"
	IntentHowTo       QueryIntent = "how_to"
	IntentCodeExample QueryIntent = "code_example"
	IntentGreeting    QueryIntent = "greeting"
)

// QueryComplexity 查询复杂度分级。
type QueryComplexity string

const (
	ComplexitySimple   QueryComplexity = "simple"
	ComplexityModerate QueryComplexity = "moderate"
	ComplexityMultiHop QueryComplexity = "multi_hop"
)

// RetrievalStrategy 检索策略标识。
type RetrievalStrategy string

const (
	StrategyVector RetrievalStrategy = "vector" // 文档向量 + BM25 混合检索
	StrategyGraph  RetrievalStrategy = "graph"  // 知识图谱遍历
	StrategyWeb    RetrievalStrategy = "web"    // 实时网页搜索
)

// QueryAnalysis 意图分析阶段的结构化输出。
type QueryAnalysis struct {
	Intent        QueryIntent     `json:"intent"`
	Entities      []string        `json:"entities"`
	Complexity    QueryComplexity `json:"complexity"`
	TimeSensitive bool            `json:"time_sensitive"`
	RequiresCode  bool            `json:"requires_code_examples"`
	Ambiguity     float64         `json:"ambiguity_score"`
}

// Normalize 补全缺省字段，保证下游路由始终拿到合法值。
func (a *QueryAnalysis) Normalize() {
	if a.Intent == "" {
		a.Intent = IntentFactualQA
	}
	if a.Complexity == "" {
		a.Complexity = ComplexitySimple
	}
	if a.Entities == nil {
		a.Entities = []string{}
	}
}

// GradingReport 检索质量评分结果。
type GradingReport struct {
	Score     float64 `json:"score"`               // 聚合质量分 [0,1]
	Relevant  []bool  `json:"relevant"`            // 与候选集一一对应的相关性标记
	Reason    string  `json:"reason,omitempty"`    // 低分原因摘要，供改写器使用
	Fallback  bool    `json:"fallback,omitempty"`  // 判断能力失败后的保守降级
	Threshold float64 `json:"threshold,omitempty"` // 本次评分使用的改写阈值
}

// ValidationReport 答案验证结果。验证器只报告，不改写答案。
type ValidationReport struct {
	UnsupportedClaims []string `json:"unsupported_claims"`
	SupportedCount    int      `json:"supported_count"`
	TotalClaims       int      `json:"total_claims"`
	Confidence        float64  `json:"confidence"` // supported / total
	Fallback          bool     `json:"fallback,omitempty"`
}
