package types

import (
	"encoding/json"
	"fmt"
)

// ContextVersion 是 QueryContext 序列化格式的当前版本号。
// 检查点写入时校验，恢复时拒绝未知版本，保证跨 worker 恢复的正确性。
const ContextVersion = 1

// Stage 工作流阶段。状态机的合法迁移由 orchestrator 包定义。
type Stage string

const (
	StageAnalyzing    Stage = "analyzing"
	StageRouting      Stage = "routing"
	StageRetrieving   Stage = "retrieving"
	StageGrading      Stage = "grading"
	StageRewriting    Stage = "rewriting"
	StageValidating   Stage = "validating"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Terminal 返回阶段是否为终态。
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Turn 会话中的一轮对话。
type Turn struct {
	Role    string `json:"role"` // user / assistant
	Content string `json:"content"`
}

// QueryContext 单次请求的全部工作流状态。
//
// 由 Orchestrator 在请求期间独占持有，绝不跨请求共享；每次状态迁移后
// 整体序列化进会话缓存，使任意 worker 都能从最近一次已提交的步骤恢复。
type QueryContext struct {
	Version   int    `json:"version"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`

	OriginalQuery string `json:"original_query"`
	CurrentQuery  string `json:"current_query"`
	History       []Turn `json:"history,omitempty"`

	Analysis   *QueryAnalysis      `json:"analysis,omitempty"`
	Strategies []RetrievalStrategy `json:"strategies,omitempty"`

	// 各策略独立的检索结果，合并为 Candidates 后再评分。
	StrategyResults map[RetrievalStrategy][]Passage `json:"strategy_results,omitempty"`
	Candidates      []Passage                       `json:"candidates,omitempty"`

	Grading      *GradingReport    `json:"grading,omitempty"`
	RewriteCount int               `json:"rewrite_count"`
	Validation   *ValidationReport `json:"validation,omitempty"`

	Answer    string     `json:"answer,omitempty"`
	Citations []Citation `json:"citations,omitempty"`

	Stage    Stage    `json:"stage"`
	Step     int      `json:"step"` // 单调递增的检查点计数
	Trace    []string `json:"trace"`
	Degraded []string `json:"degraded,omitempty"` // 降级事件标记（fallback_reranker 等）
}

// NewQueryContext 创建初始工作流状态。
func NewQueryContext(requestID, sessionID, query string, history []Turn) *QueryContext {
	return &QueryContext{
		Version:       ContextVersion,
		RequestID:     requestID,
		SessionID:     sessionID,
		OriginalQuery: query,
		CurrentQuery:  query,
		History:       history,
		Stage:         StageAnalyzing,
		Trace:         []string{},
	}
}

// Touch 记录阶段进入轨迹。
func (c *QueryContext) Touch(stage Stage) {
	c.Stage = stage
	c.Trace = append(c.Trace, string(stage))
}

// MarkDegraded 追加一条降级事件，去重。
func (c *QueryContext) MarkDegraded(event string) {
	for _, e := range c.Degraded {
		if e == event {
			return
		}
	}
	c.Degraded = append(c.Degraded, event)
}

// Marshal 序列化为检查点字节，写入前做版本与不变量校验。
func (c *QueryContext) Marshal() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// UnmarshalQueryContext 从检查点字节恢复，拒绝未知版本。
func UnmarshalQueryContext(data []byte) (*QueryContext, error) {
	var c QueryContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode query context: %w", err)
	}
	if c.Version != ContextVersion {
		return nil, fmt.Errorf("unsupported query context version %d", c.Version)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 校验检查点不变量。
func (c *QueryContext) Validate() error {
	if c.Version != ContextVersion {
		return fmt.Errorf("query context version %d != %d", c.Version, ContextVersion)
	}
	if c.OriginalQuery == "" {
		return fmt.Errorf("query context missing original query")
	}
	if c.RewriteCount < 0 {
		return fmt.Errorf("negative rewrite count %d", c.RewriteCount)
	}
	if c.Step < 0 {
		return fmt.Errorf("negative step %d", c.Step)
	}
	return nil
}
