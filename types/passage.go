package types

// SourceType 标识 Passage 的来源，创建后不可变更。
type SourceType string

const (
	SourceDocument SourceType = "document" // 文档向量检索
	SourceGraph    SourceType = "graph"    // 知识图谱检索
	SourceWeb      SourceType = "web"      // 实时网页检索
)

// Passage 不可变的检索片段记录。
// 由 Chunker 在摄取时或检索策略在查询时创建；创建后不再修改，
// 重排只更新 Score 字段（由重排阶段独占写入）。
type Passage struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id,omitempty"`
	ChunkIndex int            `json:"chunk_index,omitempty"`
	Text       string         `json:"text"`
	Embedding  []float64      `json:"embedding,omitempty"`
	Source     SourceType     `json:"source"`
	Score      float64        `json:"score"`
	Cohesion   float64        `json:"cohesion,omitempty"` // 分块时的平均句间相似度
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Citation 最终答案的引用条目（passage id → 展示标题与定位信息）。
type Citation struct {
	PassageID string     `json:"passage_id"`
	Title     string     `json:"title,omitempty"`
	Locator   string     `json:"locator,omitempty"` // doc_id#chunk_index 或 URL
	Source    SourceType `json:"source"`
	Score     float64    `json:"score"`
}
