package embedding

import "context"

// Provider 定义统一的嵌入提供者接口。
type Provider interface {
	// EmbedQuery 嵌入单个查询。
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedDocuments 批量嵌入文档。
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)

	// Name 返回提供者名称。
	Name() string

	// Dimensions 返回嵌入维度。
	Dimensions() int
}
