package rerank

import (
	"context"
	"time"
)

// Request 重排请求
type Request struct {
	Query     string   `json:"query"`               // 用户查询
	Documents []string `json:"documents"`           // 候选文档文本
	TopN      int      `json:"top_n,omitempty"`     // 返回前 N 个（0 表示全部）
	Model     string   `json:"model,omitempty"`     // 覆盖默认模型
}

// Result 单个文档的重排结果
type Result struct {
	Index          int     `json:"index"`           // 原始文档下标
	RelevanceScore float64 `json:"relevance_score"` // 相关性分数（越大越相关）
	Document       string  `json:"document,omitempty"`
}

// Response 重排响应，Results 按 RelevanceScore 降序
type Response struct {
	Results  []Result `json:"results"`
	Model    string   `json:"model"`
	Provider string   `json:"provider"`
}

// Provider 重排提供者接口
type Provider interface {
	// Rerank 对候选文档按查询相关性重排
	Rerank(ctx context.Context, req *Request) (*Response, error)
	// Name 返回提供者标识（cohere / jina）
	Name() string
}

// ProviderConfig 单个重排提供者的连接配置
type ProviderConfig struct {
	Name    string        // cohere / jina
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

const (
	defaultCohereBaseURL = "https://api.cohere.ai"
	defaultCohereModel   = "rerank-v3.5"
	defaultJinaBaseURL   = "https://api.jina.ai"
	defaultJinaModel     = "jina-reranker-v2-base-multilingual"
	defaultTimeout       = 15 * time.Second
)
