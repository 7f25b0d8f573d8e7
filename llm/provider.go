package llm

import (
	"context"
)

// CompletionRequest 一次生成请求。
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// CompletionResponse 生成响应。
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Provider 判断/生成能力的统一接口。
// 实现必须在有界超时内返回或报错，绝不无限阻塞。
type Provider interface {
	// Complete 发起同步生成请求，返回完整文本响应。
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name 返回 Provider 的唯一标识。
	Name() string
}
