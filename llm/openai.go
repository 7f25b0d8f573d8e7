package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BaSui01/ragflow/types"
)

// OpenAIConfig OpenAI 兼容端点配置。
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // 可选；兼容端点（vLLM、Ollama 等）
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider 基于 openai-go 客户端的生成能力实现。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client openai.Client
}

// NewOpenAIProvider 创建 OpenAI 兼容的生成提供者。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete 发起同步生成请求。
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	params.Temperature = openai.Float(temperature)
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrExternalTimeout, "completion timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrExternalError, "completion request failed").WithCause(err).WithRetryable(true)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrExternalError, fmt.Sprintf("model %s returned no choices", p.cfg.Model))
	}

	return &CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
