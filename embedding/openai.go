package embedding

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BaSui01/ragflow/types"
)

// OpenAIConfig OpenAI 兼容嵌入端点配置。
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

// OpenAIProvider 基于 openai-go 客户端的嵌入实现。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client openai.Client
}

// NewOpenAIProvider 创建 OpenAI 兼容的嵌入提供者。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
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

func (p *OpenAIProvider) Name() string    { return "openai-embedding" }
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

// EmbedQuery 嵌入单个查询。
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments 批量嵌入，按 MaxBatch 切批。
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.cfg.MaxBatch {
		end := start + p.cfg.MaxBatch
		if end > len(documents) {
			end = len(documents)
		}

		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(p.cfg.Model),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: documents[start:end],
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.NewError(types.ErrExternalTimeout, "embedding timed out").WithCause(err).WithRetryable(true)
			}
			return nil, types.NewError(types.ErrExternalError, "embedding request failed").WithCause(err).WithRetryable(true)
		}
		if len(resp.Data) != end-start {
			return nil, types.NewError(types.ErrExternalError, "embedding response size mismatch")
		}

		for _, d := range resp.Data {
			result = append(result, d.Embedding)
		}
	}

	return result, nil
}
