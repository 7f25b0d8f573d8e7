package rerank

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// Chain 按顺序尝试多个重排提供者，前一个失败时回退到下一个。
// 所有提供者都失败时返回最后一个错误，由调用方决定是否跳过重排。
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain 创建重排回退链，providers 顺序即回退顺序。
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With(zap.String("component", "rerank_chain")),
	}
}

// NewProvider 根据配置创建单个重排提供者。
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "cohere":
		return NewCohereProvider(cfg), nil
	case "jina":
		return NewJinaProvider(cfg), nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown rerank provider: %q", cfg.Name))
	}
}

// Len 返回链中提供者数量。
func (c *Chain) Len() int { return len(c.providers) }

// Name 返回当前主提供者名称，空链返回 "none"。
func (c *Chain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

// Rerank 依次尝试每个提供者。Response.Provider 记录实际命中的提供者，
// 与主提供者不同即表示发生了回退。
func (c *Chain) Rerank(ctx context.Context, req *Request) (*Response, error) {
	if len(c.providers) == 0 {
		return nil, types.NewError(types.ErrExternalError, "no rerank providers configured")
	}

	var lastErr error
	for i, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		resp, err := p.Rerank(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Warn("reranker fallback engaged",
					zap.String("provider", p.Name()),
					zap.Int("attempt", i+1))
			}
			return resp, nil
		}
		lastErr = err
		c.logger.Warn("rerank provider failed",
			zap.String("provider", p.Name()),
			zap.Error(err))
	}

	if lastErr == nil {
		lastErr = types.NewError(types.ErrExternalTimeout, "rerank aborted").WithCause(ctx.Err())
	}
	return nil, lastErr
}
