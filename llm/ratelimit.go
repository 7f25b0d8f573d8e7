package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider 对底层 Provider 做令牌桶限流。
// 等待期间尊重 ctx 取消，不做忙等。
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider 创建限流包装。rps <= 0 时直接透传。
func NewRateLimitedProvider(inner Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

func (p *RateLimitedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Complete(ctx, req)
}
