package embedding

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedProvider 对查询嵌入做进程内 TTL 缓存。
// 文档嵌入只在摄取时发生，不缓存。
type CachedProvider struct {
	inner Provider
	cache *gocache.Cache
}

// NewCachedProvider 创建带缓存的嵌入提供者。ttl <= 0 时直接透传。
func NewCachedProvider(inner Provider, ttl time.Duration) Provider {
	if ttl <= 0 {
		return inner
	}
	return &CachedProvider{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (p *CachedProvider) Name() string    { return p.inner.Name() }
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

func (p *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if v, ok := p.cache.Get(query); ok {
		return v.([]float64), nil
	}

	vec, err := p.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	p.cache.SetDefault(query, vec)
	return vec, nil
}

func (p *CachedProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.inner.EmbedDocuments(ctx, documents)
}
