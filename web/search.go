package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// Snippet 一条网页搜索结果。
type Snippet struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchFunc 网页搜索契约：查询 → 带时间戳的片段列表。
// 函数签名把检索器与具体搜索提供者解耦，便于测试替身。
type SearchFunc func(ctx context.Context, query string, maxResults int) ([]Snippet, error)

// NewHTTPSearchFunc 创建面向 Tavily 风格 POST /search API 的 SearchFunc。
func NewHTTPSearchFunc(cfg config.WebConfig, logger *zap.Logger) SearchFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "web_search"))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	endpoint := strings.TrimRight(cfg.Endpoint, "/") + "/search"

	return func(ctx context.Context, query string, maxResults int) ([]Snippet, error) {
		body, _ := json.Marshal(map[string]any{
			"api_key":     cfg.APIKey,
			"query":       query,
			"max_results": maxResults,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "web: build request").WithCause(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.NewError(types.ErrExternalTimeout, "web: search timed out").WithCause(err).WithRetryable(true)
			}
			return nil, types.NewError(types.ErrExternalError, "web: search request failed").WithCause(err).WithRetryable(true)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, types.NewError(types.ErrExternalError,
				"web: status "+resp.Status+": "+string(raw))
		}

		var parsed struct {
			Results []Snippet `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, types.NewError(types.ErrExternalError, "web: decode response").WithCause(err)
		}

		logger.Debug("web search completed",
			zap.String("query", query),
			zap.Int("results", len(parsed.Results)))
		return parsed.Results, nil
	}
}

// Retriever 把网页片段适配为检索 Passage。
type Retriever struct {
	search SearchFunc
	cfg    config.WebConfig
	logger *zap.Logger
}

// NewRetriever 创建网页检索策略。
func NewRetriever(search SearchFunc, cfg config.WebConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Retriever{
		search: search,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "web_retriever")),
	}
}

// Retrieve 搜索网页并把片段转换为 source=web 的 Passage。
// 按 URL 去重，保留得分更高的一条。
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]types.Passage, error) {
	if limit <= 0 || limit > r.cfg.MaxResults {
		limit = r.cfg.MaxResults
	}

	snippets, err := r.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	seen := map[string]int{} // url → passage 下标
	passages := make([]types.Passage, 0, len(snippets))
	for i, s := range snippets {
		if s.Content == "" {
			continue
		}
		score := s.Score
		if score == 0 {
			score = 1.0 / float64(i+1)
		}
		if j, dup := seen[s.URL]; dup && s.URL != "" {
			if score > passages[j].Score {
				passages[j].Score = score
			}
			continue
		}

		p := types.Passage{
			ID:     "web:" + s.URL,
			Text:   s.Content,
			Source: types.SourceWeb,
			Score:  score,
			Metadata: map[string]any{
				"url":   s.URL,
				"title": s.Title,
			},
		}
		if s.URL == "" {
			p.ID = "web:untitled:" + s.Title
		}
		seen[s.URL] = len(passages)
		passages = append(passages, p)
	}

	if len(passages) > limit {
		passages = passages[:limit]
	}
	return passages, nil
}
