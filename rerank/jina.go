package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/ragflow/types"
)

// JinaProvider 使用 Jina AI Reranker API 执行重排，作为 Cohere 的回退。
type JinaProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewJinaProvider 创建 Jina 重排提供者。
func NewJinaProvider(cfg ProviderConfig) *JinaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultJinaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultJinaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &JinaProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *JinaProvider) Name() string { return "jina" }

type jinaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type jinaRerankResponse struct {
	Model   string `json:"model"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
		Document       *struct {
			Text string `json:"text"`
		} `json:"document,omitempty"`
	} `json:"results"`
}

// Rerank 调用 /v1/rerank 对候选文档重排。
func (p *JinaProvider) Rerank(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := jinaRerankRequest{
		Model:     model,
		Query:     req.Query,
		Documents: req.Documents,
		TopN:      req.TopN,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/rerank",
		bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "jina: build request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, types.NewError(types.ErrExternalTimeout, "jina: rerank timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrExternalError, "jina: rerank request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := types.NewError(types.ErrExternalError,
			"jina: status "+resp.Status+": "+string(raw))
		return nil, e.WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var jResp jinaRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&jResp); err != nil {
		return nil, types.NewError(types.ErrExternalError, "jina: decode response").WithCause(err)
	}

	results := make([]Result, len(jResp.Results))
	for i, r := range jResp.Results {
		results[i] = Result{Index: r.Index, RelevanceScore: r.RelevanceScore}
		if r.Document != nil {
			results[i].Document = r.Document.Text
		} else if r.Index >= 0 && r.Index < len(req.Documents) {
			results[i].Document = req.Documents[r.Index]
		}
	}

	return &Response{Results: results, Model: model, Provider: p.Name()}, nil
}
