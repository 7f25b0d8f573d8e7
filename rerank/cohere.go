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

// CohereProvider 使用 Cohere Rerank API 执行交叉编码器重排。
type CohereProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewCohereProvider 创建 Cohere 重排提供者。
func NewCohereProvider(cfg ProviderConfig) *CohereProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCohereBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultCohereModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &CohereProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *CohereProvider) Name() string { return "cohere" }

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 调用 /v2/rerank 对候选文档重排。
func (p *CohereProvider) Rerank(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := cohereRerankRequest{
		Query:     req.Query,
		Documents: req.Documents,
		Model:     model,
		TopN:      req.TopN,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v2/rerank",
		bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "cohere: build request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, types.NewError(types.ErrExternalTimeout, "cohere: rerank timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrExternalError, "cohere: rerank request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := types.NewError(types.ErrExternalError,
			"cohere: status "+resp.Status+": "+string(raw))
		return nil, e.WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var cResp cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, types.NewError(types.ErrExternalError, "cohere: decode response").WithCause(err)
	}

	results := make([]Result, len(cResp.Results))
	for i, r := range cResp.Results {
		results[i] = Result{Index: r.Index, RelevanceScore: r.RelevanceScore}
		if r.Index >= 0 && r.Index < len(req.Documents) {
			results[i].Document = req.Documents[r.Index]
		}
	}

	return &Response{Results: results, Model: model, Provider: p.Name()}, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
