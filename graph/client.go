package graph

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

// TraversalQuery 结构化图遍历查询。
type TraversalQuery struct {
	// 起点实体名（来自查询分析的实体抽取）
	Entities []string `json:"entities"`
	// 最大跳数
	MaxDepth int `json:"max_depth"`
	// 返回实体上限
	Limit int `json:"limit"`
}

// Entity 图中匹配到的实体。
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Score       float64        `json:"score,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Path 实体之间的关系路径，Relations[i] 连接 Nodes[i] 与 Nodes[i+1]。
type Path struct {
	Nodes     []string `json:"nodes"`
	Relations []string `json:"relations"`
}

// TraversalResult 一次遍历查询的结果。
type TraversalResult struct {
	Entities []Entity `json:"entities"`
	Paths    []Path   `json:"paths"`
}

// Client 图数据库契约。
type Client interface {
	Traverse(ctx context.Context, q TraversalQuery) (*TraversalResult, error)
}

// HTTPClient 经 HTTP 访问图数据库网关的 Client 实现。
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient 创建图数据库 HTTP 客户端。
func NewHTTPClient(cfg config.GraphConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "graph_client")),
	}
}

// Traverse 提交遍历查询并解析实体与路径。
func (c *HTTPClient) Traverse(ctx context.Context, q TraversalQuery) (*TraversalResult, error) {
	payload, _ := json.Marshal(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/traverse", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "graph: build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrExternalTimeout, "graph: traverse timed out").WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrExternalError, "graph: traverse request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, types.NewError(types.ErrExternalError,
			"graph: status "+resp.Status+": "+string(raw))
	}

	var result TraversalResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.NewError(types.ErrExternalError, "graph: decode response").WithCause(err)
	}

	c.logger.Debug("graph traversal completed",
		zap.Int("entities", len(result.Entities)),
		zap.Int("paths", len(result.Paths)))
	return &result, nil
}
