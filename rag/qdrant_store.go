package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/types"
)

// QdrantStore 基于 Qdrant REST API 的 VectorStore 实现。
//
// Qdrant 的 point ID 必须是 UUID：这里用 Passage.ID 派生稳定 UUID，
// 原始 ID、文本与元数据存放在 payload，查询时恢复。
type QdrantStore struct {
	cfg     config.VectorStoreConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantStore 创建 Qdrant 向量索引，集合不存在时首次写入自动创建。
func NewQdrantStore(cfg config.VectorStoreConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QdrantHost == "" {
		cfg.QdrantHost = "localhost"
	}
	if cfg.QdrantPort == 0 {
		cfg.QdrantPort = 6333
	}
	if cfg.Collection == "" {
		cfg.Collection = "passages"
	}

	return &QdrantStore{
		cfg:     cfg,
		baseURL: fmt.Sprintf("http://%s:%d", cfg.QdrantHost, cfg.QdrantPort),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("2f1b6a0e-9c44-4d6b-a3f2-7e1d0c5b8a91")

// qdrantPointID 从 Passage.ID 派生稳定 UUID，支持任意字符串 ID。
func qdrantPointID(passageID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(passageID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		}
		path := "/collections/" + url.PathEscape(s.cfg.Collection)
		err := s.doJSON(ctx, http.MethodPut, path, body, nil)
		// 已存在的集合返回 409
		if err != nil && strings.Contains(err.Error(), "status=409") {
			err = nil
		}
		s.ensureErr = err
	})
	return s.ensureErr
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInternalError, "qdrant: marshal request").WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return types.NewError(types.ErrInternalError, "qdrant: build request").WithCause(err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeoutErr(err) {
			return types.NewError(types.ErrExternalTimeout, "qdrant: request timed out").WithCause(err).WithRetryable(true)
		}
		return types.NewError(types.ErrExternalError, "qdrant: request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.NewError(types.ErrExternalError,
			fmt.Sprintf("qdrant: %s %s status=%d body=%s", method, path, resp.StatusCode, string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrExternalError, "qdrant: decode response").WithCause(err)
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *QdrantStore) Upsert(ctx context.Context, passages []types.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	vectorSize := s.cfg.Dimensions
	for i, p := range passages {
		if p.ID == "" {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("passage[%d] has empty id", i))
		}
		if len(p.Embedding) == 0 {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("passage[%d] has no embedding", i))
		}
		if vectorSize == 0 {
			vectorSize = len(p.Embedding)
		}
		if len(p.Embedding) != vectorSize {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("passage[%d] dimension mismatch: got=%d want=%d", i, len(p.Embedding), vectorSize))
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(passages))
	for _, p := range passages {
		points = append(points, qdrantPoint{
			ID:     qdrantPointID(p.ID),
			Vector: p.Embedding,
			Payload: map[string]any{
				"passage_id":  p.ID,
				"document_id": p.DocumentID,
				"chunk_index": p.ChunkIndex,
				"text":        p.Text,
				"source":      string(p.Source),
				"cohesion":    p.Cohesion,
				"metadata":    p.Metadata,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(passages)))
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, q VectorQuery) ([]types.Passage, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	if len(q.Embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "qdrant: query embedding is required")
	}

	req := map[string]any{
		"vector":       q.Embedding,
		"limit":        q.TopK,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := qdrantFilter(q); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]types.Passage, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := passageFromPayload(r.Payload)
		p.Score = r.Score
		out = append(out, p)
	}
	return out, nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", url.PathEscape(s.cfg.Collection))
	return s.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func qdrantFilter(q VectorQuery) map[string]any {
	var must []map[string]any
	if q.Source != "" {
		must = append(must, map[string]any{
			"key": "source", "match": map[string]any{"value": string(q.Source)},
		})
	}
	if q.DocumentID != "" {
		must = append(must, map[string]any{
			"key": "document_id", "match": map[string]any{"value": q.DocumentID},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func passageFromPayload(payload map[string]any) types.Passage {
	p := types.Passage{}
	if payload == nil {
		return p
	}
	if v, ok := payload["passage_id"].(string); ok {
		p.ID = v
	}
	if v, ok := payload["document_id"].(string); ok {
		p.DocumentID = v
	}
	if v, ok := payload["chunk_index"].(float64); ok {
		p.ChunkIndex = int(v)
	}
	if v, ok := payload["text"].(string); ok {
		p.Text = v
	}
	if v, ok := payload["source"].(string); ok {
		p.Source = types.SourceType(v)
	}
	if v, ok := payload["cohesion"].(float64); ok {
		p.Cohesion = v
	}
	if v, ok := payload["metadata"].(map[string]any); ok {
		p.Metadata = v
	}
	return p
}

// isTimeoutErr 判断 HTTP 客户端错误是否为超时。
func isTimeoutErr(err error) bool {
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
