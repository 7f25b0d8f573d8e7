package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/orchestrator"
	"github.com/BaSui01/ragflow/types"
)

// QueryService 查询工作流入口，由 orchestrator.Orchestrator 实现。
type QueryService interface {
	Process(ctx context.Context, req *orchestrator.Request) (*orchestrator.Response, error)
	Resume(ctx context.Context, sessionID string) (*orchestrator.Response, error)
}

// =============================================================================
// 🔍 查询 Handler
// =============================================================================

// QueryHandler 查询处理器。
type QueryHandler struct {
	service QueryService
	logger  *zap.Logger
}

// NewQueryHandler 创建查询处理器。
func NewQueryHandler(service QueryService, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{
		service: service,
		logger:  logger.With(zap.String("component", "query_handler")),
	}
}

// Register 挂载路由。
func (h *QueryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/query", h.handleQuery)
	mux.HandleFunc("POST /v1/sessions/{id}/resume", h.handleResume)
}

// handleQuery 处理一次查询请求。
func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !DecodeJSON(w, r, &req, h.logger) {
		return
	}

	resp, err := h.service.Process(r.Context(), &req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// handleResume 从检查点恢复一个中断的会话。
func (h *QueryHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "missing session id"), h.logger)
		return
	}

	resp, err := h.service.Resume(r.Context(), sessionID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}
