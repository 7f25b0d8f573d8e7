package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

// IngestService 文档摄取入口，由 ingest.Ingestor 实现。
type IngestService interface {
	IngestDocument(ctx context.Context, doc ingest.Document) (*ingest.Result, error)
	DeleteDocument(ctx context.Context, docID string) error
	ListDocuments(ctx context.Context) ([]ingest.DocumentRecord, error)
}

// =============================================================================
// 📥 摄取 Handler
// =============================================================================

// IngestHandler 文档摄取处理器。
type IngestHandler struct {
	service IngestService
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewIngestHandler 创建摄取处理器。metrics 可为 nil。
func NewIngestHandler(service IngestService, collector *metrics.Collector, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{
		service: service,
		metrics: collector,
		logger:  logger.With(zap.String("component", "ingest_handler")),
	}
}

// Register 挂载路由。
func (h *IngestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/documents", h.handleIngest)
	mux.HandleFunc("GET /v1/documents", h.handleList)
	mux.HandleFunc("DELETE /v1/documents/{id}", h.handleDelete)
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var doc ingest.Document
	if !DecodeJSON(w, r, &doc, h.logger) {
		return
	}

	result, err := h.service.IngestDocument(r.Context(), doc)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordIngest(result.Chunks)
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: result, Timestamp: time.Now()})
}

func (h *IngestHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListDocuments(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if records == nil {
		records = []ingest.DocumentRecord{}
	}
	WriteSuccess(w, records)
}

func (h *IngestHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	if docID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "missing document id"), h.logger)
		return
	}
	if err := h.service.DeleteDocument(r.Context(), docID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"document_id": docID})
}
