package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 依赖探活接口（redis、数据库、向量索引等）。
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc 函数式健康检查。
type HealthCheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (f HealthCheckFunc) Name() string                    { return f.CheckName }
func (f HealthCheckFunc) Check(ctx context.Context) error { return f.Fn(ctx) }

// HealthStatus 健康状态响应。
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy / degraded
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果。
type CheckResult struct {
	Status  string `json:"status"` // pass / fail
	Message string `json:"message,omitempty"`
}

// HealthHandler 健康检查处理器。
type HealthHandler struct {
	logger *zap.Logger
	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器。
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health_handler")),
	}
}

// AddCheck 注册一个依赖检查。
func (h *HealthHandler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Register 挂载路由。/livez 只报进程存活，/healthz 聚合依赖状态。
func (h *HealthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /livez", h.handleLive)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *HealthHandler) handleLive(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for _, check := range checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "degraded"
			status.Checks[check.Name()] = CheckResult{Status: "fail", Message: err.Error()}
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()), zap.Error(err))
			continue
		}
		status.Checks[check.Name()] = CheckResult{Status: "pass"}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}
