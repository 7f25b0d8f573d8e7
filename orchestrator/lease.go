package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/types"
)

// Lease 会话级租约：同一会话同一时刻只允许一个 worker 推进状态机。
// 取得时返回持有者令牌，释放时校验令牌，过期自动失效。
type Lease struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewLease 创建会话租约管理器。
func NewLease(mgr *cache.Manager, ttl time.Duration, logger *zap.Logger) *Lease {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Lease{
		cache:  mgr,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "session_lease")),
	}
}

func leaseKey(sessionID string) string {
	return "ragflow:lease:" + sessionID
}

// Acquire 尝试取得会话租约。已被其他 worker 持有时返回
// SESSION_LOCK_CONFLICT，调用方应直接把冲突上抛而非等待。
func (l *Lease) Acquire(ctx context.Context, sessionID string) (string, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, leaseKey(sessionID), token, l.ttl)
	if err != nil {
		return "", types.NewError(types.ErrExternalError, "lease: acquire").WithCause(err).WithRetryable(true)
	}
	if !ok {
		return "", types.NewError(types.ErrSessionLockConflict,
			"session "+sessionID+" is owned by another worker")
	}

	l.logger.Debug("lease acquired", zap.String("session_id", sessionID))
	return token, nil
}

// Release 释放租约，仅持有者令牌有效。令牌不匹配说明租约已过期并被
// 他人重新取得，记录告警但不报错。
func (l *Lease) Release(ctx context.Context, sessionID, token string) error {
	released, err := l.cache.DeleteIfEquals(ctx, leaseKey(sessionID), token)
	if err != nil {
		return types.NewError(types.ErrExternalError, "lease: release").WithCause(err).WithRetryable(true)
	}
	if !released {
		l.logger.Warn("lease token mismatch on release, lease likely expired",
			zap.String("session_id", sessionID))
	}
	return nil
}

// Refresh 刷新租约过期时间，长流程中周期调用。
func (l *Lease) Refresh(ctx context.Context, sessionID string) error {
	return l.cache.Expire(ctx, leaseKey(sessionID), l.ttl)
}
