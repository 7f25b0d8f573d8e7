package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/types"
)

// CheckpointStore 工作流检查点存储契约。
type CheckpointStore interface {
	// Save 以 session + step 为键持久化完整工作流状态。
	Save(ctx context.Context, qc *types.QueryContext) error
	// LoadLatest 恢复会话最近一次已提交的检查点，没有时返回 (nil, nil)。
	LoadLatest(ctx context.Context, sessionID string) (*types.QueryContext, error)
	// LoadStep 恢复指定步骤的检查点。
	LoadStep(ctx context.Context, sessionID string, step int) (*types.QueryContext, error)
	// Clear 删除会话的全部检查点索引。
	Clear(ctx context.Context, sessionID string) error
}

// RedisCheckpointStore 基于 redis 的检查点实现。
// 键形如 ragflow:ckpt:{session}:step:{n}，另有 latest 指针键。
type RedisCheckpointStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCheckpointStore 创建 redis 检查点存储。
func NewRedisCheckpointStore(mgr *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCheckpointStore{
		cache:  mgr,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "checkpoint_store")),
	}
}

func checkpointKey(sessionID string, step int) string {
	return fmt.Sprintf("ragflow:ckpt:%s:step:%d", sessionID, step)
}

func latestKey(sessionID string) string {
	return "ragflow:ckpt:" + sessionID + ":latest"
}

func (s *RedisCheckpointStore) Save(ctx context.Context, qc *types.QueryContext) error {
	data, err := qc.Marshal()
	if err != nil {
		return types.NewError(types.ErrInternalError, "checkpoint: marshal context").WithCause(err)
	}

	if err := s.cache.SetBytes(ctx, checkpointKey(qc.SessionID, qc.Step), data, s.ttl); err != nil {
		return types.NewError(types.ErrExternalError, "checkpoint: write step").WithCause(err).WithRetryable(true)
	}
	// latest 指针后写：恢复方永远只会读到已完整落盘的步骤
	if err := s.cache.Set(ctx, latestKey(qc.SessionID), strconv.Itoa(qc.Step), s.ttl); err != nil {
		return types.NewError(types.ErrExternalError, "checkpoint: write latest pointer").WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("checkpoint committed",
		zap.String("session_id", qc.SessionID),
		zap.Int("step", qc.Step),
		zap.String("stage", string(qc.Stage)))
	return nil
}

func (s *RedisCheckpointStore) LoadLatest(ctx context.Context, sessionID string) (*types.QueryContext, error) {
	val, err := s.cache.Get(ctx, latestKey(sessionID))
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrExternalError, "checkpoint: read latest pointer").WithCause(err).WithRetryable(true)
	}

	step, err := strconv.Atoi(val)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "checkpoint: corrupt latest pointer").WithCause(err)
	}
	return s.LoadStep(ctx, sessionID, step)
}

func (s *RedisCheckpointStore) LoadStep(ctx context.Context, sessionID string, step int) (*types.QueryContext, error) {
	data, err := s.cache.GetBytes(ctx, checkpointKey(sessionID, step))
	if cache.IsCacheMiss(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrExternalError, "checkpoint: read step").WithCause(err).WithRetryable(true)
	}

	qc, err := types.UnmarshalQueryContext(data)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "checkpoint: decode context").WithCause(err)
	}
	return qc, nil
}

func (s *RedisCheckpointStore) Clear(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, latestKey(sessionID))
}
