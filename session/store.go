// Package session 基于 redis 列表实现多轮对话记忆。
//
// 每个会话一个列表，轮次按时间顺序追加；超出 MaxTurns 的旧轮次被
// 裁掉，整个列表随 TTL 过期。记忆只服务于意图分析与答案生成的
// 上下文拼接，不参与检索评分。
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/types"
)

// Store 会话记忆存储。
type Store struct {
	cache    *cache.Manager
	ttl      time.Duration
	maxTurns int
	logger   *zap.Logger
}

// NewStore 创建会话存储。
func NewStore(mgr *cache.Manager, cfg config.SessionConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Store{
		cache:    mgr,
		ttl:      ttl,
		maxTurns: maxTurns,
		logger:   logger.With(zap.String("component", "session")),
	}
}

func turnsKey(sessionID string) string {
	return "ragflow:session:" + sessionID + ":turns"
}

// History 返回会话中保留的全部轮次，会话不存在时返回空切片。
func (s *Store) History(ctx context.Context, sessionID string) ([]types.Turn, error) {
	raw, err := s.cache.LRange(ctx, turnsKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("session history %s: %w", sessionID, err)
	}

	turns := make([]types.Turn, 0, len(raw))
	for _, item := range raw {
		var turn types.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// 损坏的轮次跳过而不是让整个会话不可用
			s.logger.Warn("skipping corrupt session turn",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append 追加轮次并裁剪到 MaxTurns，同时刷新 TTL。
func (s *Store) Append(ctx context.Context, sessionID string, turns ...types.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	key := turnsKey(sessionID)
	encoded := make([]string, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("session encode turn: %w", err)
		}
		encoded = append(encoded, string(data))
	}

	if err := s.cache.RPush(ctx, key, encoded...); err != nil {
		return fmt.Errorf("session append %s: %w", sessionID, err)
	}
	if err := s.cache.LTrim(ctx, key, int64(-s.maxTurns), -1); err != nil {
		return fmt.Errorf("session trim %s: %w", sessionID, err)
	}
	if err := s.cache.Expire(ctx, key, s.ttl); err != nil {
		return fmt.Errorf("session expire %s: %w", sessionID, err)
	}
	return nil
}

// Clear 删除会话的全部轮次。
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, turnsKey(sessionID))
}
