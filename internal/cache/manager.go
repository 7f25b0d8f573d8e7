// Package cache 封装 go-redis 客户端，承载检查点、会话租约与对话记忆。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// ErrCacheMiss 键不存在。
var ErrCacheMiss = errors.New("cache: key not found")

// IsCacheMiss 判断错误是否为缓存未命中。
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 会话缓存管理器。
type Manager struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewManager 创建缓存管理器并验证连接。
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("cache manager initialized", zap.String("addr", cfg.Addr))
	return &Manager{
		rdb:    client,
		logger: logger.With(zap.String("component", "cache")),
	}, nil
}

// NewManagerFromClient 用现成客户端创建管理器，测试用。
func NewManagerFromClient(client redis.UniversalClient, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rdb:    client,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// =============================================================================
// 🎯 键值操作
// =============================================================================

// Get 获取字符串值，键不存在返回 ErrCacheMiss。
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	val, err := m.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Set 写入字符串值。ttl ≤ 0 表示不过期。
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := m.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetJSON 读取并反序列化 JSON 值。
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON 序列化并写入 JSON 值。
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// SetBytes 写入原始字节。
func (m *Manager) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Set(ctx, key, string(value), ttl)
}

// GetBytes 读取原始字节。
func (m *Manager) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return []byte(val), nil
}

// Delete 删除一个或多个键。
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Expire 刷新键的过期时间。
func (m *Manager) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := m.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache expire %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// 🔒 租约原语
// =============================================================================

// SetNX 当键不存在时写入，返回是否取得。用于会话租约。
func (m *Manager) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

// 值匹配时才删除，保证只有租约持有者能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteIfEquals 仅当当前值等于 expected 时删除键，返回是否删除。
func (m *Manager) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("cache conditional delete %s: %w", key, err)
	}
	return n == 1, nil
}

// =============================================================================
// 📜 列表操作（对话轮次）
// =============================================================================

// RPush 向列表尾部追加元素。
func (m *Manager) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := m.rdb.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("cache rpush %s: %w", key, err)
	}
	return nil
}

// LRange 读取列表区间，键不存在返回空列表。
func (m *Manager) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := m.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lrange %s: %w", key, err)
	}
	return vals, nil
}

// LTrim 裁剪列表，只保留区间内的元素。
func (m *Manager) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := m.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("cache ltrim %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// 🧹 生命周期
// =============================================================================

// Ping 检查连接。
func (m *Manager) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close 释放底层连接。
func (m *Manager) Close() error {
	m.logger.Info("closing cache manager")
	return m.rdb.Close()
}
