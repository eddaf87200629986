package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 存储后端
// =============================================================================

// RedisConfig Redis 存储配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，用于与同一 Redis 上的其他数据隔离
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 值的过期时间，0 表示永不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// ErrStorageClosed is returned after Close.
var ErrStorageClosed = errors.New("storage is closed")

// RedisStorage implements Storage on go-redis.
type RedisStorage struct {
	redis  *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewRedisStorage 创建 Redis 存储并检查连通性
func NewRedisStorage(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStorage{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "redis_storage")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("redis storage initialized", zap.String("addr", config.Addr))
	return s, nil
}

func (s *RedisStorage) key(k string) string {
	return s.config.KeyPrefix + k
}

// Get 获取值
func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStorageClosed
	}

	val, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("storage get failed", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("storage get failed: %w", err)
	}
	return val, true, nil
}

// Set 设置值
func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}

	if err := s.redis.Set(ctx, s.key(key), value, s.config.TTL).Err(); err != nil {
		s.logger.Error("storage set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("storage set failed: %w", err)
	}
	return nil
}

// Delete 删除值
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}

	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.Error("storage delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("storage delete failed: %w", err)
	}
	return nil
}

// Keys 按前缀列出键（SCAN，不阻塞 Redis）
func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	pattern := escapeGlob(s.key(prefix)) + "*"
	var keys []string
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.config.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("storage scan failed: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping 检查 Redis 连接
func (s *RedisStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return s.redis.Ping(ctx).Err()
}

// Close 关闭存储
func (s *RedisStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.logger.Info("closing redis storage")
	return s.redis.Close()
}

// healthCheckLoop 健康检查循环
func (s *RedisStorage) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Ping(ctx); err != nil && !errors.Is(err, ErrStorageClosed) {
				s.logger.Error("storage health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
