// Package redis 实现基于 Redis 的缓存存储
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/types"

	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "nf:cache:"

type Config struct {
	URL    string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL    time.Duration // 0 表示不过期
	Prefix string        // 默认 "nf:cache:"
	Logger *slog.Logger
}

// Store 把缓存条目编码成 CBOR 存进 Redis
// 另外为每个 Heap 维护一个集合，记录依赖它的指纹，用于按 Heap 失效
type Store struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// New 解析 URL 并做一次连通性检查 (fail-fast)
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient 复用已有的客户端
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{client: client, ttl: cfg.TTL, prefix: prefix, log: log}
}

func (s *Store) entryKey(fp types.Fingerprint) string { return s.prefix + "entry:" + fp.String() }
func (s *Store) heapKey(heapID string) string         { return s.prefix + "heap:" + heapID }

// Get 在 Redis 故障时退化为未命中，让请求走完整的管线
func (s *Store) Get(ctx context.Context, fp types.Fingerprint) (*cachestore.Entry, bool, error) {
	data, err := s.client.Get(ctx, s.entryKey(fp)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		s.log.Warn("redis cache get failed, treating as miss",
			slog.String("fingerprint", fp.Short()), slog.Any("err", err))
		return nil, false, nil
	}
	e, err := cachestore.Decode(data)
	if err != nil {
		s.log.Warn("dropping undecodable cache entry",
			slog.String("fingerprint", fp.Short()), slog.Any("err", err))
		_ = s.client.Del(ctx, s.entryKey(fp)).Err()
		return nil, false, nil
	}
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, e *cachestore.Entry) error {
	data, err := cachestore.Encode(e)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(e.Fingerprint), data, s.ttl)
		for _, h := range e.Heaps {
			pipe.SAdd(ctx, s.heapKey(h), e.Fingerprint.String())
			if s.ttl > 0 {
				pipe.Expire(ctx, s.heapKey(h), s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cache put failed: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, heapID string) error {
	heapKey := s.heapKey(heapID)
	fps, err := s.client.SMembers(ctx, heapKey).Result()
	if err != nil {
		return fmt.Errorf("redis cache invalidate failed: %w", err)
	}
	keys := make([]string, 0, len(fps)+1)
	for _, fp := range fps {
		keys = append(keys, s.entryKey(types.Fingerprint(fp)))
	}
	keys = append(keys, heapKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis cache invalidate failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
