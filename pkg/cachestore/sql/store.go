// Package sql 实现基于关系型数据库 (gorm) 的缓存存储
// 支持 postgres 和 sqlite，适合需要跨进程重启保留缓存的部署
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// CacheEntry 是缓存条目在数据库里的投影
type CacheEntry struct {
	Fingerprint string `gorm:"primaryKey;type:char(64)"`

	// Heaps 记录依赖的 Heap (键为 Heap id)，失效时按键查询
	Heaps datatypes.JSONMap

	Payload   []byte
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
}

type Config struct {
	Driver string // "postgres" 或 "sqlite"
	DSN    string
	TTL    time.Duration
}

type Store struct {
	conn *gorm.DB
	ttl  time.Duration
}

// Open 建立连接并迁移表结构
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return NewWithConn(db, cfg.TTL)
}

// NewWithConn 复用已有的 gorm 连接 (测试里用内存 sqlite)
func NewWithConn(conn *gorm.DB, ttl time.Duration) (*Store, error) {
	if err := conn.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return &Store{conn: conn, ttl: ttl}, nil
}

func (s *Store) Get(ctx context.Context, fp types.Fingerprint) (*cachestore.Entry, bool, error) {
	var row CacheEntry
	err := s.conn.WithContext(ctx).
		Where("fingerprint = ?", fp.String()).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sql cache get failed: %w", err)
	}
	e, err := cachestore.Decode(row.Payload)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *Store) Put(ctx context.Context, e *cachestore.Entry) error {
	payload, err := cachestore.Encode(e)
	if err != nil {
		return err
	}
	heaps := make(datatypes.JSONMap, len(e.Heaps))
	for _, h := range e.Heaps {
		heaps[h] = true
	}
	row := CacheEntry{Fingerprint: e.Fingerprint.String(), Heaps: heaps, Payload: payload}
	if s.ttl > 0 {
		exp := time.Now().Add(s.ttl)
		row.ExpiresAt = &exp
	}

	// 同一指纹的内容相同，重复写入直接覆盖
	err = s.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"heaps", "payload", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sql cache put failed: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, heapID string) error {
	err := s.conn.WithContext(ctx).
		Where(datatypes.JSONQuery("heaps").HasKey(heapID)).
		Delete(&CacheEntry{}).Error
	if err != nil {
		return fmt.Errorf("sql cache invalidate failed: %w", err)
	}
	return nil
}

// Purge 删除已过期的条目
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res := s.conn.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&CacheEntry{})
	return res.RowsAffected, res.Error
}

func (s *Store) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
