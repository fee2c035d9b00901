package nut

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"nutflow/pkg/types"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// VersionStrategy 决定 Resource 的版本如何得到
type VersionStrategy string

const (
	// VersionByModTime 直接使用 Provider 的修改令牌 (默认)
	VersionByModTime VersionStrategy = "modtime"
	// VersionByContent 读取内容计算 BLAKE3 摘要
	VersionByContent VersionStrategy = "content"
)

// ParseVersionStrategy 解析配置里的字符串，空串视为默认值
func ParseVersionStrategy(s string) (VersionStrategy, error) {
	switch VersionStrategy(s) {
	case "", VersionByModTime:
		return VersionByModTime, nil
	case VersionByContent:
		return VersionByContent, nil
	}
	return "", fmt.Errorf("unknown versioning strategy %q", s)
}

// versionCell 保证版本只解析一次
// 解析失败不会被记住，下次调用会重试
type versionCell struct {
	mu sync.Mutex
	v  types.Version
}

func (c *versionCell) set(v types.Version) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *versionCell) get(ctx context.Context, resolve func(context.Context) (types.Version, error)) (types.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.v.IsZero() {
		return c.v, nil
	}
	v, err := resolve(ctx)
	if err != nil {
		return "", err
	}
	c.v = v
	return v, nil
}

const contentVersionPrefix = "b3-"

// ContentVersion 计算一段内容的版本令牌
func ContentVersion(data []byte) types.Version {
	sum := blake3.Sum256(data)
	return types.Version(contentVersionPrefix + hex.EncodeToString(sum[:16]))
}

func contentVersion(ctx context.Context, n Nut) (types.Version, error) {
	rc, err := n.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := blake3.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("hash %s: %w", n.Name(), err)
	}
	sum := h.Sum(nil)
	return types.Version(contentVersionPrefix + hex.EncodeToString(sum[:16])), nil
}

// ResolveVersions 并发解析一组 Nut 的版本，结果顺序与输入一致
// limit <= 0 表示不限制并发
func ResolveVersions(ctx context.Context, nuts []Nut, limit int) ([]types.Version, error) {
	versions := make([]types.Version, len(nuts))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, n := range nuts {
		g.Go(func() error {
			v, err := n.Version(ctx)
			if err != nil {
				return err
			}
			versions[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return versions, nil
}
