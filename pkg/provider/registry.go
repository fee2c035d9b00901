package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Settings 是后端的原始配置 (来自配置文件的 settings 块)
type Settings map[string]string

// Get 返回配置项，不存在时返回默认值
func (s Settings) Get(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

// Builder 根据配置构造后端
type Builder func(ctx context.Context, settings Settings) (Provider, error)

// Registry 维护 "后端类型 -> 构造函数" 的映射
// 在程序初始化时通过显式的 Register 调用填充，不做任何运行时扫描
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register 注册一个后端类型，重复注册会 panic (属于编程错误)
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[kind]; dup {
		panic(fmt.Sprintf("provider: builder %q registered twice", kind))
	}
	r.builders[kind] = b
}

// Build 构造指定类型的后端
func (r *Registry) Build(ctx context.Context, kind string, settings Settings) (Provider, error) {
	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %q", kind)
	}
	return b(ctx, settings)
}

// Kinds 返回已注册的类型 (排序后)
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
