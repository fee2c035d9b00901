// Package transform 提供内置的 Transformer 以及按名称构建它们的注册表
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
)

// Params 是变换的参数 (来自配置)
type Params map[string]string

func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("param %s: %w", key, err)
	}
	return n, nil
}

// Builder 根据参数创建 Transformer
type Builder func(Params) (nut.Transformer, error)

// Registry 按名称保存 Builder
// 注册必须显式调用，没有 init 里的隐式注册
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register 注册一个 Builder，重复注册同名 Builder 会 panic
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[name]; dup {
		panic(fmt.Sprintf("transform: builder %q registered twice", name))
	}
	r.builders[name] = b
}

// Build 创建 Transformer；未知名称或非法参数返回 Configuration 错误
func (r *Registry) Build(name string, params Params) (nut.Transformer, error) {
	r.mu.RLock()
	b, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Configuration(name, fmt.Errorf("unknown transformer %q", name))
	}
	t, err := b(params)
	if err != nil {
		return nil, errs.Configuration(name, err)
	}
	return t, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins 注册所有内置变换
func RegisterBuiltins(r *Registry) {
	r.Register("gzip", newGzip)
	r.Register("zstd", newZstd)
	r.Register("lz4", newLZ4)
	r.Register("trim", newTrim)
	r.Register("banner", newBanner)
	r.Register("transcode", newTranscode)
}

// Default 返回注册了内置变换的新注册表
func Default() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}
