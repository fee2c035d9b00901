// Package nut 定义了管线中流转的内容单元 (Nut)
//
// Nut 按约定不可变：名称、类型、版本一旦确定就不会变化。
// 需要附加变换时通过 With 派生一个新的 Nut，而不是修改原来的实例。
package nut

import (
	"context"
	"io"
	"slices"

	"nutflow/pkg/provider"
	"nutflow/pkg/types"
)

// Nut 是所有内容单元的通用接口
type Nut interface {
	// Name 在所属的 Heap 内唯一
	Name() string

	Type() *Type

	// Version 返回版本令牌，首次调用时解析，之后固定不变
	Version(ctx context.Context) (types.Version, error)

	// Open 返回原始内容 (尚未经过 Transformers)
	// 调用方负责 Close
	Open(ctx context.Context) (io.ReadCloser, error)

	// References 返回引用的子 Nut (有向无环)
	References() []Nut

	// Transformers 返回有序的变换列表
	Transformers() []Transformer

	// ProxyURI 非空时覆盖对外提供的路径
	ProxyURI() string
}

// Resource 是由 Provider 支撑的 Nut
type Resource struct {
	name     string
	typ      *Type
	backend  provider.Provider
	strategy VersionStrategy
	version  versionCell
	refs     []Nut
	proxy    string
}

// Option 配置 Resource
type Option func(*Resource)

// WithType 覆盖按扩展名推断的类型
func WithType(t *Type) Option {
	return func(r *Resource) { r.typ = t }
}

// WithVersion 预先给定版本 (例如轮询时已经拿到的修改令牌)
func WithVersion(v types.Version) Option {
	return func(r *Resource) { r.version.set(v) }
}

// WithStrategy 指定版本的解析方式
func WithStrategy(s VersionStrategy) Option {
	return func(r *Resource) { r.strategy = s }
}

func WithReferences(refs ...Nut) Option {
	return func(r *Resource) { r.refs = refs }
}

func WithProxyURI(uri string) Option {
	return func(r *Resource) { r.proxy = uri }
}

// NewResource 创建一个由后端支撑的 Nut
// id 同时作为 Nut 的名称
func NewResource(backend provider.Provider, id string, opts ...Option) *Resource {
	r := &Resource{
		name:     provider.CleanID(id),
		backend:  backend,
		strategy: VersionByModTime,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.typ == nil {
		r.typ = TypeForName(r.name)
	}
	return r
}

func (r *Resource) Name() string { return r.name }
func (r *Resource) Type() *Type  { return r.typ }

func (r *Resource) Version(ctx context.Context) (types.Version, error) {
	return r.version.get(ctx, func(ctx context.Context) (types.Version, error) {
		switch r.strategy {
		case VersionByContent:
			return contentVersion(ctx, r)
		default:
			return r.backend.LastChanged(ctx, r.name)
		}
	})
}

func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, _, err := r.backend.Open(ctx, r.name)
	return rc, err
}

func (r *Resource) References() []Nut           { return slices.Clone(r.refs) }
func (r *Resource) Transformers() []Transformer { return nil }
func (r *Resource) ProxyURI() string            { return r.proxy }

// derived 在不修改原 Nut 的前提下追加变换
type derived struct {
	Nut
	extra []Transformer
}

// With 返回追加了变换的新 Nut，原 Nut 不受影响
func With(n Nut, ts ...Transformer) Nut {
	if len(ts) == 0 {
		return n
	}
	return &derived{Nut: n, extra: ts}
}

func (d *derived) Transformers() []Transformer {
	return append(d.Nut.Transformers(), d.extra...)
}

// ContentEncoding 取追加的变换里最后一个编码；没有则透传底层的编码 (例如已经压缩过的快照)
func (d *derived) ContentEncoding() string {
	for i := len(d.extra) - 1; i >= 0; i-- {
		if e, ok := d.extra[i].(Encoder); ok {
			if enc := e.ContentEncoding(); enc != "" {
				return enc
			}
		}
	}
	return EncodingOf(d.Nut)
}

// EncodingOf 返回 Nut 内容当前的编码，没有则为空
func EncodingOf(n Nut) string {
	if e, ok := n.(Encoder); ok {
		return e.ContentEncoding()
	}
	return ""
}

// Find 按名称在列表以及引用树里查找 Nut (深度优先)
func Find(nuts []Nut, name string) (Nut, bool) {
	name = provider.CleanID(name)
	for _, n := range nuts {
		if n.Name() == name {
			return n, true
		}
	}
	for _, n := range nuts {
		if found, ok := Find(n.References(), name); ok {
			return found, true
		}
	}
	return nil, false
}
