package nut

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"nutflow/pkg/types"
)

// Bytes 是内容已经完全物化在内存里的 Nut
// 缓存保存的就是它；它不再带有 Transformers
type Bytes struct {
	name     string
	typ      *Type
	version  types.Version
	data     []byte
	encoding string
	refs     []Nut
	proxy    string
}

// BytesOption 配置 Bytes
type BytesOption func(*Bytes)

func WithEncoding(enc string) BytesOption {
	return func(b *Bytes) { b.encoding = enc }
}

func WithBytesReferences(refs ...Nut) BytesOption {
	return func(b *Bytes) { b.refs = refs }
}

func WithBytesProxyURI(uri string) BytesOption {
	return func(b *Bytes) { b.proxy = uri }
}

// NewBytes 创建内存 Nut，version 为空时按内容计算
func NewBytes(name string, typ *Type, version types.Version, data []byte, opts ...BytesOption) *Bytes {
	if typ == nil {
		typ = TypeForName(name)
	}
	if version.IsZero() {
		version = ContentVersion(data)
	}
	b := &Bytes{name: name, typ: typ, version: version, data: data}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bytes) Name() string { return b.name }
func (b *Bytes) Type() *Type  { return b.typ }

func (b *Bytes) Version(context.Context) (types.Version, error) { return b.version, nil }

func (b *Bytes) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *Bytes) References() []Nut           { return slices.Clone(b.refs) }
func (b *Bytes) Transformers() []Transformer { return nil }
func (b *Bytes) ProxyURI() string            { return b.proxy }
func (b *Bytes) ContentEncoding() string     { return b.encoding }

// Data 返回底层内容，调用方不得修改
func (b *Bytes) Data() []byte { return b.data }

func (b *Bytes) Len() int { return len(b.data) }

// Materialize 读取 Nut 的原始内容并执行它的全部变换
func Materialize(ctx context.Context, n Nut) (*Bytes, error) {
	if b, ok := n.(*Bytes); ok {
		return b, nil
	}
	version, err := n.Version(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := n.Open(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.Name(), err)
	}

	encoding := EncodingOf(n)
	out, enc, err := Apply(ctx, n, data, n.Transformers())
	if err != nil {
		return nil, err
	}
	if enc != "" {
		encoding = enc
	}

	return &Bytes{
		name:     n.Name(),
		typ:      n.Type(),
		version:  version,
		data:     out,
		encoding: encoding,
		refs:     n.References(),
		proxy:    n.ProxyURI(),
	}, nil
}

// MaterializeAll 依次物化一组 Nut (包括它们的引用)
func MaterializeAll(ctx context.Context, nuts []Nut) ([]*Bytes, error) {
	out := make([]*Bytes, 0, len(nuts))
	for _, n := range nuts {
		b, err := MaterializeTree(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// MaterializeTree 物化 Nut 以及它引用的全部子 Nut
// 结果里的引用都是 *Bytes，可以脱离原始 Provider 独立存在
func MaterializeTree(ctx context.Context, n Nut) (*Bytes, error) {
	b, err := Materialize(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(b.refs) == 0 {
		return b, nil
	}
	refs := make([]Nut, len(b.refs))
	for i, ref := range b.refs {
		rb, err := MaterializeTree(ctx, ref)
		if err != nil {
			return nil, err
		}
		refs[i] = rb
	}
	out := *b
	out.refs = refs
	return &out, nil
}
