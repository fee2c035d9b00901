package nut

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"nutflow/pkg/codec"
	"nutflow/pkg/errs"
	"nutflow/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Composite 把一组同类 Nut 按顺序合并成一个 Nut
//
// 合并后的内容是各子 Nut 变换结果的拼接。Composite 同时维护两份索引：
// 字节偏移和字符偏移 (多字节安全)，可以把合并内容里的任意位置映射回来源子 Nut。
type Composite struct {
	name     string
	typ      *Type
	children []Nut
	charset  string
	proxy    string
	limit    int

	// perChild 是不可聚合的变换：对每个子 Nut 单独执行
	perChild []Transformer
	// merged 是可聚合的变换：在合并后的内容上执行
	merged []Transformer

	version versionCell

	mu       sync.Mutex
	built    bool
	content  []byte
	encoding string
	byteIdx  offsetIndex
	charIdx  *offsetIndex
}

// CompositeOption 配置 Composite
type CompositeOption func(*Composite)

// WithCompositeTransformers 设置合并级别的变换
// 按 Aggregates() 分成逐个执行和合并后执行两组，组内保持原顺序
func WithCompositeTransformers(ts ...Transformer) CompositeOption {
	return func(c *Composite) {
		for _, t := range ts {
			if t.Aggregates() {
				c.merged = append(c.merged, t)
			} else {
				c.perChild = append(c.perChild, t)
			}
		}
	}
}

// WithCharset 指定字符索引使用的字符集 (WHATWG 名称)，默认 UTF-8
func WithCharset(charset string) CompositeOption {
	return func(c *Composite) { c.charset = charset }
}

func WithCompositeProxyURI(uri string) CompositeOption {
	return func(c *Composite) { c.proxy = uri }
}

// WithConcurrency 限制构建时并发物化子 Nut 的数量
func WithConcurrency(n int) CompositeOption {
	return func(c *Composite) { c.limit = n }
}

// NewComposite 校验子 Nut 的类型兼容性并创建 Composite
//
// 所有子 Nut 必须属于同一类别；不可直接拼接的类别只允许一个子 Nut。
func NewComposite(name string, children []Nut, opts ...CompositeOption) (*Composite, error) {
	if len(children) == 0 {
		return nil, errs.IncompatibleTypes(name, fmt.Errorf("no nuts to aggregate"))
	}
	typ := children[0].Type()
	for _, child := range children[1:] {
		if child.Type().Category != typ.Category {
			return nil, errs.IncompatibleTypes(name, fmt.Errorf(
				"cannot mix %s (%s) with %s (%s)",
				children[0].Name(), typ.Category, child.Name(), child.Type().Category))
		}
	}
	if len(children) > 1 && !typ.Aggregatable {
		return nil, errs.IncompatibleTypes(name, fmt.Errorf("type %s cannot be aggregated", typ))
	}

	c := &Composite{
		name:     name,
		typ:      typ,
		children: slices.Clone(children),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Composite) Name() string { return c.name }
func (c *Composite) Type() *Type  { return c.typ }

// Version 由子 Nut 的版本和合并级变换共同决定
func (c *Composite) Version(ctx context.Context) (types.Version, error) {
	return c.version.get(ctx, func(ctx context.Context) (types.Version, error) {
		versions, err := ResolveVersions(ctx, c.children, c.limit)
		if err != nil {
			return "", err
		}
		names := make([]string, len(c.children))
		for i, child := range c.children {
			names[i] = child.Name()
		}
		sum, err := codec.Sum(struct {
			Names    []string        `cbor:"1,keyasint"`
			Versions []types.Version `cbor:"2,keyasint"`
			PerChild []string        `cbor:"3,keyasint"`
			Merged   []string        `cbor:"4,keyasint"`
		}{names, versions, TransformerNames(c.perChild), TransformerNames(c.merged)})
		if err != nil {
			return "", err
		}
		return types.Version("c-" + sum[:32]), nil
	})
}

// Open 返回拼接后的内容，合并级的可聚合变换由调用方经 Transformers 执行
func (c *Composite) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := c.Build(ctx); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(c.content)), nil
}

// References 返回子 Nut
func (c *Composite) References() []Nut           { return slices.Clone(c.children) }
func (c *Composite) Transformers() []Transformer { return slices.Clone(c.merged) }
func (c *Composite) ProxyURI() string            { return c.proxy }

// Children 返回子 Nut (按合并顺序)
func (c *Composite) Children() []Nut { return slices.Clone(c.children) }

// ContentEncoding 当所有子 Nut 输出同一种编码时返回它
func (c *Composite) ContentEncoding() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding
}

// Build 物化所有子 Nut 并建立偏移索引，只执行一次
func (c *Composite) Build(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built {
		return nil
	}

	segs := make([][]byte, len(c.children))
	encs := make([]string, len(c.children))
	g, gctx := errgroup.WithContext(ctx)
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, child := range c.children {
		g.Go(func() error {
			b, err := Materialize(gctx, child)
			if err != nil {
				return err
			}
			data, enc := b.Data(), b.ContentEncoding()
			if len(c.perChild) > 0 {
				out, e, err := Apply(gctx, child, data, c.perChild)
				if err != nil {
					return err
				}
				data = out
				if e != "" {
					enc = e
				}
			}
			segs[i], encs[i] = data, enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lengths := make([]int64, len(segs))
	for i, s := range segs {
		lengths[i] = int64(len(s))
	}
	content := bytes.Join(segs, nil)
	byteIdx := newOffsetIndex(lengths)

	encoding := encs[0]
	for _, e := range encs[1:] {
		if e != encoding {
			return errs.IncompatibleTypes(c.name, fmt.Errorf("children have mixed content encodings"))
		}
	}

	// 编码过的内容 (压缩) 没有字符意义
	var charIdx *offsetIndex
	if c.typ.Text && encoding == "" {
		counts, err := countChars(content, byteIdx, segs, c.charset)
		if err != nil {
			return errs.Configuration(c.name, err)
		}
		idx := newOffsetIndex(counts)
		charIdx = &idx
	}

	c.content = content
	c.encoding = encoding
	c.byteIdx = byteIdx
	c.charIdx = charIdx
	c.built = true
	return nil
}

// Len 返回合并内容的字节数，未构建时为 0
func (c *Composite) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byteIdx.total()
}

// CharLen 返回合并内容的字符数，非文本或未构建时为 0
func (c *Composite) CharLen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charIdx == nil {
		return 0
	}
	return c.charIdx.total()
}

// ArtifactAt 返回包含字节偏移 off 的子 Nut
func (c *Composite) ArtifactAt(off int64) (Nut, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built {
		return nil, false
	}
	i, ok := c.byteIdx.lookup(off)
	if !ok {
		return nil, false
	}
	return c.children[i], true
}

// ArtifactAtChar 返回包含字符偏移 off 的子 Nut
func (c *Composite) ArtifactAtChar(off int64) (Nut, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built || c.charIdx == nil {
		return nil, false
	}
	i, ok := c.charIdx.lookup(off)
	if !ok {
		return nil, false
	}
	return c.children[i], true
}

// Bounds 返回第 i 个子 Nut 在合并内容里的字节区间 [start, end)
func (c *Composite) Bounds(i int) (int64, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built || i < 0 || i >= len(c.children) {
		return 0, 0, false
	}
	start, end := c.byteIdx.bounds(i)
	return start, end, true
}
