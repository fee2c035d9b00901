package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
)

// Aggregator 替代默认的拼接，用于不能直接拼接的类别 (例如把图片合成雪碧图)
type Aggregator interface {
	Aggregate(ctx context.Context, name string, nuts []nut.Nut) (nut.Nut, error)
}

// AggregatorFunc 把函数适配成 Aggregator
type AggregatorFunc func(ctx context.Context, name string, nuts []nut.Nut) (nut.Nut, error)

func (f AggregatorFunc) Aggregate(ctx context.Context, name string, nuts []nut.Nut) (nut.Nut, error) {
	return f(ctx, name, nuts)
}

type AggregateOptions struct {
	// OutputName 默认为 "aggregate" + 第一个 Nut 类型的默认扩展名
	OutputName string

	// Transformers 作用在合并级别，见 nut.WithCompositeTransformers
	Transformers []nut.Transformer

	Charset     string
	Concurrency int
	ProxyURI    string

	Aggregators map[nut.Category]Aggregator
}

// Aggregate 把请求里的所有 Nut 合并成一个
type Aggregate struct {
	opts AggregateOptions
}

func NewAggregate(opts AggregateOptions) *Aggregate {
	return &Aggregate{opts: opts}
}

func (a *Aggregate) Kind() Kind { return KindAggregate }

// Identity 覆盖所有影响输出的选项，不同的组合不能共享缓存条目
func (a *Aggregate) Identity() string {
	var b strings.Builder
	b.WriteString("aggregate:")
	b.WriteString(a.opts.OutputName)
	for _, t := range a.opts.Transformers {
		b.WriteString(":")
		b.WriteString(t.Name())
	}
	if a.opts.Charset != "" {
		b.WriteString(";charset=" + a.opts.Charset)
	}
	if a.opts.ProxyURI != "" {
		b.WriteString(";proxy=" + a.opts.ProxyURI)
	}
	categories := slices.Sorted(maps.Keys(a.opts.Aggregators))
	for _, c := range categories {
		b.WriteString(";" + string(c) + "=" + aggregatorIdentity(a.opts.Aggregators[c]))
	}
	return b.String()
}

// Identifier 是 Aggregator 的可选能力：返回稳定的身份标识，参与缓存指纹
type Identifier interface {
	Identity() string
}

func aggregatorIdentity(agg Aggregator) string {
	if id, ok := agg.(Identifier); ok {
		return id.Identity()
	}
	return fmt.Sprintf("%T", agg)
}

func (a *Aggregate) WorksOn(req Request) bool { return len(req.Nuts) > 0 }

func (a *Aggregate) Process(ctx context.Context, req Request, next *Chain) ([]nut.Nut, error) {
	name := a.outputName(req.Nuts)

	category := req.Nuts[0].Type().Category
	for _, n := range req.Nuts[1:] {
		if n.Type().Category != category {
			return nil, errs.IncompatibleTypes(name, fmt.Errorf(
				"cannot mix %s (%s) with %s (%s)",
				req.Nuts[0].Name(), category, n.Name(), n.Type().Category))
		}
	}

	var merged nut.Nut
	if agg, ok := a.opts.Aggregators[category]; ok {
		n, err := agg.Aggregate(ctx, name, req.Nuts)
		if err != nil {
			return nil, errs.IncompatibleTypes(name, err)
		}
		merged = n
	} else {
		c, err := nut.NewComposite(name, req.Nuts,
			nut.WithCompositeTransformers(a.opts.Transformers...),
			nut.WithCharset(a.opts.Charset),
			nut.WithConcurrency(a.opts.Concurrency),
			nut.WithCompositeProxyURI(a.opts.ProxyURI),
		)
		if err != nil {
			return nil, err
		}
		merged = c
	}
	return next.Process(ctx, req.WithNuts([]nut.Nut{merged}))
}

func (a *Aggregate) outputName(nuts []nut.Nut) string {
	if a.opts.OutputName != "" {
		return a.opts.OutputName
	}
	return "aggregate" + nuts[0].Type().DefaultExtension()
}
