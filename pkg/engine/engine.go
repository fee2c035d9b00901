// Package engine 定义处理 Nut 的阶段 (Engine) 以及把它们串起来的 Chain
//
// Chain 是一个显式的有序列表。每个阶段拿到请求和剩余的 Chain，
// 可以在调用 next 之前改写请求，也可以在之后处理 next 的结果。
// 阶段的规范顺序是 cache → compress → aggregate。
package engine

import (
	"context"
	"fmt"
	"slices"

	"nutflow/pkg/errs"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
)

// Kind 决定阶段在 Chain 里的位置
type Kind int

const (
	KindCache Kind = iota + 1
	KindCompress
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindCache:
		return "cache"
	case KindCompress:
		return "compress"
	case KindAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request 是一次处理的输入
type Request struct {
	Workflow string
	Heap     *heap.Heap
	Nuts     []nut.Nut

	// CanCompress 表示调用方接受压缩后的内容
	CanCompress bool
}

// WithNuts 返回替换了 Nut 列表的请求副本
func (r Request) WithNuts(nuts []nut.Nut) Request {
	r.Nuts = nuts
	return r
}

// HeapID 返回请求所属 Heap 的 id，没有 Heap 时为空
func (r Request) HeapID() string {
	if r.Heap == nil {
		return ""
	}
	return r.Heap.ID()
}

// Engine 是 Chain 中的一个阶段
type Engine interface {
	Kind() Kind

	// Identity 描述阶段的配置，相同 Identity 的阶段必须产生相同的输出
	Identity() string

	// WorksOn 为 false 时 Chain 直接跳过这个阶段
	WorksOn(req Request) bool

	Process(ctx context.Context, req Request, next *Chain) ([]nut.Nut, error)
}

// Chain 是按规范顺序排列的阶段列表
type Chain struct {
	stages []Engine
}

// NewChain 校验阶段顺序：每种阶段最多一个，且按 cache → compress → aggregate 排列
func NewChain(stages ...Engine) (*Chain, error) {
	for i := 1; i < len(stages); i++ {
		if stages[i].Kind() <= stages[i-1].Kind() {
			return nil, errs.Configuration("chain", fmt.Errorf(
				"stage %s cannot follow %s", stages[i].Kind(), stages[i-1].Kind()))
		}
	}
	return &Chain{stages: slices.Clone(stages)}, nil
}

// Process 执行第一个适用的阶段；空 Chain 原样返回输入
func (c *Chain) Process(ctx context.Context, req Request) ([]nut.Nut, error) {
	if c == nil || len(c.stages) == 0 {
		return req.Nuts, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	head, rest := c.stages[0], &Chain{stages: c.stages[1:]}
	if !head.WorksOn(req) {
		return rest.Process(ctx, req)
	}
	return head.Process(ctx, req, rest)
}

// Signature 返回各阶段的 Identity，参与缓存指纹
func (c *Chain) Signature() []string {
	if c == nil {
		return nil
	}
	sig := make([]string, len(c.stages))
	for i, s := range c.stages {
		sig[i] = s.Identity()
	}
	return sig
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.stages)
}

// Stages 返回阶段列表的副本
func (c *Chain) Stages() []Engine {
	if c == nil {
		return nil
	}
	return slices.Clone(c.stages)
}
