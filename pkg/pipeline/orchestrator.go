// Package pipeline 把 Heap 和 Chain 组合成可以按名称调用的工作流
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/engine"
	"nutflow/pkg/errs"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
	"nutflow/pkg/provider"
	"nutflow/pkg/transform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nutflow/pipeline"

// Config 是 Orchestrator 的输入，全部是已经校验过的内存结构
type Config struct {
	Heaps     []*heap.Heap
	Workflows []WorkflowSpec

	CacheEnabled bool
	CacheStore   cachestore.Store // nil 时使用内存存储

	Transforms  *transform.Registry // nil 时使用内置变换
	Aggregators map[nut.Category]engine.Aggregator
	Concurrency int

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Orchestrator 持有所有工作流，所有工作流共用一个缓存阶段
type Orchestrator struct {
	heaps     map[string]*heap.Heap
	workflows map[string]*Workflow
	cache     *engine.Cache
	log       *slog.Logger
	tracer    trace.Tracer
}

// New 编译所有工作流；任何引用错误都返回 Configuration 错误
func New(cfg Config) (*Orchestrator, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	transforms := cfg.Transforms
	if transforms == nil {
		transforms = transform.Default()
	}

	o := &Orchestrator{
		heaps:     make(map[string]*heap.Heap, len(cfg.Heaps)),
		workflows: make(map[string]*Workflow, len(cfg.Workflows)),
		cache:     engine.NewCache(cfg.CacheStore, log),
		log:       log,
		tracer:    tracer,
	}
	for _, h := range cfg.Heaps {
		if _, dup := o.heaps[h.ID()]; dup {
			return nil, errs.Configuration(h.ID(), fmt.Errorf("duplicate heap id"))
		}
		o.heaps[h.ID()] = h
	}

	env := &compileEnv{
		cache:        o.cache,
		transforms:   transforms,
		aggregators:  cfg.Aggregators,
		concurrency:  cfg.Concurrency,
		cacheEnabled: cfg.CacheEnabled,
	}
	for _, spec := range cfg.Workflows {
		if spec.ID == "" {
			return nil, errs.Configuration("workflow", fmt.Errorf("workflow id is required"))
		}
		if _, dup := o.workflows[spec.ID]; dup {
			return nil, errs.Configuration(spec.ID, fmt.Errorf("duplicate workflow id"))
		}
		if _, ok := o.heaps[spec.HeapID]; !ok {
			return nil, errs.Configuration(spec.ID, fmt.Errorf("workflow references unknown heap %q", spec.HeapID))
		}
		wf, err := env.compile(spec)
		if err != nil {
			return nil, err
		}
		o.workflows[spec.ID] = wf
	}
	return o, nil
}

// RunOption 调整单次调用
type RunOption func(*runOptions)

type runOptions struct {
	canCompress bool
}

// WithCompression 声明调用方是否接受压缩内容 (默认接受)
func WithCompression(ok bool) RunOption {
	return func(o *runOptions) { o.canCompress = ok }
}

// RunWorkflow 对工作流所属 Heap 的当前列表执行 Chain
//
// name 为空时返回全部结果；否则只返回名称 (或代理路径) 匹配的那一个，
// 会在结果的引用里继续查找。
func (o *Orchestrator) RunWorkflow(ctx context.Context, workflowID, name string, opts ...RunOption) (_ []nut.Nut, err error) {
	ro := runOptions{canCompress: true}
	for _, opt := range opts {
		opt(&ro)
	}

	ctx, span := o.tracer.Start(ctx, "RunWorkflow", trace.WithAttributes(
		attribute.String("nutflow.workflow", workflowID),
		attribute.String("nutflow.name", name),
		attribute.Bool("nutflow.can_compress", ro.canCompress),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.log.Debug("workflow failed",
				slog.String("workflow", workflowID), slog.String("name", name), slog.Any("err", err))
		} else {
			o.log.Debug("workflow done",
				slog.String("workflow", workflowID), slog.String("name", name),
				slog.Duration("duration", time.Since(start)))
		}
		span.End()
	}()

	wf, ok := o.workflows[workflowID]
	if !ok {
		return nil, errs.WorkflowNotFound(workflowID)
	}
	h := o.heaps[wf.HeapID]

	req := engine.Request{
		Workflow:    workflowID,
		Heap:        h,
		Nuts:        h.Nuts(),
		CanCompress: ro.canCompress,
	}
	span.SetAttributes(attribute.Int("nutflow.input_count", len(req.Nuts)))

	out, err := wf.Chain.Process(ctx, req)
	if err != nil {
		return nil, errs.WithWorkflow(err, workflowID, name)
	}
	if name == "" {
		return out, nil
	}
	if n, ok := findByNameOrProxy(out, name); ok {
		return []nut.Nut{n}, nil
	}
	return nil, errs.ArtifactNotFound(workflowID, name)
}

func findByNameOrProxy(nuts []nut.Nut, name string) (nut.Nut, bool) {
	if n, ok := nut.Find(nuts, name); ok {
		return n, true
	}
	clean := provider.CleanID(name)
	for _, n := range nuts {
		if p := n.ProxyURI(); p != "" && provider.CleanID(p) == clean {
			return n, true
		}
	}
	return nil, false
}

// Workflow 按 id 返回编译好的工作流
func (o *Orchestrator) Workflow(id string) (*Workflow, bool) {
	wf, ok := o.workflows[id]
	return wf, ok
}

// WorkflowIDs 返回排序后的工作流 id
func (o *Orchestrator) WorkflowIDs() []string {
	ids := make([]string, 0, len(o.workflows))
	for id := range o.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) Heap(id string) (*heap.Heap, bool) {
	h, ok := o.heaps[id]
	return h, ok
}

// Close 退订缓存阶段对 Heap 的监听，Heap 本身由创建者关闭
func (o *Orchestrator) Close() error {
	return o.cache.Close()
}
