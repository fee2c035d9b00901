// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/cachestore/redis"
	"nutflow/pkg/cachestore/sql"
	"nutflow/pkg/config"
	"nutflow/pkg/errs"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
	"nutflow/pkg/provider"
	"nutflow/pkg/provider/disk"
	"nutflow/pkg/provider/gcs"
	"nutflow/pkg/provider/memory"
	"nutflow/pkg/provider/s3"
	"nutflow/pkg/transform"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务：Provider、Heap、缓存存储和 Orchestrator
type App struct {
	cfg *config.Config
	log *slog.Logger

	registry  *provider.Registry
	overrides map[string]provider.Provider

	Providers    map[string]provider.Provider
	Heaps        map[string]*heap.Heap
	Store        cachestore.Store
	Orchestrator *pipeline.Orchestrator

	heapOrder []*heap.Heap
}

type Option func(*App)

// WithProvider 用现成的后端替换配置里同 id 的 Provider (测试和嵌入场景)
func WithProvider(id string, p provider.Provider) Option {
	return func(a *App) { a.overrides[id] = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithRegistry 替换后端注册表，用于接入自定义的 Provider 类型
func WithRegistry(r *provider.Registry) Option {
	return func(a *App) { a.registry = r }
}

// DefaultRegistry 注册所有内置后端
func DefaultRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.Register("disk", disk.Build)
	r.Register("s3", s3.Build)
	r.Register("gcs", gcs.Build)
	r.Register("memory", memory.Build)
	return r
}

// New 是工厂函数，只保存配置；真正的组装在 Init 里完成
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:       cfg,
		overrides: make(map[string]provider.Provider),
		Providers: make(map[string]provider.Provider),
		Heaps:     make(map[string]*heap.Heap),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = NewLogger(cfg.Log, os.Stderr)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	return a
}

// Init 按依赖顺序组装：Provider → Heap → 缓存存储 → Orchestrator
// 中途失败时已经创建的资源会被释放
func (a *App) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	if err := a.initProviders(ctx); err != nil {
		return err
	}
	if err := a.initHeaps(ctx); err != nil {
		return err
	}
	store, err := initStore(ctx, a.cfg.Cache, a.log)
	if err != nil {
		return err
	}
	a.Store = store

	specs := make([]pipeline.WorkflowSpec, 0, len(a.cfg.Workflows))
	for _, w := range a.cfg.Workflows {
		specs = append(specs, workflowSpec(w))
	}
	o, err := pipeline.New(pipeline.Config{
		Heaps:        a.heapOrder,
		Workflows:    specs,
		CacheEnabled: a.cfg.Defaults.CacheEnabled,
		CacheStore:   store,
		Transforms:   transform.Default(),
		Concurrency:  a.cfg.Defaults.Concurrency,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}
	a.Orchestrator = o

	a.log.Info("app initialized",
		"providers", len(a.Providers),
		"heaps", len(a.Heaps),
		"workflows", len(specs),
		"cache", a.cfg.Cache.Type)
	return nil
}

func (a *App) initProviders(ctx context.Context) error {
	for _, pc := range a.cfg.Providers {
		backend, ok := a.overrides[pc.ID]
		if !ok {
			var err error
			backend, err = a.registry.Build(ctx, pc.Type, provider.Settings(pc.Settings))
			if err != nil {
				return errs.Configuration(pc.ID, fmt.Errorf("failed to init provider: %w", err))
			}
		}
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = a.cfg.Defaults.ProviderTimeout
		}
		a.Providers[pc.ID] = provider.Guard(backend, provider.GuardOptions{
			Timeout:   timeout,
			RateLimit: pc.RateLimit,
			Burst:     pc.Burst,
		})
	}
	return nil
}

func (a *App) initHeaps(ctx context.Context) error {
	for _, hc := range config.Order(a.cfg.Heaps) {
		strategy, err := nut.ParseVersionStrategy(hc.Versioning)
		if err != nil {
			return errs.Configuration(hc.ID, err)
		}
		children := make([]*heap.Heap, 0, len(hc.Compose))
		for _, id := range hc.Compose {
			children = append(children, a.Heaps[id])
		}
		h, err := heap.New(ctx, heap.Config{
			ID:           hc.ID,
			Provider:     a.Providers[hc.Provider],
			Paths:        hc.Paths,
			Exclude:      hc.Exclude,
			PollInterval: hc.Interval(a.cfg.Defaults),
			Versioning:   strategy,
			Compose:      children,
			Concurrency:  a.cfg.Defaults.Concurrency,
			Logger:       a.log,
		})
		if err != nil {
			return err
		}
		a.Heaps[hc.ID] = h
		a.heapOrder = append(a.heapOrder, h)
	}
	return nil
}

// initStore 根据 cache.type 选择缓存存储
func initStore(ctx context.Context, c config.CacheConfig, log *slog.Logger) (cachestore.Store, error) {
	switch c.Type {
	case "", "memory":
		return cachestore.NewMemory(), nil
	case "redis":
		s, err := redis.New(ctx, redis.Config{URL: c.Redis.URL, TTL: c.TTL, Logger: log})
		if err != nil {
			return nil, errs.Configuration("cache", err)
		}
		return s, nil
	case "sql":
		s, err := sql.Open(ctx, sql.Config{Driver: c.SQL.Driver, DSN: c.SQL.DSN, TTL: c.TTL})
		if err != nil {
			return nil, errs.Configuration("cache", err)
		}
		return s, nil
	default:
		return nil, errs.Configuration("cache", fmt.Errorf("unsupported cache type: %q", c.Type))
	}
}

func workflowSpec(w config.WorkflowConfig) pipeline.WorkflowSpec {
	ts := make([]pipeline.TransformerSpec, 0, len(w.Transformers))
	for _, t := range w.Transformers {
		ts = append(ts, pipeline.TransformerSpec{Name: t.Name, Params: transform.Params(t.Params)})
	}
	return pipeline.WorkflowSpec{
		ID:           w.ID,
		HeapID:       w.Heap,
		Stages:       w.Stages,
		Compressor:   pipeline.TransformerSpec{Name: w.Compressor.Name, Params: transform.Params(w.Compressor.Params)},
		OutputName:   w.Output,
		Transformers: ts,
		Charset:      w.Charset,
		ProxyURI:     w.ProxyURI,
	}
}

// RunWorkflow 委托给 Orchestrator
func (a *App) RunWorkflow(ctx context.Context, workflowID, name string, opts ...pipeline.RunOption) ([]nut.Nut, error) {
	if a.Orchestrator == nil {
		return nil, errs.Configuration("app", errors.New("app is not initialized"))
	}
	return a.Orchestrator.RunWorkflow(ctx, workflowID, name, opts...)
}

// Shutdown 按创建的逆序释放资源，可以重复调用
func (a *App) Shutdown(ctx context.Context) error {
	var errList []error
	if a.Orchestrator != nil {
		errList = append(errList, a.Orchestrator.Close())
		a.Orchestrator = nil
	}
	// 组合 Heap 先关闭，再关闭被组合的 Heap
	for i := len(a.heapOrder) - 1; i >= 0; i-- {
		errList = append(errList, a.heapOrder[i].Close())
	}
	a.heapOrder = nil
	clear(a.Heaps)

	if c, ok := a.Store.(io.Closer); ok {
		errList = append(errList, c.Close())
	}
	a.Store = nil
	for id, p := range a.Providers {
		if err := provider.Close(p); err != nil {
			errList = append(errList, fmt.Errorf("provider %s: %w", id, err))
		}
	}
	clear(a.Providers)
	return errors.Join(errList...)
}

// NewLogger 根据 log 配置创建 slog.Logger
func NewLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
