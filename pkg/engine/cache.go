package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
	"nutflow/pkg/types"

	"golang.org/x/sync/singleflight"
)

// Cache 以指纹为键缓存下游阶段物化后的结果
//
// 同一指纹的并发未命中只会执行一次下游处理。
// Cache 订阅请求所属的 Heap，Heap 变化时删除依赖它的条目。
// 变化发生在填充途中时，填充结果不会写入缓存。
type Cache struct {
	store cachestore.Store
	log   *slog.Logger
	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
	subscribed  map[*heap.Heap]func()
}

func NewCache(store cachestore.Store, logger *slog.Logger) *Cache {
	if store == nil {
		store = cachestore.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:       store,
		log:         logger,
		generations: make(map[string]uint64),
		subscribed:  make(map[*heap.Heap]func()),
	}
}

func (c *Cache) Kind() Kind       { return KindCache }
func (c *Cache) Identity() string { return "cache" }

// WorksOn 没有 Heap 的请求无法失效，不缓存
func (c *Cache) WorksOn(req Request) bool { return req.Heap != nil }

func (c *Cache) Process(ctx context.Context, req Request, next *Chain) ([]nut.Nut, error) {
	c.subscribe(req.Heap)
	heapID := req.HeapID()

	fp, err := Fingerprint(ctx, req.Nuts, next.Signature(), req.CanCompress)
	if err != nil {
		return nil, err
	}
	if nuts, ok := c.lookup(ctx, fp); ok {
		return nuts, nil
	}

	v, err, _ := c.group.Do(fp.String(), func() (any, error) {
		// 等待期间可能已经被别人填充
		if nuts, ok := c.lookup(ctx, fp); ok {
			return nuts, nil
		}

		gen := c.generation(heapID)
		out, err := next.Process(ctx, req)
		if err != nil {
			return nil, err
		}
		mats, err := nut.MaterializeAll(ctx, out)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, heapID, gen, &cachestore.Entry{Fingerprint: fp, Heaps: []string{heapID}, Nuts: mats})
		return (&cachestore.Entry{Nuts: mats}).AsNuts(), nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]nut.Nut)), nil
}

func (c *Cache) lookup(ctx context.Context, fp types.Fingerprint) ([]nut.Nut, bool) {
	e, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.log.Warn("cache lookup failed, treating as miss",
			slog.String("fingerprint", fp.Short()), slog.Any("err", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return e.AsNuts(), true
}

// fill 只在 Heap 的代数没有变化时写入
func (c *Cache) fill(ctx context.Context, heapID string, gen uint64, e *cachestore.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[heapID] != gen {
		c.log.Debug("heap changed during fill, result not cached",
			slog.String("heap", heapID), slog.String("fingerprint", e.Fingerprint.Short()))
		return
	}
	if err := c.store.Put(ctx, e); err != nil {
		c.log.Warn("cache put failed",
			slog.String("fingerprint", e.Fingerprint.Short()), slog.Any("err", err))
	}
}

func (c *Cache) generation(heapID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[heapID]
}

func (c *Cache) subscribe(h *heap.Heap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribed[h]; ok {
		return
	}
	c.subscribed[h] = h.AddObserver(c)
}

// HeapChanged 使依赖该 Heap 的条目失效
func (c *Cache) HeapChanged(ctx context.Context, h *heap.Heap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[h.ID()]++
	if err := c.store.Invalidate(ctx, h.ID()); err != nil {
		c.log.Warn("cache invalidation failed", slog.String("heap", h.ID()), slog.Any("err", err))
	}
}

// Close 退订所有 Heap
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, unsub := range c.subscribed {
		unsub()
		delete(c.subscribed, h)
	}
	return nil
}
