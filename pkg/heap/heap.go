// Package heap 维护一组可变的 Nut 集合
//
// Heap 在创建时同步解析一次，之后按间隔轮询 Provider。
// 每次轮询计算一个全新的列表，确认有变化后原子替换，再通知观察者。
// 读取方永远只会看到某一次完整替换后的列表。
package heap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/ignore"
	"nutflow/pkg/nut"
	"nutflow/pkg/provider"
	"nutflow/pkg/types"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency 是并发查询修改令牌的默认上限
const DefaultConcurrency = 8

// Config 描述一个 Heap
type Config struct {
	ID       string
	Provider provider.Provider
	Paths    []string // 按顺序解析，重复的 id 只保留第一次出现

	// Exclude 是 gitignore 语法的排除规则，叠加在 ignore.DefaultRules 之后
	Exclude []string

	// PollInterval <= 0 表示不轮询
	PollInterval time.Duration
	Versioning   nut.VersionStrategy

	// Compose 中的 Heap 的内容追加在自身内容之后，任一子 Heap 变化都会触发重新解析
	Compose []*Heap

	Concurrency int
	Logger      *slog.Logger
}

// State 是 Heap 当前状态的摘要
type State struct {
	ID         string
	Count      int
	Generation uint64 // 每次替换列表加一
	UpdatedAt  time.Time
}

type entry struct {
	id    string
	token types.Version // 子 Heap 的条目为空
	nut   nut.Nut
}

type snapshot struct {
	entries    []entry
	nuts       []nut.Nut
	byName     map[string]nut.Nut
	generation uint64
	updatedAt  time.Time
}

type Heap struct {
	cfg     Config
	log     *slog.Logger
	exclude *ignore.Matcher

	state  atomic.Pointer[snapshot]
	pollMu sync.Mutex

	obsMu     sync.Mutex
	observers []*observerSlot

	unsubscribe []func()
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
}

// New 同步解析一次；解析失败时不会创建 Heap
func New(ctx context.Context, cfg Config) (*Heap, error) {
	if cfg.ID == "" {
		return nil, errs.Configuration("heap", fmt.Errorf("heap id is required"))
	}
	if len(cfg.Paths) > 0 && cfg.Provider == nil {
		return nil, errs.Configuration(cfg.ID, fmt.Errorf("heap has paths but no provider"))
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Versioning == "" {
		cfg.Versioning = nut.VersionByModTime
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	h := &Heap{
		cfg:     cfg,
		log:     log.With(slog.String("heap", cfg.ID)),
		exclude: ignore.NewMatcher(cfg.Exclude...),
		done:    make(chan struct{}),
	}

	first, err := h.resolve(ctx, nil)
	if err != nil {
		return nil, err
	}
	first.generation = 1
	h.state.Store(first)

	for _, child := range cfg.Compose {
		h.unsubscribe = append(h.unsubscribe, child.AddObserver(ObserverFunc(h.childChanged)))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	if cfg.PollInterval > 0 {
		go h.loop(loopCtx)
	} else {
		close(h.done)
	}
	return h, nil
}

func (h *Heap) ID() string { return h.cfg.ID }

// Nuts 返回当前列表的副本
func (h *Heap) Nuts() []nut.Nut {
	return slices.Clone(h.state.Load().nuts)
}

// Nut 按名称查找当前列表中的 Nut
func (h *Heap) Nut(name string) (nut.Nut, bool) {
	n, ok := h.state.Load().byName[provider.CleanID(name)]
	return n, ok
}

func (h *Heap) State() State {
	s := h.state.Load()
	return State{ID: h.cfg.ID, Count: len(s.nuts), Generation: s.generation, UpdatedAt: s.updatedAt}
}

// Poll 重新解析一次，有变化时替换列表并通知观察者
// 并发调用会被串行化
func (h *Heap) Poll(ctx context.Context) (bool, error) {
	h.pollMu.Lock()
	prev := h.state.Load()
	next, err := h.resolve(ctx, prev)
	if err != nil {
		h.pollMu.Unlock()
		return false, err
	}
	if sameEntries(prev.entries, next.entries) {
		h.pollMu.Unlock()
		return false, nil
	}
	next.generation = prev.generation + 1
	h.state.Store(next)
	h.pollMu.Unlock()

	h.log.Debug("heap changed", slog.Int("count", len(next.nuts)), slog.Uint64("generation", next.generation))
	h.notify(ctx)
	return true, nil
}

// Close 停止轮询并退订子 Heap，可以重复调用
func (h *Heap) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done
		for _, unsub := range h.unsubscribe {
			unsub()
		}
	})
	return nil
}

func (h *Heap) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Poll(ctx); err != nil && ctx.Err() == nil {
				// 轮询失败只记录，保留旧列表继续下一轮
				h.log.Warn("heap poll failed", slog.Any("err", err))
			}
		}
	}
}

func (h *Heap) childChanged(ctx context.Context, child *Heap) {
	if _, err := h.Poll(ctx); err != nil {
		h.log.Warn("heap re-resolve after child change failed",
			slog.String("child", child.ID()), slog.Any("err", err))
	}
}

// resolve 计算一个新列表；令牌未变的 Nut 沿用 prev 里的实例
func (h *Heap) resolve(ctx context.Context, prev *snapshot) (*snapshot, error) {
	ids, err := h.list(ctx)
	if err != nil {
		return nil, err
	}

	tokens := make([]types.Version, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			v, err := h.cfg.Provider.LastChanged(gctx, id)
			if errors.Is(err, errs.ErrNotFound) {
				// 列出之后被删除，视为不存在
				return nil
			}
			tokens[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reuse := make(map[string]entry)
	if prev != nil {
		for _, e := range prev.entries {
			if !e.token.IsZero() {
				reuse[e.id] = e
			}
		}
	}

	next := &snapshot{byName: make(map[string]nut.Nut), updatedAt: time.Now()}
	add := func(e entry) {
		name := e.nut.Name()
		if _, dup := next.byName[name]; dup {
			return
		}
		next.entries = append(next.entries, e)
		next.nuts = append(next.nuts, e.nut)
		next.byName[name] = e.nut
	}

	for i, id := range ids {
		token := tokens[i]
		if token.IsZero() {
			continue
		}
		if old, ok := reuse[id]; ok && old.token == token {
			add(old)
			continue
		}
		add(entry{id: id, token: token, nut: h.newNut(id, token)})
	}
	for _, child := range h.cfg.Compose {
		for _, n := range child.Nuts() {
			add(entry{id: n.Name(), nut: n})
		}
	}
	return next, nil
}

func (h *Heap) newNut(id string, token types.Version) nut.Nut {
	if h.cfg.Versioning == nut.VersionByContent {
		return nut.NewResource(h.cfg.Provider, id, nut.WithStrategy(nut.VersionByContent))
	}
	return nut.NewResource(h.cfg.Provider, id, nut.WithVersion(token))
}

func (h *Heap) list(ctx context.Context) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, path := range h.cfg.Paths {
		found, err := h.cfg.Provider.List(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			id = provider.CleanID(id)
			if _, ok := seen[id]; ok || h.exclude.Matches(id) {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// sameEntries 比较 id 和 Nut 实例；令牌相同的 Nut 会被沿用，所以实例相同即未变化
func sameEntries(a, b []entry) bool {
	return slices.EqualFunc(a, b, func(x, y entry) bool {
		return x.id == y.id && x.nut == y.nut
	})
}
