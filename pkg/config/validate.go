package config

import (
	"fmt"
	"slices"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
)

var cacheTypes = []string{"", "memory", "redis", "sql"}

// Validate 检查引用关系；发现的第一个问题以 Configuration 错误返回
func Validate(c *Config) error {
	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return errs.Configuration("provider", fmt.Errorf("provider id is required"))
		}
		if providers[p.ID] {
			return errs.Configuration(p.ID, fmt.Errorf("duplicate provider id"))
		}
		if p.Type == "" {
			return errs.Configuration(p.ID, fmt.Errorf("provider type is required"))
		}
		if p.RateLimit < 0 || p.Burst < 0 {
			return errs.Configuration(p.ID, fmt.Errorf("rate limit and burst must not be negative"))
		}
		providers[p.ID] = true
	}

	heaps := make(map[string]HeapConfig, len(c.Heaps))
	for _, h := range c.Heaps {
		if h.ID == "" {
			return errs.Configuration("heap", fmt.Errorf("heap id is required"))
		}
		if _, dup := heaps[h.ID]; dup {
			return errs.Configuration(h.ID, fmt.Errorf("duplicate heap id"))
		}
		if len(h.Paths) > 0 && !providers[h.Provider] {
			return errs.Configuration(h.ID, fmt.Errorf("heap references unknown provider %q", h.Provider))
		}
		if len(h.Paths) == 0 && len(h.Compose) == 0 {
			return errs.Configuration(h.ID, fmt.Errorf("heap needs paths or compose"))
		}
		if h.PollingInterval != nil && *h.PollingInterval < 0 {
			return errs.Configuration(h.ID, fmt.Errorf("polling interval must not be negative"))
		}
		if _, err := nut.ParseVersionStrategy(h.Versioning); err != nil {
			return errs.Configuration(h.ID, err)
		}
		heaps[h.ID] = h
	}
	for _, h := range c.Heaps {
		for _, child := range h.Compose {
			if _, ok := heaps[child]; !ok {
				return errs.Configuration(h.ID, fmt.Errorf("heap composes unknown heap %q", child))
			}
		}
	}
	if cycle := findComposeCycle(c.Heaps); cycle != "" {
		return errs.Configuration(cycle, fmt.Errorf("heap compose cycle"))
	}

	workflows := make(map[string]bool, len(c.Workflows))
	for _, w := range c.Workflows {
		if w.ID == "" {
			return errs.Configuration("workflow", fmt.Errorf("workflow id is required"))
		}
		if workflows[w.ID] {
			return errs.Configuration(w.ID, fmt.Errorf("duplicate workflow id"))
		}
		if _, ok := heaps[w.Heap]; !ok {
			return errs.Configuration(w.ID, fmt.Errorf("workflow references unknown heap %q", w.Heap))
		}
		for _, s := range w.Stages {
			if !slices.Contains(pipeline.DefaultStages, s) {
				return errs.Configuration(w.ID, fmt.Errorf("unknown stage %q", s))
			}
		}
		workflows[w.ID] = true
	}

	if !slices.Contains(cacheTypes, c.Cache.Type) {
		return errs.Configuration("cache", fmt.Errorf("unknown cache type %q", c.Cache.Type))
	}
	if c.Cache.Type == "redis" && c.Cache.Redis.URL == "" {
		return errs.Configuration("cache", fmt.Errorf("redis cache requires cache.redis.url"))
	}
	if c.Cache.Type == "sql" && c.Cache.SQL.DSN == "" {
		return errs.Configuration("cache", fmt.Errorf("sql cache requires cache.sql.dsn"))
	}
	return nil
}

// findComposeCycle 返回环上某个 Heap 的 id，没有环时为空
func findComposeCycle(heaps []HeapConfig) string {
	edges := make(map[string][]string, len(heaps))
	for _, h := range heaps {
		edges[h.ID] = h.Compose
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(heaps))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, next := range edges[id] {
			if found := visit(next); found != "" {
				return found
			}
		}
		state[id] = done
		return ""
	}
	for _, h := range heaps {
		if found := visit(h.ID); found != "" {
			return found
		}
	}
	return ""
}

// Order 返回 Heap 的创建顺序：被组合的 Heap 排在组合它的 Heap 之前
// 调用前必须已经通过 Validate
func Order(heaps []HeapConfig) []HeapConfig {
	byID := make(map[string]HeapConfig, len(heaps))
	for _, h := range heaps {
		byID[h.ID] = h
	}
	seen := make(map[string]bool, len(heaps))
	out := make([]HeapConfig, 0, len(heaps))
	var visit func(h HeapConfig)
	visit = func(h HeapConfig) {
		if seen[h.ID] {
			return
		}
		seen[h.ID] = true
		for _, child := range h.Compose {
			visit(byID[child])
		}
		out = append(out, h)
	}
	for _, h := range heaps {
		visit(h)
	}
	return out
}
