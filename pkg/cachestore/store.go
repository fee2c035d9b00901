// Package cachestore 定义缓存阶段使用的外部存储能力，并提供内存实现
//
// 缓存以指纹为键保存物化后的 Nut 列表。每个条目记录它依赖的 Heap，
// 任一 Heap 变化时按 Heap 整体失效。
package cachestore

import (
	"context"
	"slices"
	"sync"

	"nutflow/pkg/nut"
	"nutflow/pkg/types"
)

// Entry 是一条缓存记录
type Entry struct {
	Fingerprint types.Fingerprint
	Heaps       []string
	Nuts        []*nut.Bytes
}

// AsNuts 以 nut.Nut 列表的形式返回缓存内容
func (e *Entry) AsNuts() []nut.Nut {
	out := make([]nut.Nut, len(e.Nuts))
	for i, b := range e.Nuts {
		out[i] = b
	}
	return out
}

// Store 是缓存后端的能力接口
type Store interface {
	// Get 未命中时返回 (nil, false, nil)
	Get(ctx context.Context, fp types.Fingerprint) (*Entry, bool, error)
	Put(ctx context.Context, e *Entry) error
	// Invalidate 删除所有依赖该 Heap 的条目
	Invalidate(ctx context.Context, heapID string) error
}

// Memory 是进程内的 Store
type Memory struct {
	mu      sync.RWMutex
	entries map[types.Fingerprint]*Entry
	byHeap  map[string]map[types.Fingerprint]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[types.Fingerprint]*Entry),
		byHeap:  make(map[string]map[types.Fingerprint]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, fp types.Fingerprint) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fp]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Fingerprint] = &Entry{
		Fingerprint: e.Fingerprint,
		Heaps:       slices.Clone(e.Heaps),
		Nuts:        slices.Clone(e.Nuts),
	}
	for _, h := range e.Heaps {
		set, ok := m.byHeap[h]
		if !ok {
			set = make(map[types.Fingerprint]struct{})
			m.byHeap[h] = set
		}
		set[e.Fingerprint] = struct{}{}
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, heapID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp := range m.byHeap[heapID] {
		delete(m.entries, fp)
	}
	delete(m.byHeap, heapID)
	return nil
}

// Len 返回条目数
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
