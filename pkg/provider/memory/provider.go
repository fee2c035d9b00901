// Package memory 实现一个纯内存的 Provider
// 用于嵌入式场景 (内容由宿主程序直接提供) 和测试
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"sync"

	"nutflow/pkg/errs"
	"nutflow/pkg/provider"
	"nutflow/pkg/types"
)

type entry struct {
	data     []byte
	revision uint64
}

// Provider 实现了 provider.Provider 和 provider.Saver
type Provider struct {
	mu       sync.RWMutex
	entries  map[string]entry
	revision uint64 // 全局递增，保证每次写入的令牌都不同
}

func New() *Provider {
	return &Provider{entries: make(map[string]entry)}
}

// Build 供 provider.Registry 使用，settings 被忽略
func Build(_ context.Context, _ provider.Settings) (provider.Provider, error) {
	return New(), nil
}

// Put 写入 (或覆盖) 一个资源，修改令牌随之变化
func (p *Provider) Put(id string, data []byte) {
	id = provider.CleanID(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revision++
	p.entries[id] = entry{data: bytes.Clone(data), revision: p.revision}
}

// Delete 删除资源
func (p *Provider) Delete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, provider.CleanID(id))
}

func (p *Provider) List(ctx context.Context, pattern string) ([]string, error) {
	pat, err := provider.CompilePattern(pattern)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if lit, ok := pat.Literal(); ok {
		if _, found := p.entries[lit]; found {
			return []string{lit}, nil
		}
		return nil, nil
	}

	var ids []string
	for id := range p.entries {
		if pat.Match(id) {
			ids = append(ids, id)
		}
	}
	// map 的遍历是随机的，排序后保证 Heap 内顺序稳定
	sort.Strings(ids)
	return ids, nil
}

func (p *Provider) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	p.mu.RLock()
	e, ok := p.entries[provider.CleanID(id)]
	p.mu.RUnlock()
	if !ok {
		return nil, 0, errs.NotFound("open", id)
	}
	return io.NopCloser(bytes.NewReader(e.data)), int64(len(e.data)), nil
}

func (p *Provider) LastChanged(ctx context.Context, id string) (types.Version, error) {
	p.mu.RLock()
	e, ok := p.entries[provider.CleanID(id)]
	p.mu.RUnlock()
	if !ok {
		return "", errs.NotFound("lastChanged", id)
	}
	return types.Version("r" + strconv.FormatUint(e.revision, 10)), nil
}

func (p *Provider) Exists(ctx context.Context, id string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[provider.CleanID(id)]
	return ok, nil
}

func (p *Provider) Save(ctx context.Context, id string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Transport("save", id, err)
	}
	p.Put(id, data)
	return nil
}
