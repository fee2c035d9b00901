package redis

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/nut"
	"nutflow/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 检查本地 Redis 是否可用，不可用时跳过
func checkRedis(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "localhost:6379", 1*time.Second)
	if err != nil {
		t.Skip("Skipping Redis test: localhost:6379 not reachable")
	}
	_ = conn.Close()
}

func mustStore(t *testing.T) *Store {
	t.Helper()
	checkRedis(t)
	s, err := New(context.Background(), Config{
		URL:    "redis://localhost:6379/0",
		TTL:    time.Minute,
		Prefix: fmt.Sprintf("nf:test:%d:", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fingerprint(seed string) types.Fingerprint {
	return types.Fingerprint(fmt.Sprintf("%064s", seed))
}

func TestStore_PutGetInvalidate(t *testing.T) {
	ctx := context.Background()
	s := mustStore(t)

	child := nut.NewBytes("a.js", nil, "v1", []byte("a"))
	agg := nut.NewBytes("all.js", nil, "c-1", []byte("a"), nut.WithBytesReferences(child), nut.WithEncoding("gzip"))

	fp1, fp2 := fingerprint("1"), fingerprint("2")
	require.NoError(t, s.Put(ctx, &cachestore.Entry{Fingerprint: fp1, Heaps: []string{"web"}, Nuts: []*nut.Bytes{agg}}))
	require.NoError(t, s.Put(ctx, &cachestore.Entry{Fingerprint: fp2, Heaps: []string{"img"}, Nuts: []*nut.Bytes{child}}))

	// 1. 命中
	e, ok, err := s.Get(ctx, fp1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, e.Nuts, 1)
	assert.Equal(t, "all.js", e.Nuts[0].Name())
	assert.Equal(t, "gzip", e.Nuts[0].ContentEncoding())
	require.Len(t, e.Nuts[0].References(), 1)
	assert.Equal(t, "a.js", e.Nuts[0].References()[0].Name())

	// 2. 按 Heap 失效，只影响依赖它的条目
	require.NoError(t, s.Invalidate(ctx, "web"))
	_, ok, err = s.Get(ctx, fp1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, fp2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "not-a-url"})
	assert.Error(t, err)
}
