package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nutflow/pkg/cachestore"
	"nutflow/pkg/config"
	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
	"nutflow/pkg/provider/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.Defaults{CacheEnabled: true, ProviderTimeout: time.Second, Concurrency: 4},
		Providers: []config.ProviderConfig{
			{ID: "mem", Type: "memory"},
		},
		Heaps: []config.HeapConfig{
			{ID: "all", Compose: []string{"libs", "app"}},
			{ID: "app", Provider: "mem", Paths: []string{"app/*.js"}},
			{ID: "libs", Provider: "mem", Paths: []string{"lib/*.js"}},
		},
		Workflows: []config.WorkflowConfig{
			{ID: "bundle", Heap: "all", Stages: []string{"cache", "aggregate"}, Output: "bundle.js"},
		},
	}
}

func TestApp_InitAndRun(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.Put("lib/jquery.js", []byte("jq;"))
	mem.Put("app/main.js", []byte("main;"))

	a := New(testConfig(), WithProvider("mem", mem))
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	out, err := a.RunWorkflow(ctx, "bundle", "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bundle.js", out[0].Name())

	b, err := nut.Materialize(ctx, out[0])
	require.NoError(t, err)
	// 组合 Heap：子 Heap 按声明顺序追加
	assert.Equal(t, "jq;main;", string(b.Data()))

	// 子 Heap 变化会传播到组合 Heap，缓存随之失效
	mem.Put("lib/jquery.js", []byte("jq2;"))
	changed, err := a.Heaps["libs"].Poll(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	out, err = a.RunWorkflow(ctx, "bundle", "")
	require.NoError(t, err)
	b, err = nut.Materialize(ctx, out[0])
	require.NoError(t, err)
	assert.Equal(t, "jq2;main;", string(b.Data()))
}

func TestApp_DiskProvider(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.css"), []byte("a{}"), 0644))

	cfg := &config.Config{
		Defaults:  config.Defaults{CacheEnabled: false},
		Providers: []config.ProviderConfig{{ID: "local", Type: "disk", Settings: map[string]string{"path": root}}},
		Heaps:     []config.HeapConfig{{ID: "styles", Provider: "local", Paths: []string{"*.css"}}},
		Workflows: []config.WorkflowConfig{{ID: "css", Heap: "styles"}},
	}
	a := New(cfg, WithLogger(NewLogger(config.LogConfig{Level: "error"}, &bytes.Buffer{})))
	require.NoError(t, a.Init(ctx))
	t.Cleanup(func() { _ = a.Shutdown(ctx) })

	out, err := a.RunWorkflow(ctx, "css", "", pipeline.WithCompression(false))
	require.NoError(t, err)
	require.Len(t, out, 1)
	b, err := nut.Materialize(ctx, out[0])
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(b.Data()))
}

func TestApp_InitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown provider type", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers[0].Type = "ftp"
		err := New(cfg).Init(ctx)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
		assert.Contains(t, err.Error(), "unsupported provider type")
	})

	t.Run("disk without path", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers[0].Type = "disk"
		assert.Error(t, New(cfg).Init(ctx))
	})

	t.Run("unknown transformer", func(t *testing.T) {
		cfg := testConfig()
		cfg.Workflows[0].Transformers = []config.TransformerConfig{{Name: "uglify"}}
		a := New(cfg, WithProvider("mem", memory.New()))
		assert.ErrorIs(t, a.Init(ctx), errs.ErrConfiguration)
		// 失败时已经创建的 Heap 被释放
		assert.Empty(t, a.Heaps)
	})
}

func TestApp_RunBeforeInit(t *testing.T) {
	_, err := New(testConfig()).RunWorkflow(context.Background(), "bundle", "")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	store, err := initStore(ctx, config.CacheConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &cachestore.Memory{}, store)

	c := config.CacheConfig{Type: "sql"}
	c.SQL.Driver = "sqlite"
	c.SQL.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	store, err = initStore(ctx, c, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)

	_, err = initStore(ctx, config.CacheConfig{Type: "memcached"}, nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Contains(t, err.Error(), "unsupported cache type")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	log.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
