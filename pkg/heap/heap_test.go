package heap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/provider/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider 可以让 List 临时失败
type flakyProvider struct {
	*memory.Provider
	fail atomic.Bool
}

func (f *flakyProvider) List(ctx context.Context, pattern string) ([]string, error) {
	if f.fail.Load() {
		return nil, errs.Lookup(pattern, errors.New("backend unavailable"))
	}
	return f.Provider.List(ctx, pattern)
}

func mustHeap(t *testing.T, cfg Config) *Heap {
	t.Helper()
	h, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func names(nuts []nut.Nut) []string {
	out := make([]string, len(nuts))
	for i, n := range nuts {
		out[i] = n.Name()
	}
	return out
}

func TestNew_InitialResolve(t *testing.T) {
	p := memory.New()
	p.Put("css/b.css", []byte("b{}"))
	p.Put("css/a.css", []byte("a{}"))
	p.Put("js/app.js", []byte("var a;"))

	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"js/app.js", "*.css", "js/*.js"}})

	// 按路径顺序，重复 id 只保留一次
	assert.Equal(t, []string{"js/app.js", "css/a.css", "css/b.css"}, names(h.Nuts()))

	n, ok := h.Nut("/css/a.css")
	require.True(t, ok)
	assert.Same(t, nut.CSS, n.Type())

	st := h.State()
	assert.Equal(t, "web", st.ID)
	assert.Equal(t, 3, st.Count)
	assert.EqualValues(t, 1, st.Generation)
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{ID: "web", Provider: memory.New(), Paths: []string{"regex:("}})
	assert.ErrorIs(t, err, errs.ErrLookup)

	_, err = New(ctx, Config{ID: "web", Paths: []string{"*.css"}})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = New(ctx, Config{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestPoll_DetectsChanges(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	p.Put("a.css", []byte("a{}"))
	p.Put("b.css", []byte("b{}"))
	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"*.css"}})

	before := h.Nuts()

	// 1. 无变化
	changed, err := h.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.EqualValues(t, 1, h.State().Generation)

	// 2. 修改一个文件：只有它被替换，另一个沿用旧实例
	p.Put("b.css", []byte("b{color:red}"))
	changed, err = h.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	after := h.Nuts()
	require.Len(t, after, 2)
	assert.Same(t, before[0], after[0])
	assert.NotSame(t, before[1], after[1])

	v1, _ := before[1].Version(ctx)
	v2, _ := after[1].Version(ctx)
	assert.NotEqual(t, v1, v2)

	// 3. 删除和新增
	p.Delete("a.css")
	p.Put("c.css", []byte("c{}"))
	changed, err = h.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"b.css", "c.css"}, names(h.Nuts()))
	assert.EqualValues(t, 3, h.State().Generation)

	// 之前拿到的列表不受影响
	assert.Equal(t, []string{"a.css", "b.css"}, names(before))
}

func TestPoll_FailureKeepsList(t *testing.T) {
	ctx := context.Background()
	p := &flakyProvider{Provider: memory.New()}
	p.Put("a.js", []byte("1"))
	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"*.js"}})

	var notified atomic.Int32
	h.AddObserver(ObserverFunc(func(context.Context, *Heap) { notified.Add(1) }))

	p.fail.Store(true)
	p.Put("b.js", []byte("2"))
	changed, err := h.Poll(ctx)
	assert.ErrorIs(t, err, errs.ErrLookup)
	assert.False(t, changed)
	assert.Equal(t, []string{"a.js"}, names(h.Nuts()))
	assert.Zero(t, notified.Load())

	p.fail.Store(false)
	changed, err = h.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.EqualValues(t, 1, notified.Load())
}

func TestObservers(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	p.Put("a.js", []byte("1"))
	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"*.js"}})

	var seen []string
	remove := h.AddObserver(ObserverFunc(func(_ context.Context, got *Heap) {
		// 通知发生在替换之后：观察者读到的是新列表
		seen = names(got.Nuts())
	}))
	h.AddObserver(ObserverFunc(func(context.Context, *Heap) { panic("boom") }))

	p.Put("b.js", []byte("2"))
	_, err := h.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js", "b.js"}, seen)

	remove()
	p.Put("c.js", []byte("3"))
	_, err = h.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js", "b.js"}, seen, "注销后不再通知")
}

func TestPollingLoop(t *testing.T) {
	p := memory.New()
	p.Put("a.js", []byte("1"))
	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"*.js"}, PollInterval: 10 * time.Millisecond})

	changed := make(chan struct{}, 1)
	h.AddObserver(ObserverFunc(func(context.Context, *Heap) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	p.Put("b.js", []byte("2"))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("polling loop did not pick up the change")
	}
	assert.Len(t, h.Nuts(), 2)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestCompose(t *testing.T) {
	ctx := context.Background()
	libs := memory.New()
	libs.Put("lib/jquery.js", []byte("jq"))
	app := memory.New()
	app.Put("app.js", []byte("app"))

	child := mustHeap(t, Config{ID: "libs", Provider: libs, Paths: []string{"lib/*.js"}})
	parent := mustHeap(t, Config{ID: "all", Provider: app, Paths: []string{"*.js"}, Compose: []*Heap{child}})

	assert.Equal(t, []string{"app.js", "lib/jquery.js"}, names(parent.Nuts()))

	var notified atomic.Int32
	parent.AddObserver(ObserverFunc(func(context.Context, *Heap) { notified.Add(1) }))

	// 子 Heap 变化会传递给父 Heap
	libs.Put("lib/lodash.js", []byte("_"))
	changed, err := child.Poll(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, []string{"app.js", "lib/jquery.js", "lib/lodash.js"}, names(parent.Nuts()))
	assert.EqualValues(t, 1, notified.Load())
}

func TestContentVersioning(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	p.Put("a.js", []byte("same"))
	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"a.js"}, Versioning: nut.VersionByContent})

	n, ok := h.Nut("a.js")
	require.True(t, ok)
	v, err := n.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, nut.ContentVersion([]byte("same")), v)
}

func TestExclude(t *testing.T) {
	p := memory.New()
	p.Put("js/app.js", []byte("a;"))
	p.Put("js/app.js.map", []byte("{}"))
	p.Put("js/vendor/jq.js", []byte("jq;"))
	p.Put("js/.env", []byte("SECRET=1"))

	h := mustHeap(t, Config{ID: "web", Provider: p, Paths: []string{"*.js", "*.map", "js/.env"}, Exclude: []string{"*.map", "vendor"}})

	// .env 由默认规则排除
	assert.Equal(t, []string{"js/app.js"}, names(h.Nuts()))
}
