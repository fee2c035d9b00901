package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
	"nutflow/pkg/provider/memory"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (http.Handler, *memory.Provider) {
	t.Helper()
	p := memory.New()
	p.Put("a.css", []byte("a{}"))
	p.Put("b.css", []byte("b{}"))
	p.Put("logo.png", []byte{0x89, 'P', 'N', 'G'})

	ctx := context.Background()
	styles, err := heap.New(ctx, heap.Config{ID: "styles", Provider: p, Paths: []string{"*.css"}})
	require.NoError(t, err)
	mixed, err := heap.New(ctx, heap.Config{ID: "mixed", Provider: p, Paths: []string{"*.css", "*.png"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = styles.Close(); _ = mixed.Close() })

	o, err := pipeline.New(pipeline.Config{
		Heaps: []*heap.Heap{styles, mixed},
		Workflows: []pipeline.WorkflowSpec{
			{ID: "css", HeapID: "styles", OutputName: "site.css"},
			{ID: "broken", HeapID: "mixed", Stages: []string{pipeline.StageAggregate}},
		},
		CacheEnabled: true,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return NewHandler(o, quietLogger()), p
}

func do(h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListWorkflows(t *testing.T) {
	h, _ := setup(t)
	rec := do(h, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"workflows":["broken","css"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandler_ListArtifacts(t *testing.T) {
	h, _ := setup(t)
	rec := do(h, "/css", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Artifacts []artifactInfo `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Artifacts, 1)
	assert.Equal(t, "site.css", body.Artifacts[0].Name)
	assert.Equal(t, "css", body.Artifacts[0].Type)
	assert.NotEmpty(t, body.Artifacts[0].Version)
}

func TestHandler_ServeArtifact(t *testing.T) {
	h, _ := setup(t)

	// 明文
	rec := do(h, "/css/site.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a{}b{}", rec.Body.String())
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	// 条件请求
	rec = do(h, "/css/site.css", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// gzip
	rec = do(h, "/css/site.css", map[string]string{"Accept-Encoding": "br, gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "a{}b{}", string(plain))

	// 客户端只接受 br：退回明文
	rec = do(h, "/css/site.css", map[string]string{"Accept-Encoding": "br"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "a{}b{}", rec.Body.String())

	// 子 Nut 也可以直接取
	rec = do(h, "/css/b.css", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b{}", rec.Body.String())
}

func TestHandler_ETagStableUntilPoll(t *testing.T) {
	h, p := setup(t)
	before := do(h, "/css/site.css", nil).Header().Get("ETag")
	p.Put("a.css", []byte("a{color:red}"))

	// 没有轮询：列表不变，ETag 不变
	assert.Equal(t, before, do(h, "/css/site.css", nil).Header().Get("ETag"))
}

func TestHandler_Errors(t *testing.T) {
	h, _ := setup(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/nope", http.StatusNotFound},
		{"/nope/a.css", http.StatusNotFound},
		{"/css/missing.css", http.StatusNotFound},
		{"/broken", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(h, tt.path, map[string]string{"X-Request-Id": "req-1"})
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, "req-1", body["request_id"])
		})
	}
}

type panicRunner struct{}

func (panicRunner) RunWorkflow(context.Context, string, string, ...pipeline.RunOption) ([]nut.Nut, error) {
	panic("boom")
}
func (panicRunner) WorkflowIDs() []string { return nil }

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	h := NewHandler(panicRunner{}, slog.New(slog.NewTextHandler(&logs, nil)))

	rec := do(h, "/css/a.css", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "PANIC RECOVERED")
	assert.Contains(t, logs.String(), "status=500")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errs.NotFound("open", "a"), http.StatusNotFound},
		{errs.Unsupported("save", "a"), http.StatusNotImplemented},
		{errs.Transport("open", "a", fmt.Errorf("connection reset")), http.StatusBadGateway},
		{errs.Timeout("open", "a", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errs.Lookup("*.css", fmt.Errorf("bucket gone")), http.StatusBadGateway},
		{errs.Configuration("w", fmt.Errorf("bad")), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestAcceptedEncodings(t *testing.T) {
	assert.Equal(t, []string{"gzip", "zstd"}, acceptedEncodings("gzip, zstd;q=0.5, br;q=0, identity"))
	assert.Empty(t, acceptedEncodings(""))
}

func TestServe_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Config{Addr: "127.0.0.1:0", Logger: quietLogger()}, panicRunner{}, ready)
	}()

	addr := <-ready
	resp, err := http.Get("http://" + addr.String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
