package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile 在临时目录里写测试文件
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "css/a.css", "a{}")
	writeFile(t, tmpDir, "css/b.css", "b{}")
	writeFile(t, tmpDir, "css/lib/c.css", "c{}")
	writeFile(t, tmpDir, "js/app.js", "var a;")

	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	// 2. 测试 List
	tests := []struct {
		pattern string
		want    []string
	}{
		{"*.css", []string{"css/a.css", "css/b.css", "css/lib/c.css"}},
		{"css/*.css", []string{"css/a.css", "css/b.css"}},
		{"css/a.css", []string{"css/a.css"}},
		{"css/missing.css", nil},
		{"nope/*.css", nil}, // 前缀目录不存在
		{`regex:js/.*\.js`, []string{"js/app.js"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			ids, err := store.List(ctx, tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}

	// 3. 测试 Open
	reader, size, err := store.Open(ctx, "css/a.css")
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "a{}", string(content))
	assert.Equal(t, int64(3), size)

	_, _, err = store.Open(ctx, "css/missing.css")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// 4. 测试 Exists
	exists, err := store.Exists(ctx, "js/app.js")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "js/other.js")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDiskAdapter_LastChangedAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "a.css", "a{}")

	p, err := Build(context.Background(), provider.Settings{"path": tmpDir})
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := p.LastChanged(ctx, "a.css")
	require.NoError(t, err)

	// 原子写入新内容，并把 mtime 往后拨，避免文件系统时间精度的干扰
	require.NoError(t, provider.Save(ctx, p, "a.css", bytes.NewReader([]byte("a{color:red}"))))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(tmpDir, "a.css"), future, future))

	v2, err := p.LastChanged(ctx, "a.css")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = p.LastChanged(ctx, "missing.css")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// 临时文件不应该残留
	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskAdapter_InvalidRoot(t *testing.T) {
	_, err := NewAdapter(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	_, err = Build(context.Background(), provider.Settings{})
	assert.Error(t, err)
}
