package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupWorkspace 准备一个使用 真实文件系统 + 内存缓存 的配置
func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	assets := filepath.Join(root, "assets")
	require.NoError(t, os.MkdirAll(filepath.Join(assets, "js"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "js", "a.js"), []byte("var a = 1;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "js", "b.js"), []byte("var b = 2;\n"), 0644))

	cfg := `
log:
  level: error
providers:
  - id: local
    type: disk
    settings:
      path: ` + assets + `
heaps:
  - id: scripts
    provider: local
    paths: ["js/*.js"]
workflows:
  - id: bundle
    heap: scripts
    output: app.js
`
	path := filepath.Join(root, "nutflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	NF = nil
	catOutDir, catCompress, heapsPoll = "", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func TestCat(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := run(t, "--config", cfg, "cat", "bundle")
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", out)
	assert.Nil(t, NF, "app is shut down after the command")

	out, err = run(t, "--config", cfg, "cat", "bundle", "js/b.js")
	require.NoError(t, err)
	assert.Equal(t, "var b = 2;\n", out)
}

func TestCat_OutDir(t *testing.T) {
	cfg := setupWorkspace(t)
	dir := t.TempDir()

	_, err := run(t, "--config", cfg, "cat", "bundle", "--out", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", string(data))
}

func TestCat_UnknownWorkflow(t *testing.T) {
	cfg := setupWorkspace(t)
	_, err := run(t, "--config", cfg, "cat", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow not found")
}

func TestHeapsAndWorkflows(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := run(t, "--config", cfg, "heaps", "--poll")
	require.NoError(t, err)
	assert.Contains(t, out, "HEAP")
	assert.Regexp(t, `scripts\s+2\s+1`, out)

	out, err = run(t, "--config", cfg, "workflows")
	require.NoError(t, err)
	assert.Contains(t, out, "bundle")
	assert.Contains(t, out, "aggregate:app.js")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nutflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heaps:\n  - id: x\n    provider: nope\n    paths: [a]\n"), 0644))

	_, err := run(t, "--config", path, "heaps")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
