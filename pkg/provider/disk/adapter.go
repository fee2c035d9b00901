package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"nutflow/pkg/errs"
	"nutflow/pkg/provider"
	"nutflow/pkg/types"
)

// Adapter 实现了 provider.Provider 接口 (本地目录)
type Adapter struct {
	rootPath string // 比如: /srv/www/static
}

// NewAdapter 创建一个新的磁盘适配器
func NewAdapter(root string) (*Adapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Adapter{rootPath: abs}, nil
}

// Build 供 provider.Registry 使用
// settings: path (必填)
func Build(_ context.Context, settings provider.Settings) (provider.Provider, error) {
	root := settings.Get("path", "")
	if root == "" {
		return nil, fmt.Errorf("disk provider: path is required")
	}
	return NewAdapter(root)
}

// layout 返回标识符对应的物理路径
// 清洗后的标识符不会以 ".." 开头，不会逃出根目录
func (s *Adapter) layout(id string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(provider.CleanID(id)))
}

func (s *Adapter) List(ctx context.Context, pattern string) ([]string, error) {
	pat, err := provider.CompilePattern(pattern)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}

	// 1. 字面路径：stat 一次即可，不扫描目录
	if lit, ok := pat.Literal(); ok {
		info, err := os.Stat(s.layout(lit))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, errs.Lookup(pattern, err)
		}
		if info.IsDir() {
			return nil, nil
		}
		return []string{lit}, nil
	}

	// 2. 模式：从前缀目录开始遍历
	start := s.rootPath
	if prefix := pat.Prefix(); prefix != "" {
		start = s.layout(prefix)
	}

	var ids []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// 前缀目录不存在 = 没有匹配
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.rootPath, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if pat.Match(id) {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}
	// WalkDir 按字典序遍历，结果天然有序
	return ids, nil
}

func (s *Adapter) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.layout(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, errs.NotFound("open", id)
	}
	if err != nil {
		return nil, 0, errs.Transport("open", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errs.Transport("open", id, err)
	}
	return f, info.Size(), nil
}

// LastChanged 使用 mtime (纳秒) + size 作为令牌
// 只改内容不改 mtime 的情况很少见，加上 size 再兜一层
func (s *Adapter) LastChanged(ctx context.Context, id string) (types.Version, error) {
	info, err := os.Stat(s.layout(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", errs.NotFound("lastChanged", id)
	}
	if err != nil {
		return "", errs.Transport("lastChanged", id, err)
	}
	token := strconv.FormatInt(info.ModTime().UnixNano(), 10) + "-" + strconv.FormatInt(info.Size(), 10)
	return types.Version(token), nil
}

func (s *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	_, err := os.Stat(s.layout(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errs.Transport("exists", id, err)
}

// Save 原子写入
func (s *Adapter) Save(ctx context.Context, id string, r io.Reader) error {
	targetPath := s.layout(id)

	// 1. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Transport("save", id, err)
	}

	// 2. 原子写入 (Atomic Write)
	// 先写到一个临时文件，然后 Rename。
	// 这样轮询方要么看到旧文件，要么看到完整的新文件。
	tempFile, err := os.CreateTemp(dir, ".nutflow-*")
	if err != nil {
		return errs.Transport("save", id, err)
	}
	// 如果成功 Rename 了，这个删除会失败，无害
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, r); err != nil {
		tempFile.Close()
		return errs.Transport("save", id, err)
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return errs.Transport("save", id, err)
	}

	// 3. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return errs.Transport("save", id, err)
	}
	return nil
}
