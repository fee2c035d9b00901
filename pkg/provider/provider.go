package provider

import (
	"context"
	"io"

	"nutflow/pkg/errs"
	"nutflow/pkg/types"
)

// Provider defines the capability a backend must offer to the pipeline.
// Implementations can be local disk, object storage, or in-memory maps.
type Provider interface {
	// List 把字面路径或模式 (glob / "regex:") 解析为具体的标识符
	// 后端不可达时返回 errs.ErrLookup
	List(ctx context.Context, pattern string) ([]string, error)

	// Open 打开资源内容，同时返回长度
	// 注意：返回 io.ReadCloser 而不是 []byte，调用方负责 Close
	Open(ctx context.Context, id string) (io.ReadCloser, int64, error)

	// LastChanged 返回资源的修改令牌，供轮询比较
	// 必须是廉价的元数据调用 (HEAD / stat)，不能读全文
	LastChanged(ctx context.Context, id string) (types.Version, error)

	// Exists 检查资源是否存在
	Exists(ctx context.Context, id string) (bool, error)
}

// Saver 是可选能力：支持写回的后端实现它
type Saver interface {
	Save(ctx context.Context, id string, r io.Reader) error
}

// Save 写回资源
// 后端没有实现 Saver 时返回 errs.ErrUnsupported，而不是静默忽略
func Save(ctx context.Context, p Provider, id string, r io.Reader) error {
	s, ok := p.(Saver)
	if !ok {
		return errs.Unsupported("save", id)
	}
	return s.Save(ctx, id, r)
}

// Close 关闭持有连接的后端 (没有实现 io.Closer 的直接跳过)
func Close(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
