package nut

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Transformer 是可插拔的内容变换 (压缩、装饰、转码…)
// 具体算法对管线来说是黑盒
type Transformer interface {
	// Name 是变换的身份标识，参与缓存指纹
	// 同一个名字必须对应同样的输出
	Name() string

	// Transform 读取 r，把结果写入 w
	// n 是正在被变换的 Nut，供需要上下文的变换使用 (例如按名称生成注释)
	Transform(ctx context.Context, r io.Reader, w io.Writer, n Nut) error

	// Aggregates 返回 false 表示输出不能再与其他 Nut 的内容合并变换：
	// 它的输出就是该子 Nut 的最终贡献，原样拼接
	Aggregates() bool
}

// Encoder 是可选能力：输出带内容编码的变换 (gzip / zstd) 实现它
type Encoder interface {
	ContentEncoding() string
}

// Apply 依次执行变换，返回最终内容和内容编码
func Apply(ctx context.Context, n Nut, data []byte, transformers []Transformer) ([]byte, string, error) {
	var encoding string
	for _, t := range transformers {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		if err := t.Transform(ctx, bytes.NewReader(data), &buf, n); err != nil {
			return nil, "", fmt.Errorf("transformer %s on %s: %w", t.Name(), n.Name(), err)
		}
		data = buf.Bytes()
		if e, ok := t.(Encoder); ok {
			encoding = e.ContentEncoding()
		}
	}
	return data, encoding, nil
}

// TransformerNames 返回变换名列表，用于身份标识
func TransformerNames(ts []Transformer) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}
