package engine

import (
	"context"

	"nutflow/pkg/nut"
)

// Compress 给下游的输出附加压缩变换
//
// 它在 next 返回之后才工作，所以压缩的是聚合之后的结果。
// 只处理可压缩且尚未编码的 Nut。
type Compress struct {
	compressor nut.Transformer
}

func NewCompress(compressor nut.Transformer) *Compress {
	return &Compress{compressor: compressor}
}

func (c *Compress) Kind() Kind       { return KindCompress }
func (c *Compress) Identity() string { return "compress:" + c.compressor.Name() }

func (c *Compress) WorksOn(req Request) bool { return req.CanCompress }

func (c *Compress) Process(ctx context.Context, req Request, next *Chain) ([]nut.Nut, error) {
	nuts, err := next.Process(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]nut.Nut, len(nuts))
	for i, n := range nuts {
		if n.Type().Compressible && nut.EncodingOf(n) == "" {
			n = nut.With(n, c.compressor)
		}
		out[i] = n
	}
	return out, nil
}
