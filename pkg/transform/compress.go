package transform

import (
	"context"
	"fmt"
	"io"
	"sync"

	"nutflow/pkg/nut"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// 压缩类变换都是不可聚合的：压缩后的内容只能原样拼接

type gzipTransformer struct {
	level int
}

func newGzip(p Params) (nut.Transformer, error) {
	level, err := p.Int("level", gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("gzip level %d out of range", level)
	}
	return &gzipTransformer{level: level}, nil
}

func (g *gzipTransformer) Name() string            { return fmt.Sprintf("gzip:%d", g.level) }
func (g *gzipTransformer) Aggregates() bool        { return false }
func (g *gzipTransformer) ContentEncoding() string { return "gzip" }

func (g *gzipTransformer) Transform(_ context.Context, r io.Reader, w io.Writer, _ nut.Nut) error {
	zw, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, r); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// zstd.Encoder 可以并发使用，全局复用
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdErr     error
)

func sharedZstd() (*zstd.Encoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder, zstdErr
}

type zstdTransformer struct {
	enc *zstd.Encoder
}

func newZstd(Params) (nut.Transformer, error) {
	enc, err := sharedZstd()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder initialization failed: %w", err)
	}
	return &zstdTransformer{enc: enc}, nil
}

func (z *zstdTransformer) Name() string            { return "zstd" }
func (z *zstdTransformer) Aggregates() bool        { return false }
func (z *zstdTransformer) ContentEncoding() string { return "zstd" }

func (z *zstdTransformer) Transform(_ context.Context, r io.Reader, w io.Writer, _ nut.Nut) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = w.Write(z.enc.EncodeAll(data, nil))
	return err
}

// lz4Transformer 输出 LZ4 frame 格式 (自带长度信息，可以流式解码)
type lz4Transformer struct{}

func newLZ4(Params) (nut.Transformer, error) { return lz4Transformer{}, nil }

func (lz4Transformer) Name() string            { return "lz4" }
func (lz4Transformer) Aggregates() bool        { return false }
func (lz4Transformer) ContentEncoding() string { return "lz4" }

func (lz4Transformer) Transform(_ context.Context, r io.Reader, w io.Writer, _ nut.Nut) error {
	zw := lz4.NewWriter(w)
	if _, err := io.Copy(zw, r); err != nil {
		_ = zw.Close()
		return fmt.Errorf("lz4 compress: %w", err)
	}
	return zw.Close()
}
