package transform

import (
	"context"
	"fmt"
	"io"

	"nutflow/pkg/nut"

	"golang.org/x/text/encoding/htmlindex"
	xtransform "golang.org/x/text/transform"
)

// transcode 把指定字符集的内容转换成 UTF-8
type transcodeTransformer struct {
	from string
}

func newTranscode(p Params) (nut.Transformer, error) {
	from := p.Get("from", "")
	if from == "" {
		return nil, fmt.Errorf("transcode requires a from param")
	}
	enc, err := htmlindex.Get(from)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", from, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, err
	}
	return &transcodeTransformer{from: name}, nil
}

func (t *transcodeTransformer) Name() string     { return "transcode:" + t.from }
func (t *transcodeTransformer) Aggregates() bool { return true }

func (t *transcodeTransformer) Transform(_ context.Context, r io.Reader, w io.Writer, _ nut.Nut) error {
	enc, err := htmlindex.Get(t.from)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, xtransform.NewReader(r, enc.NewDecoder()))
	return err
}
