package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"nutflow/pkg/nut"
)

// trim 去掉每行首尾空白并丢弃空行
// 只依赖逐行内容，可以在合并后的流上执行
type trimTransformer struct{}

func newTrim(Params) (nut.Transformer, error) { return trimTransformer{}, nil }

func (trimTransformer) Name() string     { return "trim" }
func (trimTransformer) Aggregates() bool { return true }

func (trimTransformer) Transform(_ context.Context, r io.Reader, w io.Writer, _ nut.Nut) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	bw := bufio.NewWriter(w)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// banner 在内容前后加一段注释，注释里可以用 {name} 引用 Nut 名称
type bannerTransformer struct {
	text   string
	footer bool
}

func newBanner(p Params) (nut.Transformer, error) {
	text := p.Get("text", "")
	if text == "" {
		return nil, fmt.Errorf("banner requires a text param")
	}
	pos := p.Get("position", "header")
	if pos != "header" && pos != "footer" {
		return nil, fmt.Errorf("banner position must be header or footer, got %q", pos)
	}
	return &bannerTransformer{text: text, footer: pos == "footer"}, nil
}

func (b *bannerTransformer) Name() string {
	pos := "header"
	if b.footer {
		pos = "footer"
	}
	return "banner:" + pos + ":" + b.text
}

func (b *bannerTransformer) Aggregates() bool { return false }

func (b *bannerTransformer) Transform(_ context.Context, r io.Reader, w io.Writer, n nut.Nut) error {
	comment := commentFor(n.Type(), strings.ReplaceAll(b.text, "{name}", n.Name()))
	if !b.footer {
		if _, err := io.WriteString(w, comment+"\n"); err != nil {
			return err
		}
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	if b.footer {
		_, err := io.WriteString(w, "\n"+comment+"\n")
		return err
	}
	return nil
}

func commentFor(t *nut.Type, text string) string {
	switch t.Category {
	case nut.CategoryScript, nut.CategoryStylesheet:
		return "/* " + text + " */"
	case nut.CategoryMarkup:
		return "<!-- " + text + " -->"
	default:
		return "# " + text
	}
}
