package nut

import (
	"path"
	"strings"
)

// Category 内容类别，决定哪些 Nut 可以合并到一起
type Category string

const (
	CategoryScript     Category = "script"
	CategoryStylesheet Category = "stylesheet"
	CategoryMarkup     Category = "markup"
	CategoryData       Category = "data"
	CategoryImage      Category = "image"
	CategoryFont       Category = "font"
	CategoryOther      Category = "other"
)

// Type 描述一类内容：类别 + 扩展名 + MIME + 能力标记
// 每种类型只有一个实例，直接用指针比较
type Type struct {
	Name       string
	Category   Category
	Extensions []string // 第一个是默认扩展名
	MimeType   string

	Text         bool // 文本内容，可以按字符定位
	Compressible bool // 压缩阶段会处理
	Aggregatable bool // 可以直接拼接
}

func (t *Type) String() string { return t.Name }

// DefaultExtension 返回首选扩展名 (带点)
func (t *Type) DefaultExtension() string {
	if len(t.Extensions) == 0 {
		return ""
	}
	return t.Extensions[0]
}

var (
	CSS = &Type{Name: "css", Category: CategoryStylesheet, Extensions: []string{".css"},
		MimeType: "text/css", Text: true, Compressible: true, Aggregatable: true}
	JavaScript = &Type{Name: "javascript", Category: CategoryScript, Extensions: []string{".js", ".mjs"},
		MimeType: "text/javascript", Text: true, Compressible: true, Aggregatable: true}
	HTML = &Type{Name: "html", Category: CategoryMarkup, Extensions: []string{".html", ".htm"},
		MimeType: "text/html", Text: true, Compressible: true, Aggregatable: true}
	JSON = &Type{Name: "json", Category: CategoryData, Extensions: []string{".json", ".map"},
		MimeType: "application/json", Text: true, Compressible: true}
	Text = &Type{Name: "text", Category: CategoryOther, Extensions: []string{".txt"},
		MimeType: "text/plain", Text: true, Compressible: true, Aggregatable: true}
	SVG = &Type{Name: "svg", Category: CategoryImage, Extensions: []string{".svg"},
		MimeType: "image/svg+xml", Text: true, Compressible: true}
	PNG = &Type{Name: "png", Category: CategoryImage, Extensions: []string{".png"},
		MimeType: "image/png"}
	JPEG = &Type{Name: "jpeg", Category: CategoryImage, Extensions: []string{".jpg", ".jpeg"},
		MimeType: "image/jpeg"}
	GIF = &Type{Name: "gif", Category: CategoryImage, Extensions: []string{".gif"},
		MimeType: "image/gif"}
	ICO = &Type{Name: "ico", Category: CategoryImage, Extensions: []string{".ico"},
		MimeType: "image/x-icon"}
	WOFF2 = &Type{Name: "woff2", Category: CategoryFont, Extensions: []string{".woff2"},
		MimeType: "font/woff2"}
	// Binary 兜底类型：未知扩展名
	Binary = &Type{Name: "binary", Category: CategoryOther, MimeType: "application/octet-stream"}
)

var allTypes = []*Type{CSS, JavaScript, HTML, JSON, Text, SVG, PNG, JPEG, GIF, ICO, WOFF2, Binary}

var byExtension = func() map[string]*Type {
	m := make(map[string]*Type)
	for _, t := range allTypes {
		for _, ext := range t.Extensions {
			m[ext] = t
		}
	}
	return m
}()

// TypeForName 根据文件名推断类型，未知扩展名返回 Binary
func TypeForName(name string) *Type {
	if t, ok := byExtension[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return Binary
}

// TypeByName 根据类型名查找 (反序列化时使用)
func TypeByName(name string) (*Type, bool) {
	for _, t := range allTypes {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Types 返回所有内置类型
func Types() []*Type {
	return append([]*Type(nil), allTypes...)
}
