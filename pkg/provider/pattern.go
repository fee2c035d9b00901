package provider

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// RegexPrefix 标记正则模式，例如 "regex:css/.*\.css"
const RegexPrefix = "regex:"

// Pattern 封装了 Heap 路径规格的匹配逻辑
// 三种形式：字面路径、glob (gitignore 语法)、正则
type Pattern struct {
	raw     string
	literal bool
	re      *regexp.Regexp
	ignorer *gitignore.GitIgnore
}

// CompilePattern 编译路径规格
func CompilePattern(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty path pattern")
	}

	if expr, ok := strings.CutPrefix(raw, RegexPrefix); ok {
		// 正则需要全匹配，不然 "a.css" 会匹配到 "a.css.map"
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", raw, err)
		}
		return &Pattern{raw: raw, re: re}, nil
	}

	if !strings.ContainsAny(raw, "*?[") {
		return &Pattern{raw: raw, literal: true}, nil
	}

	// glob 直接复用 gitignore 的语法：
	// "*.css" 匹配任意深度，"css/*.css" 锚定目录，"**" 跨目录
	return &Pattern{raw: raw, ignorer: gitignore.CompileIgnoreLines(raw)}, nil
}

func (p *Pattern) String() string { return p.raw }

// Literal 如果是字面路径，返回清洗后的路径
func (p *Pattern) Literal() (string, bool) {
	if !p.literal {
		return "", false
	}
	return CleanID(p.raw), true
}

// Match 检查标识符是否匹配
// id 应该是相对于后端根的 slash 路径 (例如 "css/a.css")
func (p *Pattern) Match(id string) bool {
	id = CleanID(id)
	switch {
	case p.literal:
		return id == CleanID(p.raw)
	case p.re != nil:
		return p.re.MatchString(id)
	default:
		return p.ignorer.MatchesPath(id)
	}
}

// Prefix 返回模式中不含通配符的目录前缀
// 对象存储用它做 ListObjects 的 Prefix，减少扫描量
func (p *Pattern) Prefix() string {
	if p.literal {
		return CleanID(p.raw)
	}
	if p.re != nil {
		// 正则无法安全推导前缀
		return ""
	}
	raw := strings.TrimPrefix(p.raw, "/")
	if i := strings.IndexAny(raw, "*?["); i >= 0 {
		raw = raw[:i]
	}
	// 只保留到最后一个 "/"，"css/a*.css" -> "css/"
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[:i+1]
	}
	return ""
}

// CleanID 统一标识符格式：slash 分隔，去掉开头的 "/" 和 "./"
func CleanID(id string) string {
	id = path.Clean("/" + strings.ReplaceAll(id, "\\", "/"))
	return strings.TrimPrefix(id, "/")
}
