// Package ignore 决定哪些资源不进入 Heap
package ignore

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultRules 总是生效，防止把元数据和密钥当成资源发布出去
var DefaultRules = []string{
	// --- 版本控制 ---
	".git",
	".svn",

	// --- 安全与配置 ---
	"nutflow.yaml", // 可能包含 Redis / S3 凭据
	"nutflow.jsonc",
	".env",

	// --- 常见垃圾文件 ---
	".DS_Store", // macOS
	"Thumbs.db", // Windows
	"*~",
}

// Matcher 封装了排除逻辑 (gitignore 语法，支持 ! 反选)
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 把默认规则和 Heap 自己的 exclude 规则合并编译
// 用户规则排在后面，所以可以用 "!.env.example" 这样的规则放行
func NewMatcher(rules ...string) *Matcher {
	lines := make([]string, 0, len(DefaultRules)+len(rules))
	lines = append(lines, DefaultRules...)
	lines = append(lines, rules...)
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(lines...)}
}

// Matches 检查标识符是否应该被排除
// id: 相对于后端根的 slash 路径 (例如 "css/a.css")
func (m *Matcher) Matches(id string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(id)
}
