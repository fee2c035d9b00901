package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_Defaults(t *testing.T) {
	matcher := NewMatcher()

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{".git", true},
		{".git/HEAD", true}, // 子路径也应该被排除
		{"nutflow.yaml", true},
		{"sub/.env", true},
		{".DS_Store", true},
		{"css/site.css~", true},
		{"css/site.css", false}, // 普通资源不应排除
		{"js/app.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithRules(t *testing.T) {
	matcher := NewMatcher("*.map", "vendor", "!vendor/keep.js")

	tests := []struct {
		path     string
		shouldIg bool
	}{
		// --- 默认规则依然要生效 ---
		{".git", true},

		// --- Heap 规则生效 ---
		{"app.js.map", true},
		{"js/app.js.map", true}, // *.map 递归
		{"vendor/jquery.js", true},

		// --- 负向规则 ---
		{"vendor/keep.js", false},

		{"js/app.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Matches("anything"))
}
