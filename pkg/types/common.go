// pkg/types/common.go
package types

// Version 是 Nut 的版本令牌 (不透明、可比较)
// 来源可能是内容哈希，也可能是 Provider 报告的修改时间
// 这是一个“值对象”，一旦解析就不可变。
type Version string

func (v Version) String() string { return string(v) }
func (v Version) IsZero() bool   { return v == "" }

// Fingerprint 是缓存键 (SHA256 Hex String)
// 由 Nut 名称、版本以及下游 Engine 的组成共同推导
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }
func (f Fingerprint) IsZero() bool   { return f == "" }
func (f Fingerprint) IsValid() bool  { return len(f) == 64 } // 简单的长度检查

// Short 返回前 8 位，用于日志
func (f Fingerprint) Short() string {
	if len(f) < 8 {
		return string(f)
	}
	return string(f[:8])
}
