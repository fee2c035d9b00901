// Package codec 提供规范化 (Canonical) 的 CBOR 编码
// 缓存指纹、Composite 版本以及缓存快照的序列化都依赖它，
// 相同的输入必须产生完全相同的字节。
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// 定义规范化编码选项
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的对象生成唯一的指纹
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用 64 位表示
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 ---
	// 缓存里的快照来自外部存储 (Redis / SQL)，限制容器大小防止被撑爆
	MaxArrayElements: 100000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  32,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// Marshal 规范化编码
func Marshal(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// Unmarshal 解码
func Unmarshal(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

// Sum 计算对象的 SHA-256 (Hex)
// 先做规范化编码，再哈希
func Sum(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	hashBytes := sha256.Sum256(data)
	return hex.EncodeToString(hashBytes[:]), nil
}
