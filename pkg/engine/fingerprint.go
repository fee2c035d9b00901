package engine

import (
	"context"

	"nutflow/pkg/codec"
	"nutflow/pkg/nut"
	"nutflow/pkg/types"
)

type fingerprintItem struct {
	Name         string        `cbor:"1,keyasint"`
	Type         string        `cbor:"2,keyasint"`
	Version      types.Version `cbor:"3,keyasint"`
	Transformers []string      `cbor:"4,keyasint,omitempty"`
}

type fingerprintInput struct {
	Nuts        []fingerprintItem `cbor:"1,keyasint"`
	Chain       []string          `cbor:"2,keyasint"`
	CanCompress bool              `cbor:"3,keyasint"`
}

// Fingerprint 计算一组 Nut 在某个 Chain 下的处理结果的身份
//
// 名称、类型、版本、变换、下游阶段的 Identity 和压缩标记都参与计算，
// 任意一项变化都会得到不同的指纹。输入顺序有意义。
func Fingerprint(ctx context.Context, nuts []nut.Nut, signature []string, canCompress bool) (types.Fingerprint, error) {
	versions, err := nut.ResolveVersions(ctx, nuts, 0)
	if err != nil {
		return "", err
	}
	in := fingerprintInput{
		Nuts:        make([]fingerprintItem, len(nuts)),
		Chain:       signature,
		CanCompress: canCompress,
	}
	for i, n := range nuts {
		in.Nuts[i] = fingerprintItem{
			Name:         n.Name(),
			Type:         n.Type().Name,
			Version:      versions[i],
			Transformers: nut.TransformerNames(n.Transformers()),
		}
	}
	sum, err := codec.Sum(in)
	if err != nil {
		return "", err
	}
	return types.Fingerprint(sum), nil
}
