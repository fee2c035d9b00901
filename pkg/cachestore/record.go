package cachestore

import (
	"context"
	"fmt"

	"nutflow/pkg/codec"
	"nutflow/pkg/nut"
	"nutflow/pkg/types"
)

// record 是 nut.Bytes 的可序列化形式，引用递归保存
type record struct {
	Name     string   `cbor:"1,keyasint"`
	Type     string   `cbor:"2,keyasint"`
	Version  string   `cbor:"3,keyasint"`
	Data     []byte   `cbor:"4,keyasint"`
	Encoding string   `cbor:"5,keyasint,omitempty"`
	Proxy    string   `cbor:"6,keyasint,omitempty"`
	Refs     []record `cbor:"7,keyasint,omitempty"`
}

type entryRecord struct {
	Fingerprint string   `cbor:"1,keyasint"`
	Heaps       []string `cbor:"2,keyasint"`
	Nuts        []record `cbor:"3,keyasint"`
}

// Encode 把条目编码成 CBOR，外部存储 (Redis / SQL) 共用
// 条目里的引用必须已经物化成 *nut.Bytes
func Encode(e *Entry) ([]byte, error) {
	nuts := make([]record, len(e.Nuts))
	for i, b := range e.Nuts {
		r, err := toRecord(b, 0)
		if err != nil {
			return nil, err
		}
		nuts[i] = r
	}
	return codec.Marshal(entryRecord{Fingerprint: e.Fingerprint.String(), Heaps: e.Heaps, Nuts: nuts})
}

// Decode 是 Encode 的逆操作
func Decode(data []byte) (*Entry, error) {
	var er entryRecord
	if err := codec.Unmarshal(data, &er); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	e := &Entry{Fingerprint: types.Fingerprint(er.Fingerprint), Heaps: er.Heaps}
	for _, r := range er.Nuts {
		e.Nuts = append(e.Nuts, fromRecord(r))
	}
	return e, nil
}

// 引用是有向无环的，深度限制只防御异常数据
const maxRefDepth = 16

func toRecord(b *nut.Bytes, depth int) (record, error) {
	if depth > maxRefDepth {
		return record{}, fmt.Errorf("references of %s nest deeper than %d", b.Name(), maxRefDepth)
	}
	r := record{
		Name:     b.Name(),
		Type:     b.Type().Name,
		Data:     b.Data(),
		Encoding: b.ContentEncoding(),
		Proxy:    b.ProxyURI(),
	}
	v, _ := b.Version(context.Background())
	r.Version = v.String()
	for _, ref := range b.References() {
		rb, ok := ref.(*nut.Bytes)
		if !ok {
			return record{}, fmt.Errorf("reference %s of %s is not materialized", ref.Name(), b.Name())
		}
		child, err := toRecord(rb, depth+1)
		if err != nil {
			return record{}, err
		}
		r.Refs = append(r.Refs, child)
	}
	return r, nil
}

func fromRecord(r record) *nut.Bytes {
	typ, ok := nut.TypeByName(r.Type)
	if !ok {
		typ = nut.TypeForName(r.Name)
	}
	opts := []nut.BytesOption{nut.WithEncoding(r.Encoding), nut.WithBytesProxyURI(r.Proxy)}
	if len(r.Refs) > 0 {
		refs := make([]nut.Nut, len(r.Refs))
		for i, child := range r.Refs {
			refs[i] = fromRecord(child)
		}
		opts = append(opts, nut.WithBytesReferences(refs...))
	}
	return nut.NewBytes(r.Name, typ, types.Version(r.Version), r.Data, opts...)
}
