// Package rpc 通过 gRPC 暴露工作流
//
// 消息是普通的 Go 结构体，用 CBOR 编码 (pkg/codec)，不需要生成的 protobuf 代码。
// 客户端需要用 grpc.CallContentSubtype(CodecName) 选择编解码器，Dial 已经默认设置好。
package rpc

import (
	"nutflow/pkg/codec"

	"google.golang.org/grpc/encoding"
)

// CodecName 是注册到 gRPC 的编解码器名 (content-type: application/grpc+cbor)
const CodecName = "cbor"

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return codec.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
func (cborCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
