// Package syncsrv is the gRPC transport between replicas: Raft RPCs and
// the state-sync peer protocol (target advertisement, trailer chunk
// pulls) share one connection per peer and one wire codec.
//
// No .proto files or generated stubs are involved. Messages are plain Go
// structs tagged for msgpack, and the service methods are registered by
// hand through a grpc.ServiceDesc, the same mechanism protoc-gen-go-grpc
// would otherwise produce.
package syncsrv

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

const codecName = "msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
