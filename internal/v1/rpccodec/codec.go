// Package rpccodec registers a JSON gRPC content-subtype codec so
// control-plane clients (internal/bridgeclient, internal/gateway) can
// carry plain Go request/response structs over grpc-go without a
// generated protobuf stub.
package rpccodec

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is passed to grpc.CallContentSubtype by callers that want JSON
// framing instead of protobuf.
const Name = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
