package protocol

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the gRPC content-subtype. It matches the default protobuf
// codec so peers built from generated code interoperate unchanged.
const CodecName = "proto"

// Codec is a gRPC codec that encodes *Tensors with the hand-written protowire
// encoder and every other proto.Message (google.protobuf.Empty, health
// checks) with the protobuf runtime.
type Codec struct{}

var _ encoding.Codec = Codec{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *Tensors:
		return m.Marshal()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Tensors:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedMessage, v)
	}
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
