// Package protocol defines the tensor stream wire protocol: the Tensors
// message, its protobuf encoding, and the TensorService gRPC contract.
//
// Messages are encoded by hand with protowire so the bytes are identical to
// what protoc-generated peers produce for the same schema:
//
//	message Tensor  { string name = 1; Tensor_type type = 2;
//	                  repeated uint32 dimension = 3; bytes data = 4; }
//	message Tensors { uint32 num_tensor = 1; frame_rate fr = 2;
//	                  repeated Tensor tensor = 3; }
//	message Tensors.frame_rate { int32 rate_n = 1; int32 rate_d = 2; }
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// Field numbers.
const (
	fieldTensorName      protowire.Number = 1
	fieldTensorType      protowire.Number = 2
	fieldTensorDimension protowire.Number = 3
	fieldTensorData      protowire.Number = 4

	fieldTensorsNum    protowire.Number = 1
	fieldTensorsRate   protowire.Number = 2
	fieldTensorsTensor protowire.Number = 3

	fieldRateN protowire.Number = 1
	fieldRateD protowire.Number = 2
)

// Tensor is one tensor record of a frame.
type Tensor struct {
	Name      string
	Type      tensor.Type
	Dimension []uint32
	Data      []byte
}

// FrameRate carries the stream frame rate as a fraction.
type FrameRate struct {
	RateN int32
	RateD int32
}

// Tensors is one frame on the wire.
type Tensors struct {
	NumTensor uint32
	Fr        *FrameRate
	Tensor    []*Tensor
}

// Marshal encodes the frame in protobuf wire format.
func (m *Tensors) Marshal() ([]byte, error) {
	return m.AppendMarshal(make([]byte, 0, m.Size())), nil
}

// AppendMarshal appends the encoded frame to b.
func (m *Tensors) AppendMarshal(b []byte) []byte {
	if m.NumTensor != 0 {
		b = protowire.AppendTag(b, fieldTensorsNum, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.NumTensor))
	}
	if m.Fr != nil {
		b = protowire.AppendTag(b, fieldTensorsRate, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(m.Fr.size()))
		b = m.Fr.appendMarshal(b)
	}
	for _, t := range m.Tensor {
		b = protowire.AppendTag(b, fieldTensorsTensor, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(t.size()))
		b = t.appendMarshal(b)
	}
	return b
}

// Size returns the encoded length of the frame.
func (m *Tensors) Size() int {
	n := 0
	if m.NumTensor != 0 {
		n += protowire.SizeTag(fieldTensorsNum) + protowire.SizeVarint(uint64(m.NumTensor))
	}
	if m.Fr != nil {
		n += protowire.SizeTag(fieldTensorsRate) + protowire.SizeBytes(m.Fr.size())
	}
	for _, t := range m.Tensor {
		n += protowire.SizeTag(fieldTensorsTensor) + protowire.SizeBytes(t.size())
	}
	return n
}

// Unmarshal decodes a frame. Tensor data aliases b; copy it if b is reused.
func (m *Tensors) Unmarshal(b []byte) error {
	*m = Tensors{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tensors tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTensorsNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: num_tensor: %v", ErrMalformed, protowire.ParseError(n))
			}
			m.NumTensor = uint32(v)
			b = b[n:]
		case num == fieldTensorsRate && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: frame rate: %v", ErrMalformed, protowire.ParseError(n))
			}
			if m.Fr == nil {
				m.Fr = &FrameRate{}
			}
			if err := m.Fr.unmarshal(v); err != nil {
				return err
			}
			b = b[n:]
		case num == fieldTensorsTensor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: tensor: %v", ErrMalformed, protowire.ParseError(n))
			}
			// Cap to prevent allocation-bomb DoS.
			if len(m.Tensor) >= tensor.SizeLimit {
				return fmt.Errorf("%w: more than %d tensor records", ErrTooManyTensors, tensor.SizeLimit)
			}
			t := &Tensor{}
			if err := t.unmarshal(v); err != nil {
				return err
			}
			m.Tensor = append(m.Tensor, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (f *FrameRate) size() int {
	n := 0
	if f.RateN != 0 {
		n += protowire.SizeTag(fieldRateN) + protowire.SizeVarint(uint64(int64(f.RateN)))
	}
	if f.RateD != 0 {
		n += protowire.SizeTag(fieldRateD) + protowire.SizeVarint(uint64(int64(f.RateD)))
	}
	return n
}

func (f *FrameRate) appendMarshal(b []byte) []byte {
	// int32 is sign-extended to 64 bits on the wire.
	if f.RateN != 0 {
		b = protowire.AppendTag(b, fieldRateN, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(f.RateN)))
	}
	if f.RateD != 0 {
		b = protowire.AppendTag(b, fieldRateD, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(f.RateD)))
	}
	return b
}

func (f *FrameRate) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: frame rate tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.VarintType && (num == fieldRateN || num == fieldRateD) {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: frame rate: %v", ErrMalformed, protowire.ParseError(n))
			}
			if num == fieldRateN {
				f.RateN = int32(v)
			} else {
				f.RateD = int32(v)
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: frame rate field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func (t *Tensor) dimensionSize() int {
	n := 0
	for _, d := range t.Dimension {
		n += protowire.SizeVarint(uint64(d))
	}
	return n
}

func (t *Tensor) size() int {
	n := 0
	if t.Name != "" {
		n += protowire.SizeTag(fieldTensorName) + protowire.SizeBytes(len(t.Name))
	}
	if t.Type != 0 {
		n += protowire.SizeTag(fieldTensorType) + protowire.SizeVarint(uint64(int64(t.Type)))
	}
	if len(t.Dimension) > 0 {
		n += protowire.SizeTag(fieldTensorDimension) + protowire.SizeBytes(t.dimensionSize())
	}
	if len(t.Data) > 0 {
		n += protowire.SizeTag(fieldTensorData) + protowire.SizeBytes(len(t.Data))
	}
	return n
}

func (t *Tensor) appendMarshal(b []byte) []byte {
	if t.Name != "" {
		b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	if t.Type != 0 {
		b = protowire.AppendTag(b, fieldTensorType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(t.Type)))
	}
	if len(t.Dimension) > 0 {
		// proto3 packs repeated scalars.
		b = protowire.AppendTag(b, fieldTensorDimension, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(t.dimensionSize()))
		for _, d := range t.Dimension {
			b = protowire.AppendVarint(b, uint64(d))
		}
	}
	if len(t.Data) > 0 {
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}
	return b
}

func (t *Tensor) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tensor tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTensorName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: tensor name: %v", ErrMalformed, protowire.ParseError(n))
			}
			t.Name = v
			b = b[n:]
		case num == fieldTensorType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: tensor type: %v", ErrMalformed, protowire.ParseError(n))
			}
			t.Type = tensor.Type(int32(v))
			b = b[n:]
		case num == fieldTensorDimension && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: dimension: %v", ErrMalformed, protowire.ParseError(n))
			}
			for len(v) > 0 {
				d, dn := protowire.ConsumeVarint(v)
				if dn < 0 {
					return fmt.Errorf("%w: dimension: %v", ErrMalformed, protowire.ParseError(dn))
				}
				if err := t.appendDimension(d); err != nil {
					return err
				}
				v = v[dn:]
			}
			b = b[n:]
		case num == fieldTensorDimension && typ == protowire.VarintType:
			// Unpacked encoding from older writers.
			d, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: dimension: %v", ErrMalformed, protowire.ParseError(n))
			}
			if err := t.appendDimension(d); err != nil {
				return err
			}
			b = b[n:]
		case num == fieldTensorData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: tensor data: %v", ErrMalformed, protowire.ParseError(n))
			}
			t.Data = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: tensor field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// maxDimensions bounds the dimension list of one record. Peers always send
// RankLimit entries; anything far beyond that is garbage.
const maxDimensions = 64

func (t *Tensor) appendDimension(d uint64) error {
	if len(t.Dimension) >= maxDimensions {
		return fmt.Errorf("%w: dimension count exceeds %d", ErrMalformed, maxDimensions)
	}
	t.Dimension = append(t.Dimension, uint32(d))
	return nil
}
