package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

func sampleFrame() *Tensors {
	return &Tensors{
		NumTensor: 1,
		Fr:        &FrameRate{RateN: 30, RateD: 1},
		Tensor: []*Tensor{{
			Name:      "Anonymous",
			Type:      tensor.Float32,
			Dimension: []uint32{4, 1, 1, 1},
			Data:      bytes.Repeat([]byte{0xAB}, 16),
		}},
	}
}

func TestTensorsGoldenBytes(t *testing.T) {
	want := []byte{
		0x08, 0x01, // num_tensor = 1
		0x12, 0x04, 0x08, 0x1e, 0x10, 0x01, // fr { rate_n: 30, rate_d: 1 }
		0x1a, 0x25, // tensor, 37 bytes
		0x0a, 0x09, 'A', 'n', 'o', 'n', 'y', 'm', 'o', 'u', 's',
		0x10, 0x07, // type = NNS_FLOAT32
		0x1a, 0x04, 0x04, 0x01, 0x01, 0x01, // packed dimension
		0x22, 0x10, // data, 16 bytes
	}
	want = append(want, bytes.Repeat([]byte{0xAB}, 16)...)

	got, err := sampleFrame().Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), sampleFrame().Size())
}

func TestTensorsRoundTrip(t *testing.T) {
	orig := &Tensors{
		NumTensor: 2,
		Fr:        &FrameRate{RateN: -5, RateD: 2},
		Tensor: []*Tensor{
			{Name: "a", Type: tensor.Uint8, Dimension: []uint32{3, 224, 224, 1}, Data: []byte{1, 2, 3}},
			{Name: "", Type: tensor.Int32, Dimension: []uint32{1, 1, 1, 1}, Data: nil},
		},
	}

	b, err := orig.Marshal()
	require.NoError(t, err)

	decoded := &Tensors{}
	require.NoError(t, decoded.Unmarshal(b))

	assert.Equal(t, orig.NumTensor, decoded.NumTensor)
	assert.Equal(t, *orig.Fr, *decoded.Fr)
	require.Len(t, decoded.Tensor, 2)
	assert.Equal(t, orig.Tensor[0], decoded.Tensor[0])
	assert.Equal(t, tensor.Int32, decoded.Tensor[1].Type)
	assert.Equal(t, []uint32{1, 1, 1, 1}, decoded.Tensor[1].Dimension)
	assert.Empty(t, decoded.Tensor[1].Data)
}

func TestTensorsEmptyMessage(t *testing.T) {
	b, err := (&Tensors{}).Marshal()
	require.NoError(t, err)
	assert.Empty(t, b)

	decoded := &Tensors{}
	require.NoError(t, decoded.Unmarshal(nil))
	assert.Nil(t, decoded.Fr)
	assert.Empty(t, decoded.Tensor)
}

func TestTensorsUnpackedDimensionAndUnknownFields(t *testing.T) {
	var rec []byte
	rec = protowire.AppendTag(rec, fieldTensorType, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(tensor.Uint16))
	for _, d := range []uint64{2, 3} {
		rec = protowire.AppendTag(rec, fieldTensorDimension, protowire.VarintType)
		rec = protowire.AppendVarint(rec, d)
	}
	// Unknown field 9 must be skipped.
	rec = protowire.AppendTag(rec, 9, protowire.BytesType)
	rec = protowire.AppendString(rec, "ignored")

	var msg []byte
	msg = protowire.AppendTag(msg, 7, protowire.Fixed32Type)
	msg = protowire.AppendFixed32(msg, 0xdeadbeef)
	msg = protowire.AppendTag(msg, fieldTensorsTensor, protowire.BytesType)
	msg = protowire.AppendBytes(msg, rec)

	decoded := &Tensors{}
	require.NoError(t, decoded.Unmarshal(msg))
	require.Len(t, decoded.Tensor, 1)
	assert.Equal(t, tensor.Uint16, decoded.Tensor[0].Type)
	assert.Equal(t, []uint32{2, 3}, decoded.Tensor[0].Dimension)
}

func TestTensorsTooManyRecords(t *testing.T) {
	msg := &Tensors{}
	for i := 0; i < tensor.SizeLimit+1; i++ {
		msg.Tensor = append(msg.Tensor, &Tensor{Type: tensor.Uint8, Dimension: []uint32{1, 1, 1, 1}, Data: []byte{byte(i)}})
	}
	b, err := msg.Marshal()
	require.NoError(t, err)

	err = (&Tensors{}).Unmarshal(b)
	assert.ErrorIs(t, err, ErrTooManyTensors)
}

func TestTensorsMalformed(t *testing.T) {
	good, err := sampleFrame().Marshal()
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated":   good[:len(good)-3],
		"bad tag":     {0x00},
		"bad varint":  {0x08, 0xff},
		"short bytes": {0x1a, 0x7f, 0x01},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, (&Tensors{}).Unmarshal(b), ErrMalformed)
		})
	}
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "proto", c.Name())

	b, err := c.Marshal(sampleFrame())
	require.NoError(t, err)
	decoded := &Tensors{}
	require.NoError(t, c.Unmarshal(b, decoded))
	assert.Equal(t, sampleFrame().Tensor[0].Data, decoded.Tensor[0].Data)

	b, err = c.Marshal(&emptypb.Empty{})
	require.NoError(t, err)
	assert.Empty(t, b)
	require.NoError(t, c.Unmarshal(b, &emptypb.Empty{}))

	_, err = c.Marshal("not a message")
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
	assert.ErrorIs(t, c.Unmarshal(nil, 42), ErrUnsupportedMessage)
}
