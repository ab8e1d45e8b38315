// Package codec translates between a contiguous local frame buffer laid out
// per a tensor.Config and the protocol.Tensors wire message.
package codec

import (
	"errors"
	"fmt"

	"github.com/strand-protocol/tensorbridge/pkg/protocol"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// PlaceholderName is the name written into every encoded tensor record.
const PlaceholderName = "Anonymous"

var (
	// ErrTruncated is returned by Encode when the buffer is shorter than the
	// configured tensors. The partial message is still returned.
	ErrTruncated = errors.New("codec: buffer shorter than stream format")

	// ErrTooManyTensors is returned by Decode for frames carrying more than
	// tensor.SizeLimit records.
	ErrTooManyTensors = tensor.ErrTooManyTensors

	// ErrInvalidRecord is returned by Decode for a record with an unknown
	// type or more than tensor.RankLimit dimensions.
	ErrInvalidRecord = errors.New("codec: invalid tensor record")
)

// Encode builds the wire message for buf. Tensors are sliced from buf in
// configuration order. If a tensor would run past the end of buf, encoding
// stops and the records built so far are returned together with an error
// wrapping ErrTruncated. Record data aliases buf.
func Encode(buf []byte, cfg tensor.Config) (*protocol.Tensors, error) {
	msg := &protocol.Tensors{
		Fr:     &protocol.FrameRate{RateN: cfg.RateN, RateD: cfg.RateD},
		Tensor: make([]*protocol.Tensor, 0, cfg.NumTensors()),
	}

	var offset uint64
	total := uint64(len(buf))
	for idx, info := range cfg.Info {
		size := info.Size()
		if size > total-offset {
			msg.NumTensor = uint32(len(msg.Tensor))
			return msg, fmt.Errorf("%w: tensor %d needs %d bytes at offset %d, buffer has %d",
				ErrTruncated, idx, size, offset, total)
		}

		dims := make([]uint32, tensor.RankLimit)
		copy(dims, info.Dimension[:])

		end := offset + size
		msg.Tensor = append(msg.Tensor, &protocol.Tensor{
			Name:      PlaceholderName,
			Type:      info.Type,
			Dimension: dims,
			Data:      buf[offset:end:end],
		})
		offset = end
	}
	msg.NumTensor = uint32(len(msg.Tensor))
	return msg, nil
}

// Decode copies every tensor record of msg into a private Memory. The shape
// and type declared by each record are trusted as is; missing trailing
// dimensions are filled with 1.
func Decode(msg *protocol.Tensors) ([]tensor.Memory, error) {
	if len(msg.Tensor) > tensor.SizeLimit {
		return nil, fmt.Errorf("%w: frame has %d records", ErrTooManyTensors, len(msg.Tensor))
	}

	mems := make([]tensor.Memory, 0, len(msg.Tensor))
	for idx, rec := range msg.Tensor {
		if !rec.Type.Valid() {
			return nil, fmt.Errorf("%w: record %d has type %d", ErrInvalidRecord, idx, int32(rec.Type))
		}
		if len(rec.Dimension) > tensor.RankLimit {
			return nil, fmt.Errorf("%w: record %d has %d dimensions", ErrInvalidRecord, idx, len(rec.Dimension))
		}

		info := tensor.Info{Name: rec.Name, Type: rec.Type}
		for i := range info.Dimension {
			info.Dimension[i] = 1
		}
		copy(info.Dimension[:], rec.Dimension)

		data := make([]byte, len(rec.Data))
		copy(data, rec.Data)
		mems = append(mems, tensor.Memory{Info: info, Data: data})
	}
	return mems, nil
}

// FrameRate returns the frame rate carried by msg, or 0/1 when absent.
func FrameRate(msg *protocol.Tensors) (n, d int32) {
	if msg.Fr == nil {
		return 0, 1
	}
	return msg.Fr.RateN, msg.Fr.RateD
}
