package protocol

import (
	"errors"

	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

var (
	// ErrMalformed is returned when a message is not valid protobuf for the
	// tensor schema.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrTooManyTensors is returned when a frame carries more than
	// tensor.SizeLimit tensor records.
	ErrTooManyTensors = tensor.ErrTooManyTensors

	// ErrUnsupportedMessage is returned by Codec for values it cannot encode.
	ErrUnsupportedMessage = errors.New("protocol: unsupported message type")
)
