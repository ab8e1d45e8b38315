// Package tensor defines the tensor data model shared by the codec, the wire
// protocol and the bridge: element types, per-tensor info, and the stream
// format that a session agrees on.
package tensor

import (
	"fmt"
	"strings"
)

// Limits fixed by the wire schema.
const (
	SizeLimit = 16 // maximum tensors in one frame
	RankLimit = 4  // maximum dimensions of one tensor
)

// Type identifies the element type of a tensor. The ordinals are part of the
// wire format and must not be reordered.
type Type int32

const (
	Int32 Type = iota
	Uint32
	Int16
	Uint16
	Int8
	Uint8
	Float64
	Float32
	Int64
	Uint64

	typeCount // must stay last
)

// TypeNames maps types to the names used in configuration and caps strings.
var TypeNames = map[Type]string{
	Int32:   "int32",
	Uint32:  "uint32",
	Int16:   "int16",
	Uint16:  "uint16",
	Int8:    "int8",
	Uint8:   "uint8",
	Float64: "float64",
	Float32: "float32",
	Int64:   "int64",
	Uint64:  "uint64",
}

var elementSizes = [typeCount]uint64{
	Int32:   4,
	Uint32:  4,
	Int16:   2,
	Uint16:  2,
	Int8:    1,
	Uint8:   1,
	Float64: 8,
	Float32: 4,
	Int64:   8,
	Uint64:  8,
}

// Valid reports whether t is a known element type.
func (t Type) Valid() bool {
	return t >= 0 && t < typeCount
}

// ElementSize returns the size of one element in bytes, or 0 for an unknown type.
func (t Type) ElementSize() uint64 {
	if !t.Valid() {
		return 0
	}
	return elementSizes[t]
}

func (t Type) String() string {
	if name, ok := TypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int32(t))
}

// ParseType converts a type name such as "float32" into a Type. Matching is
// case-insensitive.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range TypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("tensor: unknown type %q", s)
}

// MarshalText implements encoding.TextMarshaler so types render by name in
// YAML and JSON output.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("tensor: invalid type %d", int32(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
