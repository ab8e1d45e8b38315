package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var (
	ErrNoTensors      = errors.New("tensor: format has no tensors")
	ErrTooManyTensors = fmt.Errorf("tensor: more than %d tensors", SizeLimit)
	ErrRankExceeded   = fmt.Errorf("tensor: more than %d dimensions", RankLimit)
	ErrSizeOverflow   = errors.New("tensor: byte size overflows uint64")
)

// Dimension is a fixed-rank tensor shape. Unused trailing dimensions are 1.
type Dimension [RankLimit]uint32

// ParseDimension parses a colon-separated shape such as "3:224:224". Missing
// trailing dimensions are filled with 1.
func ParseDimension(s string) (Dimension, error) {
	var d Dimension
	s = strings.TrimSpace(s)
	if s == "" {
		return d, fmt.Errorf("tensor: empty dimension")
	}
	parts := strings.Split(s, ":")
	if len(parts) > RankLimit {
		return d, fmt.Errorf("%w: %q", ErrRankExceeded, s)
	}
	for i := range d {
		d[i] = 1
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil || v == 0 {
			return d, fmt.Errorf("tensor: invalid dimension %q", s)
		}
		d[i] = uint32(v)
	}
	return d, nil
}

func (d Dimension) String() string {
	parts := make([]string, RankLimit)
	for i, v := range d {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ":")
}

// Elements returns the number of elements described by the shape. A count
// that does not fit in uint64 saturates at math.MaxUint64.
func (d Dimension) Elements() uint64 {
	n, ok := d.elements()
	if !ok {
		return math.MaxUint64
	}
	return n
}

func (d Dimension) elements() (uint64, bool) {
	n := uint64(1)
	for _, v := range d {
		hi, lo := bits.Mul64(n, uint64(v))
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// MarshalText implements encoding.TextMarshaler.
func (d Dimension) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dimension) UnmarshalText(text []byte) error {
	v, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Info describes one tensor of a frame.
type Info struct {
	Name      string    `yaml:"name,omitempty" json:"name,omitempty"`
	Type      Type      `yaml:"type" json:"type"`
	Dimension Dimension `yaml:"dimension" json:"dimension"`
}

// Size returns the byte size of one tensor with this info, saturating at
// math.MaxUint64. Validate rejects shapes for which it saturates.
func (i Info) Size() uint64 {
	n, ok := i.size()
	if !ok {
		return math.MaxUint64
	}
	return n
}

func (i Info) size() (uint64, bool) {
	n, ok := i.Dimension.elements()
	if !ok {
		return 0, false
	}
	hi, lo := bits.Mul64(n, i.Type.ElementSize())
	return lo, hi == 0
}

// Validate checks the type and shape.
func (i Info) Validate() error {
	if !i.Type.Valid() {
		return fmt.Errorf("tensor: invalid type %d", int32(i.Type))
	}
	for _, v := range i.Dimension {
		if v == 0 {
			return fmt.Errorf("tensor: zero dimension in %s", i.Dimension)
		}
	}
	if _, ok := i.size(); !ok {
		return fmt.Errorf("%w: %s %s", ErrSizeOverflow, i.Type, i.Dimension)
	}
	return nil
}

// Config is the stream format: the tensors carried by every frame of a
// session and the frame rate.
type Config struct {
	Info  []Info `yaml:"tensors" json:"tensors"`
	RateN int32  `yaml:"rate_n" json:"rate_n"`
	RateD int32  `yaml:"rate_d" json:"rate_d"`
}

// NumTensors returns the number of tensors in the format.
func (c Config) NumTensors() int {
	return len(c.Info)
}

// FrameSize returns the byte size of one contiguous frame, saturating at
// math.MaxUint64.
func (c Config) FrameSize() uint64 {
	total, ok := c.frameSize()
	if !ok {
		return math.MaxUint64
	}
	return total
}

func (c Config) frameSize() (uint64, bool) {
	var total uint64
	for _, info := range c.Info {
		size, ok := info.size()
		if !ok {
			return 0, false
		}
		var carry uint64
		total, carry = bits.Add64(total, size, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

// Validate checks tensor count, every tensor info and the frame rate.
func (c Config) Validate() error {
	if len(c.Info) == 0 {
		return ErrNoTensors
	}
	if len(c.Info) > SizeLimit {
		return ErrTooManyTensors
	}
	for idx, info := range c.Info {
		if err := info.Validate(); err != nil {
			return fmt.Errorf("tensor %d: %w", idx, err)
		}
	}
	if _, ok := c.frameSize(); !ok {
		return fmt.Errorf("%w: frame of %d tensors", ErrSizeOverflow, len(c.Info))
	}
	if c.RateN < 0 || c.RateD < 0 {
		return fmt.Errorf("tensor: negative frame rate %d/%d", c.RateN, c.RateD)
	}
	if c.RateN != 0 && c.RateD == 0 {
		return fmt.Errorf("tensor: frame rate %d/0 has zero denominator", c.RateN)
	}
	return nil
}

// FPS returns the frame rate as a float, or 0 when unset.
func (c Config) FPS() float64 {
	if c.RateN == 0 || c.RateD == 0 {
		return 0
	}
	return float64(c.RateN) / float64(c.RateD)
}

// ParseFrameRate parses "N/D" (or a bare "N", meaning N/1).
func ParseFrameRate(s string) (n, d int32, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 1, nil
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	nv, err := strconv.ParseInt(strings.TrimSpace(num), 10, 32)
	if err != nil || nv < 0 {
		return 0, 0, fmt.Errorf("tensor: invalid frame rate %q", s)
	}
	dv, err := strconv.ParseInt(strings.TrimSpace(den), 10, 32)
	if err != nil || dv <= 0 {
		return 0, 0, fmt.Errorf("tensor: invalid frame rate %q", s)
	}
	return int32(nv), int32(dv), nil
}

// Memory is one decoded tensor: its info as declared by the sender and a
// private copy of the bytes.
type Memory struct {
	Info Info
	Data []byte
}
