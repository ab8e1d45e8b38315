package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTypeOrdinalsMatchWire(t *testing.T) {
	// The wire enum ordinals are fixed; a reorder breaks every peer.
	assert.Equal(t, Type(0), Int32)
	assert.Equal(t, Type(5), Uint8)
	assert.Equal(t, Type(7), Float32)
	assert.Equal(t, Type(9), Uint64)
}

func TestTypeElementSize(t *testing.T) {
	cases := map[Type]uint64{
		Int8: 1, Uint8: 1, Int16: 2, Uint16: 2,
		Int32: 4, Uint32: 4, Float32: 4,
		Int64: 8, Uint64: 8, Float64: 8,
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.ElementSize(), typ.String())
	}
	assert.Zero(t, Type(42).ElementSize())
	assert.False(t, Type(-1).Valid())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("FLOAT32")
	require.NoError(t, err)
	assert.Equal(t, Float32, typ)

	_, err = ParseType("complex64")
	assert.Error(t, err)
}

func TestParseDimension(t *testing.T) {
	d, err := ParseDimension("3:224:224")
	require.NoError(t, err)
	assert.Equal(t, Dimension{3, 224, 224, 1}, d)
	assert.Equal(t, "3:224:224:1", d.String())
	assert.Equal(t, uint64(3*224*224), d.Elements())

	for _, bad := range []string{"", "0:1", "1:2:3:4:5", "a:b", "-1"} {
		_, err := ParseDimension(bad)
		assert.Error(t, err, bad)
	}
}

func TestInfoSize(t *testing.T) {
	info := Info{Type: Float32, Dimension: Dimension{4, 1, 1, 1}}
	assert.Equal(t, uint64(16), info.Size())

	info = Info{Type: Uint8, Dimension: Dimension{3, 640, 480, 1}}
	assert.Equal(t, uint64(3*640*480), info.Size())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Info:  []Info{{Type: Float32, Dimension: Dimension{4, 1, 1, 1}}},
		RateN: 30,
		RateD: 1,
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, uint64(16), valid.FrameSize())
	assert.Equal(t, 30.0, valid.FPS())

	assert.ErrorIs(t, Config{}.Validate(), ErrNoTensors)

	tooMany := Config{Info: make([]Info, SizeLimit+1)}
	for i := range tooMany.Info {
		tooMany.Info[i] = Info{Type: Uint8, Dimension: Dimension{1, 1, 1, 1}}
	}
	assert.ErrorIs(t, tooMany.Validate(), ErrTooManyTensors)

	zeroDim := Config{Info: []Info{{Type: Uint8, Dimension: Dimension{1, 0, 1, 1}}}}
	assert.Error(t, zeroDim.Validate())

	badRate := valid
	badRate.RateD = 0
	assert.Error(t, badRate.Validate())
}

func TestSizeOverflow(t *testing.T) {
	huge := Info{Type: Float32, Dimension: Dimension{65536, 65536, 65536, 65536}}
	assert.Equal(t, uint64(math.MaxUint64), huge.Dimension.Elements())
	assert.Equal(t, uint64(math.MaxUint64), huge.Size())
	assert.ErrorIs(t, huge.Validate(), ErrSizeOverflow)

	cfg := Config{Info: []Info{huge}, RateN: 30, RateD: 1}
	assert.ErrorIs(t, cfg.Validate(), ErrSizeOverflow)
	assert.Equal(t, uint64(math.MaxUint64), cfg.FrameSize())

	// Each tensor fits on its own; the frame does not.
	big := Info{Type: Uint8, Dimension: Dimension{65536, 65536, 65536, 65535}}
	require.NoError(t, big.Validate())
	pair := Config{Info: []Info{big, big}}
	assert.ErrorIs(t, pair.Validate(), ErrSizeOverflow)
	assert.Equal(t, uint64(math.MaxUint64), pair.FrameSize())
}

func TestParseFrameRate(t *testing.T) {
	n, d, err := ParseFrameRate("30/1")
	require.NoError(t, err)
	assert.Equal(t, int32(30), n)
	assert.Equal(t, int32(1), d)

	n, d, err = ParseFrameRate("15")
	require.NoError(t, err)
	assert.Equal(t, int32(15), n)
	assert.Equal(t, int32(1), d)

	_, _, err = ParseFrameRate("30/0")
	assert.Error(t, err)
}

func TestInfoYAML(t *testing.T) {
	src := "name: input\ntype: float32\ndimension: \"4:2\"\n"
	var info Info
	require.NoError(t, yaml.Unmarshal([]byte(src), &info))
	assert.Equal(t, Info{Name: "input", Type: Float32, Dimension: Dimension{4, 2, 1, 1}}, info)

	out, err := yaml.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(out), "type: float32")
	assert.Contains(t, string(out), "4:2:1:1")
}
