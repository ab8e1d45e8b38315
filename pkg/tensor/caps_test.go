package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapsRoundTrip(t *testing.T) {
	cfg := Config{
		Info: []Info{
			{Type: Uint8, Dimension: Dimension{1, 1, 784, 1}},
			{Type: Float32, Dimension: Dimension{1, 1, 10, 1}},
		},
		RateN: 30,
		RateD: 1,
	}

	caps := cfg.Caps()
	assert.Contains(t, caps, `dimensions=(string)"1:1:784:1,1:1:10:1"`)
	assert.Contains(t, caps, `types=(string)"uint8,float32"`)

	parsed, err := ParseCaps(caps)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestCapsZeroFrameRate(t *testing.T) {
	cfg := Config{Info: []Info{{Type: Int16, Dimension: Dimension{2, 1, 1, 1}}}}
	parsed, err := ParseCaps(cfg.Caps())
	require.NoError(t, err)
	assert.Equal(t, int32(0), parsed.RateN)
	assert.Equal(t, int32(1), parsed.RateD)
}

func TestParseCapsErrors(t *testing.T) {
	cases := map[string]string{
		"wrong media":    `video/x-raw, format=(string)RGB`,
		"count mismatch": `other/tensors, num_tensors=(int)2, dimensions=(string)"1:1:1:1", types=(string)"uint8"`,
		"types mismatch": `other/tensors, dimensions=(string)"1:1:1:1,2:1:1:1", types=(string)"uint8"`,
		"flexible":       `other/tensors, format=(string)flexible`,
		"bad type":       `other/tensors, dimensions=(string)"1", types=(string)"bogus"`,
	}
	for name, caps := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCaps(caps)
			assert.Error(t, err)
		})
	}
}
