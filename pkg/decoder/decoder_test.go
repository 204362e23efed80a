package decoder_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/decoder"
	"github.com/downfa11-org/packrat/util"
)

func TestJSONDecoder(t *testing.T) {
	dec := decoder.NewJSONDecoder(zap.NewNop())

	tests := []struct {
		name  string
		input []byte
		ok    bool
	}{
		{"object", []byte(`{"a":1,"b":{"c":"d"}}`), true},
		{"empty object", []byte(`{}`), true},
		{"nil", nil, false},
		{"empty", []byte{}, false},
		{"null", []byte(`null`), false},
		{"array", []byte(`[1,2]`), false},
		{"garbage", []byte(`{"a":`), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := dec.Decode("hc-json", tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				_, isMap := v.(map[string]any)
				assert.True(t, isMap, "expected map payload, got %T", v)
			} else {
				assert.Nil(t, v)
			}
		})
	}
}

func TestLinesDecoder(t *testing.T) {
	dec := decoder.NewLinesDecoder(zap.NewNop())

	v, ok := dec.Decode("hc-file", []byte(`["first","second"]`))
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, v)

	for _, input := range [][]byte{nil, []byte(`[]`), []byte(`{"a":1}`), []byte(`[1,2]`), []byte(`oops`)} {
		_, ok := dec.Decode("hc-file", input)
		assert.False(t, ok, "input %q should fail", input)
	}
}

func TestHeaderDecoder(t *testing.T) {
	dec := decoder.NewHeaderDecoder(zap.NewNop())

	h, ok := dec.Decode("hc-json", []byte(`{"groupId":"G1","emitterId":"3f2504e0-4f89-11d3-9a0c-0305e82c3301","sessionTimestamp":100,"recordTimestamp":200,"version":1}`))
	require.True(t, ok)
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301:100@200", h.UniqueKey())

	_, ok = dec.Decode("hc-json", nil)
	assert.False(t, ok)
	_, ok = dec.Decode("hc-json", []byte(`{"groupId":"G1"}`))
	assert.False(t, ok)
}

func TestForFormat_Compressed(t *testing.T) {
	dec, err := decoder.ForFormat(decoder.FormatLines, "lz4", zap.NewNop())
	require.NoError(t, err)

	compressed, err := util.CompressMessage([]byte(`["a","b"]`), "lz4")
	require.NoError(t, err)

	v, ok := dec.Decode("hc-file", compressed)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)

	_, ok = dec.Decode("hc-file", []byte(`["a","b"]`))
	assert.False(t, ok, "uncompressed bytes must not decode through the lz4 codec")
}

func TestForFormat_Errors(t *testing.T) {
	_, err := decoder.ForFormat("xml", "none", zap.NewNop())
	assert.Error(t, err)

	_, err = decoder.ForFormat(decoder.FormatJSON, "brotli", zap.NewNop())
	assert.True(t, errors.Is(err, util.ErrUnsupportedCompression))

	dec, err := decoder.ForFormat(decoder.FormatJSON, "", zap.NewNop())
	require.NoError(t, err)
	_, isPlain := dec.(*decoder.JSONDecoder)
	assert.True(t, isPlain)
}
