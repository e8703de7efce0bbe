package blockcodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	compressible := bytes.Repeat([]byte("speech units "), 512)
	patterned := make([]byte, 4096)
	for i := range patterned {
		patterned[i] = byte((i*7919 + 13) % 251)
	}

	for _, typ := range []Type{None, LZ4, ZSTD} {
		for name, data := range map[string][]byte{
			"compressible": compressible,
			"patterned":    patterned,
			"empty":        {},
		} {
			t.Run(typ.String()+"/"+name, func(t *testing.T) {
				block, err := Encode(data, typ)
				require.NoError(t, err)

				out, err := Decode(block, typ)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(out))
				assert.True(t, bytes.Equal(data, out))
			})
		}
	}
}

func TestEncode_ShrinksCompressibleData(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 64*1024)

	block, err := Encode(data, ZSTD)
	require.NoError(t, err)
	assert.Less(t, len(block), len(data)/2)
}

func TestDecode_ShortBlock(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, ZSTD)
	assert.ErrorIs(t, err, ErrShortBlock)

	block, err := Encode(bytes.Repeat([]byte("a"), 1024), LZ4)
	require.NoError(t, err)
	_, err = Decode(block[:len(block)-4], LZ4)
	assert.ErrorIs(t, err, ErrShortBlock)
}

func TestParse(t *testing.T) {
	for name, want := range map[string]Type{"": None, "none": None, "LZ4": LZ4, "zstd": ZSTD} {
		got, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := Parse("brotli")
	assert.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	for _, typ := range []Type{None, LZ4, ZSTD} {
		b, err := typ.MarshalText()
		require.NoError(t, err)

		var got Type
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, typ, got)
	}

	var bad Type
	require.Error(t, bad.UnmarshalText([]byte("brotli")))
}
