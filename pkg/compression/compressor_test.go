package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() []byte {
	return bytes.Repeat([]byte(`{"site_id":1,"air_temperature":25.0,"primary_use":"Education"}`), 200)
}

func TestCompressorsRoundTrip(t *testing.T) {
	data := sampleData()

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(alg), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: alg, Level: level})
				require.NoError(t, err)
				assert.Equal(t, alg, comp.Algorithm())

				compressed, err := comp.Compress(data)
				require.NoError(t, err)
				if alg != None {
					assert.Less(t, len(compressed), len(data))
				}

				out, err := comp.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, data, out)
			})
		}
	}
}

func TestNewCompressorDefaults(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, Zstd, comp.Algorithm())

	_, err = NewCompressor(&Config{Algorithm: "brotli"})
	assert.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, alg)

	alg, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)

	_, err = ParseAlgorithm("deflate")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	data := sampleData()

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		blob, err := Seal(alg, Default, data)
		require.NoError(t, err)

		detected, err := Detect(blob)
		require.NoError(t, err)
		assert.Equal(t, alg, detected)

		out, err := Open(blob)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestOpenRejectsForeignBlobs(t *testing.T) {
	_, err := Open([]byte("{}"))
	assert.Error(t, err)

	_, err = Open(append([]byte("GCZ1"), 99))
	assert.Error(t, err)

	blob, err := Seal(Zstd, Default, sampleData())
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	blob[len(blob)-2] ^= 0xff
	_, err = Open(blob)
	assert.Error(t, err)
}
