package tagcache

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gozephyr/tagcache/errors"
)

func newTestCompressor(t *testing.T, config CompressionConfig) *compressor {
	t.Helper()
	c, err := newCompressor(config, newBufferPool())
	require.NoError(t, err)
	t.Cleanup(c.close)
	return c
}

func TestCompressionRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	for _, algo := range []CompressionAlgorithm{ZstdCompression, GzipCompression, S2Compression} {
		for _, level := range []int{0, 1, 3} {
			t.Run(algo.String(), func(t *testing.T) {
				c := newTestCompressor(t, CompressionConfig{Algorithm: algo, Level: level, MinSize: 64})

				out, flags, err := c.compress(data)
				require.NoError(t, err)
				require.NotZero(t, flags&flagCompressed)
				require.Equal(t, algo, CompressionAlgorithm((flags&flagAlgorithmMask)>>flagAlgorithmShift))
				require.Less(t, len(out), len(data))

				back, err := c.decompress(out, flags)
				require.NoError(t, err)
				require.Equal(t, data, back)
			})
		}
	}
}

func TestCompressionSkipped(t *testing.T) {
	t.Run("Below minimum size", func(t *testing.T) {
		c := newTestCompressor(t, CompressionConfig{Algorithm: ZstdCompression, MinSize: 1024})
		data := bytes.Repeat([]byte("a"), 100)
		out, flags, err := c.compress(data)
		require.NoError(t, err)
		require.Zero(t, flags)
		require.Equal(t, data, out)
	})

	t.Run("Disabled", func(t *testing.T) {
		c := newTestCompressor(t, CompressionConfig{Algorithm: NoCompression})
		data := bytes.Repeat([]byte("a"), 4096)
		out, flags, err := c.compress(data)
		require.NoError(t, err)
		require.Zero(t, flags)
		require.Equal(t, data, out)
	})

	t.Run("Incompressible data", func(t *testing.T) {
		c := newTestCompressor(t, CompressionConfig{Algorithm: S2Compression})
		data := make([]byte, 4096)
		_, err := rand.Read(data)
		require.NoError(t, err)
		out, flags, err := c.compress(data)
		require.NoError(t, err)
		require.Zero(t, flags)
		require.Equal(t, data, out)
	})
}

func TestDecompressionErrors(t *testing.T) {
	c := newTestCompressor(t, DefaultCompressionConfig())
	garbage := []byte("definitely not compressed")

	for _, algo := range []CompressionAlgorithm{ZstdCompression, GzipCompression, S2Compression, CompressionAlgorithm(7)} {
		t.Run(algo.String(), func(t *testing.T) {
			flags := flagCompressed | uint32(algo)<<flagAlgorithmShift
			_, err := c.decompress(garbage, flags)
			require.ErrorIs(t, err, errors.ErrDecompression)
		})
	}

	t.Run("Uncompressed flags pass through", func(t *testing.T) {
		out, err := c.decompress(garbage, 0)
		require.NoError(t, err)
		require.Equal(t, garbage, out)
	})
}

func TestParseCompressionAlgorithm(t *testing.T) {
	for _, algo := range []CompressionAlgorithm{NoCompression, ZstdCompression, GzipCompression, S2Compression} {
		parsed, err := ParseCompressionAlgorithm(algo.String())
		require.NoError(t, err)
		require.Equal(t, algo, parsed)
	}

	parsed, err := ParseCompressionAlgorithm("")
	require.NoError(t, err)
	require.Equal(t, NoCompression, parsed)

	_, err = ParseCompressionAlgorithm("lz4")
	require.ErrorIs(t, err, errors.ErrInvalidOperation)
}
