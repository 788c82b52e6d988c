package tagcache

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/gozephyr/tagcache/errors"
)

// CompressionAlgorithm represents the compression algorithm to use
type CompressionAlgorithm uint32

const (
	// NoCompression stores payloads as they are
	NoCompression CompressionAlgorithm = iota
	// ZstdCompression uses zstd compression
	ZstdCompression
	// GzipCompression uses gzip compression
	GzipCompression
	// S2Compression uses s2 (snappy-compatible) compression
	S2Compression
)

// String returns the configuration name of the algorithm
func (a CompressionAlgorithm) String() string {
	switch a {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	case GzipCompression:
		return "gzip"
	case S2Compression:
		return "s2"
	default:
		return "unknown"
	}
}

// ParseCompressionAlgorithm maps a configuration name to an algorithm
func ParseCompressionAlgorithm(name string) (CompressionAlgorithm, error) {
	switch name {
	case "", "none":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	case "gzip":
		return GzipCompression, nil
	case "s2":
		return S2Compression, nil
	default:
		return NoCompression, errors.WrapError("ParseCompressionAlgorithm", name, errors.ErrInvalidOperation)
	}
}

// Store flag layout: bit 0 marks a compressed value, bits 1-3 hold the
// algorithm.
const (
	flagCompressed     uint32 = 1
	flagAlgorithmShift        = 1
	flagAlgorithmMask  uint32 = 0x7 << flagAlgorithmShift
)

// CompressionConfig represents configuration for compression
type CompressionConfig struct {
	Algorithm CompressionAlgorithm
	// Level is algorithm specific; 0 selects the algorithm default
	Level int
	// MinSize is the smallest encoded envelope worth compressing
	MinSize int
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Algorithm: ZstdCompression,
		MinSize:   1024, // 1KB
	}
}

// compressor compresses encoded envelopes and records the algorithm in the
// store flags so any reader can undo it regardless of its own config
type compressor struct {
	config  CompressionConfig
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	buffers *ObjectPool[*bytes.Buffer]
}

func newCompressor(config CompressionConfig, buffers *ObjectPool[*bytes.Buffer]) (*compressor, error) {
	if config.Algorithm > S2Compression {
		return nil, errors.WrapError("newCompressor", config.Algorithm.String(), errors.ErrInvalidOperation)
	}
	level := zstd.SpeedDefault
	if config.Algorithm == ZstdCompression && config.Level > 0 {
		level = zstd.EncoderLevelFromZstd(config.Level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, errors.WrapError("newCompressor", nil, errors.ErrCompression)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, errors.WrapError("newCompressor", nil, errors.ErrDecompression)
	}
	return &compressor{config: config, encoder: enc, decoder: dec, buffers: buffers}, nil
}

// compress returns data compressed with the configured algorithm and the
// flags describing it. Data below MinSize, or that does not shrink, is
// returned unchanged with zero flags.
func (c *compressor) compress(data []byte) ([]byte, uint32, error) {
	if c.config.Algorithm == NoCompression || len(data) < c.config.MinSize {
		return data, 0, nil
	}

	var out []byte
	switch c.config.Algorithm {
	case ZstdCompression:
		out = c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	case S2Compression:
		if c.config.Level > 1 {
			out = s2.EncodeBetter(nil, data)
		} else {
			out = s2.Encode(nil, data)
		}
	case GzipCompression:
		buf := c.buffers.Get()
		defer c.buffers.Put(buf)
		level := c.config.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		w, err := gzip.NewWriterLevel(buf, level)
		if err != nil {
			return nil, 0, errors.WrapError("compress", nil, errors.ErrCompression)
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, 0, errors.WrapError("compress", nil, errors.ErrCompression)
		}
		if err := w.Close(); err != nil {
			return nil, 0, errors.WrapError("compress", nil, errors.ErrCompression)
		}
		out = bytes.Clone(buf.Bytes())
	}

	if len(out) >= len(data) {
		return data, 0, nil
	}
	return out, flagCompressed | uint32(c.config.Algorithm)<<flagAlgorithmShift, nil
}

// decompress undoes compress according to flags
func (c *compressor) decompress(data []byte, flags uint32) ([]byte, error) {
	if flags&flagCompressed == 0 {
		return data, nil
	}

	switch CompressionAlgorithm((flags & flagAlgorithmMask) >> flagAlgorithmShift) {
	case ZstdCompression:
		out, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.WrapError("decompress", nil, errors.ErrDecompression)
		}
		return out, nil
	case S2Compression:
		out, err := s2.Decode(nil, data)
		if err != nil {
			return nil, errors.WrapError("decompress", nil, errors.ErrDecompression)
		}
		return out, nil
	case GzipCompression:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WrapError("decompress", nil, errors.ErrDecompression)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.WrapError("decompress", nil, errors.ErrDecompression)
		}
		return out, nil
	default:
		return nil, errors.WrapError("decompress", nil, errors.ErrDecompression)
	}
}

// close releases the zstd encoder and decoder
func (c *compressor) close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
