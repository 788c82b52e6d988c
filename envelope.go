package tagcache

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/gozephyr/tagcache/errors"
	"github.com/gozephyr/tagcache/metrics"
	"github.com/gozephyr/tagcache/ttl"
)

// Envelope is the stored form of an entry: the payload plus the metadata
// needed to check expiry independently of the node's own TTL.
type Envelope struct {
	Payload   []byte
	CreatedAt time.Time
	// Lifetime is a whole number of seconds; zero never expires
	Lifetime time.Duration
}

// Wrap captures the current time as the creation time of payload
func Wrap(payload []byte, lifetime time.Duration) Envelope {
	return wrapAt(payload, lifetime, time.Now())
}

func wrapAt(payload []byte, lifetime time.Duration, now time.Time) Envelope {
	return Envelope{
		Payload:   payload,
		CreatedAt: now,
		Lifetime:  ttl.Seconds(lifetime),
	}
}

// IsExpired reports whether the envelope is expired at now
func (e Envelope) IsExpired(now time.Time) bool {
	return ttl.IsExpired(e.CreatedAt, e.Lifetime, now)
}

// ExpiresAt returns the absolute expiry, zero for an infinite lifetime
func (e Envelope) ExpiresAt() time.Time {
	return ttl.ExpiresAt(e.CreatedAt, e.Lifetime)
}

// codec turns envelopes into store values and back
type codec struct {
	buffers    *ObjectPool[*bytes.Buffer]
	compressor *compressor
	metrics    metrics.MetricsExporter
}

func newCodec(config CompressionConfig, m metrics.MetricsExporter) (*codec, error) {
	buffers := newBufferPool()
	c, err := newCompressor(config, buffers)
	if err != nil {
		return nil, err
	}
	return &codec{buffers: buffers, compressor: c, metrics: m}, nil
}

// marshal encodes env and returns the value with its store flags
func (c *codec) marshal(env Envelope) ([]byte, uint32, error) {
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	if err := gob.NewEncoder(buf).Encode(env); err != nil {
		return nil, 0, errors.WrapError("marshal", nil, errors.ErrSerialization)
	}
	raw := bytes.Clone(buf.Bytes())

	out, flags, err := c.compressor.compress(raw)
	if err != nil {
		return nil, 0, err
	}
	if flags&flagCompressed != 0 {
		c.metrics.RecordCompression(len(raw), len(out))
	}
	return out, flags, nil
}

// unmarshal decodes a value written by marshal
func (c *codec) unmarshal(data []byte, flags uint32) (Envelope, error) {
	raw, err := c.compressor.decompress(data, flags)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return Envelope{}, errors.WrapError("unmarshal", nil, errors.ErrDeserialization)
	}
	return env, nil
}

func (c *codec) close() {
	c.compressor.close()
}
