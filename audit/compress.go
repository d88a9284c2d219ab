package audit

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/pgstrict/pgstrict/telemetry"
)

// DefaultCompressThreshold is the query text length in bytes above which
// events are compressed before hitting the spool
const DefaultCompressThreshold = 4096

// Codec compresses oversized query texts at rest. Events leave the spool
// with the text restored, so sinks and the admin surface never see the
// compressed form.
type Codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	threshold int
}

// NewCodec creates a codec with the given threshold.
// A threshold <= 0 selects DefaultCompressThreshold.
func NewCodec(threshold int) (*Codec, error) {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}

	// Encoder/decoder with a nil stream are safe for concurrent
	// EncodeAll/DecodeAll use
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Codec{enc: enc, dec: dec, threshold: threshold}, nil
}

// Pack compresses the query text in place when it exceeds the threshold
func (c *Codec) Pack(event *Event) {
	if len(event.Query) <= c.threshold {
		return
	}

	event.Compressed = c.enc.EncodeAll([]byte(event.Query), nil)
	event.Query = ""
	telemetry.AuditCompressedTotal.Inc()
}

// Unpack restores the query text of a compressed event
func (c *Codec) Unpack(event *Event) error {
	if len(event.Compressed) == 0 {
		return nil
	}

	raw, err := c.dec.DecodeAll(event.Compressed, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress query text: %w", err)
	}

	event.Query = string(raw)
	event.Compressed = nil
	return nil
}

// Close releases the zstd encoder and decoder
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
