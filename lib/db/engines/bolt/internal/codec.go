package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// --------------------------------------------------------------------------
// Value Encoding
// --------------------------------------------------------------------------

/*
	Every stored value starts with a one byte header naming the codec of the payload:

		0x00 raw | 0x01 zstd | 0x02 lz4 (frame) | 0x03 snappy (block)

	The header is written per value, so a database can hold values of different codecs
	(for example after compression was switched on). A value is stored raw whenever
	compression would not make it smaller. Stored values are therefore never empty,
	even if the user value is.
*/

const (
	headerRaw    byte = 0x00
	headerZstd   byte = 0x01
	headerLZ4    byte = 0x02
	headerSnappy byte = 0x03
)

// ErrCorruptValue is returned when a stored value cannot be decoded
var ErrCorruptValue = errors.New("corrupt stored value")

var lz4Levels = []lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Codec encodes values before they are stored and decodes them after they are read.
//
// Thread-safety: All methods are thread-safe.
type Codec struct {
	compress bool
	alg      db.Compression
	lz4Level lz4.CompressionLevel
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewCodec creates a codec for the compression settings in opts
func NewCodec(opts db.Options) (*Codec, error) {
	c := &Codec{
		compress: opts.UseCompression,
		alg:      opts.Compression,
	}

	factor := opts.CompressionFactor
	if factor <= 0 {
		factor = 1
	}
	c.lz4Level = lz4Levels[min(factor, len(lz4Levels))-1]

	// the decoder is always needed: older values may be compressed even if compression is off now
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	c.decoder = decoder

	if c.compress && c.alg == db.CompressionZstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(factor)))
		if err != nil {
			decoder.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		c.encoder = encoder
	}
	return c, nil
}

// Encode returns the stored representation of value. The result never aliases value.
func (c *Codec) Encode(value []byte) ([]byte, error) {
	if c.compress && len(value) > 0 {
		header, payload, err := c.compressPayload(value)
		if err != nil {
			return nil, err
		}
		if len(payload) < len(value) {
			out := make([]byte, 1+len(payload))
			out[0] = header
			copy(out[1:], payload)
			return out, nil
		}
	}

	out := make([]byte, 1+len(value))
	out[0] = headerRaw
	copy(out[1:], value)
	return out, nil
}

func (c *Codec) compressPayload(value []byte) (byte, []byte, error) {
	switch c.alg {
	case db.CompressionZstd:
		return headerZstd, c.encoder.EncodeAll(value, nil), nil

	case db.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(c.lz4Level)); err != nil {
			return 0, nil, fmt.Errorf("lz4 apply level: %w", err)
		}
		if _, err := w.Write(value); err != nil {
			return 0, nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return 0, nil, fmt.Errorf("lz4 close: %w", err)
		}
		return headerLZ4, buf.Bytes(), nil

	case db.CompressionSnappy:
		return headerSnappy, snappy.Encode(nil, value), nil

	default:
		return 0, nil, fmt.Errorf("unsupported compression: %s", c.alg)
	}
}

// Decode returns the user value of a stored value. The result is a new slice that
// stays valid after the transaction that read stored has ended.
func (c *Codec) Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrCorruptValue)
	}

	payload := stored[1:]
	switch stored[0] {
	case headerRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case headerZstd:
		out, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptValue, err)
		}
		return nonNil(out), nil

	case headerLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptValue, err)
		}
		return nonNil(out), nil

	case headerSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrCorruptValue, err)
		}
		return nonNil(out), nil

	default:
		return nil, fmt.Errorf("%w: unknown header 0x%02x", ErrCorruptValue, stored[0])
	}
}

// Close releases the zstd encoder and decoder
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
