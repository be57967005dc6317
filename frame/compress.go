package frame

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionThreshold is the smallest envelope worth compressing.
const CompressionThreshold = 1024

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadLen))
)

// Compress zstd-compresses payload when it is above CompressionThreshold and
// compression actually shrinks it. It reports whether the result is compressed.
func Compress(payload []byte) ([]byte, bool) {
	if len(payload) <= CompressionThreshold {
		return payload, false
	}
	out := encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(out) >= len(payload) {
		return payload, false
	}
	return out, true
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("frame: decompress: %w", err)
	}
	if len(out) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}
