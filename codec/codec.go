// Package codec centralizes content compression for the memory store.
//
// Codec selection is a breaking-change boundary: payloads written with
// one codec cannot be decompressed by another, so a store must keep
// using the codec it was created with.
package codec

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// DefaultThreshold is the content size in bytes above which payloads
// are compressed before persisting.
const DefaultThreshold = 1024

// Codec compresses and decompresses raw payload bytes.
// Implementations must be safe for concurrent use.
type Codec interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Name() string
}

// Default is the codec used when none is configured. Zlib keeps the
// persisted hex payloads readable by earlier deployments of the store.
var Default Codec = Zlib{}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "zlib":
		return Zlib{}, true
	case "zstd":
		return NewZstd(), true
	case "lz4":
		return LZ4{}, true
	default:
		return nil, false
	}
}

// Compressor applies the store's compression policy: content whose
// UTF-8 byte length exceeds the threshold is compressed with the
// underlying codec and hex-armored so the payload column stays text;
// anything else passes through untouched.
type Compressor struct {
	codec     Codec
	threshold int
}

// NewCompressor creates a Compressor. A nil codec selects Default and
// a non-positive threshold selects DefaultThreshold.
func NewCompressor(c Codec, threshold int) *Compressor {
	if c == nil {
		c = Default
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Compressor{codec: c, threshold: threshold}
}

// Codec returns the underlying codec.
func (c *Compressor) Codec() Codec { return c.codec }

// Pack returns the payload to persist and whether it was compressed.
func (c *Compressor) Pack(content string) (string, bool, error) {
	if len(content) <= c.threshold {
		return content, false, nil
	}

	compressed, err := c.codec.Compress([]byte(content))
	if err != nil {
		return "", false, fmt.Errorf("codec %s: compress: %w", c.codec.Name(), err)
	}

	return hex.EncodeToString(compressed), true, nil
}

// Unpack is the exact inverse of Pack. Round-trip fidelity is a hard
// contract: no normalization, no charset surprises.
func (c *Compressor) Unpack(payload string, compressed bool) (string, error) {
	if !compressed {
		return payload, nil
	}

	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("codec %s: malformed hex payload: %w", c.codec.Name(), err)
	}

	content, err := c.codec.Decompress(raw)
	if err != nil {
		return "", fmt.Errorf("codec %s: decompress: %w", c.codec.Name(), err)
	}

	if !utf8.Valid(content) {
		return "", fmt.Errorf("codec %s: decompressed payload is not valid UTF-8", c.codec.Name())
	}

	return string(content), nil
}
