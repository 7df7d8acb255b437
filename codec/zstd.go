package codec

import (
	"github.com/klauspost/compress/zstd"
)

// Zstd compresses content with zstandard. It trades on-disk
// compatibility with the zlib format for better ratios on large
// transcripts.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a Zstd codec with a shared encoder/decoder pair.
// EncodeAll/DecodeAll on these are safe for concurrent use.
func NewZstd() *Zstd {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Zstd{enc: enc, dec: dec}
}

// Name returns the stable codec name.
func (*Zstd) Name() string { return "zstd" }

// Compress encodes src as a zstd frame.
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

// Decompress decodes a zstd frame.
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}
