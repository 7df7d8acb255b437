package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Zlib is the default content codec. Its output is byte-compatible
// with RFC 1950 zlib streams, which is what earlier deployments of the
// store persisted.
type Zlib struct{}

// Name returns the stable codec name.
func (Zlib) Name() string { return "zlib" }

// Compress deflates src.
func (Zlib) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates src.
func (Zlib) Decompress(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
