package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compressor ids understood by zarr-image. The ids and level semantics match
// the numcodecs codecs of the same name.
const (
	CodecZstd  = "zstd"
	CodecGzip  = "gzip"
	CodecZlib  = "zlib"
	CodecBlosc = "blosc"
)

// CompressionMeta defines compression settings zarr-image understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// DefaultCompressor is zstd at a moderate level with no byte shuffling.
func DefaultCompressor() *CompressionMeta {
	return &CompressionMeta{ID: CodecZstd, Level: 2}
}

// Validate reports whether chunks can be encoded and decoded with m.
func (m *CompressionMeta) Validate() error {
	if m == nil {
		return nil
	}
	switch m.ID {
	case CodecZstd, CodecGzip, CodecZlib:
		return nil
	case CodecBlosc:
		return fmt.Errorf("compressor %q (cname %q) is not supported, use %q", m.ID, m.Cname, CodecZstd)
	default:
		return fmt.Errorf("unknown compressor %q", m.ID)
	}
}

// Compressor wraps w with the configured codec. Callers must Close the
// returned writer to flush. A nil CompressionMeta writes raw bytes.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	switch m.ID {
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(m.level(3))))
	case CodecGzip:
		return gzip.NewWriterLevel(w, m.level(gzip.DefaultCompression))
	case CodecZlib:
		return zlib.NewWriterLevel(w, m.level(zlib.DefaultCompression))
	}
	return nil, m.Validate()
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	switch m.ID {
	case CodecZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecZlib:
		return zlib.NewReader(r)
	}
	return nil, m.Validate()
}

// Encode compresses a whole chunk.
func (m *CompressionMeta) Encode(raw []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := m.Compressor(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses a whole chunk read from r, closing r.
func (m *CompressionMeta) Decode(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	dr, err := m.Decompressor(r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	return io.ReadAll(dr)
}

func (m *CompressionMeta) level(def int) int {
	if m.Level != 0 {
		return m.Level
	}
	if m.Clevel != 0 {
		return m.Clevel
	}
	return def
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
