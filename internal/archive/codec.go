// Package archive compresses and decompresses backup artifacts.
//
// Gzip is the default format. Zstandard is available for deployments that
// prefer it; Decompress detects the format from the stream's magic bytes so
// artifacts written under either setting stay restorable.
package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/tenantbackup/internal/backup"
)

// Format selects the compression algorithm.
type Format string

const (
	Gzip Format = "gzip"
	Zstd Format = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ParseFormat maps a config value to a Format. Empty means Gzip.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", Gzip:
		return Gzip, nil
	case Zstd:
		return Zstd, nil
	default:
		return "", fmt.Errorf("%w: unknown compression %q", backup.ErrConfiguration, s)
	}
}

// Extension is the file suffix artifacts written in f carry.
func (f Format) Extension() string {
	if f == Zstd {
		return ".zst"
	}
	return ".gz"
}

// ContentType is the MIME type used when uploading.
func (f Format) ContentType() string {
	if f == Zstd {
		return "application/zstd"
	}
	return "application/gzip"
}

// Codec is the pure compress/decompress transform.
type Codec struct {
	format Format
}

// New returns a Codec writing format f.
func New(f Format) *Codec {
	return &Codec{format: f}
}

// Format returns the format the codec writes.
func (c *Codec) Format() Format { return c.format }

// NewWriter wraps dst with a compressing writer. Close must be called to
// flush the trailer; it does not close dst.
func (c *Codec) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	switch c.format {
	case Zstd:
		w, err := zstd.NewWriter(dst, zstd.WithZeroFrames(true))
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return w, nil
	default:
		return gzip.NewWriter(dst), nil
	}
}

// CompressStream copies src into dst compressed, without buffering the
// whole payload. It returns the number of uncompressed bytes read.
func (c *Codec) CompressStream(dst io.Writer, src io.Reader) (int64, error) {
	w, err := c.NewWriter(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("compress stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("flush compressed stream: %w", err)
	}
	return n, nil
}

// Compress returns data compressed in memory.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewReader returns a decompressing reader over src, detecting the format.
func NewReader(src io.Reader) (io.ReadCloser, error) {
	head := make([]byte, len(zstdMagic))
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read header: %v", backup.ErrCorruptArchive, err)
	}
	head = head[:n]
	src = io.MultiReader(bytes.NewReader(head), src)

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
		}
		return d.IOReadCloser(), nil
	case bytes.HasPrefix(head, gzipMagic):
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unrecognised header", backup.ErrCorruptArchive)
	}
}

// Decompress inflates data. Malformed input fails with backup.ErrCorruptArchive.
func Decompress(data []byte) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backup.ErrCorruptArchive, err)
	}
	return out, nil
}

// Decompress is the method form of the package-level Decompress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	return Decompress(data)
}
