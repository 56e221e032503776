package bundle

import (
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

const (
	// DefaultCompressionLevel is the default compression level for encoding.
	DefaultCompressionLevel = zstd.DefaultCompression
)

// Reader wraps an io.Reader to provide decompression of bundle data.
type Reader struct {
	header  *Header
	zReader io.ReadCloser
}

// NewReader reads and validates the header, then returns a reader for the decompressed content.
func NewReader(r io.Reader) (*Reader, error) {
	var headerBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	header := &Header{}
	if err := header.UnmarshalBinary(headerBuf[:]); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	return &Reader{
		header:  header,
		zReader: zstd.NewReader(io.LimitReader(r, int64(header.CompressedLength))),
	}, nil
}

// Header returns the bundle header.
func (r *Reader) Header() *Header {
	return r.header
}

// Read reads decompressed data into p.
func (r *Reader) Read(p []byte) (n int, err error) {
	return r.zReader.Read(p)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.zReader.Close()
}

// ReadAll reads the header and the entire decompressed content of a bundle stream.
func ReadAll(r io.Reader) (*Header, []byte, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()

	data := make([]byte, reader.header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, nil, fmt.Errorf("read content: %w", err)
	}
	return reader.header, data, nil
}

// Writer wraps an io.WriteSeeker to provide compression of bundle data.
type Writer struct {
	dst     io.WriteSeeker
	start   int64
	zWriter *zstd.Writer
	header  *Header
	level   int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the zstd compression level.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// NewWriter creates a writer for uncompressedSize bytes of content holding entryCount entries.
func NewWriter(dst io.WriteSeeker, uncompressedSize uint64, entryCount uint32, opts ...WriterOption) (*Writer, error) {
	start, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}

	w := &Writer{
		dst:   dst,
		start: start,
		level: DefaultCompressionLevel,
		header: &Header{
			Magic:      Magic,
			Version:    FormatVersion,
			EntryCount: entryCount,
			Length:     uncompressedSize,
		},
	}
	for _, opt := range opts {
		opt(w)
	}

	// Write placeholder header
	headerBytes, err := w.header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := dst.Write(headerBytes); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	w.zWriter = zstd.NewWriterLevel(dst, w.level)
	return w, nil
}

// Write writes compressed data.
func (w *Writer) Write(p []byte) (n int, err error) {
	return w.zWriter.Write(p)
}

// Close flushes the compressor and patches the compressed size into the header.
func (w *Writer) Close() error {
	if err := w.zWriter.Close(); err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}

	pos, err := w.dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	w.header.CompressedLength = uint64(pos - w.start - HeaderSize)

	if _, err := w.dst.Seek(w.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	headerBytes, err := w.header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := w.dst.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if _, err := w.dst.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// Encode compresses data, the encoding of entryCount entries, and writes it as a bundle
// stream to dst.
func Encode(dst io.WriteSeeker, data []byte, entryCount uint32, opts ...WriterOption) error {
	w, err := NewWriter(dst, uint64(len(data)), entryCount, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return w.Close()
}
