package dbpf

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

// Writer streams a new archive: header placeholder, payloads, index, then the final header.
type Writer struct {
	dst     io.WriteSeeker
	start   int64
	offset  int64 // Relative to start
	entries []IndexEntry
	minor   uint32
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithVersionMinor sets the minor version written to the header.
func WithVersionMinor(minor uint32) WriterOption {
	return func(w *Writer) {
		w.minor = minor
	}
}

// Item is an in-memory resource to be written.
type Item struct {
	TGI
	Data        []byte // Uncompressed
	Compression compression.Type
}

// NewWriter creates a new archive writer that writes to dst at its current position.
func NewWriter(dst io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	start, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}

	w := &Writer{
		dst:    dst,
		start:  start,
		offset: HeaderSize,
		minor:  DefaultVersionMinor,
	}
	for _, opt := range opts {
		opt(w)
	}

	// Write placeholder header
	placeholder := make([]byte, HeaderSize)
	if _, err := dst.Write(placeholder); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	return w, nil
}

// Add compresses data with ct and appends it.
func (w *Writer) Add(tgi TGI, data []byte, ct compression.Type) error {
	raw, err := compression.Compress(data, ct)
	if err != nil {
		return fmt.Errorf("compress %s: %w", tgi, err)
	}
	return w.WriteRaw(IndexEntry{
		TGI:              tgi,
		UncompressedSize: uint32(len(data)),
		Compression:      ct,
	}, raw)
}

// WriteRaw appends an already encoded payload. Offset and CompressedSize of entry are
// filled in by the writer.
func (w *Writer) WriteRaw(entry IndexEntry, raw []byte) error {
	if w.offset+int64(len(raw)) > math.MaxUint32 || len(raw) > sizeMask {
		return fmt.Errorf("write %s: archive exceeds 4 GiB", entry.TGI)
	}

	if _, err := w.dst.Write(raw); err != nil {
		return fmt.Errorf("write %s: %w", entry.TGI, err)
	}

	entry.Offset = uint32(w.offset)
	entry.CompressedSize = uint32(len(raw))
	w.entries = append(w.entries, entry)
	w.offset += int64(len(raw))
	return nil
}

// Close writes the index and rewrites the header. It does not close dst.
func (w *Writer) Close() error {
	index := MarshalIndex(w.entries)
	if w.offset+int64(len(index)) > math.MaxUint32 {
		return fmt.Errorf("write index: archive exceeds 4 GiB")
	}
	if _, err := w.dst.Write(index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	end := w.start + w.offset + int64(len(index))

	header := NewHeader(uint32(len(w.entries)), uint32(w.offset), uint32(len(index)))
	header.VersionMinor = w.minor
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	// Seek to beginning and rewrite header
	if _, err := w.dst.Seek(w.start, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	if _, err := w.dst.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Seek back to end
	if _, err := w.dst.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	return nil
}

// Create writes a new archive at path containing items, replacing any existing file.
func Create(path string, items []Item, opts ...WriterOption) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if err := writeItems(f, items, opts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeItems(dst io.WriteSeeker, items []Item, opts ...WriterOption) error {
	w, err := NewWriter(dst, opts...)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := w.Add(item.TGI, item.Data, item.Compression); err != nil {
			return err
		}
	}
	return w.Close()
}
