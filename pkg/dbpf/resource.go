package dbpf

import (
	"fmt"
	"io"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

// Resource is a lazily extracted entry of an open archive. It shares the archive's
// stream, so it is not safe for concurrent use.
type Resource struct {
	entry IndexEntry
	src   io.ReadSeeker

	// Decompression cache
	data   []byte
	cached bool
}

func newResource(entry IndexEntry, src io.ReadSeeker) *Resource {
	return &Resource{entry: entry, src: src}
}

// Entry returns the index record of the resource.
func (r *Resource) Entry() IndexEntry { return r.entry }

// TGI returns the resource key.
func (r *Resource) TGI() TGI { return r.entry.TGI }

func (r *Resource) Type() uint32 { return r.entry.Type }
func (r *Resource) Group() uint32 { return r.entry.Group }
func (r *Resource) Instance() uint64 { return r.entry.Instance }

// TypeName returns the human-readable resource type.
func (r *Resource) TypeName() string { return TypeName(r.entry.Type) }

func (r *Resource) IsCompressed() bool { return r.entry.IsCompressed() }
func (r *Resource) Compression() compression.Type { return r.entry.Compression }
func (r *Resource) CompressedSize() uint32 { return r.entry.CompressedSize }
func (r *Resource) UncompressedSize() uint32 { return r.entry.UncompressedSize }
func (r *Resource) Offset() uint32 { return r.entry.Offset }

// ReadRaw reads the on-disk payload without decoding it.
func (r *Resource) ReadRaw() ([]byte, error) {
	if r.src == nil {
		return nil, fmt.Errorf("read %s: %w", r.entry.TGI, ErrClosed)
	}
	if _, err := r.src.Seek(int64(r.entry.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", r.entry.TGI, err)
	}

	raw := make([]byte, r.entry.CompressedSize)
	if _, err := io.ReadFull(r.src, raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.entry.TGI, err)
	}
	return raw, nil
}

// Extract reads and decodes the payload. The result is cached; later calls return the
// same slice without touching the stream.
func (r *Resource) Extract() ([]byte, error) {
	if r.cached {
		return r.data, nil
	}

	raw, err := r.ReadRaw()
	if err != nil {
		return nil, err
	}

	data, err := compression.Decompress(raw, r.entry.Compression, int(r.entry.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", r.entry.TGI, err)
	}

	r.data = data
	r.cached = true
	return data, nil
}

// String renders a one-line summary of the resource.
func (r *Resource) String() string {
	var compressed string
	if r.IsCompressed() {
		compressed = " (compressed)"
	}
	return fmt.Sprintf("<Resource %s G:%08X I:%016X %d bytes%s>",
		r.TypeName(), r.entry.Group, r.entry.Instance, r.entry.UncompressedSize, compressed)
}
