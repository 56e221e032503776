// Package dbpf reads and writes DBPF 2.x resource archives.
package dbpf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes identifying a DBPF archive.
var Magic = [4]byte{'D', 'B', 'P', 'F'}

const (
	// HeaderSize is the fixed binary size of an archive header.
	HeaderSize = 96

	// VersionMajor is the only supported major format version.
	VersionMajor = 2

	// DefaultVersionMinor is written by the archive writer.
	DefaultVersionMinor = 1
)

// Field offsets within the header. Everything else is reserved.
const (
	offMagic        = 0x00
	offVersionMajor = 0x04
	offVersionMinor = 0x08
	offEntryCount   = 0x24
	offIndexSize    = 0x2C
	offIndexOffset  = 0x40
)

// Header represents the fixed header at the start of an archive.
type Header struct {
	Magic        [4]byte
	VersionMajor uint32
	VersionMinor uint32 // Informational only
	EntryCount   uint32
	IndexSize    uint32 // Bytes
	IndexOffset  uint32
}

// NewHeader creates a header for a freshly written archive.
func NewHeader(entryCount, indexOffset, indexSize uint32) *Header {
	return &Header{
		Magic:        Magic,
		VersionMajor: VersionMajor,
		VersionMinor: DefaultVersionMinor,
		EntryCount:   entryCount,
		IndexSize:    indexSize,
		IndexOffset:  indexOffset,
	}
}

// Version returns the (major, minor) format version.
func (h *Header) Version() (major, minor uint32) {
	return h.VersionMajor, h.VersionMinor
}

// Validate checks magic first, then the major version.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidMagic, Magic[:], h.Magic[:])
	}
	if h.VersionMajor != VersionMajor {
		return fmt.Errorf("%w: %d.%d, only %d.x is supported", ErrUnsupportedVersion, h.VersionMajor, h.VersionMinor, VersionMajor)
	}
	return nil
}

// MarshalBinary encodes the header with all reserved regions zeroed.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least HeaderSize bytes; reserved bytes are overwritten with zero.
func (h *Header) EncodeTo(buf []byte) {
	clear(buf[:HeaderSize])
	copy(buf[offMagic:offMagic+4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersionMajor:], h.VersionMajor)
	binary.LittleEndian.PutUint32(buf[offVersionMinor:], h.VersionMinor)
	binary.LittleEndian.PutUint32(buf[offEntryCount:], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[offIndexSize:], h.IndexSize)
	binary.LittleEndian.PutUint32(buf[offIndexOffset:], h.IndexOffset)
}

// UnmarshalBinary decodes and validates the header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < 4 || [4]byte(data[:4]) != Magic {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidMagic, Magic[:], data[:min(len(data), 4)])
	}
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header too short: need %d, got %d", ErrInvalidMagic, HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer.
// Does not validate - use UnmarshalBinary for validation.
func (h *Header) DecodeFrom(data []byte) {
	copy(h.Magic[:], data[offMagic:offMagic+4])
	h.VersionMajor = binary.LittleEndian.Uint32(data[offVersionMajor:])
	h.VersionMinor = binary.LittleEndian.Uint32(data[offVersionMinor:])
	h.EntryCount = binary.LittleEndian.Uint32(data[offEntryCount:])
	h.IndexSize = binary.LittleEndian.Uint32(data[offIndexSize:])
	h.IndexOffset = binary.LittleEndian.Uint32(data[offIndexOffset:])
}

// ReadHeader reads and validates a header from the current position of r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read header: %w", err)
	}

	h := &Header{}
	if err := h.UnmarshalBinary(buf[:n]); err != nil {
		return nil, err
	}
	return h, nil
}
