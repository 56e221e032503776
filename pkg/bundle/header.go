// Package bundle stores the decoded resources of a DBPF archive in a single
// zstd-compressed file, with a digest per resource.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies a bundle file.
var Magic = [4]byte{'D', 'B', 'P', 'B'}

// FormatVersion is the only bundle layout this package reads and writes.
const FormatVersion = 1

// HeaderSize is the size of the uncompressed header in front of the zstd stream.
const HeaderSize = 28

// Field offsets within the header.
const (
	offMagic            = 0x00
	offVersion          = 0x04
	offEntryCount       = 0x08
	offLength           = 0x0C
	offCompressedLength = 0x14
)

// entrySize is the encoded size of one Entry.
var entrySize = binary.Size(Entry{})

// ErrInvalidHeader is returned for a bundle header that cannot describe a readable bundle.
var ErrInvalidHeader = errors.New("invalid bundle header")

// Header precedes the zstd stream of a bundle file. It repeats the entry count so a
// bundle can be summarized without decompressing it.
type Header struct {
	Magic            [4]byte
	Version          uint32
	EntryCount       uint32
	Length           uint64 // Decompressed content size
	CompressedLength uint64 // zstd stream size; zero until the writer is closed
}

// Validate checks the magic and version, and that the sizes can hold EntryCount entries.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: magic %q", ErrInvalidHeader, h.Magic[:])
	}
	if h.Version != FormatVersion {
		return fmt.Errorf("%w: version %d, only %d is supported", ErrInvalidHeader, h.Version, FormatVersion)
	}
	if need := 4 + uint64(h.EntryCount)*uint64(entrySize); h.Length < need {
		return fmt.Errorf("%w: %d bytes of content cannot hold %d entries", ErrInvalidHeader, h.Length, h.EntryCount)
	}
	if h.CompressedLength == 0 {
		return fmt.Errorf("%w: stream length missing (writer not closed)", ErrInvalidHeader)
	}
	return nil
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header into buf, which must hold HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[offMagic:offMagic+4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offEntryCount:], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[offLength:], h.Length)
	binary.LittleEndian.PutUint64(buf[offCompressedLength:], h.CompressedLength)
}

// UnmarshalBinary decodes and validates the header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(data))
	}
	copy(h.Magic[:], data[offMagic:offMagic+4])
	h.Version = binary.LittleEndian.Uint32(data[offVersion:])
	h.EntryCount = binary.LittleEndian.Uint32(data[offEntryCount:])
	h.Length = binary.LittleEndian.Uint64(data[offLength:])
	h.CompressedLength = binary.LittleEndian.Uint64(data[offCompressedLength:])
	return h.Validate()
}
