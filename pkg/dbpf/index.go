package dbpf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

// Index flag bits. A set bit means the field is stored once after the flag word
// instead of in every record.
const (
	FlagConstType uint32 = 1 << iota
	FlagConstGroup
	FlagConstInstanceHi
	FlagConstInstanceLo
)

// sizeMask strips the reserved top bit of the on-disk size field.
const sizeMask = 0x7FFFFFFF

// TGI is the (type, group, instance) key of a resource.
type TGI struct {
	Type     uint32
	Group    uint32
	Instance uint64
}

// String formats the key as TTTTTTTT:GGGGGGGG:IIIIIIIIIIIIIIII.
func (k TGI) String() string {
	return fmt.Sprintf("%08X:%08X:%016X", k.Type, k.Group, k.Instance)
}

// ParseTGI parses a key in the form produced by String.
func ParseTGI(s string) (TGI, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return TGI{}, fmt.Errorf("parse key %q: want type:group:instance", s)
	}
	t, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return TGI{}, fmt.Errorf("parse key %q: type: %w", s, err)
	}
	g, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return TGI{}, fmt.Errorf("parse key %q: group: %w", s, err)
	}
	i, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return TGI{}, fmt.Errorf("parse key %q: instance: %w", s, err)
	}
	return TGI{Type: uint32(t), Group: uint32(g), Instance: i}, nil
}

// IndexEntry is one record of the resource index.
type IndexEntry struct {
	TGI
	Offset           uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Compression      compression.Type
}

// IsCompressed reports whether the payload needs decoding.
func (e IndexEntry) IsCompressed() bool {
	return e.Compression.IsCompressed()
}

// Validate checks that the payload lies within the data region of an archive of the given size.
func (e IndexEntry) Validate(fileSize int64) error {
	end := int64(e.Offset) + int64(e.CompressedSize)
	if e.CompressedSize > 0 && int64(e.Offset) < HeaderSize {
		return fmt.Errorf("%w: %s: offset %d inside header", ErrCorruptedIndex, e.TGI, e.Offset)
	}
	if end > fileSize {
		return fmt.Errorf("%w: %s: data [%d, %d) past end of file (%d bytes)", ErrCorruptedIndex, e.TGI, e.Offset, end, fileSize)
	}
	return nil
}

// entryTail is the part of every record that is never elided.
type entryTail struct {
	Offset           uint32
	RawSize          uint32 // Top bit reserved
	UncompressedSize uint32
	Compression      uint16
	_                uint16 // Padding
}

// ReadIndex parses entryCount records from r, which must be positioned at the index.
func ReadIndex(r io.Reader, entryCount, indexSize uint32) ([]IndexEntry, error) {
	if entryCount == 0 && indexSize < 4 {
		return nil, nil
	}

	br := bufio.NewReader(r)

	var flags uint32
	if err := binary.Read(br, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: read flags: %w", ErrCorruptedIndex, err)
	}

	// Constants are stored in bit order: type, group, instance hi, instance lo.
	var constants [4]uint32
	for bit := range constants {
		if flags&(1<<bit) == 0 {
			continue
		}
		if err := binary.Read(br, binary.LittleEndian, &constants[bit]); err != nil {
			return nil, fmt.Errorf("%w: read constant %d: %w", ErrCorruptedIndex, bit, err)
		}
	}

	entries := make([]IndexEntry, 0, min(entryCount, 1<<16))
	for i := uint32(0); i < entryCount; i++ {
		var fields [4]uint32
		for bit := range fields {
			if flags&(1<<bit) != 0 {
				fields[bit] = constants[bit]
				continue
			}
			if err := binary.Read(br, binary.LittleEndian, &fields[bit]); err != nil {
				return nil, fmt.Errorf("%w: read entry %d: %w", ErrCorruptedIndex, i, err)
			}
		}

		var tail entryTail
		if err := binary.Read(br, binary.LittleEndian, &tail); err != nil {
			return nil, fmt.Errorf("%w: read entry %d: %w", ErrCorruptedIndex, i, err)
		}

		entries = append(entries, IndexEntry{
			TGI: TGI{
				Type:     fields[0],
				Group:    fields[1],
				Instance: uint64(fields[2])<<32 | uint64(fields[3]),
			},
			Offset:           tail.Offset,
			CompressedSize:   tail.RawSize & sizeMask,
			UncompressedSize: tail.UncompressedSize,
			Compression:      compression.Type(tail.Compression),
		})
	}

	return entries, nil
}

// MarshalIndex encodes entries with no constant fields.
func MarshalIndex(entries []IndexEntry) []byte {
	// flags == 0 cannot fail
	data, _ := encodeIndex(entries, 0)
	return data
}

// encodeIndex encodes entries, eliding the fields selected by flags. Every elided field
// must hold the same value across all entries.
func encodeIndex(entries []IndexEntry, flags uint32) ([]byte, error) {
	fieldsOf := func(e IndexEntry) [4]uint32 {
		return [4]uint32{e.Type, e.Group, uint32(e.Instance >> 32), uint32(e.Instance)}
	}

	var constants [4]uint32
	if len(entries) > 0 {
		constants = fieldsOf(entries[0])
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+len(entries)*32))
	binary.Write(buf, binary.LittleEndian, flags)
	for bit, v := range constants {
		if flags&(1<<bit) != 0 {
			binary.Write(buf, binary.LittleEndian, v)
		}
	}

	for i, e := range entries {
		for bit, v := range fieldsOf(e) {
			if flags&(1<<bit) == 0 {
				binary.Write(buf, binary.LittleEndian, v)
				continue
			}
			if v != constants[bit] {
				return nil, fmt.Errorf("entry %d: field %d is not constant", i, bit)
			}
		}
		binary.Write(buf, binary.LittleEndian, entryTail{
			Offset:           e.Offset,
			RawSize:          e.CompressedSize & sizeMask,
			UncompressedSize: e.UncompressedSize,
			Compression:      uint16(e.Compression),
		})
	}

	return buf.Bytes(), nil
}
