// Package compression implements the payload codecs used by DBPF resources.
package compression

import (
	"errors"
	"fmt"
)

// Type identifies how a resource payload is stored on disk.
type Type uint16

const (
	None       Type = 0x0000
	Deflate    Type = 0x5A42
	RefPackAlt Type = 0xFFFE
	RefPack    Type = 0xFFFF
)

// UnknownSize disables the output length check in Decompress.
const UnknownSize = -1

// ErrCompression is returned for any payload that cannot be encoded or decoded.
var ErrCompression = errors.New("compression error")

// String returns a short name for the compression type.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Deflate:
		return "deflate"
	case RefPack, RefPackAlt:
		return "refpack"
	default:
		return fmt.Sprintf("unknown(0x%04X)", uint16(t))
	}
}

// ParseType returns the compression type named by s, as produced by String.
func ParseType(s string) (Type, error) {
	switch s {
	case "none":
		return None, nil
	case "deflate":
		return Deflate, nil
	case "refpack":
		return RefPack, nil
	default:
		return None, fmt.Errorf("unknown compression type %q", s)
	}
}

// IsCompressed reports whether payloads of this type need decoding.
func (t Type) IsCompressed() bool {
	return t != None
}

// Decompress decodes data stored with compression type t.
// When expectedSize is not UnknownSize the decoded length must match it.
func Decompress(data []byte, t Type, expectedSize int) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case Deflate:
		return DecompressDeflate(data, expectedSize)
	case RefPack, RefPackAlt:
		return DecompressRefPack(data, expectedSize)
	default:
		return nil, fmt.Errorf("%w: unknown compression type 0x%04X", ErrCompression, uint16(t))
	}
}

// Compress encodes data with compression type t.
func Compress(data []byte, t Type) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case Deflate:
		return CompressDeflate(data)
	case RefPack, RefPackAlt:
		return CompressRefPack(data)
	default:
		return nil, fmt.Errorf("%w: unknown compression type 0x%04X", ErrCompression, uint16(t))
	}
}

func sizeMismatch(codec string, got, want int) error {
	return fmt.Errorf("%w: %s size mismatch: got %d, expected %d", ErrCompression, codec, got, want)
}
