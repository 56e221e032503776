package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// DeflateMarker is written in front of every raw deflate payload.
var DeflateMarker = [2]byte{0x78, 0x9C}

// DecompressDeflate skips the 2-byte marker and inflates the remaining headerless stream.
func DecompressDeflate(data []byte, expectedSize int) ([]byte, error) {
	if len(data) < len(DeflateMarker) {
		return nil, fmt.Errorf("%w: deflate data too short", ErrCompression)
	}

	r := flate.NewReader(bytes.NewReader(data[len(DeflateMarker):]))
	defer r.Close()

	// One byte past the expected size is enough to report a mismatch.
	var src io.Reader = r
	if expectedSize != UnknownSize {
		src = io.LimitReader(r, int64(expectedSize)+1)
	}

	var out bytes.Buffer
	if expectedSize > 0 {
		out.Grow(expectedSize)
	}
	if _, err := io.Copy(&out, src); err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCompression, err)
	}

	if expectedSize != UnknownSize && out.Len() != expectedSize {
		return nil, sizeMismatch("deflate", out.Len(), expectedSize)
	}
	return out.Bytes(), nil
}

// CompressDeflate deflates data at maximum compression and prepends DeflateMarker.
func CompressDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(DeflateMarker[:])

	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: create deflate writer: %v", ErrCompression, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCompression, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: close deflate writer: %v", ErrCompression, err)
	}
	return buf.Bytes(), nil
}
