package dbpf

import (
	"errors"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

var (
	// ErrInvalidMagic means the file does not start with the DBPF signature.
	ErrInvalidMagic = errors.New("invalid magic")

	// ErrUnsupportedVersion means the major format version is not 2.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrCorruptedIndex means the resource index could not be parsed. The archive is unusable.
	ErrCorruptedIndex = errors.New("corrupted index")

	// ErrCompression is returned by Resource.Extract for payloads that fail to decode.
	// Other resources in the same archive stay readable.
	ErrCompression = compression.ErrCompression

	// ErrResourceNotFound is returned by lookups for a specific key.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive closed")
)
