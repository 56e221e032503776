package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/goopsie/dbpfTools/pkg/compression"
	"github.com/goopsie/dbpfTools/pkg/dbpf"
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the size of a resource digest in bytes.
const DigestSize = blake2b.Size256

// ErrDigestMismatch is returned when stored data no longer matches its digest.
var ErrDigestMismatch = errors.New("digest mismatch")

// Digest returns the blake2b-256 digest of data.
func Digest(data []byte) [DigestSize]byte {
	return blake2b.Sum256(data)
}

// Entry describes one resource stored in a bundle.
type Entry struct {
	Type        uint32
	Group       uint32
	Instance    uint64
	Compression compression.Type // Compression to apply when rebuilding an archive
	_           uint16
	Size        uint32 // Decompressed size
	Digest      [DigestSize]byte
}

// TGI returns the resource key of the entry.
func (e Entry) TGI() dbpf.TGI {
	return dbpf.TGI{Type: e.Type, Group: e.Group, Instance: e.Instance}
}

// Bundle holds decompressed resources in index order.
type Bundle struct {
	Entries []Entry
	data    [][]byte
}

// Add appends a resource to the bundle.
func (b *Bundle) Add(tgi dbpf.TGI, data []byte, ct compression.Type) {
	b.Entries = append(b.Entries, Entry{
		Type:        tgi.Type,
		Group:       tgi.Group,
		Instance:    tgi.Instance,
		Compression: ct,
		Size:        uint32(len(data)),
		Digest:      Digest(data),
	})
	b.data = append(b.data, data)
}

// Len returns the number of resources in the bundle.
func (b *Bundle) Len() int {
	return len(b.Entries)
}

// Data returns the decompressed payload of entry i.
func (b *Bundle) Data(i int) []byte {
	return b.data[i]
}

// Verify checks every payload against its recorded size and digest.
func (b *Bundle) Verify() error {
	for i, e := range b.Entries {
		if int(e.Size) != len(b.data[i]) {
			return fmt.Errorf("entry %s: size %d, recorded %d: %w", e.TGI(), len(b.data[i]), e.Size, ErrDigestMismatch)
		}
		if Digest(b.data[i]) != e.Digest {
			return fmt.Errorf("entry %s: %w", e.TGI(), ErrDigestMismatch)
		}
	}
	return nil
}

// MarshalBinary encodes the bundle contents: entry count, entries, then payloads.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b.Entries))); err != nil {
		return nil, fmt.Errorf("write entry count: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, b.Entries); err != nil {
		return nil, fmt.Errorf("write entries: %w", err)
	}
	for _, d := range b.data {
		buf.Write(d)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes bundle contents produced by MarshalBinary.
func (b *Bundle) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("read entry count: %w", err)
	}
	if int64(count)*int64(entrySize) > int64(reader.Len()) {
		return fmt.Errorf("entry count %d exceeds bundle size", count)
	}

	entries := make([]Entry, count)
	if err := binary.Read(reader, binary.LittleEndian, entries); err != nil {
		return fmt.Errorf("read entries: %w", err)
	}

	rest := data[len(data)-reader.Len():]
	payloads := make([][]byte, count)
	for i, e := range entries {
		if int64(e.Size) > int64(len(rest)) {
			return fmt.Errorf("entry %s: payload truncated", e.TGI())
		}
		payloads[i] = rest[:e.Size:e.Size]
		rest = rest[e.Size:]
	}
	if len(rest) != 0 {
		return fmt.Errorf("%d trailing bytes after payloads", len(rest))
	}

	b.Entries = entries
	b.data = payloads
	return nil
}

// FromArchive decompresses every resource of a. Resources that fail to
// extract are left out and reported in the returned error slice.
func FromArchive(a *dbpf.Archive) (*Bundle, []error) {
	b := &Bundle{}
	var failures []error
	for _, r := range a.Resources() {
		data, err := r.Extract()
		if err != nil {
			failures = append(failures, err)
			continue
		}
		b.Add(r.TGI(), data, r.Compression())
	}
	return b, failures
}

// WriteArchive builds a DBPF archive at path from the bundle contents.
func (b *Bundle) WriteArchive(path string, opts ...dbpf.WriterOption) error {
	items := make([]dbpf.Item, len(b.Entries))
	for i, e := range b.Entries {
		items[i] = dbpf.Item{TGI: e.TGI(), Data: b.data[i], Compression: e.Compression}
	}
	return dbpf.Create(path, items, opts...)
}

// WriteFile writes b as a compressed bundle file.
func WriteFile(path string, b *Bundle, opts ...WriterOption) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	if err := Encode(f, data, uint32(len(b.Entries)), opts...); err != nil {
		f.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	return f.Close()
}

// ReadFile reads and decodes a bundle file. Digests are not checked; call Verify.
func ReadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()

	header, data, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	b := &Bundle{}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Len() != int(header.EntryCount) {
		return nil, fmt.Errorf("decode bundle: %w: header lists %d entries, content has %d",
			ErrInvalidHeader, header.EntryCount, b.Len())
	}
	return b, nil
}
