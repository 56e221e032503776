package dbpf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/dbpfTools/pkg/compression"
)

// fixture is a payload stored exactly as given.
type fixture struct {
	tgi  TGI
	raw  []byte
	size uint32
	ct   compression.Type
}

func plain(tgi TGI, data []byte) fixture {
	return fixture{tgi: tgi, raw: data, size: uint32(len(data)), ct: compression.None}
}

func deflated(t *testing.T, tgi TGI, data []byte) fixture {
	t.Helper()
	raw, err := compression.CompressDeflate(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	return fixture{tgi: tgi, raw: raw, size: uint32(len(data)), ct: compression.Deflate}
}

// buildArchive lays out header, payloads, then an index encoded with the given flags.
func buildArchive(t *testing.T, flags uint32, items ...fixture) []byte {
	t.Helper()

	buf := make([]byte, HeaderSize)
	entries := make([]IndexEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, IndexEntry{
			TGI:              it.tgi,
			Offset:           uint32(len(buf)),
			CompressedSize:   uint32(len(it.raw)),
			UncompressedSize: it.size,
			Compression:      it.ct,
		})
		buf = append(buf, it.raw...)
	}

	index, err := encodeIndex(entries, flags)
	if err != nil {
		t.Fatalf("encode index: %v", err)
	}
	NewHeader(uint32(len(entries)), uint32(len(buf)), uint32(len(index))).EncodeTo(buf[:HeaderSize])
	return append(buf, index...)
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.package")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func openTemp(t *testing.T, data []byte, opts ...Option) *Archive {
	t.Helper()
	a, err := Open(writeTemp(t, data), opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func mustExtract(t *testing.T, r *Resource) []byte {
	t.Helper()
	data, err := r.Extract()
	if err != nil {
		t.Fatalf("extract %s: %v", r.TGI(), err)
	}
	return data
}

// contents maps every key to its extracted payloads in index order.
func contents(t *testing.T, a *Archive) map[TGI][][]byte {
	t.Helper()
	out := make(map[TGI][][]byte)
	for _, r := range a.Resources() {
		out[r.TGI()] = append(out[r.TGI()], mustExtract(t, r))
	}
	return out
}

func sameContents(a, b map[TGI][][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb := b[k]
		if len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !bytes.Equal(va[i], vb[i]) {
				return false
			}
		}
	}
	return true
}

type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case 0:
		newPos = offset
	case 1:
		newPos = s.pos + offset
	case 2:
		newPos = int64(s.Buffer.Len()) + offset
	}
	s.pos = newPos
	return newPos, nil
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	for int64(s.Buffer.Len()) < s.pos {
		s.Buffer.WriteByte(0)
	}
	if s.pos < int64(s.Buffer.Len()) {
		data := s.Buffer.Bytes()
		n = copy(data[s.pos:], p)
		if n < len(p) {
			m, err := s.Buffer.Write(p[n:])
			n += m
			if err != nil {
				return n, err
			}
		}
	} else {
		n, err = s.Buffer.Write(p)
	}
	s.pos += int64(n)
	return n, err
}
