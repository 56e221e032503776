package dbpf

import (
	"bytes"
	"testing"
)

// BenchmarkHeader benchmarks header operations.
func BenchmarkHeader(b *testing.B) {
	header := NewHeader(1000, 1024*1024, 4+1000*32)

	b.Run("EncodeTo", func(b *testing.B) {
		buf := make([]byte, HeaderSize)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			header.EncodeTo(buf)
		}
	})

	data, _ := header.MarshalBinary()

	b.Run("Unmarshal", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			h := &Header{}
			if err := h.UnmarshalBinary(data); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkIndex benchmarks index parsing for a large archive.
func BenchmarkIndex(b *testing.B) {
	entries := make([]IndexEntry, 10000)
	for i := range entries {
		entries[i] = IndexEntry{
			TGI:              TGI{Type: TypeTuning, Group: 0x80000000, Instance: uint64(i)},
			Offset:           HeaderSize + uint32(i)*64,
			CompressedSize:   64,
			UncompressedSize: 64,
		}
	}
	data := MarshalIndex(entries)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ReadIndex(bytes.NewReader(data), uint32(len(entries)), uint32(len(data))); err != nil {
			b.Fatal(err)
		}
	}
}
