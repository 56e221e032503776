package compression

import (
	"fmt"
)

// RefPackMagic opens every RefPack stream, followed by a 3-byte big-endian length.
var RefPackMagic = [2]byte{0x10, 0xFB}

const (
	refpackHeaderSize = 5
	refpackMaxSize    = 1<<24 - 1

	refpackMaxOffset = 16384
	refpackHashBits  = 15
	refpackMaxChain  = 64

	maxLiteralRun = 28
)

// Command byte layout:
//
//	0x00-0x7F  C [0-3 literals] B     offset 1-256,   length 3-34
//	0x80-0xBF  C B                    offset 1-1024,  length 3-10
//	0xC0-0xDF  C B2 B3                offset 1-16384, length 4-11
//	0xE0-0xFB  C [C-0xDF literals]
//	0xFC-0xFF  C [C-0xFC literals]    end of stream

// DecompressRefPack decodes a RefPack stream. A positive expectedSize overrides the length
// stored in the stream header; any expectedSize other than UnknownSize must match the
// decoded length.
func DecompressRefPack(data []byte, expectedSize int) ([]byte, error) {
	if len(data) < refpackHeaderSize {
		return nil, fmt.Errorf("%w: refpack data too short for header", ErrCompression)
	}
	if data[0] != RefPackMagic[0] || data[1] != RefPackMagic[1] {
		return nil, fmt.Errorf("%w: invalid refpack header %02X %02X", ErrCompression, data[0], data[1])
	}

	size := int(data[2])<<16 | int(data[3])<<8 | int(data[4])
	if expectedSize > 0 {
		size = expectedSize
	}

	out := make([]byte, 0, min(size, refpackMaxSize))
	pos := refpackHeaderSize

	var err error
decode:
	for pos < len(data) && len(out) < size {
		c := data[pos]
		pos++

		switch {
		case c <= 0x7F:
			lits := int(c>>5) & 0x03
			if pos+lits+1 > len(data) {
				return nil, truncated(pos)
			}
			out = append(out, data[pos:pos+lits]...)
			pos += lits

			b := data[pos]
			pos++
			offset := (int(c&0x1F)<<3 | int(b>>5)&0x07) + 1
			length := int(b&0x1F) + 3
			if out, err = copyBackref(out, offset, length); err != nil {
				return nil, err
			}

		case c <= 0xBF:
			if pos+1 > len(data) {
				return nil, truncated(pos)
			}
			b := data[pos]
			pos++
			offset := (int(c&0x03)<<8 | int(b)) + 1
			length := int(c>>2)&0x07 + 3
			if out, err = copyBackref(out, offset, length); err != nil {
				return nil, err
			}

		case c <= 0xDF:
			if pos+2 > len(data) {
				return nil, truncated(pos)
			}
			b2, b3 := data[pos], data[pos+1]
			pos += 2
			offset := (int(c&0x03)<<12 | int(b2)<<4 | int(b3>>4)) + 1
			length := int(c>>2)&0x0F + 4
			if out, err = copyBackref(out, offset, length); err != nil {
				return nil, err
			}

		case c <= 0xFB:
			n := int(c) - 0xDF
			if pos+n > len(data) {
				return nil, truncated(pos)
			}
			out = append(out, data[pos:pos+n]...)
			pos += n

		default:
			n := int(c) - 0xFC
			if pos+n > len(data) {
				return nil, truncated(pos)
			}
			out = append(out, data[pos:pos+n]...)
			break decode
		}
	}

	if len(out) != size {
		return nil, sizeMismatch("refpack", len(out), size)
	}
	if expectedSize != UnknownSize && len(out) != expectedSize {
		return nil, sizeMismatch("refpack", len(out), expectedSize)
	}
	return out, nil
}

func truncated(pos int) error {
	return fmt.Errorf("%w: refpack command at %d runs past end of input", ErrCompression, pos-1)
}

// copyBackref appends length bytes starting offset bytes back. The copy is done one
// byte at a time because the source may overlap the bytes being produced.
func copyBackref(out []byte, offset, length int) ([]byte, error) {
	if offset > len(out) {
		return nil, fmt.Errorf("%w: invalid backref offset %d (output size %d)", ErrCompression, offset, len(out))
	}
	start := len(out) - offset
	for i := 0; i < length; i++ {
		out = append(out, out[start+i])
	}
	return out, nil
}

// CompressRefPack encodes data as a RefPack stream using a greedy hash-chain match finder.
func CompressRefPack(data []byte) ([]byte, error) {
	n := len(data)
	if n > refpackMaxSize {
		return nil, fmt.Errorf("%w: refpack input too large: %d bytes", ErrCompression, n)
	}

	e := &refpackEncoder{
		src:  data,
		out:  make([]byte, 0, n/2+refpackHeaderSize+8),
		head: make([]int32, 1<<refpackHashBits),
		prev: make([]int32, n),
	}
	for i := range e.head {
		e.head[i] = -1
	}
	e.out = append(e.out, RefPackMagic[0], RefPackMagic[1], byte(n>>16), byte(n>>8), byte(n))

	lit := 0
	for i := 0; i < n; {
		offset, length := e.findMatch(i)
		if length == 0 {
			e.insert(i)
			i++
			continue
		}

		e.emitCopy(data[lit:i], offset, length)
		for k := i; k < i+length; k++ {
			e.insert(k)
		}
		i += length
		lit = i
	}
	e.emitStop(data[lit:])

	return e.out, nil
}

type refpackEncoder struct {
	src  []byte
	out  []byte
	head []int32
	prev []int32
}

func hash3(b []byte) uint32 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return (v * 2654435761) >> (32 - refpackHashBits)
}

func (e *refpackEncoder) insert(i int) {
	if i+3 > len(e.src) {
		return
	}
	h := hash3(e.src[i:])
	e.prev[i] = e.head[h]
	e.head[h] = int32(i)
}

// maxMatch is the longest copy any command can express at offset.
func maxMatch(offset int) int {
	if offset <= 256 {
		return 34
	}
	return 11
}

func minMatch(offset int) int {
	if offset <= 1024 {
		return 3
	}
	return 4
}

func (e *refpackEncoder) findMatch(i int) (bestOffset, bestLen int) {
	if i+3 > len(e.src) {
		return 0, 0
	}

	j := e.head[hash3(e.src[i:])]
	for steps := 0; j >= 0 && steps < refpackMaxChain; steps++ {
		offset := i - int(j)
		if offset > refpackMaxOffset {
			break
		}

		limit := min(maxMatch(offset), len(e.src)-i)
		l := 0
		for l < limit && e.src[int(j)+l] == e.src[i+l] {
			l++
		}
		if l >= minMatch(offset) && l > bestLen {
			bestOffset, bestLen = offset, l
			if l == 34 {
				break
			}
		}
		j = e.prev[j]
	}
	return bestOffset, bestLen
}

// emitLiterals writes literal-run commands until at most keep literals remain.
func (e *refpackEncoder) emitLiterals(lits []byte, keep int) []byte {
	for len(lits) > keep {
		n := min(len(lits), maxLiteralRun)
		e.out = append(e.out, byte(0xDF+n))
		e.out = append(e.out, lits[:n]...)
		lits = lits[n:]
	}
	return lits
}

func (e *refpackEncoder) emitCopy(lits []byte, offset, length int) {
	o := offset - 1

	if offset <= 256 {
		lits = e.emitLiterals(lits, 3)
		e.out = append(e.out, byte(len(lits)<<5)|byte(o>>3))
		e.out = append(e.out, lits...)
		e.out = append(e.out, byte(o&0x07)<<5|byte(length-3))
		return
	}

	e.emitLiterals(lits, 0)
	if offset <= 1024 && length <= 10 {
		e.out = append(e.out, 0x80|byte(length-3)<<2|byte(o>>8), byte(o))
		return
	}
	e.out = append(e.out, 0xC0|byte(length-4)<<2|byte(o>>12), byte(o>>4), byte(o&0x0F)<<4)
}

func (e *refpackEncoder) emitStop(lits []byte) {
	lits = e.emitLiterals(lits, 3)
	e.out = append(e.out, byte(0xFC+len(lits)))
	e.out = append(e.out, lits...)
}
