package reftable

import "github.com/petermattis/reftable/internal/base"

// putVarint encodes v using reftable's continuation-bit varint (spec.md
// section 6: "varints use the continuation-bit encoding standard to this
// family of formats with zero-extension"). Unlike protobuf/LEB128 varints,
// every non-final byte is decremented by one before its low 7 bits are
// packed, so there is exactly one encoding per value. dst must have at
// least maxVarintLen bytes of room; putVarint returns the number written.
func putVarint(dst []byte, v uint64) int {
	var buf [maxVarintLen]byte
	i := maxVarintLen - 1
	buf[i] = byte(v & 0x7f)
	for {
		v >>= 7
		if v == 0 {
			break
		}
		v--
		i--
		buf[i] = 0x80 | byte(v&0x7f)
	}
	n := copy(dst, buf[i:])
	return n
}

// varintLen returns the number of bytes putVarint would write for v.
func varintLen(v uint64) int {
	n := 1
	for {
		v >>= 7
		if v == 0 {
			return n
		}
		v--
		n++
	}
}

// maxVarintLen bounds a 64-bit value's encoding under the +1-per-byte
// scheme above; 10 bytes is generous (LEB128's own bound) and keeps the
// stack buffer in putVarint fixed-size.
const maxVarintLen = 10

// getVarint decodes a varint from the start of src, returning the value and
// the number of bytes consumed. end is the count of valid bytes available
// to read (matching spec.md's "reject lengths that exceed the remaining
// block bytes"); getVarint never reads src[end] or beyond.
func getVarint(src []byte, end int) (val uint64, n int, err error) {
	if end <= 0 || len(src) == 0 {
		return 0, 0, base.CorruptionErrorf("reftable: empty varint")
	}
	val = uint64(src[0] & 0x7f)
	n = 1
	for src[n-1]&0x80 != 0 {
		if n >= end || n >= len(src) {
			return 0, 0, base.CorruptionErrorf("reftable: varint exceeds block bounds")
		}
		val = ((val + 1) << 7) | uint64(src[n]&0x7f)
		n++
	}
	return val, n, nil
}
