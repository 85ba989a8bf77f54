package reftable

import (
	"encoding/binary"

	"github.com/petermattis/reftable/internal/base"
	"github.com/petermattis/reftable/internal/crc"
)

var fileMagic = [4]byte{'R', 'E', 'F', 'T'}

// HashID identifies the hash algorithm a table's hash-bearing records use
// (spec.md section 3's "Hash identity").
type HashID [4]byte

var (
	HashIDSHA1   = HashID{'s', 'h', 'a', '1'}
	HashIDSHA256 = HashID{'s', '2', '5', '6'}
)

// String returns the four-character on-disk spelling of the hash id
// ("sha1" or "s256").
func (h HashID) String() string { return string(h[:]) }

// Size returns the byte width of hashes under this identifier.
func (h HashID) Size() int {
	switch h {
	case HashIDSHA256:
		return 32
	default:
		return 20
	}
}

func headerSize(version byte) int {
	if version == 2 {
		return 28
	}
	return 24
}

func footerSize(version byte) int {
	if version == 2 {
		return 72
	}
	return 68
}

// fileHeader is the exact byte layout of the bytes preceding the first
// block (spec.md section 6). It is duplicated, byte for byte, at the
// start of the footer.
type fileHeader struct {
	Version        byte
	BlockSize      int
	MinUpdateIndex uint64
	MaxUpdateIndex uint64
	HashID         HashID // zero value for version 1 tables; callers use HashIDSHA1.
}

func parseFileHeader(b []byte) (fileHeader, error) {
	var h fileHeader
	if len(b) < 12 || [4]byte(b[0:4]) != fileMagic {
		return h, base.CorruptionErrorf("reftable: bad magic")
	}
	h.Version = b[4]
	if h.Version != 1 && h.Version != 2 {
		return h, base.CorruptionErrorf("reftable: unsupported version %d", h.Version)
	}
	h.BlockSize = parseUint24(b[5:8])
	h.MinUpdateIndex = binary.BigEndian.Uint64(b[8:16])
	h.MaxUpdateIndex = binary.BigEndian.Uint64(b[16:24])
	if h.Version == 2 {
		if len(b) < 28 {
			return h, base.CorruptionErrorf("reftable: header too short for v2 hash id")
		}
		copy(h.HashID[:], b[24:28])
		if h.HashID != HashIDSHA1 && h.HashID != HashIDSHA256 {
			return h, base.CorruptionErrorf("reftable: unknown hash id %q", h.HashID)
		}
	}
	return h, nil
}

func (h fileHeader) encode(b []byte) {
	copy(b[0:4], fileMagic[:])
	b[4] = h.Version
	putUint24(b[5:8], h.BlockSize)
	binary.BigEndian.PutUint64(b[8:16], h.MinUpdateIndex)
	binary.BigEndian.PutUint64(b[16:24], h.MaxUpdateIndex)
	if h.Version == 2 {
		copy(b[24:28], h.HashID[:])
	}
}

// hashIDOrDefault returns the effective hash identifier: HashIDSHA1 for v1
// tables, which carry no hash_id field (spec.md section 3).
func (h fileHeader) hashIDOrDefault() HashID {
	if h.Version == 2 {
		return h.HashID
	}
	return HashIDSHA1
}

// fileFooter is the full on-disk footer: the duplicated header plus the
// sub-stream offsets and trailing CRC (spec.md section 4.4).
type fileFooter struct {
	fileHeader
	RefIndexOffset    uint64
	ObjOffsetPacked   uint64
	ObjIndexOffset    uint64
	LogOffset         uint64
	LogIndexOffset    uint64
	CRC32             uint32
}

// ObjOffset returns the obj sub-stream's first data block offset, packed
// into the high 59 bits of ObjOffsetPacked (spec.md section E).
func (f fileFooter) ObjOffset() uint64 { return f.ObjOffsetPacked >> 5 }

// ObjIDLen returns the object-id prefix length the obj sub-stream was
// built with, packed into the low 5 bits of ObjOffsetPacked.
func (f fileFooter) ObjIDLen() int { return int(f.ObjOffsetPacked & 0x1f) }

func packObjOffset(offset uint64, idLen int) uint64 {
	return offset<<5 | uint64(idLen&0x1f)
}

// parseFileFooter parses footerSize(version)-length bytes at the end of a
// table, verifying that it begins with the same bytes as the file header
// (spec.md section 4.4: "The footer must begin with the same bytes as the
// header") and that its CRC32 matches.
func parseFileFooter(b []byte, wantHeader fileHeader) (fileFooter, error) {
	var f fileFooter
	h, err := parseFileHeader(b)
	if err != nil {
		return f, err
	}
	if h != wantHeader {
		return f, base.CorruptionErrorf("reftable: footer header does not match file header")
	}
	f.fileHeader = h

	off := headerSize(h.Version)
	want := footerSize(h.Version)
	if len(b) < want {
		return f, base.CorruptionErrorf("reftable: footer shorter than declared")
	}

	f.RefIndexOffset = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.ObjOffsetPacked = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.ObjIndexOffset = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.LogOffset = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.LogIndexOffset = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.CRC32 = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	got := crc.New(b[:want-4]).Value()
	if got != f.CRC32 {
		return f, base.CorruptionErrorf("reftable: footer checksum mismatch")
	}

	return f, nil
}

// encode serialises f into a footerSize(f.Version)-length buffer,
// computing the trailing CRC32 itself. Used by test-only table builders.
func (f fileFooter) encode() []byte {
	size := footerSize(f.Version)
	b := make([]byte, size)
	f.fileHeader.encode(b)

	off := headerSize(f.Version)
	binary.BigEndian.PutUint64(b[off:off+8], f.RefIndexOffset)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], f.ObjOffsetPacked)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], f.ObjIndexOffset)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], f.LogOffset)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], f.LogIndexOffset)
	off += 8

	sum := crc.New(b[:size-4]).Value()
	binary.BigEndian.PutUint32(b[size-4:size], sum)
	return b
}
