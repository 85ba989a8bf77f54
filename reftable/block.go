package reftable

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/petermattis/reftable/internal/base"
)

// blockHeaderLen is the fixed size of every block's type+length header
// (spec.md section 6: "Every block begins with typ(1) + length(3 BE)").
const blockHeaderLen = 4

// restartCountLen is the trailing 2-byte big-endian restart count that
// follows a block's restart array.
const restartCountLen = 2

// restartEntryLen is the width of one restart-array offset entry.
const restartEntryLen = 3

// defaultBlockSize is used to size the speculative first read of a block
// when the table's own declared block size is zero (spec.md section 4.4).
const defaultBlockSize = 4096

// parseUint24 decodes a 3-byte big-endian unsigned integer.
func parseUint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// isBlockType reports whether b is one of the four valid block-type tags.
func isBlockType(b byte) bool {
	switch BlockType(b) {
	case BlockTypeRef, BlockTypeLog, BlockTypeObj, BlockTypeIndex:
		return true
	default:
		return false
	}
}

// blockIter decodes one block's header, restart array, and entries,
// supporting start-of-block iteration and binary-search seek (spec.md
// section 4.3). It owns no resources beyond the byte slice handed to it
// by Init; releasing the underlying block handle is the table iterator's
// job (spec.md section 5).
type blockIter struct {
	typ      BlockType
	hashSize int

	// data is the logical block buffer: the 4-byte header followed by
	// the (decompressed, for log blocks) entry payload and restart
	// array. Indices below are relative to data[0].
	data []byte

	// payloadEnd is the offset of the first byte of the restart array,
	// i.e. the end of the entry payload.
	payloadEnd int

	restartStart int
	restartCount int

	// onDiskLen is the number of bytes this block occupies in the
	// file, header included: the declared length for ref/obj/index
	// blocks, or the compressed length for log blocks. Table iteration
	// uses this to advance to a candidate next-block offset.
	onDiskLen int

	// cursor state for Next/SeekGE.
	offset  int // start of the next entry to decode
	lastKey []byte
	done    bool
}

// initBlockReader parses raw (the exact on-disk bytes of one block,
// beginning with its type+length header) into a blockIter positioned at
// its first entry, as First leaves it, so Next, First and SeekGE can all
// be called on it directly. wantTyp, when non-zero, is verified against
// the block's own type tag.
func initBlockReader(raw []byte, wantTyp BlockType, hashSize int) (*blockIter, error) {
	if len(raw) < blockHeaderLen {
		return nil, base.CorruptionErrorf("reftable: block shorter than header")
	}
	typ := BlockType(raw[0])
	if !isBlockType(raw[0]) {
		return nil, base.CorruptionErrorf("reftable: invalid block type %q", raw[0])
	}
	if wantTyp != 0 && typ != wantTyp {
		return nil, errNoSuchBlock
	}

	// declaredLen is the 3-byte header field's value, which per spec.md
	// section 6 includes the 4-byte header itself -- for every block
	// type, including log blocks, where it is therefore the on-disk
	// (compressed) size header-inclusive (spec.md section 4.3).
	declaredLen := parseUint24(raw[1:4])
	if declaredLen > len(raw) {
		return nil, base.CorruptionErrorf("reftable: block declared length exceeds available bytes")
	}

	data := raw[:declaredLen]
	onDiskLen := declaredLen
	if typ == BlockTypeLog {
		compressed := raw[blockHeaderLen:declaredLen]
		inflated, err := inflateLogBlock(compressed)
		if err != nil {
			return nil, err
		}
		data = make([]byte, blockHeaderLen+len(inflated))
		copy(data, raw[:blockHeaderLen])
		copy(data[blockHeaderLen:], inflated)
	}

	if len(data) < blockHeaderLen+restartCountLen {
		return nil, base.CorruptionErrorf("reftable: block too short for restart trailer")
	}

	restartCount := int(binary.BigEndian.Uint16(data[len(data)-restartCountLen:]))
	restartStart := len(data) - restartCountLen - restartCount*restartEntryLen
	if restartStart < blockHeaderLen {
		return nil, base.CorruptionErrorf("reftable: restart array overruns block")
	}

	bi := &blockIter{
		typ:          typ,
		hashSize:     hashSize,
		data:         data,
		payloadEnd:   restartStart,
		restartStart: restartStart,
		restartCount: restartCount,
		onDiskLen:    onDiskLen,
		offset:       blockHeaderLen,
	}
	return bi, nil
}

// inflateLogBlock runs the raw DEFLATE stream through klauspost/compress's
// flate reader (spec.md section 4.3: "Log block payload ... is compressed
// with a generic inflate codec"; the payload has no zlib wrapper, matching
// upstream git's reftable log-block encoding).
func inflateLogBlock(compressed []byte) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(compressed))
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, base.ZlibErrorf("reftable: inflate log block: %v", err)
	}
	return out, nil
}

var errNoSuchBlock = base.NotExistErrorf("reftable: block type mismatch")

// restartOffset returns the byte offset (relative to data[0]) of the i'th
// restart entry.
func (b *blockIter) restartOffset(i int) int {
	off := b.restartStart + i*restartEntryLen
	return parseUint24(b.data[off : off+3])
}

// First resets the iterator to the block's first entry.
func (b *blockIter) First() {
	b.offset = blockHeaderLen
	b.lastKey = nil
	b.done = false
}

// firstKey decodes only the first entry's key, without constructing a
// full record -- the efficient shortcut spec.md section 4.3 calls out for
// table-iterator block-chain walking.
func (b *blockIter) firstKey() ([]byte, error) {
	_, key, _, err := decodeEntryKey(b.data, blockHeaderLen, b.payloadEnd, nil)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// SeekGE binary-searches the restart array for the greatest restart whose
// key is <= want, then linearly advances until the next entry's key is >=
// want (spec.md section 4.3). After SeekGE, Next yields the first entry
// with key >= want, or end-of-block if none exists.
func (b *blockIter) SeekGE(want []byte) error {
	if b.restartCount == 0 {
		b.First()
		return nil
	}

	lo, hi := 0, b.restartCount-1
	// Invariant: restart[lo] ends up being the greatest restart with
	// key <= want, or 0 if want is less than every restart key (spec.md
	// section 9: "When want is less than the first restart's key, start
	// at restart 0").
	for lo < hi {
		mid := (lo + hi + 1) / 2
		key, err := b.restartKey(mid)
		if err != nil {
			return err
		}
		if bytes.Compare(key, want) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	b.offset = b.restartOffset(lo)
	b.lastKey = nil
	b.done = false

	for {
		save := b.offset
		saveLast := append([]byte(nil), b.lastKey...)
		rec, err := b.Next()
		if err == errEndOfBlock {
			b.offset = save
			b.lastKey = saveLast
			b.done = true
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.Compare(rec.Key(), want) >= 0 {
			b.offset = save
			b.lastKey = saveLast
			b.done = false
			return nil
		}
	}
}

// restartKey decodes the full key stored at restart i. Restarts always
// have shared_prefix_len == 0, so no lastKey is needed to reconstruct
// them, but decoding still goes through the same varint/suffix machinery
// as any other entry (spec.md section E: restarts are not special-cased
// as raw byte spans).
func (b *blockIter) restartKey(i int) ([]byte, error) {
	off := b.restartOffset(i)
	_, key, _, err := decodeEntryKey(b.data, off, b.payloadEnd, nil)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// errEndOfBlock signals that Next has no entry left to decode; it is not
// propagated to callers of table-level iteration, which translate it into
// their own "end" return convention (spec.md section 6).
var errEndOfBlock = errSentinel("reftable: end of block")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// Next decodes one entry using b.lastKey and the encoded shared-prefix
// length, advances the cursor, and returns the decoded record. It returns
// errEndOfBlock when the payload is exhausted.
func (b *blockIter) Next() (Record, error) {
	if b.done || b.offset >= b.payloadEnd {
		b.done = true
		return nil, errEndOfBlock
	}

	idx, key, flags, err := decodeEntryKey(b.data, b.offset, b.payloadEnd, b.lastKey)
	if err != nil {
		return nil, err
	}

	var rec Record
	switch b.typ {
	case BlockTypeRef:
		idx, rec2, err := decodeRefValue(b.data, idx, b.payloadEnd, key, flags, b.hashSize)
		if err != nil {
			return nil, err
		}
		b.offset = idx
		rec = rec2
	case BlockTypeLog:
		if len(key) < 8 {
			return nil, base.CorruptionErrorf("reftable: log key shorter than update-index suffix")
		}
		refName := key[:len(key)-8]
		updateIndex := ^binary.BigEndian.Uint64(key[len(key)-8:])
		idx, rec2, err := decodeLogValue(b.data, idx, b.payloadEnd, key, refName, updateIndex, flags, b.hashSize)
		if err != nil {
			return nil, err
		}
		b.offset = idx
		rec = rec2
	case BlockTypeObj:
		idx, rec2, err := decodeObjValue(b.data, idx, b.payloadEnd, key)
		if err != nil {
			return nil, err
		}
		b.offset = idx
		rec = rec2
	case BlockTypeIndex:
		idx, rec2, err := decodeIndexValue(b.data, idx, b.payloadEnd, key)
		if err != nil {
			return nil, err
		}
		b.offset = idx
		rec = rec2
	default:
		return nil, base.CorruptionErrorf("reftable: unexpected block type %q", byte(b.typ))
	}

	b.lastKey = key
	return rec, nil
}
