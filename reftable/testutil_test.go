package reftable

import (
	"bytes"

	"github.com/klauspost/compress/flate"
)

// entrySpec is one (key, flags, value) triple used by buildBlockBytes. It
// mirrors the generic entry grammar spec.md section 4.2 defines, letting
// every block-kind-specific test builder share one low-level assembler
// (itself grounded in the record codec's own encode* helpers, which exist
// for exactly this purpose since the write path proper is out of scope).
type entrySpec struct {
	key   []byte
	flags uint8
	value []byte
}

// buildBlockBytes assembles one on-disk block: header, prefix-compressed
// entries (each encoded with shared_prefix_len always 0, so every entry
// doubles as a restart point -- valid, if not space-optimal, per
// decodeEntryKey's contract), the restart array, and the trailing count.
// Log blocks are compressed with raw DEFLATE, matching inflateLogBlock's
// expectations in block.go.
func buildBlockBytes(typ BlockType, entries []entrySpec) []byte {
	payload := make([]byte, blockHeaderLen)
	var restarts []int
	for _, e := range entries {
		restarts = append(restarts, len(payload))
		payload = encodeEntryKey(payload, nil, e.key, e.flags)
		payload = append(payload, e.value...)
	}
	for _, off := range restarts {
		var b [restartEntryLen]byte
		putUint24(b[:], off)
		payload = append(payload, b[:]...)
	}
	var countBuf [restartCountLen]byte
	countBuf[0] = byte(len(restarts) >> 8)
	countBuf[1] = byte(len(restarts))
	payload = append(payload, countBuf[:]...)

	if typ != BlockTypeLog {
		putUint24(payload[1:4], len(payload))
		payload[0] = byte(typ)
		return payload
	}

	var compressed bytes.Buffer
	zw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		panic(err)
	}
	if _, err := zw.Write(payload[blockHeaderLen:]); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}

	out := make([]byte, blockHeaderLen+compressed.Len())
	out[0] = byte(typ)
	putUint24(out[1:4], len(out))
	copy(out[blockHeaderLen:], compressed.Bytes())
	return out
}

func buildRefBlock(recs []*RefRecord, minUpdateIndex uint64, hashSize int) []byte {
	entries := make([]entrySpec, len(recs))
	for i, r := range recs {
		entries[i] = entrySpec{
			key:   r.Key(),
			flags: uint8(r.Value),
			value: encodeRefValue(nil, r, r.UpdateIndex-minUpdateIndex, hashSize),
		}
	}
	return buildBlockBytes(BlockTypeRef, entries)
}

func buildLogBlock(recs []*LogRecord, hashSize int) []byte {
	entries := make([]entrySpec, len(recs))
	for i, r := range recs {
		var flags uint8
		if r.Deletion {
			flags = 1
		}
		entries[i] = entrySpec{
			key:   r.Key(),
			flags: flags,
			value: encodeLogValue(nil, r, hashSize),
		}
	}
	return buildBlockBytes(BlockTypeLog, entries)
}

func buildObjBlock(recs []*ObjRecord) []byte {
	entries := make([]entrySpec, len(recs))
	for i, r := range recs {
		entries[i] = entrySpec{key: r.Key(), value: encodeObjValue(nil, r)}
	}
	return buildBlockBytes(BlockTypeObj, entries)
}

func buildIndexBlock(recs []*IndexRecord) []byte {
	entries := make([]entrySpec, len(recs))
	for i, r := range recs {
		entries[i] = entrySpec{key: r.Key(), value: encodeIndexValue(nil, r)}
	}
	return buildBlockBytes(BlockTypeIndex, entries)
}

// tableBuilder assembles a complete reftable file byte-for-byte, for
// tests that exercise Reader/tableIter/MergedIterator without a real
// writer (out of scope per spec.md section 1).
type tableBuilder struct {
	version        byte
	hashID         HashID
	blockSize      int
	minUpdateIndex uint64
	maxUpdateIndex uint64

	buf []byte

	refOffset, refIndexOffset int64
	logOffset, logIndexOffset int64
	objOffset, objIndexOffset int64
	objIDLen                  int
}

func newTableBuilder(hashID HashID, minUpdateIndex, maxUpdateIndex uint64) *tableBuilder {
	b := &tableBuilder{version: 2, hashID: hashID, blockSize: defaultBlockSize, minUpdateIndex: minUpdateIndex, maxUpdateIndex: maxUpdateIndex}
	hdr := fileHeader{Version: b.version, BlockSize: b.blockSize, MinUpdateIndex: minUpdateIndex, MaxUpdateIndex: maxUpdateIndex, HashID: hashID}
	b.buf = make([]byte, headerSize(b.version))
	hdr.encode(b.buf)
	return b
}

func (b *tableBuilder) appendBlock(block []byte) int64 {
	off := int64(len(b.buf))
	b.buf = append(b.buf, block...)
	return off
}

func (b *tableBuilder) addRefBlock(recs []*RefRecord, hashSize int) int64 {
	off := b.appendBlock(buildRefBlock(recs, b.minUpdateIndex, hashSize))
	if b.refOffset == 0 {
		b.refOffset = off
	}
	return off
}

func (b *tableBuilder) addLogBlock(recs []*LogRecord, hashSize int) int64 {
	off := b.appendBlock(buildLogBlock(recs, hashSize))
	if b.logOffset == 0 {
		b.logOffset = off
	}
	return off
}

func (b *tableBuilder) addObjBlock(recs []*ObjRecord, idLen int) int64 {
	off := b.appendBlock(buildObjBlock(recs))
	if b.objOffset == 0 {
		b.objOffset = off
		b.objIDLen = idLen
	}
	return off
}

// addRefIndexBlock appends a two-level index block over the ref
// sub-stream's data blocks and records it as the sub-stream's index, so
// that seeks against this table exercise indexedSeek rather than
// linearSeek (spec.md section 4.4's "Indexed seek").
func (b *tableBuilder) addRefIndexBlock(recs []*IndexRecord) {
	b.refIndexOffset = b.appendBlock(buildIndexBlock(recs))
}

func (b *tableBuilder) addLogIndexBlock(recs []*IndexRecord) {
	b.logIndexOffset = b.appendBlock(buildIndexBlock(recs))
}

func (b *tableBuilder) addObjIndexBlock(recs []*IndexRecord) {
	b.objIndexOffset = b.appendBlock(buildIndexBlock(recs))
}

// finish appends the footer and returns the complete file bytes.
func (b *tableBuilder) finish() []byte {
	foot := fileFooter{
		fileHeader: fileHeader{
			Version: b.version, BlockSize: b.blockSize,
			MinUpdateIndex: b.minUpdateIndex, MaxUpdateIndex: b.maxUpdateIndex, HashID: b.hashID,
		},
		RefIndexOffset:  uint64(b.refIndexOffset),
		ObjOffsetPacked: packObjOffset(uint64(b.objOffset), b.objIDLen),
		ObjIndexOffset:  uint64(b.objIndexOffset),
		LogOffset:       uint64(b.logOffset),
		LogIndexOffset:  uint64(b.logIndexOffset),
	}
	return append(b.buf, foot.encode()...)
}
