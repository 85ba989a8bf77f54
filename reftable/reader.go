package reftable

import (
	"bytes"
	"io"

	"github.com/petermattis/reftable/internal/base"
)

// Iterator is the capability set every concrete iterator in this package
// implements: the table iterator, the merged iterator, and the indexed
// refs-for-object-id iterator (spec.md section 9's "Heterogeneous
// iterators" design note). Next returns io.EOF once exhausted; any other
// non-nil error is fatal and the iterator must be closed without further
// use (spec.md section 7).
type Iterator interface {
	Next() (Record, error)
	Close() error
}

// subStream describes one record kind's contiguous run of blocks within a
// table (spec.md section 3's "Sub-stream descriptor").
type subStream struct {
	offset      int64
	indexOffset int64
	present     bool
}

// Reader parses a single reftable file's header and footer and serves
// point/range lookups over its three sub-streams (spec.md section 4.4).
// A Reader holds no mutable cursor state beyond the parsed, read-only
// footer fields (spec.md section 5); many Iterators may be created
// concurrently from one Reader as long as the underlying BlockSource
// supports concurrent reads.
type Reader struct {
	src  BlockSource
	name string
	opts *Options

	header   fileHeader
	hashID   HashID
	hashSize int

	blockSize int
	tableSize int64

	firstBlockType BlockType

	ref      subStream
	log      subStream
	obj      subStream
	objIDLen int
}

// NewReader parses src as a reftable file. name is retained for error
// messages and reported by Name; it is not a path into src.
func NewReader(src BlockSource, name string, opts *Options) (*Reader, error) {
	opts = opts.ensureDefaults()

	size := src.Size()
	if size < int64(headerSize(1)) {
		return nil, base.CorruptionErrorf("reftable: %s: file too small to be a reftable", name)
	}

	probeLen := headerSize(2) + 1
	if int64(probeLen) > size {
		probeLen = int(size)
	}
	probe, err := src.ReadAt(0, probeLen)
	if err != nil {
		return nil, err
	}
	hdr, err := parseFileHeader(probe)
	if err != nil {
		return nil, base.Wrap(base.KindFormat, err, "reftable: "+name+": parse header")
	}

	hOff := headerSize(hdr.Version)
	if hOff >= len(probe) {
		return nil, base.CorruptionErrorf("reftable: %s: file has no blocks", name)
	}
	firstBlockType := BlockType(probe[hOff])

	fSize := footerSize(hdr.Version)
	if int64(fSize) > size {
		return nil, base.CorruptionErrorf("reftable: %s: file too small for footer", name)
	}
	tableSize := size - int64(fSize)

	footerBuf, err := src.ReadAt(tableSize, fSize)
	if err != nil {
		return nil, err
	}
	foot, err := parseFileFooter(footerBuf, hdr)
	if err != nil {
		return nil, base.Wrap(base.KindFormat, err, "reftable: "+name+": parse footer")
	}

	hashID := hdr.hashIDOrDefault()

	r := &Reader{
		src:            src,
		name:           name,
		opts:           opts,
		header:         hdr,
		hashID:         hashID,
		hashSize:       hashID.Size(),
		blockSize:      hdr.BlockSize,
		tableSize:      tableSize,
		firstBlockType: firstBlockType,
		objIDLen:       foot.ObjIDLen(),
	}
	r.ref = subStream{offset: int64(hOff), indexOffset: int64(foot.RefIndexOffset), present: firstBlockType == BlockTypeRef}
	r.log = subStream{
		offset:      int64(foot.LogOffset),
		indexOffset: int64(foot.LogIndexOffset),
		present:     firstBlockType == BlockTypeLog || foot.LogOffset > 0,
	}
	r.obj = subStream{
		offset:      int64(foot.ObjOffset()),
		indexOffset: int64(foot.ObjIndexOffset),
		present:     foot.ObjOffset() > 0,
	}
	return r, nil
}

// Close releases the underlying BlockSource.
func (r *Reader) Close() error { return r.src.Close() }

// MinUpdateIndex and MaxUpdateIndex report the table's declared update
// index range (spec.md section 3).
func (r *Reader) MinUpdateIndex() uint64 { return r.header.MinUpdateIndex }
func (r *Reader) MaxUpdateIndex() uint64 { return r.header.MaxUpdateIndex }

// HashID reports the table's hash identifier.
func (r *Reader) HashID() HashID { return r.hashID }

// Name reports the name this reader was opened with.
func (r *Reader) Name() string { return r.name }

// getBlock implements spec.md section 4.4's reader_get_block: clamp the
// requested range to the table's data size (excluding the footer),
// returning a nil slice (not an error) for an off at or beyond the end.
func (r *Reader) getBlock(off int64, length int) ([]byte, error) {
	if off >= r.tableSize {
		return nil, nil
	}
	if off+int64(length) > r.tableSize {
		length = int(r.tableSize - off)
	}
	buf, err := r.src.ReadAt(off, length)
	if err != nil {
		return nil, err
	}
	r.opts.Metrics.BlocksRead.Inc()
	r.opts.Metrics.BytesRead.Add(float64(len(buf)))
	return buf, nil
}

// initBlockReaderAt implements spec.md section 4.4's
// reader_init_block_reader: a speculative read sized to the table's
// declared block size (or defaultBlockSize), re-read with the correct
// length if the guess was too small. wantTyp, when non-zero, is checked
// against the block's type tag; a mismatch or an off past the end of the
// table's data both report (nil, io.EOF) -- "no such block"/"end",
// not a hard error (spec.md section 6's return convention).
func (r *Reader) initBlockReaderAt(off int64, wantTyp BlockType) (*blockIter, error) {
	guess := r.blockSize
	if guess == 0 {
		guess = defaultBlockSize
	}

	buf, err := r.getBlock(off, guess)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, io.EOF
	}
	if len(buf) < blockHeaderLen {
		return nil, base.CorruptionErrorf("reftable: %s: block at %d shorter than header", r.name, off)
	}

	if wantTyp != 0 && BlockType(buf[0]) != wantTyp {
		return nil, io.EOF
	}

	declaredLen := parseUint24(buf[1:4])
	if declaredLen > len(buf) {
		r.opts.Metrics.BlockReReads.Inc()
		buf, err = r.getBlock(off, declaredLen)
		if err != nil {
			return nil, err
		}
		if len(buf) < declaredLen {
			return nil, base.CorruptionErrorf("reftable: %s: block at %d truncated", r.name, off)
		}
	}

	bi, err := initBlockReader(buf, wantTyp, r.hashSize)
	if err == errNoSuchBlock {
		return nil, io.EOF
	}
	return bi, err
}

// tableIter is the cross-block iterator over one sub-stream (spec.md
// section 4.4's table_iter). It owns exactly one blockIter at a time,
// releasing it (implicitly, by dropping the reference) whenever it loads
// the next block in the chain.
type tableIter struct {
	r    *Reader
	typ  BlockType
	bi   *blockIter
	off  int64 // file offset of the block bi currently holds
	done bool
}

func (r *Reader) newTableIter(typ BlockType, off int64) (*tableIter, error) {
	bi, err := r.initBlockReaderAt(off, typ)
	if err == io.EOF {
		return &tableIter{r: r, typ: typ, done: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &tableIter{r: r, typ: typ, bi: bi, off: off}, nil
}

// Next implements Iterator. For ref records it rebases UpdateIndex by
// adding the table's MinUpdateIndex (spec.md section 3's invariant); log
// and obj records are not rebased -- see spec.md section 9's first Open
// Question, reproduced here on purpose.
func (t *tableIter) Next() (Record, error) {
	if t.done {
		return nil, io.EOF
	}

	rec, err := t.bi.Next()
	if err == errEndOfBlock {
		if err := t.advanceBlock(); err != nil {
			if err == io.EOF {
				t.done = true
				return nil, io.EOF
			}
			return nil, err
		}
		rec, err = t.bi.Next()
		if err == errEndOfBlock {
			t.done = true
			return nil, io.EOF
		}
	}
	if err != nil {
		return nil, err
	}

	if t.typ == BlockTypeRef {
		ref := rec.(*RefRecord)
		ref.UpdateIndex += t.r.header.MinUpdateIndex
	}
	return rec, nil
}

// advanceBlock loads the block immediately following the current one in
// the chain. spec.md section 9's second Open Question: full_block_size
// for unpadded writers is simply the declared on-disk length, but a
// padding writer reserves a whole blockSize-multiple per block; this repo
// resolves the ambiguity by trying the unpadded offset first and, only if
// the type tag there doesn't match, falling back to the next blockSize
// boundary -- verifying the tag before trusting either guess, as the
// design note recommends.
func (t *tableIter) advanceBlock() error {
	candidate := t.off + int64(t.bi.onDiskLen)
	bi, err := t.r.initBlockReaderAt(candidate, t.typ)
	if err == nil {
		t.off, t.bi = candidate, bi
		return nil
	}
	if err != io.EOF || t.r.blockSize == 0 {
		return err
	}

	padded := ((t.off / int64(t.r.blockSize)) + 1) * int64(t.r.blockSize)
	if padded == candidate {
		return io.EOF
	}
	bi2, err2 := t.r.initBlockReaderAt(padded, t.typ)
	if err2 != nil {
		return io.EOF
	}
	t.off, t.bi = padded, bi2
	return nil
}

func (t *tableIter) Close() error { return nil }

// firstKey decodes the current block's first entry key without building a
// full record (spec.md section 4.3's "First-key decoding" shortcut).
func (t *tableIter) firstKey() ([]byte, error) {
	if t.done || t.bi == nil {
		return nil, io.EOF
	}
	return t.bi.firstKey()
}

// linearSeek walks the sub-stream block by block while the next block's
// first key is <= want, stopping at the last block whose first key is <=
// want, then performs an in-block seek (spec.md section 4.4's "Linear
// seek within a sub-stream").
func (r *Reader) linearSeek(typ BlockType, off int64, want []byte) (*tableIter, error) {
	r.opts.Metrics.LinearSeeks.Inc()

	ti, err := r.newTableIter(typ, off)
	if err != nil {
		return nil, err
	}
	if ti.done {
		return ti, nil
	}

	for {
		candidate := ti.off + int64(ti.bi.onDiskLen)
		nextBI, err := r.initBlockReaderAt(candidate, typ)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		firstKey, err := nextBI.firstKey()
		if err != nil {
			return nil, err
		}
		if bytes.Compare(firstKey, want) > 0 {
			break
		}
		ti.off, ti.bi = candidate, nextBI
	}

	if err := ti.bi.SeekGE(want); err != nil {
		return nil, err
	}
	return ti, nil
}

// indexedSeek implements spec.md section 4.4's "Indexed seek": walk the
// index chain to the deepest level whose referenced block matches typ,
// then seek inside that block.
func (r *Reader) indexedSeek(typ BlockType, indexOffset int64, want []byte) (*tableIter, error) {
	r.opts.Metrics.IndexSeeks.Inc()

	idxIter, err := r.linearSeek(BlockTypeIndex, indexOffset, want)
	if err != nil {
		return nil, err
	}

	for {
		rec, err := idxIter.Next()
		if err == io.EOF {
			return &tableIter{r: r, typ: typ, done: true}, nil
		}
		if err != nil {
			return nil, err
		}
		idxRec := rec.(*IndexRecord)

		bi, err := r.initBlockReaderAt(int64(idxRec.Offset), 0)
		if err == io.EOF {
			return nil, base.CorruptionErrorf("reftable: %s: dangling index offset %d", r.name, idxRec.Offset)
		}
		if err != nil {
			return nil, err
		}

		if bi.typ == typ {
			if err := bi.SeekGE(want); err != nil {
				return nil, err
			}
			return &tableIter{r: r, typ: typ, bi: bi, off: int64(idxRec.Offset)}, nil
		}
		if bi.typ != BlockTypeIndex {
			return nil, base.CorruptionErrorf("reftable: %s: index points at unexpected block type %s", r.name, bi.typ)
		}

		idxIter, err = r.linearSeek(BlockTypeIndex, int64(idxRec.Offset), want)
		if err != nil {
			return nil, err
		}
	}
}

// seek implements spec.md section 4.4's "Public seek": choose indexed
// when the sub-stream has one, else linear; return an empty (immediately
// exhausted) iterator when the sub-stream is absent.
func (r *Reader) seek(typ BlockType, s subStream, want []byte) (Iterator, error) {
	if !s.present {
		return &tableIter{r: r, typ: typ, done: true}, nil
	}
	if s.indexOffset != 0 {
		return r.indexedSeek(typ, s.indexOffset, want)
	}
	return r.linearSeek(typ, s.offset, want)
}

// SeekRef returns an iterator positioned at the first ref record with key
// >= name.
func (r *Reader) SeekRef(name []byte) (Iterator, error) {
	return r.seek(BlockTypeRef, r.ref, name)
}

// SeekLog returns an iterator positioned at the newest log entries for
// name (and any ref names that sort after it), since log keys embed the
// inverted update index (spec.md section 3).
func (r *Reader) SeekLog(name []byte) (Iterator, error) {
	return r.seek(BlockTypeLog, r.log, logSeekKey(name, ^uint64(0)))
}

// SeekLogAt returns an iterator positioned at the newest log entry for
// name with update index <= updateIndex (spec.md section 8's scenario 4).
func (r *Reader) SeekLogAt(name []byte, updateIndex uint64) (Iterator, error) {
	return r.seek(BlockTypeLog, r.log, logSeekKey(name, updateIndex))
}

// logSeekKey builds the seek key for a log lookup: name followed by the
// big-endian complement of updateIndex, matching LogRecord.Key's layout
// so that SeekGE lands on the newest entry with index <= updateIndex.
func logSeekKey(name []byte, updateIndex uint64) []byte {
	rec := LogRecord{RefName: name, UpdateIndex: updateIndex}
	return rec.Key()
}

// objKey truncates oid to the table's declared object-id prefix length.
func (r *Reader) objKey(oid []byte) []byte {
	if len(oid) > r.objIDLen {
		return oid[:r.objIDLen]
	}
	return oid
}

// RefsForObjectID returns an iterator over the ref records whose target
// (or peeled target) equals oid (spec.md section 4.4's "Object-id refs
// lookup"). It chooses the indexed path when the obj sub-stream is
// present, else falls back to a full, in-stream-filtered scan of the ref
// sub-stream.
func (r *Reader) RefsForObjectID(oid []byte) (Iterator, error) {
	if !r.obj.present {
		return r.scanRefsForObjectID(oid)
	}
	return r.indexedRefsForObjectID(oid)
}

func (r *Reader) indexedRefsForObjectID(oid []byte) (Iterator, error) {
	prefix := r.objKey(oid)

	objIter, err := r.seek(BlockTypeObj, r.obj, prefix)
	if err != nil {
		return nil, err
	}
	rec, err := objIter.Next()
	if err == io.EOF {
		return &emptyIterator{}, nil
	}
	if err != nil {
		return nil, err
	}
	objRec := rec.(*ObjRecord)
	if !bytes.Equal(objRec.Prefix, prefix) {
		return &emptyIterator{}, nil
	}

	return &objRefsIterator{r: r, oid: oid, offsets: objRec.Offsets}, nil
}

// objRefsIterator yields, for each listed ref-block offset, the ref
// records inside that block (spec.md section 4.4: "no further filtering
// required, but an optional re-check mode is supported"). This
// implementation always re-verifies the target hash, which is strictly
// more conservative than the spec requires and costs nothing beyond what
// decoding the ref record itself already does.
type objRefsIterator struct {
	r       *Reader
	oid     []byte
	offsets []uint64
	cur     *tableIter
	idx     int
}

func (it *objRefsIterator) Next() (Record, error) {
	for {
		if it.cur == nil {
			if it.idx >= len(it.offsets) {
				return nil, io.EOF
			}
			off := int64(it.offsets[it.idx])
			it.idx++
			ti, err := it.r.newTableIter(BlockTypeRef, off)
			if err != nil {
				return nil, err
			}
			it.cur = ti
		}

		rec, err := it.cur.Next()
		if err == io.EOF || (err == nil && it.cur.off != int64(it.offsets[it.idx-1])) {
			// End of the listed block: the table iterator has moved on to
			// the next block in the chain, which is not part of this entry.
			it.cur = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		ref := rec.(*RefRecord)
		if refMatchesOID(ref, it.oid) {
			return ref, nil
		}
	}
}

func (it *objRefsIterator) Close() error { return nil }

func refMatchesOID(ref *RefRecord, oid []byte) bool {
	switch ref.Value {
	case RefValueDirect:
		return bytes.Equal(ref.Target, oid)
	case RefValuePeeled:
		return bytes.Equal(ref.Target, oid) || bytes.Equal(ref.PeeledTarget, oid)
	default:
		return false
	}
}

// scanRefsForObjectID is the unindexed fallback: scan every ref record,
// filtering in-stream by comparing each ref's target hash(es) against oid
// (spec.md section 4.4).
func (r *Reader) scanRefsForObjectID(oid []byte) (Iterator, error) {
	ti, err := r.seek(BlockTypeRef, r.ref, nil)
	if err != nil {
		return nil, err
	}
	return &filteringIterator{inner: ti, keep: func(rec Record) bool {
		ref, ok := rec.(*RefRecord)
		return ok && refMatchesOID(ref, oid)
	}}, nil
}

// filteringIterator wraps another Iterator, skipping records keep
// rejects. It is the "filtering-iter" variant spec.md section 9 calls out
// among the heterogeneous iterator kinds.
type filteringIterator struct {
	inner Iterator
	keep  func(Record) bool
}

func (f *filteringIterator) Next() (Record, error) {
	for {
		rec, err := f.inner.Next()
		if err != nil {
			return nil, err
		}
		if f.keep(rec) {
			return rec, nil
		}
	}
}

func (f *filteringIterator) Close() error { return f.inner.Close() }

// emptyIterator is immediately exhausted; it backs the indexed
// RefsForObjectID path when no obj record matches the oid prefix. (An
// absent sub-stream is served by an already-exhausted tableIter instead.)
type emptyIterator struct{}

func (*emptyIterator) Next() (Record, error) { return nil, io.EOF }
func (*emptyIterator) Close() error          { return nil }
