package reftable

import (
	"encoding/binary"

	"github.com/petermattis/reftable/internal/base"
)

// Record is the tagged-variant interface implemented by RefRecord,
// LogRecord, ObjRecord, and IndexRecord (spec.md section 9's "Heterogeneous
// records" design note: a sum type over the four kinds, no shared base
// class). Every block entry, regardless of kind, can be sorted by Key and
// tested with IsDeletion.
type Record interface {
	Key() []byte
	IsDeletion() bool
}

// BlockType identifies the four record kinds multiplexed through one
// reftable file (spec.md section 3 and section 6). It doubles as the
// on-disk block-header type tag.
type BlockType byte

const (
	BlockTypeRef   BlockType = 'r'
	BlockTypeLog   BlockType = 'l'
	BlockTypeObj   BlockType = 'o'
	BlockTypeIndex BlockType = 'i'
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeRef:
		return "ref"
	case BlockTypeLog:
		return "log"
	case BlockTypeObj:
		return "obj"
	case BlockTypeIndex:
		return "index"
	default:
		return "unknown"
	}
}

// RefValueType discriminates the four variants a ref record's value may
// take (spec.md section 3's ref payload table).
type RefValueType uint8

const (
	RefValueDeletion RefValueType = 0
	RefValueDirect   RefValueType = 1
	RefValuePeeled   RefValueType = 2
	RefValueSymref   RefValueType = 3
)

// RefRecord is one ref-sub-stream entry. UpdateIndex is always the
// rebased, absolute value (spec.md section 3's invariant: on-disk value
// plus the table's min_update_index) once it has left the reader -- the
// on-disk delta never escapes this package.
type RefRecord struct {
	RefName      []byte
	UpdateIndex  uint64
	Value        RefValueType
	Target       []byte // RefValueDirect, RefValuePeeled
	PeeledTarget []byte // RefValuePeeled only
	SymrefTarget []byte // RefValueSymref only
}

// IsDeletion reports whether r is a tombstone.
func (r *RefRecord) IsDeletion() bool { return r.Value == RefValueDeletion }

// Key returns the record's sort key: the ref name, unmodified.
func (r *RefRecord) Key() []byte { return r.RefName }

// CopyFrom deep-copies src into r so that r owns its own backing arrays,
// per spec.md section 5's "deep clone on dequeue" requirement.
func (r *RefRecord) CopyFrom(src *RefRecord) {
	r.RefName = append(r.RefName[:0], src.RefName...)
	r.UpdateIndex = src.UpdateIndex
	r.Value = src.Value
	r.Target = appendOrNil(r.Target, src.Target)
	r.PeeledTarget = appendOrNil(r.PeeledTarget, src.PeeledTarget)
	r.SymrefTarget = appendOrNil(r.SymrefTarget, src.SymrefTarget)
}

func appendOrNil(dst, src []byte) []byte {
	if src == nil {
		return nil
	}
	return append(dst[:0], src...)
}

// LogRecord is one log-sub-stream entry. The on-disk key suffix encodes
// ^UpdateIndex in 8 big-endian bytes so that, for a fixed ref name, newer
// entries sort first (spec.md section 3); LogRecord.UpdateIndex always
// holds the real, non-inverted value.
type LogRecord struct {
	RefName     []byte
	UpdateIndex uint64
	Deletion    bool
	OldHash     []byte
	NewHash     []byte
	Name        string
	Email       string
	Seconds     int64
	TZOffset    int16
	Message     string
}

// IsDeletion reports whether l is a tombstone log entry.
func (l *LogRecord) IsDeletion() bool { return l.Deletion }

// Key returns the record's sort key: the ref name followed by the
// big-endian encoded bitwise complement of UpdateIndex.
func (l *LogRecord) Key() []byte {
	key := make([]byte, len(l.RefName)+8)
	copy(key, l.RefName)
	binary.BigEndian.PutUint64(key[len(l.RefName):], ^l.UpdateIndex)
	return key
}

// CopyFrom deep-copies src into l.
func (l *LogRecord) CopyFrom(src *LogRecord) {
	l.RefName = append(l.RefName[:0], src.RefName...)
	l.UpdateIndex = src.UpdateIndex
	l.Deletion = src.Deletion
	l.OldHash = appendOrNil(l.OldHash, src.OldHash)
	l.NewHash = appendOrNil(l.NewHash, src.NewHash)
	l.Name = src.Name
	l.Email = src.Email
	l.Seconds = src.Seconds
	l.TZOffset = src.TZOffset
	l.Message = src.Message
}

// ObjRecord is one obj-sub-stream entry: an object-id prefix and the
// sorted table offsets of the ref blocks that hold refs pointing at
// objects sharing that prefix.
type ObjRecord struct {
	Prefix  []byte
	Offsets []uint64
}

// Key returns the record's sort key: the raw object-id prefix.
func (o *ObjRecord) Key() []byte { return o.Prefix }

// IsDeletion is always false: the obj sub-stream has no tombstones of its
// own (it is rebuilt wholesale by the writer, out of scope here).
func (o *ObjRecord) IsDeletion() bool { return false }

// CopyFrom deep-copies src into o.
func (o *ObjRecord) CopyFrom(src *ObjRecord) {
	o.Prefix = append(o.Prefix[:0], src.Prefix...)
	o.Offsets = append(o.Offsets[:0], src.Offsets...)
}

// IndexRecord is one entry of a two-level index block: the last key of
// the block it points to, and that block's file offset.
type IndexRecord struct {
	LastKey []byte
	Offset  uint64
}

func (i *IndexRecord) Key() []byte     { return i.LastKey }
func (i *IndexRecord) IsDeletion() bool { return false }

func (i *IndexRecord) CopyFrom(src *IndexRecord) {
	i.LastKey = append(i.LastKey[:0], src.LastKey...)
	i.Offset = src.Offset
}

// entryFlagMask selects the record-kind-specific flags packed into the low
// bits of a block entry's second varint (spec.md section 4.2);
// entryFlagShift is their width in bits.
const entryFlagMask = 0x7
const entryFlagShift = 3

// decodeEntryKey decodes the generic (shared_prefix_len, suffix_len_with_extra,
// key_suffix) triple common to every block entry, reconstructing the full
// key from lastKey and the shared prefix. It returns the new cursor
// position, the decoded key, and the low flag bits carried alongside the
// suffix length.
func decodeEntryKey(src []byte, idx, blockEnd int, lastKey []byte) (newIdx int, key []byte, flags uint8, err error) {
	sharedLen, n, err := getVarint(src[idx:], blockEnd-idx)
	if err != nil {
		return 0, nil, 0, err
	}
	idx += n

	suffixLenWithExtra, n, err := getVarint(src[idx:], blockEnd-idx)
	if err != nil {
		return 0, nil, 0, err
	}
	idx += n

	flags = uint8(suffixLenWithExtra & entryFlagMask)
	suffixLen := int(suffixLenWithExtra >> entryFlagShift)

	if int(sharedLen) > len(lastKey) {
		return 0, nil, 0, base.CorruptionErrorf("reftable: shared prefix longer than previous key")
	}
	if idx+suffixLen > blockEnd {
		return 0, nil, 0, base.CorruptionErrorf("reftable: key suffix exceeds block bounds")
	}

	key = make([]byte, int(sharedLen)+suffixLen)
	copy(key, lastKey[:sharedLen])
	copy(key[sharedLen:], src[idx:idx+suffixLen])
	idx += suffixLen

	return idx, key, flags, nil
}

// encodeEntryKey appends the generic (shared_prefix_len, suffix_len_with_extra,
// key_suffix) triple for key given the previous entry's key (lastKey) and
// flags to pack into the low bits of the suffix-length varint. It exists
// purely for the test-only block builders (the write path itself is out of
// scope, per spec.md section 1), mirroring test_fixtures.go's role of
// constructing fixtures the reader is exercised against.
func encodeEntryKey(dst []byte, lastKey, key []byte, flags uint8) []byte {
	shared := commonPrefixLen(lastKey, key)
	suffix := key[shared:]

	var buf [maxVarintLen]byte
	n := putVarint(buf[:], uint64(shared))
	dst = append(dst, buf[:n]...)

	suffixLenWithExtra := uint64(len(suffix))<<entryFlagShift | uint64(flags&entryFlagMask)
	n = putVarint(buf[:], suffixLenWithExtra)
	dst = append(dst, buf[:n]...)

	dst = append(dst, suffix...)
	return dst
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
