package reftable

import (
	"io"

	"github.com/petermattis/reftable/internal/base"
)

// Stack is an ordered list of tables, oldest first, exactly as a
// reftable stack file on disk lists them (spec.md section 4.6). This
// package has no opinion on how a Stack's tables were chosen, named, or
// locked -- that is out of scope per spec.md section 1 -- it only reads
// one.
type Stack struct {
	Readers []*Reader
}

// MergedTable is the ref-facing view over a Stack: a single table-like
// object whose ref/log lookups are last-writer-wins merges across every
// member table (spec.md section 4.6). Ref lookups suppress deletions; log
// lookups keep them.
type MergedTable struct {
	stack    Stack
	hashSize int
}

// NewMergedTable validates stack's ordering invariants -- every member
// shares one hash identity, and update-index ranges are strictly
// ascending and non-overlapping from oldest to newest (spec.md section
// 4.6: "Invariant: stack[i].max_update_index < stack[i+1].min_update_index")
// -- and wraps it for merged lookups.
func NewMergedTable(stack Stack) (*MergedTable, error) {
	if len(stack.Readers) == 0 {
		return nil, base.APIMisuseErrorf("reftable: empty stack")
	}

	hashSize := stack.Readers[0].hashSize
	for i, r := range stack.Readers {
		if r.hashSize != hashSize {
			return nil, base.CorruptionErrorf("reftable: stack mixes hash sizes at table %d", i)
		}
		if i > 0 {
			prev := stack.Readers[i-1]
			if prev.MaxUpdateIndex() >= r.MinUpdateIndex() {
				return nil, base.CorruptionErrorf(
					"reftable: stack tables %d and %d have overlapping update-index ranges", i-1, i)
			}
		}
	}

	return &MergedTable{stack: stack, hashSize: hashSize}, nil
}

// HashSize reports the hash width shared by every table in the stack.
func (m *MergedTable) HashSize() int { return m.hashSize }

// seekSources builds one sub-iterator per table via seekOne, in stack
// order (oldest first, matching MergedIterator's newest-wins tie-break
// convention), closing any already-opened iterator if a later one fails
// (spec.md section 4.6: partial-failure cleanup).
func (m *MergedTable) seekSources(seekOne func(*Reader) (Iterator, error)) ([]Iterator, error) {
	sources := make([]Iterator, 0, len(m.stack.Readers))
	for _, r := range m.stack.Readers {
		it, err := seekOne(r)
		if err != nil {
			for _, opened := range sources {
				opened.Close()
			}
			return nil, err
		}
		sources = append(sources, it)
	}
	return sources, nil
}

// SeekRef returns the merged, deletion-suppressed view of every ref
// record with key >= name (spec.md section 4.6).
func (m *MergedTable) SeekRef(name []byte) (*MergedIterator, error) {
	sources, err := m.seekSources(func(r *Reader) (Iterator, error) { return r.SeekRef(name) })
	if err != nil {
		return nil, err
	}
	return NewMergedIterator(sources, true)
}

// SeekLog returns the merged view of log records for name, newest first
// across update indices (spec.md section 4.6). Deletions are not
// suppressed in the log view: a tombstone in the log is itself a
// meaningful historical entry (spec.md section 5).
func (m *MergedTable) SeekLog(name []byte) (*MergedIterator, error) {
	sources, err := m.seekSources(func(r *Reader) (Iterator, error) { return r.SeekLog(name) })
	if err != nil {
		return nil, err
	}
	return NewMergedIterator(sources, false)
}

// SeekLogAt returns the merged log view for name starting at or before
// updateIndex (spec.md section 8's scenario 4).
func (m *MergedTable) SeekLogAt(name []byte, updateIndex uint64) (*MergedIterator, error) {
	sources, err := m.seekSources(func(r *Reader) (Iterator, error) { return r.SeekLogAt(name, updateIndex) })
	if err != nil {
		return nil, err
	}
	return NewMergedIterator(sources, false)
}

// RefForName is a convenience wrapper returning the single ref record
// for name, or base.KindNotExist if absent or present only as a
// tombstone (spec.md section 4.6's point lookup).
func (m *MergedTable) RefForName(name []byte) (*RefRecord, error) {
	it, err := m.SeekRef(name)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	rec, err := it.Next()
	if err == io.EOF {
		return nil, base.NotExistErrorf("reftable: ref %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	ref, ok := rec.(*RefRecord)
	if !ok || string(ref.RefName) != string(name) {
		return nil, base.NotExistErrorf("reftable: ref %q not found", name)
	}
	if ref.IsDeletion() {
		return nil, base.NotExistErrorf("reftable: ref %q not found", name)
	}
	return ref, nil
}

// RefsForObjectID returns the merged set of refs across the whole stack
// pointing at oid: it filters the merged, deletion-suppressed ref view
// (SeekRef from the first key) by target hash, so a ref deleted or
// re-pointed in a newer table does not resurrect from an older one
// (spec.md section 4.6).
func (m *MergedTable) RefsForObjectID(oid []byte) (Iterator, error) {
	it, err := m.SeekRef(nil)
	if err != nil {
		return nil, err
	}
	return &filteringIterator{inner: it, keep: func(rec Record) bool {
		ref, ok := rec.(*RefRecord)
		return ok && refMatchesOID(ref, oid)
	}}, nil
}
