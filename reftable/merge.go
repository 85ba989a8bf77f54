package reftable

import (
	"bytes"
	"container/heap"
	"io"
)

// mergeHeapItem is one live source in the merge: its most recently
// decoded record, the iterator it came from, and the source's position
// in the stack (spec.md section 4.5). sourceIndex breaks ties between
// equal keys: the record from the highest index -- the newest table --
// wins, implementing last-writer-wins (spec.md section E, grounded on
// original_source/reftable/merged.c's subiter_less).
type mergeHeapItem struct {
	rec         Record
	iter        Iterator
	sourceIndex int
}

type mergeHeap []*mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].rec.Key(), h[j].rec.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].sourceIndex > h[j].sourceIndex
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeHeapItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MergedIterator implements spec.md section 4.5's k-way merge over a
// stack of sub-iterators (one per table, oldest first): at each step it
// yields the newest record for the smallest key present in any source,
// discarding older, shadowed duplicates, and -- when suppressDeletions is
// set -- discarding tombstones too instead of surfacing them (spec.md
// section 5's distinction between the raw table view and the ref-facing
// view).
type MergedIterator struct {
	h                 mergeHeap
	suppressDeletions bool
	closed            bool
}

// NewMergedIterator builds a MergedIterator over sources, where
// sources[i] is older than sources[i+1] (spec.md section 4.6's stack
// ordering invariant). Each source is primed with one Next call; sources
// already exhausted are dropped silently.
func NewMergedIterator(sources []Iterator, suppressDeletions bool) (*MergedIterator, error) {
	m := &MergedIterator{suppressDeletions: suppressDeletions}
	for i, it := range sources {
		if err := m.push(it, i); err != nil {
			m.Close()
			return nil, err
		}
	}
	heap.Init(&m.h)
	return m, nil
}

func (m *MergedIterator) push(it Iterator, sourceIndex int) error {
	rec, err := it.Next()
	if err == io.EOF {
		return it.Close()
	}
	if err != nil {
		return err
	}
	m.h = append(m.h, &mergeHeapItem{rec: rec, iter: it, sourceIndex: sourceIndex})
	return nil
}

// Next implements Iterator. Per spec.md section 4.5's algorithm: pop the
// minimum, drain and discard every other source currently sitting on the
// same key (those are older duplicates, fully shadowed), refill the
// sources that were touched, and either return the winning record or --
// if it is a suppressed deletion -- loop for the next distinct key.
func (m *MergedIterator) Next() (Record, error) {
	for {
		if m.h.Len() == 0 {
			return nil, io.EOF
		}

		top := heap.Pop(&m.h).(*mergeHeapItem)
		winner := top.rec
		if err := m.push(top.iter, top.sourceIndex); err != nil {
			return nil, err
		}

		for m.h.Len() > 0 && bytes.Equal(m.h[0].rec.Key(), winner.Key()) {
			dup := heap.Pop(&m.h).(*mergeHeapItem)
			if err := m.push(dup.iter, dup.sourceIndex); err != nil {
				return nil, err
			}
		}

		if m.suppressDeletions && winner.IsDeletion() {
			continue
		}
		return deepCopyRecord(winner), nil
	}
}

// deepCopyRecord returns an independent copy of rec, so the record handed
// to the caller shares no backing arrays with the record the sub-iterator
// produced.
func deepCopyRecord(rec Record) Record {
	switch r := rec.(type) {
	case *RefRecord:
		var c RefRecord
		c.CopyFrom(r)
		return &c
	case *LogRecord:
		var c LogRecord
		c.CopyFrom(r)
		return &c
	case *ObjRecord:
		var c ObjRecord
		c.CopyFrom(r)
		return &c
	case *IndexRecord:
		var c IndexRecord
		c.CopyFrom(r)
		return &c
	default:
		return rec
	}
}

// Close closes every still-live source. It is safe to call more than
// once.
func (m *MergedIterator) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var firstErr error
	for _, item := range m.h {
		if err := item.iter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.h = nil
	return firstErr
}
