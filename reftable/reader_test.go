package reftable

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSingleBlockRefTable(t *testing.T, recs []*RefRecord, minUpdateIndex, maxUpdateIndex uint64) *Reader {
	t.Helper()
	tb := newTableBuilder(HashIDSHA1, minUpdateIndex, maxUpdateIndex)
	tb.addRefBlock(recs, testHashSize)
	data := tb.finish()

	r, err := NewReader(NewMemSource(data), "test", nil)
	require.NoError(t, err)
	return r
}

func TestReaderOpenParsesHeaderAndFooter(t *testing.T) {
	r := buildSingleBlockRefTable(t, []*RefRecord{
		{RefName: []byte("refs/heads/main"), UpdateIndex: 0, Value: RefValueDirect, Target: h(1)},
	}, 5, 10)
	defer r.Close()

	require.Equal(t, uint64(5), r.MinUpdateIndex())
	require.Equal(t, uint64(10), r.MaxUpdateIndex())
	require.Equal(t, HashIDSHA1, r.HashID())
}

func TestReaderSeekRefLinear(t *testing.T) {
	recs := []*RefRecord{
		{RefName: []byte("refs/heads/a"), UpdateIndex: 0, Value: RefValueDirect, Target: h(1)},
		{RefName: []byte("refs/heads/b"), UpdateIndex: 5, Value: RefValueDirect, Target: h(2)},
		{RefName: []byte("refs/heads/c"), UpdateIndex: 0, Value: RefValueDeletion},
	}
	r := buildSingleBlockRefTable(t, recs, 5, 5)
	defer r.Close()

	it, err := r.SeekRef([]byte("refs/heads/b"))
	require.NoError(t, err)
	defer it.Close()

	rec, err := it.Next()
	require.NoError(t, err)
	ref := rec.(*RefRecord)
	require.Equal(t, "refs/heads/b", string(ref.RefName))
	require.Equal(t, uint64(5), ref.UpdateIndex) // rebased by min_update_index

	rec, err = it.Next()
	require.NoError(t, err)
	require.True(t, rec.(*RefRecord).IsDeletion())

	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderSeekRefAcrossBlocks(t *testing.T) {
	tb := newTableBuilder(HashIDSHA1, 0, 0)
	tb.addRefBlock([]*RefRecord{
		{RefName: []byte("refs/heads/a"), Value: RefValueDirect, Target: h(1)},
		{RefName: []byte("refs/heads/b"), Value: RefValueDirect, Target: h(2)},
	}, testHashSize)
	tb.addRefBlock([]*RefRecord{
		{RefName: []byte("refs/heads/c"), Value: RefValueDirect, Target: h(3)},
		{RefName: []byte("refs/heads/d"), Value: RefValueDirect, Target: h(4)},
	}, testHashSize)
	data := tb.finish()

	r, err := NewReader(NewMemSource(data), "test", nil)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.SeekRef([]byte("refs/heads/c"))
	require.NoError(t, err)
	defer it.Close()

	var names []string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, string(rec.(*RefRecord).RefName))
	}
	require.Equal(t, []string{"refs/heads/c", "refs/heads/d"}, names)
}

func TestReaderAbsentSubStreamIsEmpty(t *testing.T) {
	r := buildSingleBlockRefTable(t, []*RefRecord{
		{RefName: []byte("refs/heads/main"), Value: RefValueDirect, Target: h(1)},
	}, 0, 0)
	defer r.Close()

	it, err := r.SeekLog([]byte("refs/heads/main"))
	require.NoError(t, err)
	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

// buildTwoBlockRefTable builds the same two ref data blocks either with
// or without a covering index block, so seeks against it can be compared
// between the indexedSeek and linearSeek code paths (spec.md section 8's
// "Indexed equivalence": both must yield identical sequences, including
// the past-the-end case).
func buildTwoBlockRefTable(t *testing.T, withIndex bool) *Reader {
	t.Helper()
	tb := newTableBuilder(HashIDSHA1, 0, 0)
	off1 := tb.addRefBlock([]*RefRecord{
		{RefName: []byte("refs/heads/a"), Value: RefValueDirect, Target: h(1)},
		{RefName: []byte("refs/heads/b"), Value: RefValueDirect, Target: h(2)},
	}, testHashSize)
	off2 := tb.addRefBlock([]*RefRecord{
		{RefName: []byte("refs/heads/c"), Value: RefValueDirect, Target: h(3)},
		{RefName: []byte("refs/heads/d"), Value: RefValueDirect, Target: h(4)},
	}, testHashSize)

	if withIndex {
		tb.addRefIndexBlock([]*IndexRecord{
			{LastKey: []byte("refs/heads/b"), Offset: uint64(off1)},
			{LastKey: []byte("refs/heads/d"), Offset: uint64(off2)},
		})
	}

	data := tb.finish()
	r, err := NewReader(NewMemSource(data), "test", nil)
	require.NoError(t, err)
	return r
}

func collectRefNames(t *testing.T, it Iterator) []string {
	t.Helper()
	var names []string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, string(rec.(*RefRecord).RefName))
	}
	return names
}

func TestReaderIndexedSeekMatchesLinear(t *testing.T) {
	cases := []struct {
		name string
		seek string
		want []string
	}{
		{"mid block", "refs/heads/c", []string{"refs/heads/c", "refs/heads/d"}},
		{"past the end", "refs/heads/zzz", nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			linear := buildTwoBlockRefTable(t, false)
			defer linear.Close()
			indexed := buildTwoBlockRefTable(t, true)
			defer indexed.Close()

			linIt, err := linear.SeekRef([]byte(c.seek))
			require.NoError(t, err)
			defer linIt.Close()
			idxIt, err := indexed.SeekRef([]byte(c.seek))
			require.NoError(t, err)
			defer idxIt.Close()

			gotLinear := collectRefNames(t, linIt)
			gotIndexed := collectRefNames(t, idxIt)
			require.Equal(t, c.want, gotLinear)
			require.Equal(t, c.want, gotIndexed)
		})
	}
}

func TestReaderSeekLogAtIndexed(t *testing.T) {
	tb := newTableBuilder(HashIDSHA1, 0, 0)
	// Stored ascending by key, which (since LogRecord.Key embeds the
	// bitwise complement of the update index) means descending update
	// index: 9, 7, 5.
	logOff := tb.addLogBlock([]*LogRecord{
		{RefName: []byte("r"), UpdateIndex: 9, Name: "a", Email: "a@example.com", OldHash: h(1), NewHash: h(2)},
		{RefName: []byte("r"), UpdateIndex: 7, Name: "a", Email: "a@example.com", OldHash: h(2), NewHash: h(3)},
		{RefName: []byte("r"), UpdateIndex: 5, Name: "a", Email: "a@example.com", OldHash: h(3), NewHash: h(4)},
	}, testHashSize)
	tb.addLogIndexBlock([]*IndexRecord{
		{LastKey: logSeekKey([]byte("r"), 5), Offset: uint64(logOff)},
	})
	data := tb.finish()

	r, err := NewReader(NewMemSource(data), "test", nil)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.SeekLogAt([]byte("r"), 8)
	require.NoError(t, err)
	defer it.Close()

	rec, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(7), rec.(*LogRecord).UpdateIndex)
}

func TestReaderRefsForObjectIDIndexed(t *testing.T) {
	target := h(7)
	tb := newTableBuilder(HashIDSHA1, 0, 0)
	refOff := tb.addRefBlock([]*RefRecord{
		{RefName: []byte("refs/heads/p"), Value: RefValueDirect, Target: target},
		{RefName: []byte("refs/heads/q"), Value: RefValueDirect, Target: target},
	}, testHashSize)

	const idLen = 4
	prefix := target[:idLen]
	objOff := tb.addObjBlock([]*ObjRecord{
		{Prefix: prefix, Offsets: []uint64{uint64(refOff)}},
	}, idLen)
	tb.addObjIndexBlock([]*IndexRecord{
		{LastKey: prefix, Offset: uint64(objOff)},
	})
	data := tb.finish()

	r, err := NewReader(NewMemSource(data), "test", nil)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.RefsForObjectID(target)
	require.NoError(t, err)
	defer it.Close()

	require.Equal(t, []string{"refs/heads/p", "refs/heads/q"}, collectRefNames(t, it))
}

func TestReaderRefsForObjectIDUnindexed(t *testing.T) {
	target := h(7)
	r := buildSingleBlockRefTable(t, []*RefRecord{
		{RefName: []byte("refs/heads/a"), Value: RefValueDirect, Target: h(1)},
		{RefName: []byte("refs/heads/b"), Value: RefValueDirect, Target: target},
		{RefName: []byte("refs/tags/v1"), Value: RefValuePeeled, Target: h(9), PeeledTarget: target},
	}, 0, 0)
	defer r.Close()

	it, err := r.RefsForObjectID(target)
	require.NoError(t, err)
	defer it.Close()

	var names []string
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, string(rec.(*RefRecord).RefName))
	}
	require.ElementsMatch(t, []string{"refs/heads/b", "refs/tags/v1"}, names)
}
