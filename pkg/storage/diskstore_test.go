package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWALIndexPutRangeDelete(t *testing.T) {
	dir := t.TempDir()
	idx, err := openWALIndex(filepath.Join(dir, "index"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Put(walSegmentMeta{SeqNum: 2, FromTS: 20, ToTS: 29}))
	require.NoError(t, idx.Put(walSegmentMeta{SeqNum: 0, FromTS: 0, ToTS: 9}))
	require.NoError(t, idx.Put(walSegmentMeta{SeqNum: 1, FromTS: 10, ToTS: 19}))

	var seen []uint64
	require.NoError(t, idx.Range(func(m walSegmentMeta) bool {
		seen = append(seen, m.SeqNum)
		return true
	}))
	assert.Equal(t, []uint64{0, 1, 2}, seen, "Range must visit segments in ascending seqNum order")

	require.NoError(t, idx.Delete(1))
	seen = nil
	require.NoError(t, idx.Range(func(m walSegmentMeta) bool {
		seen = append(seen, m.SeqNum)
		return true
	}))
	assert.Equal(t, []uint64{0, 2}, seen)
}

func TestWALIndexEnabledEndToEnd(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{DataDir: dir, WALEnabled: true, WALIndexEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	acc, err := s.Access()
	require.NoError(t, err)
	_, err = acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc.Commit())

	require.NotNil(t, s.wal.index)
}
