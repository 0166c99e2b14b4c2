package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemoryHasNoDataDir(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()
	assert.Nil(t, s.wal)
}

func TestOpenRejectsNothingDirectlyButFillsDefaults(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, SnapshotIsolation, s.cfg.DefaultIsolation)
	assert.Equal(t, 3, s.cfg.SnapshotRetention)
}

// TestOpenRejectsNegativeSnapshotRetention guards spec.md §9's "treat
// values < 1 as configuration error": unlike the zero value (which
// withDefaults treats as "unset" the same way it does for every other
// numeric Config field), a negative value cannot be an omission and must
// be rejected directly by storage.Open, not only by pkg/config's wrapper.
func TestOpenRejectsNegativeSnapshotRetention(t *testing.T) {
	_, err := Open(Config{SnapshotRetention: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLabelEdgeTypePropertyInterning(t *testing.T) {
	s := openMem(t)
	id1 := s.Label("Person")
	id2 := s.Label("Person")
	assert.Equal(t, id1, id2)

	name, ok := s.LabelName(id1)
	assert.True(t, ok)
	assert.Equal(t, "Person", name)

	et := s.EdgeType("KNOWS")
	etName, ok := s.EdgeTypeName(et)
	assert.True(t, ok)
	assert.Equal(t, "KNOWS", etName)

	pid := s.Property("name")
	pName, ok := s.PropertyName(pid)
	assert.True(t, ok)
	assert.Equal(t, "name", pName)
}

func TestStatsReflectsLiveState(t *testing.T) {
	s := openMem(t)
	acc, err := s.Access()
	require.NoError(t, err)
	_, err = acc.CreateVertex()
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 1, stats.LiveTxnCount)

	require.NoError(t, acc.Commit())
	stats = s.Stats()
	assert.Equal(t, 0, stats.LiveTxnCount)
	assert.Equal(t, 1, stats.VertexCount)
	assert.Equal(t, uint64(1), stats.NextVertexGID)
}

func TestCreateLabelIndexLogsToWAL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{DataDir: dir, WALEnabled: true})
	require.NoError(t, err)

	person := s.Label("Person")
	require.NoError(t, s.CreateLabelIndex(person))
	assert.True(t, s.Schema().HasLabelIndex(person))

	require.NoError(t, s.Close())

	s2, err := Open(Config{DataDir: dir})
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.Schema().HasLabelIndex(s2.Label("Person")))
}

func TestSnapshotOnInMemoryStorageFails(t *testing.T) {
	s := openMem(t)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrIO)
}

func TestAccessAfterCloseFails(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Access()
	assert.ErrorIs(t, err, ErrStorageClosed)
}
