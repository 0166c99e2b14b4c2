package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestCreateAndRead is spec.md §8 scenario 1.
func TestCreateAndRead(t *testing.T) {
	s := openMem(t)
	personLabel := s.Label("Person")
	nameProp := s.Property("name")

	acc1, err := s.Access()
	require.NoError(t, err)
	v, err := acc1.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, v.AddLabel(personLabel))
	require.NoError(t, v.SetProperty(nameProp, StringValue("Alice")))
	require.NoError(t, acc1.Commit())

	acc2, err := s.Access()
	require.NoError(t, err)
	found, err := acc2.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	require.NotNil(t, found)

	labels, err := found.Labels()
	require.NoError(t, err)
	_, hasLabel := labels[personLabel]
	assert.True(t, hasLabel)

	props, err := found.Properties()
	require.NoError(t, err)
	assert.Equal(t, "Alice", props[nameProp].Str())
	require.NoError(t, acc2.Abort())
}

// TestAbortRestoresPriorState is spec.md §8 scenario 2.
func TestAbortRestoresPriorState(t *testing.T) {
	s := openMem(t)

	acc1, err := s.Access()
	require.NoError(t, err)
	v, err := acc1.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc1.Abort())

	acc2, err := s.Access()
	require.NoError(t, err)
	found, err := acc2.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	assert.Nil(t, found)
	require.NoError(t, acc2.Abort())
}

// TestWriteWriteConflict is spec.md §8 scenario 3.
func TestWriteWriteConflict(t *testing.T) {
	s := openMem(t)
	xProp := s.Property("x")

	setup, err := s.Access()
	require.NoError(t, err)
	v, err := setup.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	acc1, err := s.Access()
	require.NoError(t, err)
	acc2, err := s.Access()
	require.NoError(t, err)

	v1, err := acc1.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	v2, err := acc2.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)

	require.NoError(t, v1.SetProperty(xProp, IntValue(1)))
	// acc1's write is still uncommitted, so acc2 observes the chain head
	// owned by a different live transaction and fails immediately per
	// spec.md §4.5's conflict detection, rather than at Commit time.
	err = v2.SetProperty(xProp, IntValue(2))
	assert.ErrorIs(t, err, ErrSerialization)

	require.NoError(t, acc1.Commit())
	require.NoError(t, acc2.Abort())
}

// TestDetachDeleteVertex is spec.md §8 scenario 4.
func TestDetachDeleteVertex(t *testing.T) {
	s := openMem(t)
	knows := s.EdgeType("KNOWS")

	setup, err := s.Access()
	require.NoError(t, err)
	v1, err := setup.CreateVertex()
	require.NoError(t, err)
	v2, err := setup.CreateVertex()
	require.NoError(t, err)
	_, err = setup.CreateEdge(v1, v2, knows)
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	acc, err := s.Access()
	require.NoError(t, err)
	handle, err := acc.FindVertex(v1.GID(), ViewNew)
	require.NoError(t, err)
	require.NoError(t, acc.DetachDeleteVertex(handle))
	require.NoError(t, acc.Commit())

	read, err := s.Access()
	require.NoError(t, err)
	gone, err := read.FindVertex(v1.GID(), ViewNew)
	require.NoError(t, err)
	assert.Nil(t, gone)

	v2handle, err := read.FindVertex(v2.GID(), ViewNew)
	require.NoError(t, err)
	require.NotNil(t, v2handle)
	labels, err := v2handle.Labels()
	require.NoError(t, err)
	_ = labels // just exercising the read path
	require.NoError(t, read.Abort())
}

func TestDeleteVertexWithEdgesFails(t *testing.T) {
	s := openMem(t)
	knows := s.EdgeType("KNOWS")

	acc, err := s.Access()
	require.NoError(t, err)
	v1, err := acc.CreateVertex()
	require.NoError(t, err)
	v2, err := acc.CreateVertex()
	require.NoError(t, err)
	_, err = acc.CreateEdge(v1, v2, knows)
	require.NoError(t, err)

	err = acc.DeleteVertex(v1)
	assert.ErrorIs(t, err, ErrVertexHasEdges)
	require.NoError(t, acc.Abort())
}

func TestSnapshotIsolationHidesLaterCommits(t *testing.T) {
	s := openMem(t)
	xProp := s.Property("x")

	setup, err := s.Access()
	require.NoError(t, err)
	v, err := setup.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, v.SetProperty(xProp, IntValue(1)))
	require.NoError(t, setup.Commit())

	reader, err := s.Access(SnapshotIsolation)
	require.NoError(t, err)

	writer, err := s.Access()
	require.NoError(t, err)
	wv, err := writer.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	require.NoError(t, wv.SetProperty(xProp, IntValue(2)))
	require.NoError(t, writer.Commit())

	rv, err := reader.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	props, err := rv.Properties()
	require.NoError(t, err)
	assert.Equal(t, int64(1), props[xProp].Int(), "snapshot reader must not see a commit after its start")
	require.NoError(t, reader.Abort())
}

func TestReadCommittedSeesLaterCommits(t *testing.T) {
	s := openMem(t)
	xProp := s.Property("x")

	setup, err := s.Access()
	require.NoError(t, err)
	v, err := setup.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, v.SetProperty(xProp, IntValue(1)))
	require.NoError(t, setup.Commit())

	reader, err := s.Access(ReadCommitted)
	require.NoError(t, err)

	writer, err := s.Access()
	require.NoError(t, err)
	wv, err := writer.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	require.NoError(t, wv.SetProperty(xProp, IntValue(2)))
	require.NoError(t, writer.Commit())

	rv, err := reader.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	props, err := rv.Properties()
	require.NoError(t, err)
	assert.Equal(t, int64(2), props[xProp].Int(), "READ_COMMITTED refreshes start_ts on every read")
	require.NoError(t, reader.Abort())
}

func TestVerticesByLabelAndProperty(t *testing.T) {
	s := openMem(t)
	person := s.Label("Person")
	company := s.Label("Company")
	nameProp := s.Property("name")

	acc, err := s.Access()
	require.NoError(t, err)
	alice, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, alice.AddLabel(person))
	require.NoError(t, alice.SetProperty(nameProp, StringValue("Alice")))

	bob, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, bob.AddLabel(person))
	require.NoError(t, bob.SetProperty(nameProp, StringValue("Bob")))

	acme, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acme.AddLabel(company))

	require.NoError(t, acc.Commit())

	read, err := s.Access()
	require.NoError(t, err)
	people, err := read.VerticesByLabel(person, ViewNew)
	require.NoError(t, err)
	assert.Len(t, people, 2)

	named, err := read.VerticesByLabelProperty(person, nameProp, StringValue("Alice"), ViewNew)
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, alice.GID(), named[0].GID())
	require.NoError(t, read.Abort())
}

func TestCreateEdgeMaintainsBidirectionalAdjacency(t *testing.T) {
	s := openMem(t)
	knows := s.EdgeType("KNOWS")

	acc, err := s.Access()
	require.NoError(t, err)
	v1, err := acc.CreateVertex()
	require.NoError(t, err)
	v2, err := acc.CreateVertex()
	require.NoError(t, err)
	edge, err := acc.CreateEdge(v1, v2, knows)
	require.NoError(t, err)
	require.NoError(t, acc.Commit())

	read, err := s.Access()
	require.NoError(t, err)
	fromV, err := read.FindVertex(v1.GID(), ViewNew)
	require.NoError(t, err)
	toV, err := read.FindVertex(v2.GID(), ViewNew)
	require.NoError(t, err)

	outSt, err := reconstructAndCheck(fromV)
	require.NoError(t, err)
	assert.Len(t, outSt.outEdges, 1)
	assert.Equal(t, edge.GID(), outSt.outEdges[0].Edge.gid)

	inSt, err := reconstructAndCheck(toV)
	require.NoError(t, err)
	assert.Len(t, inSt.inEdges, 1)
	assert.Equal(t, edge.GID(), inSt.inEdges[0].Edge.gid)
	require.NoError(t, read.Abort())
}

func TestDeleteEdgeRemovesAdjacencyFromBothEndpoints(t *testing.T) {
	s := openMem(t)
	knows := s.EdgeType("KNOWS")

	setup, err := s.Access()
	require.NoError(t, err)
	v1, err := setup.CreateVertex()
	require.NoError(t, err)
	v2, err := setup.CreateVertex()
	require.NoError(t, err)
	edge, err := setup.CreateEdge(v1, v2, knows)
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	acc, err := s.Access()
	require.NoError(t, err)
	fromV, err := acc.FindVertex(v1.GID(), ViewNew)
	require.NoError(t, err)
	toV, err := acc.FindVertex(v2.GID(), ViewNew)
	require.NoError(t, err)
	require.NoError(t, acc.DeleteEdge(edge, fromV, toV))
	require.NoError(t, acc.Commit())

	read, err := s.Access()
	require.NoError(t, err)
	fromAfter, err := read.FindVertex(v1.GID(), ViewNew)
	require.NoError(t, err)
	toAfter, err := read.FindVertex(v2.GID(), ViewNew)
	require.NoError(t, err)

	outSt, err := reconstructAndCheck(fromAfter)
	require.NoError(t, err)
	assert.Empty(t, outSt.outEdges)

	inSt, err := reconstructAndCheck(toAfter)
	require.NoError(t, err)
	assert.Empty(t, inSt.inEdges)
	require.NoError(t, read.Abort())
}

// reconstructAndCheck is a small test-local helper since vertexState isn't
// exported; it goes through the same read context a real Accessor read
// would use.
func reconstructAndCheck(va *VertexAccessor) (*vertexState, error) {
	st := reconstructVertex(va.v, va.acc.txn.readCtx(ViewNew))
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

func TestPropertiesOnEdgesDisabled(t *testing.T) {
	s, err := Open(Config{PropertiesOnEdges: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	knows := s.EdgeType("KNOWS")
	nameProp := s.Property("name")

	acc, err := s.Access()
	require.NoError(t, err)
	v1, err := acc.CreateVertex()
	require.NoError(t, err)
	v2, err := acc.CreateVertex()
	require.NoError(t, err)
	edge, err := acc.CreateEdge(v1, v2, knows)
	require.NoError(t, err)

	err = edge.SetProperty(nameProp, StringValue("x"))
	assert.ErrorIs(t, err, ErrPropertiesOnEdgesDisabled)
	require.NoError(t, acc.Commit())
}

func TestSetPropertyTooLarge(t *testing.T) {
	s, err := Open(Config{MaxPropertyValueBytes: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	nameProp := s.Property("name")
	acc, err := s.Access()
	require.NoError(t, err)
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	err = v.SetProperty(nameProp, StringValue("way too long for eight bytes"))
	assert.ErrorIs(t, err, ErrPropertyValueTooLarge)
	require.NoError(t, acc.Abort())
}

func TestAnalyticalModeSkipsConflictDetection(t *testing.T) {
	s, err := Open(Config{StorageMode: StorageModeAnalytical})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	xProp := s.Property("x")
	setup, err := s.Access()
	require.NoError(t, err)
	v, err := setup.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, setup.Commit())

	acc1, err := s.Access()
	require.NoError(t, err)
	acc2, err := s.Access()
	require.NoError(t, err)

	v1, err := acc1.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)
	v2, err := acc2.FindVertex(v.GID(), ViewNew)
	require.NoError(t, err)

	require.NoError(t, v1.SetProperty(xProp, IntValue(1)))
	require.NoError(t, v2.SetProperty(xProp, IntValue(2)))

	require.NoError(t, acc1.Commit())
	assert.NoError(t, acc2.Commit(), "analytical mode has no concurrent-writer conflict detection")
}
