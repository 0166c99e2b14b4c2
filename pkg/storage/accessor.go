package storage

import (
	"fmt"
)

// Accessor is the user-facing transactional handle spec.md §4.5 and §6
// describe: every graph read or write goes through one, obtained from
// Storage.Access and closed with exactly one of Commit or Abort.
//
// An Accessor is not safe for concurrent use by multiple goroutines — like
// the teacher's Transaction, it is meant to be owned by the goroutine that
// began it — but many Accessors may be open across many goroutines at
// once, each enforced independently by the object-level locks writers take
// and the lock-free reads everyone takes.
type Accessor struct {
	txn *transaction
}

// Access begins a new transaction at the given isolation level and
// returns the Accessor through which to use it. A zero-value
// IsolationLevel argument list means "use Config.DefaultIsolation".
func (s *Storage) Access(isolation ...IsolationLevel) (*Accessor, error) {
	if s.closed.Load() {
		return nil, ErrStorageClosed
	}
	level := s.cfg.DefaultIsolation
	if len(isolation) > 0 {
		level = isolation[0]
	}
	return &Accessor{txn: s.beginTransaction(level)}, nil
}

func (a *Accessor) closedErr() error {
	if a.txn.committed || a.txn.aborted {
		return ErrTransactionClosed
	}
	return nil
}

// StartTimestamp returns the transaction's start timestamp, useful for
// logging/debugging and for tests asserting ordering.
func (a *Accessor) StartTimestamp() uint64 { return a.txn.startTS.Load() }

// IsolationLevel returns the level this Accessor was opened with.
func (a *Accessor) IsolationLevel() IsolationLevel { return a.txn.isolation }

// ---------------------------------------------------------------------------
// Vertex operations
// ---------------------------------------------------------------------------

// VertexAccessor is a transactional view of one vertex: every method
// reads or writes through the owning Accessor's transaction, so two
// VertexAccessors for the same underlying Vertex obtained from different
// Accessors are where conflicts get detected.
type VertexAccessor struct {
	v   *Vertex
	acc *Accessor
}

// GID returns the vertex's identifier, stable for its lifetime.
func (va *VertexAccessor) GID() GID { return va.v.gid }

// CreateVertex allocates a new GID and installs the vertex, visible only
// to this transaction until commit. Per spec.md §4.5, the Delta installed
// is DeleteObject — the inverse of creation — so that a reader whose
// start predates this transaction's commit reconstructs "does not exist."
func (a *Accessor) CreateVertex() (*VertexAccessor, error) {
	if err := a.closedErr(); err != nil {
		return nil, err
	}
	s := a.txn.storage
	gid := GID(s.nextVertexGID.Add(1))
	v := newVertex(gid)

	v.mu.Lock()
	d := newDelta(DeltaDeleteObject, a.txn.txnID)
	d.installOnVertex(v)
	v.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectVertex, gid)
	s.vertices.Insert(gid, v)
	return &VertexAccessor{v: v, acc: a}, nil
}

// FindVertex looks up gid and returns it if visible under view, honoring
// the spec.md §4.3 visibility rule for this transaction's isolation level
// and timestamp.
func (a *Accessor) FindVertex(gid GID, view View) (*VertexAccessor, error) {
	if err := a.closedErr(); err != nil {
		return nil, err
	}
	v, ok := a.txn.storage.vertices.Find(gid)
	if !ok {
		return nil, nil
	}
	if reconstructVertex(v, a.txn.readCtx(view)) == nil {
		return nil, nil
	}
	return &VertexAccessor{v: v, acc: a}, nil
}

// Vertices returns every vertex visible to this transaction under view,
// in ascending GID order. This is the unindexed scan spec.md §4.5 names;
// VerticesByLabel and VerticesByLabelProperty below are the indexed
// variants, which still fall back to a scan-and-filter when Schema has no
// matching declaration (storage itself carries no index implementation,
// per spec.md §1).
func (a *Accessor) Vertices(view View) ([]*VertexAccessor, error) {
	return a.scanVertices(view, nil)
}

// VerticesByLabel returns every visible vertex carrying label.
func (a *Accessor) VerticesByLabel(label LabelID, view View) ([]*VertexAccessor, error) {
	return a.scanVertices(view, func(st *vertexState) bool {
		_, ok := st.labels[label]
		return ok
	})
}

// VerticesByLabelProperty returns every visible vertex carrying label
// whose property key equals value.
func (a *Accessor) VerticesByLabelProperty(label LabelID, key PropertyID, value PropertyValue, view View) ([]*VertexAccessor, error) {
	return a.scanVertices(view, func(st *vertexState) bool {
		if _, ok := st.labels[label]; !ok {
			return false
		}
		pv, ok := st.properties[key]
		return ok && pv.Equal(value)
	})
}

func (a *Accessor) scanVertices(view View, pred func(*vertexState) bool) ([]*VertexAccessor, error) {
	if err := a.closedErr(); err != nil {
		return nil, err
	}
	rc := a.txn.readCtx(view)
	var out []*VertexAccessor
	a.txn.storage.vertices.Range(func(gid GID, v *Vertex) bool {
		st := reconstructVertex(v, rc)
		if st == nil {
			return true
		}
		if pred == nil || pred(st) {
			out = append(out, &VertexAccessor{v: v, acc: a})
		}
		return true
	})
	return out, nil
}

// DeleteVertex deletes v if it has no visible incident edges, failing
// with ErrVertexHasEdges otherwise (use DetachDeleteVertex to force it).
func (a *Accessor) DeleteVertex(va *VertexAccessor) error {
	if err := a.closedErr(); err != nil {
		return err
	}
	rc := a.txn.readCtx(ViewNew)
	st := reconstructVertex(va.v, rc)
	if st == nil {
		return ErrNotFound
	}
	if len(st.inEdges) > 0 || len(st.outEdges) > 0 {
		return ErrVertexHasEdges
	}
	return a.deleteVertexUnchecked(va)
}

// DetachDeleteVertex deletes every edge incident to va and then va itself,
// as a single logical step: all inverses are appended to this
// transaction, so an abort restores everything.
func (a *Accessor) DetachDeleteVertex(va *VertexAccessor) error {
	if err := a.closedErr(); err != nil {
		return err
	}
	rc := a.txn.readCtx(ViewNew)
	st := reconstructVertex(va.v, rc)
	if st == nil {
		return ErrNotFound
	}
	for _, adj := range st.inEdges {
		ea := &EdgeAccessor{e: adj.Edge, acc: a}
		if err := a.deleteEdgeUnchecked(ea, adj.Peer, va.v); err != nil {
			return err
		}
	}
	for _, adj := range st.outEdges {
		ea := &EdgeAccessor{e: adj.Edge, acc: a}
		if err := a.deleteEdgeUnchecked(ea, va.v, adj.Peer); err != nil {
			return err
		}
	}
	return a.deleteVertexUnchecked(va)
}

func (a *Accessor) deleteVertexUnchecked(va *VertexAccessor) error {
	v := va.v
	v.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(v.deltaHead.Load())); err != nil {
		v.mu.Unlock()
		return err
	}
	v.deleted = true
	d := newDelta(DeltaRecreateObject, a.txn.txnID) // inverse of delete
	d.installOnVertex(v)
	v.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectVertex, v.gid)
	return nil
}

// ---------------------------------------------------------------------------
// Labels and properties
// ---------------------------------------------------------------------------

// Labels returns va's current label set as this transaction sees it.
func (va *VertexAccessor) Labels() (map[LabelID]struct{}, error) {
	st := reconstructVertex(va.v, va.acc.txn.readCtx(ViewNew))
	if st == nil {
		return nil, ErrNotFound
	}
	return st.labels, nil
}

// Properties returns va's current property map as this transaction sees
// it.
func (va *VertexAccessor) Properties() (map[PropertyID]PropertyValue, error) {
	st := reconstructVertex(va.v, va.acc.txn.readCtx(ViewNew))
	if st == nil {
		return nil, ErrNotFound
	}
	return st.properties, nil
}

// AddLabel adds label to va, failing silently (returning nil) if already
// present — labels within a vertex are unique per spec.md §3, so adding a
// duplicate is not an error, just a no-op Delta-wise.
func (va *VertexAccessor) AddLabel(label LabelID) error {
	v := va.v
	a := va.acc
	v.mu.Lock()
	if _, ok := v.labels[label]; ok {
		v.mu.Unlock()
		return nil
	}
	if err := a.txn.checkWriteConflict(headStamp(v.deltaHead.Load())); err != nil {
		v.mu.Unlock()
		return err
	}
	v.labels[label] = struct{}{}
	d := newDelta(DeltaRemoveLabel, a.txn.txnID) // inverse of add
	d.Label = label
	d.installOnVertex(v)
	v.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectVertex, v.gid)
	a.txn.storage.schema.onAddLabel(va, label)
	return nil
}

// RemoveLabel removes label from va, a no-op if not present.
func (va *VertexAccessor) RemoveLabel(label LabelID) error {
	v := va.v
	a := va.acc
	v.mu.Lock()
	if _, ok := v.labels[label]; !ok {
		v.mu.Unlock()
		return nil
	}
	if err := a.txn.checkWriteConflict(headStamp(v.deltaHead.Load())); err != nil {
		v.mu.Unlock()
		return err
	}
	delete(v.labels, label)
	d := newDelta(DeltaAddLabel, a.txn.txnID) // inverse of remove
	d.Label = label
	d.installOnVertex(v)
	v.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectVertex, v.gid)
	a.txn.storage.schema.onRemoveLabel(va, label)
	return nil
}

// SetProperty sets va's key property to value (NullValue deletes it,
// matching RemoveProperty), enforcing Config.MaxPropertyValueBytes.
func (va *VertexAccessor) SetProperty(key PropertyID, value PropertyValue) error {
	if limit := va.acc.txn.storage.cfg.MaxPropertyValueBytes; limit > 0 && value.EncodedSize() > limit {
		return ErrPropertyValueTooLarge
	}
	v := va.v
	a := va.acc
	v.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(v.deltaHead.Load())); err != nil {
		v.mu.Unlock()
		return err
	}
	old, had := v.properties[key]
	if !had {
		old = NullValue()
	}
	if value.IsNull() {
		delete(v.properties, key)
	} else {
		v.properties[key] = value
	}
	d := newDelta(DeltaSetProperty, a.txn.txnID)
	d.PropertyKey = key
	d.PrevValue = old
	d.NewValue = value
	d.installOnVertex(v)
	v.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectVertex, v.gid)
	a.txn.storage.schema.onSetProperty(va, key, old, value)
	return nil
}

// RemoveProperty deletes va's key property, a no-op if unset.
func (va *VertexAccessor) RemoveProperty(key PropertyID) error {
	return va.SetProperty(key, NullValue())
}

// ---------------------------------------------------------------------------
// Edge operations
// ---------------------------------------------------------------------------

// EdgeAccessor is a transactional view of one edge.
type EdgeAccessor struct {
	e   *Edge
	acc *Accessor
}

func (ea *EdgeAccessor) GID() GID { return ea.e.gid }

// CreateEdge creates a directed edge of type typ from "from" to "to",
// recording adjacency on both endpoints. The three Deltas appended — a
// DeleteObject on the edge's own chain and a Remove*Edge on each endpoint
// (inverse of the Add the live adjacency lists just received) — are all
// part of this one transaction.
func (a *Accessor) CreateEdge(from, to *VertexAccessor, typ EdgeTypeID) (*EdgeAccessor, error) {
	if err := a.closedErr(); err != nil {
		return nil, err
	}
	s := a.txn.storage
	gid := GID(s.nextEdgeGID.Add(1))
	e := newEdge(gid, s.cfg.PropertiesOnEdges)

	e.mu.Lock()
	dEdge := newDelta(DeltaDeleteObject, a.txn.txnID)
	dEdge.EdgeType = typ
	dEdge.FromPeer = from.v
	dEdge.Peer = to.v
	dEdge.installOnEdge(e)
	e.mu.Unlock()
	a.txn.appendDelta(dEdge)
	s.edges.Insert(gid, e)

	from.v.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(from.v.deltaHead.Load())); err != nil {
		from.v.mu.Unlock()
		return nil, err
	}
	from.v.outEdges = append(from.v.outEdges, AdjacencyEntry{Type: typ, Peer: to.v, Edge: e})
	dOut := newDelta(DeltaRemoveOutEdge, a.txn.txnID)
	dOut.EdgeType = typ
	dOut.Peer = to.v
	dOut.Edge = e
	dOut.installOnVertex(from.v)
	from.v.mu.Unlock()
	a.txn.appendDelta(dOut)
	a.txn.recordModification(ObjectVertex, from.v.gid)

	to.v.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(to.v.deltaHead.Load())); err != nil {
		to.v.mu.Unlock()
		return nil, err
	}
	to.v.inEdges = append(to.v.inEdges, AdjacencyEntry{Type: typ, Peer: from.v, Edge: e})
	dIn := newDelta(DeltaRemoveInEdge, a.txn.txnID)
	dIn.EdgeType = typ
	dIn.Peer = from.v
	dIn.Edge = e
	dIn.installOnVertex(to.v)
	to.v.mu.Unlock()
	a.txn.appendDelta(dIn)
	a.txn.recordModification(ObjectVertex, to.v.gid)

	a.txn.recordModification(ObjectEdge, gid)
	return &EdgeAccessor{e: e, acc: a}, nil
}

// DeleteEdge removes the adjacency entries referencing e on both endpoints
// and marks e deleted. from/to must be the same endpoints CreateEdge was
// given; Accessor does not otherwise index edges by endpoint, mirroring
// spec.md §3's "endpoints ... stored in the adjacency lists of its
// incident vertices."
func (a *Accessor) DeleteEdge(ea *EdgeAccessor, from, to *VertexAccessor) error {
	if err := a.closedErr(); err != nil {
		return err
	}
	return a.deleteEdgeUnchecked(ea, from.v, to.v)
}

// deleteEdgeUnchecked is DeleteEdge without the closed check, used by
// DetachDeleteVertex (which has already validated the Accessor and
// already knows both endpoints from the AdjacencyEntry it is unwinding).
// It removes e's adjacency entry directly from from.outEdges and
// to.inEdges rather than scanning the whole vertex store for it.
func (a *Accessor) deleteEdgeUnchecked(ea *EdgeAccessor, from, to *Vertex) error {
	e := ea.e
	e.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(e.deltaHead.Load())); err != nil {
		e.mu.Unlock()
		return err
	}
	e.deleted = true
	dDel := newDelta(DeltaRecreateObject, a.txn.txnID)
	dDel.installOnEdge(e)
	e.mu.Unlock()
	a.txn.appendDelta(dDel)
	a.txn.recordModification(ObjectEdge, e.gid)

	from.mu.Lock()
	for i, adj := range from.outEdges {
		if adj.Edge == e {
			from.outEdges = append(from.outEdges[:i:i], from.outEdges[i+1:]...)
			d := newDelta(DeltaAddOutEdge, a.txn.txnID)
			d.EdgeType = adj.Type
			d.Peer = adj.Peer
			d.Edge = e
			d.installOnVertex(from)
			a.txn.appendDelta(d)
			a.txn.recordModification(ObjectVertex, from.gid)
			break
		}
	}
	from.mu.Unlock()

	to.mu.Lock()
	for i, adj := range to.inEdges {
		if adj.Edge == e {
			to.inEdges = append(to.inEdges[:i:i], to.inEdges[i+1:]...)
			d := newDelta(DeltaAddInEdge, a.txn.txnID)
			d.EdgeType = adj.Type
			d.Peer = adj.Peer
			d.Edge = e
			d.installOnVertex(to)
			a.txn.appendDelta(d)
			a.txn.recordModification(ObjectVertex, to.gid)
			break
		}
	}
	to.mu.Unlock()
	return nil
}

// Properties returns ea's current properties, or ErrPropertiesOnEdgesDisabled
// if Config.PropertiesOnEdges is false.
func (ea *EdgeAccessor) Properties() (map[PropertyID]PropertyValue, error) {
	if !ea.acc.txn.storage.cfg.PropertiesOnEdges {
		return nil, ErrPropertiesOnEdgesDisabled
	}
	st := reconstructEdge(ea.e, ea.acc.txn.readCtx(ViewNew))
	if st == nil {
		return nil, ErrNotFound
	}
	return st.properties, nil
}

// SetProperty sets ea's key property, or fails with
// ErrPropertiesOnEdgesDisabled.
func (ea *EdgeAccessor) SetProperty(key PropertyID, value PropertyValue) error {
	if !ea.acc.txn.storage.cfg.PropertiesOnEdges {
		return ErrPropertiesOnEdgesDisabled
	}
	if limit := ea.acc.txn.storage.cfg.MaxPropertyValueBytes; limit > 0 && value.EncodedSize() > limit {
		return ErrPropertyValueTooLarge
	}
	e := ea.e
	a := ea.acc
	e.mu.Lock()
	if err := a.txn.checkWriteConflict(headStamp(e.deltaHead.Load())); err != nil {
		e.mu.Unlock()
		return err
	}
	old, had := e.properties[key]
	if !had {
		old = NullValue()
	}
	if value.IsNull() {
		delete(e.properties, key)
	} else {
		e.properties[key] = value
	}
	d := newDelta(DeltaSetProperty, a.txn.txnID)
	d.PropertyKey = key
	d.PrevValue = old
	d.NewValue = value
	d.installOnEdge(e)
	e.mu.Unlock()

	a.txn.appendDelta(d)
	a.txn.recordModification(ObjectEdge, e.gid)
	return nil
}

// RemoveProperty deletes ea's key property.
func (ea *EdgeAccessor) RemoveProperty(key PropertyID) error {
	return ea.SetProperty(key, NullValue())
}

func headStamp(head *Delta) (uint64, bool) {
	if head == nil {
		return 0, false
	}
	return head.Stamp(), true
}

// ---------------------------------------------------------------------------
// Commit / Abort
// ---------------------------------------------------------------------------

// Commit runs the spec.md §4.5 commit protocol: validate constraints,
// acquire a commit timestamp, write the WAL record, re-stamp every Delta
// from this transaction's id to the commit timestamp, and retire the
// transaction. On any failure before the re-stamp step, the transaction
// is left untouched and the caller should Abort it.
func (a *Accessor) Commit() error {
	if err := a.closedErr(); err != nil {
		return err
	}
	s := a.txn.storage

	if err := s.schema.onPreCommitValidate(a); err != nil {
		return err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	commitTS := s.clock.next()

	if s.wal != nil {
		if err := s.wal.appendTransaction(a.txn, commitTS); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	for _, d := range a.txn.deltas {
		d.stamp.Store(commitTS)
	}
	a.txn.commitTS = commitTS
	a.txn.committed = true

	s.txnsMu.Lock()
	delete(s.liveTxns, a.txn.txnID)
	s.txnsMu.Unlock()

	s.gcInbox.enqueue(a.txn)
	return nil
}

// Abort walks the transaction's Deltas in reverse-install order, applying
// each inverse directly to the live object (undoing the write) and
// unlinking it from the chain, then discards the transaction.
func (a *Accessor) Abort() error {
	if err := a.closedErr(); err != nil {
		return err
	}
	t := a.txn
	for i := len(t.deltas) - 1; i >= 0; i-- {
		d := t.deltas[i]
		abortDelta(d)
	}
	t.aborted = true

	s := t.storage
	s.txnsMu.Lock()
	delete(s.liveTxns, t.txnID)
	s.txnsMu.Unlock()

	s.gcInbox.enqueue(t)
	return nil
}

// abortDelta undoes d's forward effect on its live owner and unlinks it.
func abortDelta(d *Delta) {
	switch {
	case d.Prev.vertex != nil:
		v := d.Prev.vertex
		v.mu.Lock()
		applyAbortToVertex(v, d)
		d.unlink()
		v.mu.Unlock()
	case d.Prev.edge != nil:
		e := d.Prev.edge
		e.mu.Lock()
		applyAbortToEdge(e, d)
		d.unlink()
		e.mu.Unlock()
	case d.Prev.delta != nil:
		// d is not the chain head; its owner object was already locked
		// and mutated when we processed the Delta that is now the head
		// (deltas are undone newest-first, so by the time we reach a
		// non-head Delta its effect has already been reverted as part
		// of unwinding the head). Just unlink it.
		d.unlink()
	}
}

func applyAbortToVertex(v *Vertex, d *Delta) {
	switch d.Kind {
	case DeltaDeleteObject:
		// This Delta's forward op was CreateVertex: the vertex must not
		// exist after the abort, so it is left deleted (and chainless)
		// for the garbage collector to reclaim.
		v.deleted = true
	case DeltaRecreateObject:
		v.deleted = false
	case DeltaSetProperty:
		// d.PrevValue is *this* delta's own pre-write value; find what
		// the property held immediately before this write by applying
		// its own inverse (i.e. restore PrevValue), since this is the
		// newest delta for that key by construction (newest Deltas are
		// undone first).
		if d.PrevValue.IsNull() {
			delete(v.properties, d.PropertyKey)
		} else {
			v.properties[d.PropertyKey] = d.PrevValue
		}
	case DeltaRemoveLabel:
		// Forward op was AddLabel; d.Label is the label that was added.
		delete(v.labels, d.Label)
	case DeltaAddLabel:
		// Forward op was RemoveLabel.
		v.labels[d.Label] = struct{}{}
	case DeltaRemoveOutEdge:
		// Forward op appended to outEdges.
		v.outEdges = removeAdjacency(v.outEdges, d.Edge)
	case DeltaRemoveInEdge:
		v.inEdges = removeAdjacency(v.inEdges, d.Edge)
	case DeltaAddOutEdge:
		// Forward op removed from outEdges (edge delete); restore it.
		v.outEdges = append(v.outEdges, AdjacencyEntry{Type: d.EdgeType, Peer: d.Peer, Edge: d.Edge})
	case DeltaAddInEdge:
		v.inEdges = append(v.inEdges, AdjacencyEntry{Type: d.EdgeType, Peer: d.Peer, Edge: d.Edge})
	}
}

func applyAbortToEdge(e *Edge, d *Delta) {
	switch d.Kind {
	case DeltaDeleteObject:
		e.deleted = true
	case DeltaRecreateObject:
		e.deleted = false
	case DeltaSetProperty:
		if e.properties == nil {
			return
		}
		if d.PrevValue.IsNull() {
			delete(e.properties, d.PropertyKey)
		} else {
			e.properties[d.PropertyKey] = d.PrevValue
		}
	}
}
