package storage

import (
	"sync/atomic"
)

// DeltaKind tags the variant of a Delta, i.e. which write it is the
// inverse of. See Delta for the full list and field usage per kind.
type DeltaKind uint8

const (
	DeltaRecreateObject DeltaKind = iota // inverse of DeleteVertex/DeleteEdge
	DeltaDeleteObject                    // inverse of CreateVertex/CreateEdge
	DeltaSetProperty                     // inverse of SetProperty/RemoveProperty
	DeltaAddLabel                        // inverse of RemoveLabel
	DeltaRemoveLabel                     // inverse of AddLabel
	DeltaAddInEdge                       // inverse of removing an in-adjacency entry
	DeltaAddOutEdge                      // inverse of removing an out-adjacency entry
	DeltaRemoveInEdge                    // inverse of adding an in-adjacency entry
	DeltaRemoveOutEdge                   // inverse of adding an out-adjacency entry
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaRecreateObject:
		return "RecreateObject"
	case DeltaDeleteObject:
		return "DeleteObject"
	case DeltaSetProperty:
		return "SetProperty"
	case DeltaAddLabel:
		return "AddLabel"
	case DeltaRemoveLabel:
		return "RemoveLabel"
	case DeltaAddInEdge:
		return "AddInEdge"
	case DeltaAddOutEdge:
		return "AddOutEdge"
	case DeltaRemoveInEdge:
		return "RemoveInEdge"
	case DeltaRemoveOutEdge:
		return "RemoveOutEdge"
	default:
		return "Unknown"
	}
}

// txnIDBit marks a Delta.stamp as carrying an in-flight transaction id
// rather than a committed timestamp. Transaction ids and commit timestamps
// are drawn from disjoint ranges this way: a committed timestamp is always
// a small-ish monotonic counter value with the high bit clear, and an
// in-flight txn id always has it set. stampAsTxn/isTxnStamp/txnCounterOf
// below are the only places that should touch the bit directly.
const txnIDBit = uint64(1) << 63

func stampAsTxn(txnCounter uint64) uint64 { return txnCounter | txnIDBit }
func isTxnStamp(stamp uint64) bool        { return stamp&txnIDBit != 0 }
func txnCounterOf(stamp uint64) uint64    { return stamp &^ txnIDBit }

// deltaOwner is the tagged "prev" pointer Design Notes §9 calls for: the
// thing that links back to this Delta, which is either the object it
// directly versions (for the chain head) or the next-newer Delta in the
// chain (for everything else). Exactly one field is non-nil.
type deltaOwner struct {
	vertex *Vertex
	edge   *Edge
	delta  *Delta
}

// Delta is a version record: the inverse of the write that produced the
// object's current state. Delta chains are linked newest-to-oldest via
// Next; walking a chain from an object's head and applying each Delta's
// inverse operation reconstructs the object as of some earlier timestamp
// (see reconstructVertex/reconstructEdge in isolation.go).
//
// Fields below Next/Prev are a flat union: only the ones relevant to Kind
// are meaningful, following the style of this package's other
// tagged-union types (PropertyValue, WAL records).
type Delta struct {
	Kind      DeltaKind
	stamp     atomic.Uint64 // txn id (high bit set) until commit, then commit timestamp
	Next      *Delta        // next-older Delta in the chain, or nil at the tail
	Prev      deltaOwner    // the object or Delta this one was linked in front of
	OwnerGID  GID           // the vertex or edge this Delta versions, cached at install time
	OwnerKind ObjectKind    // ObjectVertex or ObjectEdge, cached at install time

	// DeltaSetProperty
	PropertyKey PropertyID
	PrevValue   PropertyValue // the value being restored by this Delta's inverse
	NewValue    PropertyValue // the value the forward write installed; carried only for the WAL

	// DeltaAddLabel / DeltaRemoveLabel
	Label LabelID

	// DeltaAdd*Edge / DeltaRemove*Edge
	EdgeType EdgeTypeID
	Peer     *Vertex // the other endpoint of the adjacency entry
	Edge     *Edge

	// DeltaDeleteObject on an edge's own chain: the edge's endpoints and
	// type, carried here (rather than only on the endpoints' adjacency
	// Deltas) so walRecordForDelta can emit a self-contained EDGE_CREATE
	// record. FromPeer/Peer double as "from"/"to" in that case.
	FromPeer *Vertex
}

// Stamp returns the Delta's current timestamp, which is a transaction id
// (IsTxn true) before commit and a commit timestamp (IsTxn false) after
// Accessor.Commit re-stamps it.
func (d *Delta) Stamp() uint64    { return d.stamp.Load() }
func (d *Delta) IsTxn() bool      { return isTxnStamp(d.stamp.Load()) }
func (d *Delta) TxnID() uint64    { return d.stamp.Load() }
func (d *Delta) CommitTS() uint64 { return d.stamp.Load() }

func newDelta(kind DeltaKind, txnID uint64) *Delta {
	d := &Delta{Kind: kind}
	d.stamp.Store(txnID)
	return d
}

// installOnVertex links d as the new head of v's delta chain: d.Prev
// becomes v and the old head's Prev becomes d. Callers must hold v.mu — see
// Vertex.lock in object.go — which is storage's one piece of actual mutual
// exclusion for writers; readers instead take an atomic load of
// v.deltaHead and never block.
func (d *Delta) installOnVertex(v *Vertex) {
	head := v.deltaHead.Load()
	d.Prev = deltaOwner{vertex: v}
	if head != nil {
		head.Prev = deltaOwner{delta: d}
	}
	d.Next = head
	d.OwnerGID = v.gid
	d.OwnerKind = ObjectVertex
	v.deltaHead.Store(d)
}

// installOnEdge is installOnVertex's edge counterpart.
func (d *Delta) installOnEdge(e *Edge) {
	head := e.deltaHead.Load()
	d.Prev = deltaOwner{edge: e}
	if head != nil {
		head.Prev = deltaOwner{delta: d}
	}
	d.Next = head
	d.OwnerGID = e.gid
	d.OwnerKind = ObjectEdge
	e.deltaHead.Store(d)
}

// unlink removes d from whatever chain it is still part of by pointing
// d.Prev directly at d.Next, used by abortDelta in accessor.go (undoing
// an uncommitted write). The garbage collector's pruneChain cuts chains
// itself and does not call it. Must be called under the owning object's
// lock.
func (d *Delta) unlink() {
	switch {
	case d.Prev.vertex != nil:
		d.Prev.vertex.deltaHead.Store(d.Next)
	case d.Prev.edge != nil:
		d.Prev.edge.deltaHead.Store(d.Next)
	case d.Prev.delta != nil:
		d.Prev.delta.Next = d.Next
	}
	if d.Next != nil {
		d.Next.Prev = d.Prev
	}
}
