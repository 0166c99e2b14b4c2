package storage

import (
	"sync"
	"sync/atomic"
)

// GID is a global, monotonically-allocated identifier for a vertex or an
// edge. Vertex GIDs and edge GIDs are drawn from separate counters (see
// Storage.nextVertexGID/nextEdgeGID), so a Vertex and an Edge may share the
// same numeric GID without colliding — callers that need a single key
// always pair a GID with its ObjectKind.
type GID uint64

// ObjectKind distinguishes a vertex GID from an edge GID, e.g. in
// Transaction.modified, which tracks (kind, gid) pairs so GC and conflict
// detection know which store to look in.
type ObjectKind uint8

const (
	ObjectVertex ObjectKind = iota
	ObjectEdge
)

// AdjacencyEntry is one entry of a vertex's in_edges or out_edges sequence:
// the edge's type, the peer vertex at the other end, and the edge object
// itself. Storing direct pointers (rather than re-resolving by GID on every
// traversal) is the "stable address" arena design Design Notes §9 calls
// for — vertices and edges live in a skip list that never relocates a
// node's payload after insertion, so these pointers stay valid until the
// garbage collector physically removes the pointee.
type AdjacencyEntry struct {
	Type EdgeTypeID
	Peer *Vertex
	Edge *Edge
}

// Vertex is the live (head) state of a graph vertex. The delta chain
// reachable from deltaHead reconstructs earlier states for readers whose
// start timestamp precedes the latest committed write; Vertex itself
// always holds the very latest state, committed or not.
//
// Field mutation protocol: any write to labels, properties, inEdges,
// outEdges, or deleted must hold mu, append a Delta describing the
// inverse, and link that Delta onto deltaHead, in that order, so a
// concurrent reader's chain walk never observes a state change without
// the Delta that would undo it. Reads of deltaHead itself are lock-free
// (atomic.Pointer); reads of the other fields must also hold mu, or go
// through a reconstructed copy (see accessor.go) rather than the live
// struct.
type Vertex struct {
	gid        GID
	mu         sync.Mutex
	labels     map[LabelID]struct{}
	properties map[PropertyID]PropertyValue
	inEdges    []AdjacencyEntry
	outEdges   []AdjacencyEntry
	deleted    bool
	deltaHead  atomic.Pointer[Delta]
}

func newVertex(gid GID) *Vertex {
	return &Vertex{
		gid:        gid,
		labels:     make(map[LabelID]struct{}),
		properties: make(map[PropertyID]PropertyValue),
	}
}

func (v *Vertex) GID() GID { return v.gid }

// snapshotLocked copies the fields a reconstruction walk needs to mutate
// without disturbing the live object. Caller must hold v.mu.
func (v *Vertex) snapshotLocked() *vertexState {
	st := &vertexState{
		labels:     make(map[LabelID]struct{}, len(v.labels)),
		properties: make(map[PropertyID]PropertyValue, len(v.properties)),
		inEdges:    append([]AdjacencyEntry(nil), v.inEdges...),
		outEdges:   append([]AdjacencyEntry(nil), v.outEdges...),
		deleted:    v.deleted,
	}
	for l := range v.labels {
		st.labels[l] = struct{}{}
	}
	for k, p := range v.properties {
		st.properties[k] = p
	}
	return st
}

// vertexState is a detached, mutable copy of a Vertex's fields, produced
// by reconstruction (isolation.go) as it walks the delta chain backwards
// in time. It is never shared and needs no lock.
type vertexState struct {
	labels     map[LabelID]struct{}
	properties map[PropertyID]PropertyValue
	inEdges    []AdjacencyEntry
	outEdges   []AdjacencyEntry
	deleted    bool
}

// Edge is the live state of a directed edge. Its endpoints and type are
// not stored here — they live in the adjacency lists of the two incident
// vertices — so Edge carries only the things that can themselves be
// versioned: properties (absent when Config.PropertiesOnEdges is false)
// and the deleted flag. An Edge record, with its own delta chain, is
// allocated for every edge, including when properties-on-edges is
// disabled.
type Edge struct {
	gid        GID
	mu         sync.Mutex
	properties map[PropertyID]PropertyValue // nil when properties-on-edges is disabled
	deleted    bool
	deltaHead  atomic.Pointer[Delta]
}

func newEdge(gid GID, propertiesOnEdges bool) *Edge {
	e := &Edge{gid: gid}
	if propertiesOnEdges {
		e.properties = make(map[PropertyID]PropertyValue)
	}
	return e
}

func (e *Edge) GID() GID { return e.gid }

func (e *Edge) snapshotLocked() *edgeState {
	st := &edgeState{deleted: e.deleted}
	if e.properties != nil {
		st.properties = make(map[PropertyID]PropertyValue, len(e.properties))
		for k, p := range e.properties {
			st.properties[k] = p
		}
	}
	return st
}

type edgeState struct {
	properties map[PropertyID]PropertyValue
	deleted    bool
}
