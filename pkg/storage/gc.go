package storage

import (
	"sync"
	"sync/atomic"
)

// gcInbox collects transactions as they finish (commit or abort) so the
// garbage collector can prune the Deltas they left behind without having
// to rediscover which objects changed by scanning the whole store.
// Mirrors the queue hyper-light-sylk's MVCCStore keeps per finished
// transaction, simplified to just the (kind, gid) pairs gc.go actually
// needs.
type gcInbox struct {
	mu    sync.Mutex
	items []modKey
}

func newGCInbox() *gcInbox { return &gcInbox{} }

func (b *gcInbox) enqueue(t *transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range t.modifiedObjects {
		b.items = append(b.items, k)
	}
}

// drain returns everything enqueued so far and empties the inbox.
func (b *gcInbox) drain() []modKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// GCMode selects whether gcVertex/gcEdge need to take the object's own
// lock while pruning. Cooperative takes it, since some live transaction
// might be concurrently reconstructing that object's visible state.
// Exclusive skips it: runGCCycle only chooses Exclusive while holding
// txnsMu for the rest of the cycle with liveTxns already empty, which
// blocks txn.go's begin() from registering a new transaction until the
// cycle finishes, so no reader can exist that might be mid-reconstruction.
type GCMode int

const (
	GCCooperative GCMode = iota
	GCExclusive
)

// GCStats summarizes one cycle, returned to callers (the CLI "gc"
// subcommand, tests) that want to observe progress.
type GCStats struct {
	DeltasUnlinked   int
	ObjectsReclaimed int
	OldestActiveTS   uint64
}

// RunGC triggers one garbage-collection cycle immediately, outside the
// background gcLoop's ticker, for callers (the CLI "gc" subcommand) that
// want a synchronous collection and its stats rather than waiting for the
// next tick.
func (s *Storage) RunGC() GCStats { return s.runGCCycle() }

// runGCCycle implements spec.md §4.11: compute the oldest timestamp any
// live transaction could still need to see (every Delta stamped older
// than that is unreachable by any future read), then unlink Deltas older
// than it from every object the inbox has recorded as modified since the
// last cycle, and physically remove any object left both deleted and
// chainless.
func (s *Storage) runGCCycle() GCStats {
	oldest, mode, unlock := s.beginGCWindow()
	defer unlock()

	items := s.gcInbox.drain()

	seen := make(map[modKey]struct{}, len(items))
	var stats GCStats
	stats.OldestActiveTS = oldest

	for _, k := range items {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		switch k.kind {
		case ObjectVertex:
			v, ok := s.vertices.Find(k.gid)
			if !ok {
				continue
			}
			unlinked, reclaim := gcVertex(v, oldest, mode)
			stats.DeltasUnlinked += unlinked
			if reclaim {
				s.vertices.Delete(k.gid)
				stats.ObjectsReclaimed++
			}
		case ObjectEdge:
			e, ok := s.edges.Find(k.gid)
			if !ok {
				continue
			}
			unlinked, reclaim := gcEdge(e, oldest, mode)
			stats.DeltasUnlinked += unlinked
			if reclaim {
				s.edges.Delete(k.gid)
				stats.ObjectsReclaimed++
			}
		}
	}
	return stats
}

// beginGCWindow computes the horizon below which no reader will ever
// again need an inverse Delta, and picks this cycle's GCMode: if no
// transaction is live right now, it stays in Exclusive mode and keeps
// txnsMu locked for the rest of the cycle (the returned unlock releases
// it), so txn.go's begin() blocks any new transaction from registering
// until pruning finishes and gcVertex/gcEdge can skip their per-object
// lock. Otherwise it unlocks immediately and returns Cooperative, relying
// on each object's own lock for safety against the transactions that are
// live.
func (s *Storage) beginGCWindow() (oldest uint64, mode GCMode, unlock func()) {
	s.txnsMu.Lock()
	if len(s.liveTxns) == 0 {
		return s.clock.peek(), GCExclusive, s.txnsMu.Unlock
	}
	oldest = ^uint64(0)
	for _, t := range s.liveTxns {
		if ts := t.startTS.Load(); ts < oldest {
			oldest = ts
		}
	}
	s.txnsMu.Unlock()
	return oldest, GCCooperative, func() {}
}

// gcVertex prunes v's delta chain via pruneChain: the newest committed
// Delta whose stamp is <= oldest and everything older than it are
// unlinked, since every live reader's reconstruction stops before
// applying any of them; the Deltas newer than it are kept. Returns the
// number of Deltas unlinked and whether v itself (deleted, with no
// remaining Deltas) can be physically removed.
func gcVertex(v *Vertex, oldest uint64, mode GCMode) (unlinked int, reclaim bool) {
	if mode == GCCooperative {
		v.mu.Lock()
		defer v.mu.Unlock()
	}
	unlinked = pruneChain(&v.deltaHead, oldest)
	return unlinked, v.deleted && v.deltaHead.Load() == nil
}

func gcEdge(e *Edge, oldest uint64, mode GCMode) (unlinked int, reclaim bool) {
	if mode == GCCooperative {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	unlinked = pruneChain(&e.deltaHead, oldest)
	return unlinked, e.deleted && e.deltaHead.Load() == nil
}

// pruneChain walks head looking for the first Delta whose committed
// stamp is <= oldest — the point at which every live reader's visibility
// walk would already have stopped without applying that Delta's
// inverse, per isolation.go's reconstruction loop — and cuts the chain
// there, unlinking it and everything older. Caller holds the owning
// object's lock. Deltas still carrying a transaction id (uncommitted)
// are never cut, since GC only runs after the transaction that produced
// them has retired from liveTxns, except for other, still-live
// transactions' own newer writes further up the same chain.
func pruneChain(head *atomic.Pointer[Delta], oldest uint64) int {
	var prev *Delta
	d := head.Load()
	for d != nil {
		stamp := d.Stamp()
		if !isTxnStamp(stamp) && stamp <= oldest {
			break
		}
		prev = d
		d = d.Next
	}
	if d == nil {
		return 0
	}
	unlinked := 0
	for cur := d; cur != nil; {
		next := cur.Next
		cur.Next = nil
		cur.Prev = deltaOwner{}
		unlinked++
		cur = next
	}
	if prev == nil {
		head.Store(nil)
	} else {
		prev.Next = nil
	}
	return unlinked
}
