package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// logicalClock is the 64-bit monotonic counter spec.md §3 describes:
// transaction start timestamps, commit timestamps, and (with the high bit
// set, see txnIDBit) in-flight transaction ids are all drawn from this one
// sequence.
type logicalClock struct {
	counter atomic.Uint64
}

// next returns a freshly allocated, strictly increasing counter value.
func (c *logicalClock) next() uint64 { return c.counter.Add(1) }

// peek returns the most recently allocated value without allocating a new
// one.
func (c *logicalClock) peek() uint64 { return c.counter.Load() }

// seed advances the clock to at least v, used by recovery (spec.md §4.10)
// to resume numbering above every timestamp seen in the snapshot and WAL.
func (c *logicalClock) seed(v uint64) {
	for {
		cur := c.counter.Load()
		if cur >= v {
			return
		}
		if c.counter.CompareAndSwap(cur, v) {
			return
		}
	}
}

// modKey is the (kind, gid) pair a Transaction records in modifiedObjects,
// used for conflict bookkeeping and to tell the GC which objects a
// finished transaction touched.
type modKey struct {
	kind ObjectKind
	gid  GID
}

// transaction is the Transaction Manager's bookkeeping record for one
// in-flight or just-finished unit of work: its id/timestamps, the Deltas
// it owns, and which objects it touched. The user-facing handle wrapping
// it is Accessor (accessor.go); transaction itself has no exported
// methods, matching Design Notes §9's preference for a small sum type at
// the Storage boundary over an inheritance hierarchy.
type transaction struct {
	storage *Storage

	txnID     uint64 // stamp with txnIDBit set
	startTS   atomic.Uint64
	commitTS  uint64
	isolation IsolationLevel

	mu              sync.Mutex
	deltas          []*Delta // owned by this transaction until commit/abort
	modifiedObjects map[modKey]struct{}
	committed       bool
	aborted         bool
}

func (s *Storage) beginTransaction(isolation IsolationLevel) *transaction {
	txnCounter := s.txnCounter.Add(1)
	t := &transaction{
		storage:         s,
		txnID:           stampAsTxn(txnCounter),
		isolation:       isolation,
		modifiedObjects: make(map[modKey]struct{}),
	}
	t.startTS.Store(s.clock.next())

	s.txnsMu.Lock()
	s.liveTxns[t.txnID] = t
	s.txnsMu.Unlock()
	return t
}

// readCtx builds the readContext the visibility rule needs for the
// transaction's current state. READ_COMMITTED refreshes startTS to "now"
// on every read (spec.md §4.6); the other two levels pin it at the value
// taken in beginTransaction.
func (t *transaction) readCtx(view View) readContext {
	startTS := t.startTS.Load()
	if t.isolation == ReadCommitted {
		startTS = t.storage.clock.peek()
		t.startTS.Store(startTS)
	}
	return readContext{
		txnID:     t.txnID,
		startTS:   startTS,
		isolation: t.isolation,
		view:      view,
	}
}

// recordModification notes that this transaction touched (kind, gid),
// for the benefit of the garbage collector once the transaction finishes.
func (t *transaction) recordModification(kind ObjectKind, gid GID) {
	t.mu.Lock()
	t.modifiedObjects[modKey{kind: kind, gid: gid}] = struct{}{}
	t.mu.Unlock()
}

// appendDelta records d as owned by this transaction, separately from
// linking it onto the object's chain (callers must also call
// d.installOnVertex/installOnEdge).
func (t *transaction) appendDelta(d *Delta) {
	t.mu.Lock()
	t.deltas = append(t.deltas, d)
	t.mu.Unlock()
}

// checkWriteConflict implements spec.md §4.5's conflict detection: a
// writer observing that the chain head it is about to extend has a stamp
// newer than its own start timestamp, or belongs to a different live
// transaction, must fail with ErrSerialization rather than proceed.
// Callers hold the object's lock while calling this and while installing
// their own Delta, so the check-then-install is atomic with respect to
// other writers (though not to readers, who don't need it to be: they
// only ever walk the chain that already exists).
func (t *transaction) checkWriteConflict(headStamp uint64, hasHead bool) error {
	if t.storage.cfg.StorageMode == StorageModeAnalytical {
		return nil // single-writer bulk load: no concurrent writer to conflict with
	}
	if !hasHead {
		return nil
	}
	if isTxnStamp(headStamp) {
		if headStamp == t.txnID {
			return nil // our own prior write to this object
		}
		return fmt.Errorf("%w: object locked by another transaction", ErrSerialization)
	}
	if headStamp > t.startTS.Load() {
		return fmt.Errorf("%w: object modified after this transaction started", ErrSerialization)
	}
	return nil
}
