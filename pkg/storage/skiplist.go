package storage

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// skipListMaxLevel bounds how tall the list can grow. 32 levels comfortably
// covers the billions of vertices/edges a single process could hold before
// anything else (memory) becomes the limit.
const skipListMaxLevel = 32

// skipListP is the promotion probability; 1/4 is the usual compromise
// between search depth and per-node overhead (Pugh's original paper uses
// the same value).
const skipListP = 0.25

// skipListNode is one entry of the list. next is a slice of
// atomic.Pointer so that Find and Range can walk the structure with plain
// atomic loads while Insert is in progress elsewhere — the only field that
// changes after a node is spliced in is a predecessor's next[i], written
// with Store under SkipList.mu.
type skipListNode[V any] struct {
	gid  GID
	val  V
	next []atomic.Pointer[skipListNode[V]]
}

// SkipList is the concurrent, GID-ordered container spec.md §4.4 asks for:
// insert(gid, obj), find(gid), and GID-ordered iteration, used once for the
// vertex store and once for the edge store. Physical removal (Delete) is
// reserved for the garbage collector.
//
// Structural changes (Insert, Delete) are serialized by mu. Find and Range
// take no lock at all: they only ever follow next pointers with atomic
// loads, and a node already spliced into the list never has its own
// fields mutated again, so a reader can run fully concurrently with an
// Insert elsewhere in the list. This is a deliberately simpler cousin of
// the per-node-locked skip list spec.md §4.4 sketches.
type SkipList[V any] struct {
	mu     sync.Mutex
	head   *skipListNode[V]
	rndMu  sync.Mutex
	rnd    *rand.Rand
	length atomic.Int64
}

// NewSkipList returns an empty list.
func NewSkipList[V any]() *SkipList[V] {
	head := &skipListNode[V]{
		next: make([]atomic.Pointer[skipListNode[V]], skipListMaxLevel),
	}
	return &SkipList[V]{
		head: head,
		rnd:  rand.New(rand.NewSource(0x6d656d6772617068)),
	}
}

func (s *SkipList[V]) randomLevel() int {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	level := 1
	for level < skipListMaxLevel && s.rnd.Float64() < skipListP {
		level++
	}
	return level
}

func loadNext[V any](n *skipListNode[V], level int) *skipListNode[V] {
	if level >= len(n.next) {
		return nil
	}
	return n.next[level].Load()
}

// search returns, for every level, the rightmost node whose gid is less
// than target (preds) and the node immediately after it (succs, which is
// nil at a level if target would be appended at the end). It always walks
// all skipListMaxLevel levels starting from head, which has a full-size
// next array regardless of how tall the list has grown in practice.
func (s *SkipList[V]) search(target GID) (preds, succs [skipListMaxLevel]*skipListNode[V]) {
	x := s.head
	for i := skipListMaxLevel - 1; i >= 0; i-- {
		next := loadNext(x, i)
		for next != nil && next.gid < target {
			x = next
			next = loadNext(x, i)
		}
		preds[i] = x
		succs[i] = next
	}
	return preds, succs
}

// Find returns the object stored under gid, if any.
func (s *SkipList[V]) Find(gid GID) (V, bool) {
	x := s.head
	for i := skipListMaxLevel - 1; i >= 0; i-- {
		next := loadNext(x, i)
		for next != nil && next.gid < gid {
			x = next
			next = loadNext(x, i)
		}
	}
	next := loadNext(x, 0)
	if next != nil && next.gid == gid {
		return next.val, true
	}
	var zero V
	return zero, false
}

// Insert adds gid -> val. Returns false without modifying the list if gid
// is already present (callers that want upsert semantics should Delete
// first, or store a mutable pointer type as V and mutate through Find).
func (s *SkipList[V]) Insert(gid GID, val V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preds, succs := s.search(gid)
	if succs[0] != nil && succs[0].gid == gid {
		return false
	}

	level := s.randomLevel()
	node := &skipListNode[V]{
		gid:  gid,
		val:  val,
		next: make([]atomic.Pointer[skipListNode[V]], level),
	}
	for i := 0; i < level; i++ {
		node.next[i].Store(succs[i])
		preds[i].next[i].Store(node)
	}
	s.length.Add(1)
	return true
}

// Delete physically removes gid from the list. Only the garbage collector
// should call this — see gc.go — since the store otherwise only ever marks
// objects logically deleted via a Delta.
func (s *SkipList[V]) Delete(gid GID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preds, succs := s.search(gid)
	target := succs[0]
	if target == nil || target.gid != gid {
		return false
	}
	for i := range target.next {
		preds[i].next[i].Store(loadNext(target, i))
	}
	s.length.Add(-1)
	return true
}

// Len returns the current number of entries.
func (s *SkipList[V]) Len() int { return int(s.length.Load()) }

// Range calls fn once per entry in ascending GID order, stopping early if
// fn returns false. Range does not lock the list: it is safe to run
// concurrently with Insert, and will see any entry inserted strictly
// before Range reached that position in the list, per the usual
// lock-free linked traversal guarantee.
func (s *SkipList[V]) Range(fn func(gid GID, val V) bool) {
	x := loadNext(s.head, 0)
	for x != nil {
		if !fn(x.gid, x.val) {
			return
		}
		x = loadNext(x, 0)
	}
}

// Max returns the highest GID currently stored, used by recovery to seed
// the GID counters to max+1 per kind.
func (s *SkipList[V]) Max() (GID, bool) {
	var max GID
	found := false
	// Walk the top levels to reach near the tail quickly, then follow
	// level 0 to the true last node.
	x := s.head
	for i := skipListMaxLevel - 1; i >= 0; i-- {
		next := loadNext(x, i)
		for next != nil {
			x = next
			found = true
			max = x.gid
			next = loadNext(x, i)
		}
	}
	return max, found
}
