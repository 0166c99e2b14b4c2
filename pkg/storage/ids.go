package storage

import (
	"sync"
)

// LabelID, EdgeTypeID, and PropertyID are the interned identifiers that
// replace label, edge-type, and property-key strings throughout the engine.
// Keeping them as distinct types (rather than a shared alias) means the
// compiler catches a label accidentally used where a property key was
// expected.
type (
	LabelID    uint64
	EdgeTypeID uint64
	PropertyID uint64
)

// NameIDMapper is a bijective, append-only mapping between interned string
// names and small integer identifiers. Storage keeps three independent
// mappers — one each for vertex labels, edge types, and property keys —
// since those are separate namespaces (a label named "name" and a property
// named "name" get unrelated ids).
//
// Insertion (NameToID for a name not yet seen) takes a write lock. Lookups
// that hit an existing entry only need a read lock, and once an id has been
// assigned it is never reused or renumbered, so callers may cache ids
// returned by NameToID indefinitely.
type NameIDMapper struct {
	mu       sync.RWMutex
	nameToID map[string]uint64
	idToName []string // idToName[id] == name; ids are assigned 0, 1, 2, ...
}

// NewNameIDMapper returns an empty mapper.
func NewNameIDMapper() *NameIDMapper {
	return &NameIDMapper{
		nameToID: make(map[string]uint64),
	}
}

// NameToID interns name, returning its id. If name has not been seen
// before, a new id is allocated (len(idToName) at the time of insertion)
// and the mapping is recorded permanently.
func (m *NameIDMapper) NameToID(name string) uint64 {
	m.mu.RLock()
	if id, ok := m.nameToID[name]; ok {
		m.mu.RUnlock()
		return id
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another writer may have interned it while we waited for
	// the write lock.
	if id, ok := m.nameToID[name]; ok {
		return id
	}
	id := uint64(len(m.idToName))
	m.idToName = append(m.idToName, name)
	m.nameToID[name] = id
	return id
}

// LookupID returns the id already assigned to name, without creating one.
func (m *NameIDMapper) LookupID(name string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nameToID[name]
	return id, ok
}

// IDToName resolves an id back to its name. ok is false if id is beyond
// the ids this mapper has assigned.
func (m *NameIDMapper) IDToName(id uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id >= uint64(len(m.idToName)) {
		return "", false
	}
	return m.idToName[id], true
}

// Len returns the number of interned names.
func (m *NameIDMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idToName)
}

// Each calls fn once per (id, name) pair currently interned, in id order.
// Used by the snapshot writer (writeMapperSection), which persists every
// interned name.
func (m *NameIDMapper) Each(fn func(id uint64, name string)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, name := range m.idToName {
		fn(uint64(id), name)
	}
}

// Restore re-interns a (id, name) pair read back from a snapshot. It is
// used only during recovery, before the mapper is exposed to any other
// goroutine, so it skips the usual existence checks and trusts the caller
// to supply a dense, gap-free sequence of ids starting at 0 — recovery
// always does, because the writer emitted them that way.
func (m *NameIDMapper) Restore(id uint64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uint64(len(m.idToName)) <= id {
		m.idToName = append(m.idToName, "")
	}
	m.idToName[id] = name
	m.nameToID[name] = id
}
