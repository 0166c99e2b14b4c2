package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Config carries the settings spec.md §6 and §4.11 expose at the Storage
// boundary. Open fills in DefaultConfig's value for every numeric and
// duration field left at zero, matching the teacher's config-with-defaults
// convention (see pkg/config). The bool fields (PropertiesOnEdges,
// WALEnabled, WALIndexEnabled) are used exactly as given, so a zero Config
// runs with properties on edges disabled and writes no WAL.
// StorageMode selects the durability/conflict-checking tradeoff spec.md §6
// names: IN_MEMORY_TRANSACTIONAL keeps the full WAL and write-conflict
// checks the rest of this package implements; IN_MEMORY_ANALYTICAL is for
// single-writer bulk loads and turns both off so a large import isn't
// paying for either, at the cost of losing durability and serialization
// guarantees until the next manual snapshot.
type StorageMode uint8

const (
	StorageModeTransactional StorageMode = iota
	StorageModeAnalytical
)

func (m StorageMode) String() string {
	if m == StorageModeAnalytical {
		return "IN_MEMORY_ANALYTICAL"
	}
	return "IN_MEMORY_TRANSACTIONAL"
}

type Config struct {
	// DataDir holds the WAL segments and snapshots. Empty means run
	// in-memory only: no WAL is written and Close discards everything.
	DataDir string

	StorageMode           StorageMode
	PropertiesOnEdges     bool
	MaxPropertyValueBytes int
	DefaultIsolation      IsolationLevel

	WALEnabled       bool
	WALFileSizeBytes int64
	WALFlushEvery    time.Duration
	// WALIndexEnabled opens a small badger-backed index (diskstore.go) of
	// segment commit-timestamp bounds alongside the WAL, so pruneWAL can
	// decide what to delete without re-reading every segment's header.
	// Off by default: only worth the extra open file for DataDirs that
	// accumulate many segments between snapshots.
	WALIndexEnabled   bool
	SnapshotInterval  time.Duration
	SnapshotRetention int
	GCInterval        time.Duration
}

// DefaultConfig returns the full default settings. Open takes its numeric
// and duration values for fields left at zero; its bool values apply only
// when a caller passes DefaultConfig() itself.
func DefaultConfig() Config {
	return Config{
		PropertiesOnEdges:     true,
		MaxPropertyValueBytes: 1 << 20,
		DefaultIsolation:      SnapshotIsolation,
		WALEnabled:            true,
		WALFileSizeBytes:      64 << 20,
		WALFlushEvery:         100 * time.Millisecond,
		SnapshotInterval:      5 * time.Minute,
		SnapshotRetention:     3,
		GCInterval:            time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPropertyValueBytes == 0 {
		c.MaxPropertyValueBytes = d.MaxPropertyValueBytes
	}
	if c.WALFileSizeBytes == 0 {
		c.WALFileSizeBytes = d.WALFileSizeBytes
	}
	if c.WALFlushEvery == 0 {
		c.WALFlushEvery = d.WALFlushEvery
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.SnapshotRetention == 0 {
		c.SnapshotRetention = d.SnapshotRetention
	}
	if c.GCInterval == 0 {
		c.GCInterval = d.GCInterval
	}
	return c
}

// validate rejects settings that can only ever be a caller mistake, never
// an omission withDefaults should fill in. SnapshotRetention follows the
// same zero-means-unset convention as every other field above (so a bare
// Config{} still gets DefaultConfig's retention count of 3), but a
// negative value cannot arise from an unset field — it is unambiguously
// an explicit, invalid setting, which spec.md §9's "treat values < 1 as
// configuration error" calls out directly. See DESIGN.md's Open Question
// decision for why this checks post-default negativity rather than
// rejecting the pre-default zero the way the spec's source language does.
func (c Config) validate() error {
	if c.SnapshotRetention < 0 {
		return fmt.Errorf("%w: snapshot retention count must be >= 0, got %d", ErrInvalidConfig, c.SnapshotRetention)
	}
	return nil
}

// Storage is the top-level engine: the vertex and edge stores, the name
// interners, the transaction manager's shared state, the schema
// declaration boundary, and the durability subsystems (WAL, snapshots,
// recovery, GC) that hang off them. One Storage owns one DataDir.
type Storage struct {
	cfg Config

	vertices *SkipList[*Vertex]
	edges    *SkipList[*Edge]

	nextVertexGID atomic.Uint64
	nextEdgeGID   atomic.Uint64

	labelIDs    *NameIDMapper
	edgeTypeIDs *NameIDMapper
	propertyIDs *NameIDMapper

	clock      logicalClock
	txnCounter atomic.Uint64
	txnsMu     sync.Mutex
	liveTxns   map[uint64]*transaction
	commitMu   sync.Mutex // serializes the commit-timestamp-and-WAL-append critical section

	schema *Schema

	wal     *WAL
	gcInbox *gcInbox

	epochs *epochHistory

	closed atomic.Bool
	stopBg chan struct{}
	bgDone sync.WaitGroup
}

// Open creates or recovers a Storage at cfg.DataDir (or an empty in-memory
// instance if cfg.DataDir is ""), per spec.md §4.10.
func Open(cfg Config) (*Storage, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Storage{
		cfg:         cfg,
		vertices:    NewSkipList[*Vertex](),
		edges:       NewSkipList[*Edge](),
		labelIDs:    NewNameIDMapper(),
		edgeTypeIDs: NewNameIDMapper(),
		propertyIDs: NewNameIDMapper(),
		liveTxns:    make(map[uint64]*transaction),
		schema:      newSchema(),
		gcInbox:     newGCInbox(),
		epochs:      newEpochHistory(),
		stopBg:      make(chan struct{}),
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := recoverStorage(s, cfg.DataDir); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRecoveryFailure, err)
		}
		if cfg.WALEnabled && cfg.StorageMode != StorageModeAnalytical {
			wal, err := newWAL(filepath.Join(cfg.DataDir, "wal"), cfg.WALFileSizeBytes, cfg.WALFlushEvery, cfg.WALIndexEnabled)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
			s.wal = wal
		}
	}

	s.bgDone.Add(1)
	go s.gcLoop()

	if cfg.DataDir != "" && cfg.SnapshotInterval > 0 {
		s.bgDone.Add(1)
		go s.snapshotLoop()
	}

	return s, nil
}

// Close stops background work, flushes the WAL, and (if DataDir is set)
// writes a final snapshot so the next Open starts from a short replay.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopBg)
	s.bgDone.Wait()

	var firstErr error
	if s.wal != nil {
		if err := s.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.DataDir != "" {
		if _, err := writeSnapshot(s, s.cfg.DataDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Label, EdgeType, and Property intern names through the storage-wide
// mappers, matching spec.md §4.2's "Name -> ID Mapping" — the same string
// always yields the same numeric id for the lifetime of this Storage (and
// across restarts, since the mapper's contents round-trip through the
// snapshot).
func (s *Storage) Label(name string) LabelID       { return LabelID(s.labelIDs.NameToID(name)) }
func (s *Storage) EdgeType(name string) EdgeTypeID { return EdgeTypeID(s.edgeTypeIDs.NameToID(name)) }
func (s *Storage) Property(name string) PropertyID { return PropertyID(s.propertyIDs.NameToID(name)) }

func (s *Storage) LabelName(id LabelID) (string, bool) { return s.labelIDs.IDToName(uint64(id)) }
func (s *Storage) EdgeTypeName(id EdgeTypeID) (string, bool) {
	return s.edgeTypeIDs.IDToName(uint64(id))
}
func (s *Storage) PropertyName(id PropertyID) (string, bool) {
	return s.propertyIDs.IDToName(uint64(id))
}

// Schema returns the index/constraint declaration boundary (spec.md §4.7).
// Declarations made directly through it are visible immediately but only
// become crash-durable at the next snapshot; callers that need a
// declaration to survive a crash before then should go through the
// Create*/Drop* wrappers below instead, which additionally log it to the
// WAL.
func (s *Storage) Schema() *Schema { return s.schema }

// CreateLabelIndex declares a label index and logs it to the WAL (if
// enabled) so it survives a crash before the next snapshot.
func (s *Storage) CreateLabelIndex(label LabelID) error {
	if err := s.schema.CreateLabelIndex(label); err != nil {
		return err
	}
	return s.logSchemaChange(walLabelIndexCreate, encodeGID(GID(label)))
}

// DropLabelIndex withdraws a label index declaration.
func (s *Storage) DropLabelIndex(label LabelID) error {
	if err := s.schema.DropLabelIndex(label); err != nil {
		return err
	}
	return s.logSchemaChange(walLabelIndexDrop, encodeGID(GID(label)))
}

// CreateLabelPropertyIndex declares a label+property index and logs it to
// the WAL, spec.md §6's `create_index`.
func (s *Storage) CreateLabelPropertyIndex(label LabelID, property PropertyID) error {
	if err := s.schema.CreateLabelPropertyIndex(label, property); err != nil {
		return err
	}
	return s.logSchemaChange(walLabelPropertyIndexCreate, encodeLabelProperty(label, property))
}

// DropLabelPropertyIndex withdraws a label+property index declaration,
// spec.md §6's `drop_index`.
func (s *Storage) DropLabelPropertyIndex(label LabelID, property PropertyID) error {
	if err := s.schema.DropLabelPropertyIndex(label, property); err != nil {
		return err
	}
	return s.logSchemaChange(walLabelPropertyIndexDrop, encodeLabelProperty(label, property))
}

// CreateExistenceConstraint declares that every vertex carrying label must
// have property set, spec.md §6's `create_existence_constraint`.
func (s *Storage) CreateExistenceConstraint(label LabelID, property PropertyID) error {
	if err := s.schema.CreateExistenceConstraint(label, property); err != nil {
		return err
	}
	return s.logSchemaChange(walExistenceConstraintCreate, encodeLabelProperty(label, property))
}

// DropExistenceConstraint withdraws an existence constraint declaration.
func (s *Storage) DropExistenceConstraint(label LabelID, property PropertyID) error {
	if err := s.schema.DropExistenceConstraint(label, property); err != nil {
		return err
	}
	return s.logSchemaChange(walExistenceConstraintDrop, encodeLabelProperty(label, property))
}

// CreateUniqueConstraint declares a uniqueness constraint over properties
// for label, spec.md §6's `create_unique_constraint`.
func (s *Storage) CreateUniqueConstraint(label LabelID, properties []PropertyID) error {
	if err := s.schema.CreateUniqueConstraint(label, properties); err != nil {
		return err
	}
	return s.logSchemaChange(walUniqueConstraintCreate, encodeUniqueConstraint(label, properties))
}

// DropUniqueConstraint withdraws a unique constraint declaration.
func (s *Storage) DropUniqueConstraint(label LabelID, properties []PropertyID) error {
	if err := s.schema.DropUniqueConstraint(label, properties); err != nil {
		return err
	}
	return s.logSchemaChange(walUniqueConstraintDrop, encodeUniqueConstraint(label, properties))
}

func (s *Storage) logSchemaChange(kind walRecordKind, payload []byte) error {
	if s.wal == nil {
		return nil
	}
	return s.wal.appendSchemaRecord(kind, s.clock.next(), payload)
}

// Stats summarizes the live store for the CLI's "stats" subcommand and
// for tests.
type Stats struct {
	VertexCount  int
	EdgeCount    int
	LiveTxnCount int
	// NextVertexGID and NextEdgeGID are the GID counters: the most recently
	// allocated GID (0 before the first), one less than the GID the next
	// CreateVertex/CreateEdge receives.
	NextVertexGID uint64
	NextEdgeGID   uint64
	LogicalClock  uint64
}

func (s *Storage) Stats() Stats {
	s.txnsMu.Lock()
	liveTxns := len(s.liveTxns)
	s.txnsMu.Unlock()
	return Stats{
		VertexCount:   s.vertices.Len(),
		EdgeCount:     s.edges.Len(),
		LiveTxnCount:  liveTxns,
		NextVertexGID: s.nextVertexGID.Load(),
		NextEdgeGID:   s.nextEdgeGID.Load(),
		LogicalClock:  s.clock.peek(),
	}
}

// Snapshot writes a snapshot of the current store to DataDir immediately,
// for callers (the CLI "snapshot" subcommand) that don't want to wait for
// the next SnapshotInterval tick. Returns the written file's path.
func (s *Storage) Snapshot() (string, error) {
	if s.cfg.DataDir == "" {
		return "", fmt.Errorf("%w: DataDir is empty, storage is in-memory only", ErrIO)
	}
	return writeSnapshot(s, s.cfg.DataDir)
}

func (s *Storage) gcLoop() {
	defer s.bgDone.Done()
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopBg:
			return
		case <-ticker.C:
			s.runGCCycle()
		}
	}
}

func (s *Storage) snapshotLoop() {
	defer s.bgDone.Done()
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopBg:
			return
		case <-ticker.C:
			if _, err := writeSnapshot(s, s.cfg.DataDir); err != nil {
				continue
			}
			pruneSnapshots(s.cfg.DataDir, s.cfg.SnapshotRetention)
			if s.wal != nil {
				if boundary, ok := oldestSnapshotStartTS(s.cfg.DataDir); ok {
					pruneWAL(filepath.Join(s.cfg.DataDir, "wal"), boundary, s.wal.index)
				}
			}
		}
	}
}
