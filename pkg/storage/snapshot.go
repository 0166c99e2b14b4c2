package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Snapshot section markers, per spec.md §4.9/§6. Each marker byte precedes
// its section's body so a reader (or a corruption check) can confirm it
// landed where it expected to, independent of the offsets table.
const (
	sectionOffsets    = byte(0x80)
	sectionEdge       = byte(0x81)
	sectionVertex     = byte(0x82)
	sectionIndices    = byte(0x83)
	sectionConstraint = byte(0x84)
	sectionMapper     = byte(0x85)
	sectionEpoch      = byte(0x86)
	sectionMetadata   = byte(0x87)
)

const snapshotMagic = uint32(0x4e524e53) // "NRNS"
const snapshotVersion = uint16(1)

// snapshotHeaderSize is magic(4) + version(2): the fixed offset at which
// SECTION_OFFSETS begins, per spec.md §4.9 item 2 ("Section offsets ...")
// coming directly after item 1 ("Magic + version").
const snapshotHeaderSize = int64(4 + 2)

// snapshotOffsetsSize is the byte size of SECTION_OFFSETS's body: the
// marker byte plus 7 little-endian uint64 section offsets. Fixed-size by
// construction so writeSnapshot can reserve it as a placeholder and
// rewrite it in place once every other section's real offset is known,
// per spec.md §4.9's writer protocol ("first emits placeholder zero
// offsets then rewrites them after finalization").
const snapshotOffsetsSize = int64(1 + 7*8)

// snapshotParallelism is the K ≈ 8 fan-out Design Notes §9 calls for when
// splitting the vertex/edge sections into non-overlapping byte ranges for
// a parallel scan.
const snapshotParallelism = 8

// epochRecord marks one period of this Storage's history bounded by a
// clean recovery: a fresh UUID and the logical clock value in force when
// the epoch began. Memgraph-style engines keep this so a WAL segment can
// be matched to the snapshot it continues from even across a process
// restart that didn't cleanly close the prior epoch.
type epochRecord struct {
	ID      uuid.UUID
	StartTS uint64
}

type epochHistory struct {
	mu      sync.Mutex
	records []epochRecord
}

func newEpochHistory() *epochHistory { return &epochHistory{} }

func (h *epochHistory) begin(startTS uint64) epochRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := epochRecord{ID: uuid.New(), StartTS: startTS}
	h.records = append(h.records, r)
	return r
}

func (h *epochHistory) all() []epochRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]epochRecord(nil), h.records...)
}

func (h *epochHistory) restore(records []epochRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = records
}

// offsetsTable is SECTION_OFFSETS's payload: the absolute file offset of
// every other section, in the order spec.md §4.9 item 2 lists them.
type offsetsTable struct {
	EdgeSectionOffset       int64
	VertexSectionOffset     int64
	IndicesSectionOffset    int64
	ConstraintSectionOffset int64
	MapperSectionOffset     int64
	EpochSectionOffset      int64
	MetadataSectionOffset   int64
}

// writeSnapshot serializes every committed object, the interned names,
// the schema declarations, and the epoch history into a file under
// dataDir/snapshots, per spec.md §4.9. It never blocks writers: the
// reconstruction walk it uses (readContext with SnapshotIsolation and no
// matching live txn id) sees exactly the committed state as of "now",
// the same way any other snapshot-isolation reader would, so a
// concurrent Accessor's in-flight writes simply don't appear yet.
//
// Layout on disk, matching spec.md §4.9 exactly: [magic][version]
// [SECTION_OFFSETS][SECTION_EDGE][SECTION_VERTEX][SECTION_INDICES]
// [SECTION_CONSTRAINTS][SECTION_MAPPER][SECTION_EPOCH_HISTORY]
// [SECTION_METADATA]. SECTION_OFFSETS is written first as an all-zero
// placeholder, then overwritten in place with the real offsets once
// every later section's start position is known — the original's
// snapshot.cpp does the same seek-back rather than appending an offsets
// table at EOF.
func writeSnapshot(s *Storage, dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	asOf := s.clock.peek()
	name := filepath.Join(dir, fmt.Sprintf("%020d.snapshot", asOf))

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 1<<20)

	if err := binary.Write(w, binary.LittleEndian, snapshotMagic); err != nil {
		return "", err
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return "", err
	}

	offsetsPos, err := currentOffset(w, f)
	if err != nil {
		return "", err
	}
	if err := writeZeroOffsetsPlaceholder(w); err != nil {
		return "", err
	}

	var tbl offsetsTable
	rc := readContext{txnID: 0, startTS: asOf, isolation: SnapshotIsolation, view: ViewNew}

	var edgeCount, vertexCount int
	tbl.EdgeSectionOffset, edgeCount, err = writeEdgeSection(w, f, s, rc)
	if err != nil {
		return "", err
	}
	tbl.VertexSectionOffset, vertexCount, err = writeVertexSection(w, f, s, rc)
	if err != nil {
		return "", err
	}
	if tbl.IndicesSectionOffset, err = currentOffset(w, f); err != nil {
		return "", err
	}
	if err := writeIndicesSection(w, s); err != nil {
		return "", err
	}
	if tbl.ConstraintSectionOffset, err = currentOffset(w, f); err != nil {
		return "", err
	}
	if err := writeConstraintSection(w, s); err != nil {
		return "", err
	}
	if tbl.MapperSectionOffset, err = currentOffset(w, f); err != nil {
		return "", err
	}
	if err := writeMapperSection(w, s); err != nil {
		return "", err
	}
	if tbl.EpochSectionOffset, err = currentOffset(w, f); err != nil {
		return "", err
	}
	if err := writeEpochSection(w, s); err != nil {
		return "", err
	}
	if tbl.MetadataSectionOffset, err = currentOffset(w, f); err != nil {
		return "", err
	}
	if err := writeMetadataSection(w, s, asOf, vertexCount, edgeCount); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteByte(sectionOffsets)
	if err := encodeOffsetsTable(&buf, tbl); err != nil {
		return "", err
	}
	if _, err := f.WriteAt(buf.Bytes(), offsetsPos); err != nil {
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	return name, nil
}

func writeZeroOffsetsPlaceholder(w *bufio.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(sectionOffsets)
	if err := encodeOffsetsTable(&buf, offsetsTable{}); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func currentOffset(w *bufio.Writer, f *os.File) (int64, error) {
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return f.Seek(0, io.SeekCurrent)
}

func encodeOffsetsTable(w io.Writer, tbl offsetsTable) error {
	for _, v := range []int64{
		tbl.EdgeSectionOffset, tbl.VertexSectionOffset, tbl.IndicesSectionOffset,
		tbl.ConstraintSectionOffset, tbl.MapperSectionOffset, tbl.EpochSectionOffset,
		tbl.MetadataSectionOffset,
	} {
		if err := writeUint64(w, uint64(v)); err != nil {
			return err
		}
	}
	return nil
}

func decodeOffsetsTable(r io.Reader) (offsetsTable, error) {
	var tbl offsetsTable
	fields := []*int64{
		&tbl.EdgeSectionOffset, &tbl.VertexSectionOffset, &tbl.IndicesSectionOffset,
		&tbl.ConstraintSectionOffset, &tbl.MapperSectionOffset, &tbl.EpochSectionOffset,
		&tbl.MetadataSectionOffset,
	}
	for _, f := range fields {
		v, err := readUint64(r)
		if err != nil {
			return tbl, err
		}
		*f = int64(v)
	}
	return tbl, nil
}

func writeVertexSection(w *bufio.Writer, f *os.File, s *Storage, rc readContext) (int64, int, error) {
	start, err := currentOffset(w, f)
	if err != nil {
		return 0, 0, err
	}
	if err := writeByte(w, sectionVertex); err != nil {
		return 0, 0, err
	}

	var gids []GID
	s.vertices.Range(func(gid GID, _ *Vertex) bool { gids = append(gids, gid); return true })
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	count := 0
	for _, gid := range gids {
		v, ok := s.vertices.Find(gid)
		if !ok {
			continue
		}
		st := reconstructVertex(v, rc)
		if st == nil {
			continue // deleted as of this snapshot's timestamp
		}
		if err := encodeVertexRecord(w, gid, st); err != nil {
			return 0, 0, err
		}
		count++
	}
	return start, count, nil
}

func encodeVertexRecord(w *bufio.Writer, gid GID, st *vertexState) error {
	if err := writeUint64(w, uint64(gid)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(st.labels))); err != nil {
		return err
	}
	labels := make([]LabelID, 0, len(st.labels))
	for l := range st.labels {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	for _, l := range labels {
		if err := writeUint64(w, uint64(l)); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(st.properties))); err != nil {
		return err
	}
	keys := make([]PropertyID, 0, len(st.properties))
	for k := range st.properties {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if err := writeUint64(w, uint64(k)); err != nil {
			return err
		}
		if err := st.properties[k].Encode(w); err != nil {
			return err
		}
	}
	if err := writeAdjacency(w, st.outEdges); err != nil {
		return err
	}
	return writeAdjacency(w, st.inEdges)
}

func writeAdjacency(w *bufio.Writer, entries []AdjacencyEntry) error {
	if err := writeUint32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeUint64(w, uint64(e.Type)); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(e.Peer.gid)); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(e.Edge.gid)); err != nil {
			return err
		}
	}
	return nil
}

func writeEdgeSection(w *bufio.Writer, f *os.File, s *Storage, rc readContext) (int64, int, error) {
	start, err := currentOffset(w, f)
	if err != nil {
		return 0, 0, err
	}
	if err := writeByte(w, sectionEdge); err != nil {
		return 0, 0, err
	}

	var gids []GID
	s.edges.Range(func(gid GID, _ *Edge) bool { gids = append(gids, gid); return true })
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	count := 0
	for _, gid := range gids {
		e, ok := s.edges.Find(gid)
		if !ok {
			continue
		}
		st := reconstructEdge(e, rc)
		if st == nil {
			continue
		}
		if err := encodeEdgeRecord(w, gid, st); err != nil {
			return 0, 0, err
		}
		count++
	}
	return start, count, nil
}

func encodeEdgeRecord(w *bufio.Writer, gid GID, st *edgeState) error {
	if err := writeUint64(w, uint64(gid)); err != nil {
		return err
	}
	hasProps := st.properties != nil
	propByte := byte(0)
	if hasProps {
		propByte = 1
	}
	if err := writeByte(w, propByte); err != nil {
		return err
	}
	if !hasProps {
		return nil
	}
	keys := make([]PropertyID, 0, len(st.properties))
	for k := range st.properties {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if err := writeUint32(w, uint32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeUint64(w, uint64(k)); err != nil {
			return err
		}
		if err := st.properties[k].Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func writeIndicesSection(w *bufio.Writer, s *Storage) error {
	if err := writeByte(w, sectionIndices); err != nil {
		return err
	}
	labelIdx, labelPropIdx, _, _ := s.schema.snapshotDecls()
	if err := writeUint32(w, uint32(len(labelIdx))); err != nil {
		return err
	}
	for _, k := range labelIdx {
		if err := writeUint64(w, uint64(k.Label)); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(labelPropIdx))); err != nil {
		return err
	}
	for _, k := range labelPropIdx {
		if err := writeUint64(w, uint64(k.Label)); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(k.Property)); err != nil {
			return err
		}
	}
	return nil
}

func writeConstraintSection(w *bufio.Writer, s *Storage) error {
	if err := writeByte(w, sectionConstraint); err != nil {
		return err
	}
	_, _, existence, unique := s.schema.snapshotDecls()
	if err := writeUint32(w, uint32(len(existence))); err != nil {
		return err
	}
	for _, k := range existence {
		if err := writeUint64(w, uint64(k.Label)); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(k.Property)); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(unique))); err != nil {
		return err
	}
	for _, k := range unique {
		if err := writeUint64(w, uint64(k.Label)); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(k.Properties))); err != nil {
			return err
		}
		for _, p := range k.Properties {
			if err := writeUint64(w, uint64(p)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMapperSection(w *bufio.Writer, s *Storage) error {
	if err := writeByte(w, sectionMapper); err != nil {
		return err
	}
	for _, m := range []*NameIDMapper{s.labelIDs, s.edgeTypeIDs, s.propertyIDs} {
		if err := writeUint32(w, uint32(m.Len())); err != nil {
			return err
		}
		var werr error
		m.Each(func(id uint64, name string) {
			if werr != nil {
				return
			}
			if err := writeUint64(w, id); err != nil {
				werr = err
				return
			}
			werr = writeLenPrefixedString(w, name)
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}

func writeEpochSection(w *bufio.Writer, s *Storage) error {
	if err := writeByte(w, sectionEpoch); err != nil {
		return err
	}
	records := s.epochs.all()
	if err := writeUint32(w, uint32(len(records))); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := w.Write(r.ID[:]); err != nil {
			return err
		}
		if err := writeUint64(w, r.StartTS); err != nil {
			return err
		}
	}
	return nil
}

// writeMetadataSection writes vertices_count/edges_count alongside the
// fields spec.md §4.9 item 9 names, so a reader can size its parallel
// scan (nthVertexStartOffsetAndGID/nthEdgeStartOffset below) without a
// preliminary linear pass over either section.
func writeMetadataSection(w *bufio.Writer, s *Storage, asOf uint64, vertexCount, edgeCount int) error {
	if err := writeByte(w, sectionMetadata); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(s.nextVertexGID.Load())); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(s.nextEdgeGID.Load())); err != nil {
		return err
	}
	if err := writeUint64(w, asOf); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(vertexCount)); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(edgeCount)); err != nil {
		return err
	}
	propsOnEdges := byte(0)
	if s.cfg.PropertiesOnEdges {
		propsOnEdges = 1
	}
	return writeByte(w, propsOnEdges)
}

// pruneSnapshots deletes all but the retain most recent snapshot files.
func pruneSnapshots(dataDir string, retain int) {
	if retain <= 0 {
		return
	}
	dir := filepath.Join(dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= retain {
		return
	}
	for _, n := range names[:len(names)-retain] {
		os.Remove(filepath.Join(dir, n))
	}
}

// oldestSnapshotStartTS returns the asOf timestamp encoded in the oldest
// remaining snapshot's filename, for pruneWAL's retention boundary: spec.md
// §4.9 keeps every WAL segment whose range could still be needed to replay
// forward from that snapshot.
func oldestSnapshotStartTS(dataDir string) (uint64, bool) {
	dir := filepath.Join(dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return 0, false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return 0, false
	}
	sort.Strings(names)
	oldest := names[0]
	var asOf uint64
	if _, err := fmt.Sscanf(oldest, "%020d.snapshot", &asOf); err != nil {
		return 0, false
	}
	return asOf, true
}

// latestSnapshotPath returns the most recent snapshot file under dataDir,
// if any.
func latestSnapshotPath(dataDir string) (string, bool) {
	dir := filepath.Join(dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), true
}

// ---------------------------------------------------------------------------
// Parallel range scan support (Design Notes §9).
// ---------------------------------------------------------------------------
//
// The vertex and edge sections are not length-prefixed per record, so
// finding the nth record's start offset means walking every record before
// it — but "walking" here is a cheap marker/length pre-scan
// (skipVertexRecord/skipEdgeRecord below use PropertyValue's Skip, never
// decoding a value into memory), not the expensive part. The expensive
// part — allocating PropertyValues, building adjacency slices — runs
// concurrently across the K byte ranges these offsets bound.

// countingReader wraps an io.Reader and tracks how many bytes have been
// returned to callers, which is the information nthVertexStartOffsetAndGID
// and nthEdgeStartOffset need to translate "n records in" into a byte
// offset without assuming anything about how its bufio.Reader buffers.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// nthVertexStartOffsetAndGID returns the absolute file offset and gid of
// the nth (0-indexed) vertex record in the section starting at
// sectionOffset, by skipping the n records before it. n must be less than
// the section's record count.
func nthVertexStartOffsetAndGID(f *os.File, sectionOffset int64, n int) (int64, GID, error) {
	br := bufio.NewReader(io.NewSectionReader(f, sectionOffset, 1<<62))
	cr := &countingReader{r: br}
	if _, err := readByte(cr); err != nil { // marker
		return 0, 0, err
	}
	for i := 0; i < n; i++ {
		if err := skipVertexRecord(cr); err != nil {
			return 0, 0, err
		}
	}
	gidBytes, err := br.Peek(8)
	if err != nil {
		return 0, 0, err
	}
	return sectionOffset + cr.n, GID(binary.LittleEndian.Uint64(gidBytes)), nil
}

// nthEdgeStartOffset is nthVertexStartOffsetAndGID's edge counterpart.
// Edge partitions don't need the leading gid — DeleteEdge/CreateEdge
// already resolve edges through adjacency, not a sorted scan — so this
// returns only the offset, per spec.md Design Notes §9's naming.
func nthEdgeStartOffset(f *os.File, sectionOffset int64, n int) (int64, error) {
	br := bufio.NewReader(io.NewSectionReader(f, sectionOffset, 1<<62))
	cr := &countingReader{r: br}
	if _, err := readByte(cr); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if err := skipEdgeRecord(cr); err != nil {
			return 0, err
		}
	}
	return sectionOffset + cr.n, nil
}

func skipVertexRecord(r io.Reader) error {
	if _, err := readUint64(r); err != nil {
		return err
	}
	nLabels, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nLabels; i++ {
		if _, err := readUint64(r); err != nil {
			return err
		}
	}
	nProps, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < nProps; i++ {
		if _, err := readUint64(r); err != nil {
			return err
		}
		if err := SkipPropertyValue(r); err != nil {
			return err
		}
	}
	if err := skipAdjacency(r); err != nil {
		return err
	}
	return skipAdjacency(r)
}

func skipAdjacency(r io.Reader) error {
	n, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readUint64(r); err != nil {
			return err
		}
		if _, err := readUint64(r); err != nil {
			return err
		}
		if _, err := readUint64(r); err != nil {
			return err
		}
	}
	return nil
}

func skipEdgeRecord(r io.Reader) error {
	if _, err := readUint64(r); err != nil {
		return err
	}
	hasProps, err := readByte(r)
	if err != nil {
		return err
	}
	if hasProps == 0 {
		return nil
	}
	n, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := readUint64(r); err != nil {
			return err
		}
		if err := SkipPropertyValue(r); err != nil {
			return err
		}
	}
	return nil
}
