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
	"sync/atomic"
)

// recoverStorage implements spec.md §4.10: load the newest snapshot (if
// any), then replay every WAL segment whose commit timestamps are not
// already covered by that snapshot. It runs once, synchronously, inside
// Open, before Storage is handed to any caller — so unlike the rest of
// this package it mutates vertices/edges/mappers directly rather than
// through Deltas and the Accessor commit protocol: there is no concurrent
// reader yet for a Delta chain to protect.
func recoverStorage(s *Storage, dataDir string) error {
	var snapshotStartTS uint64
	if path, ok := latestSnapshotPath(dataDir); ok {
		ts, err := loadSnapshot(s, path)
		if err != nil {
			return err
		}
		snapshotStartTS = ts
	}
	return replayWAL(s, filepath.Join(dataDir, "wal"), snapshotStartTS)
}

// rawVertex and rawEdge are a snapshot vertex/edge record decoded off
// disk, before pass 2 resolves its adjacency GIDs into live pointers.
// Declared at package scope (rather than local to loadSnapshot, as this
// module originally had them) so decodeVertexRecord/decodeEdgeRecord can
// be called independently by each parallel partition goroutine below.
type rawVertex struct {
	gid      GID
	labels   []LabelID
	props    map[PropertyID]PropertyValue
	outEdges []rawAdjacency
	inEdges  []rawAdjacency
}

type rawEdge struct {
	gid   GID
	props map[PropertyID]PropertyValue // nil if properties-on-edges was off
}

type rawAdjacency struct {
	Type    EdgeTypeID
	PeerGID GID
	EdgeGID GID
}

// loadSnapshot reads path into s and returns the snapshot's
// snapshot_start_timestamp, so recoverStorage can tell replayWAL which
// records are already reflected in the loaded state (spec.md §4.10:
// "replay records whose commit_timestamp > snapshot_start_timestamp").
//
// The offsets table lives at the fixed position right after magic+version
// (snapshotHeaderSize), not in an EOF trailer — see writeSnapshot's doc
// comment. Metadata is read before the vertex/edge sections so this can
// size the parallel scan (Design Notes §9) from vertices_count/edges_count
// rather than a preliminary linear pass.
func loadSnapshot(s *Storage, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var magic uint32
	var version uint16
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return 0, err
	}
	if magic != snapshotMagic {
		return 0, fmt.Errorf("%w: bad snapshot magic %x in %s", ErrRecoveryFailure, magic, path)
	}
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return 0, err
	}

	if _, err := f.Seek(snapshotHeaderSize, io.SeekStart); err != nil {
		return 0, err
	}
	r := bufio.NewReader(io.LimitReader(f, snapshotOffsetsSize))
	marker, err := readByte(r)
	if err != nil {
		return 0, err
	}
	if marker != sectionOffsets {
		return 0, fmt.Errorf("%w: missing offsets section in %s", ErrRecoveryFailure, path)
	}
	tbl, err := decodeOffsetsTable(r)
	if err != nil {
		return 0, err
	}

	if err := seekAndRead(f, tbl.IndicesSectionOffset, func(r *bufio.Reader) error {
		if _, err := readByte(r); err != nil {
			return err
		}
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			label, err := readUint64(r)
			if err != nil {
				return err
			}
			s.schema.CreateLabelIndex(LabelID(label))
		}
		n, err = readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			label, err := readUint64(r)
			if err != nil {
				return err
			}
			prop, err := readUint64(r)
			if err != nil {
				return err
			}
			s.schema.CreateLabelPropertyIndex(LabelID(label), PropertyID(prop))
		}
		return nil
	}); err != nil {
		return 0, err
	}

	if err := seekAndRead(f, tbl.ConstraintSectionOffset, func(r *bufio.Reader) error {
		if _, err := readByte(r); err != nil {
			return err
		}
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			label, err := readUint64(r)
			if err != nil {
				return err
			}
			prop, err := readUint64(r)
			if err != nil {
				return err
			}
			s.schema.CreateExistenceConstraint(LabelID(label), PropertyID(prop))
		}
		n, err = readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			label, err := readUint64(r)
			if err != nil {
				return err
			}
			pn, err := readUint32(r)
			if err != nil {
				return err
			}
			props := make([]PropertyID, pn)
			for j := range props {
				p, err := readUint64(r)
				if err != nil {
					return err
				}
				props[j] = PropertyID(p)
			}
			s.schema.CreateUniqueConstraint(LabelID(label), props)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	if err := seekAndRead(f, tbl.MapperSectionOffset, func(r *bufio.Reader) error {
		if _, err := readByte(r); err != nil {
			return err
		}
		for _, m := range []*NameIDMapper{s.labelIDs, s.edgeTypeIDs, s.propertyIDs} {
			n, err := readUint32(r)
			if err != nil {
				return err
			}
			for i := uint32(0); i < n; i++ {
				id, err := readUint64(r)
				if err != nil {
					return err
				}
				name, err := readLenPrefixedString(r)
				if err != nil {
					return err
				}
				m.Restore(id, name)
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}

	if err := seekAndRead(f, tbl.EpochSectionOffset, func(r *bufio.Reader) error {
		if _, err := readByte(r); err != nil {
			return err
		}
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		records := make([]epochRecord, n)
		for i := range records {
			if _, err := io.ReadFull(r, records[i].ID[:]); err != nil {
				return err
			}
			ts, err := readUint64(r)
			if err != nil {
				return err
			}
			records[i].StartTS = ts
		}
		s.epochs.restore(records)
		return nil
	}); err != nil {
		return 0, err
	}

	var asOf uint64
	var vertexCount, edgeCount int
	if err := seekAndRead(f, tbl.MetadataSectionOffset, func(r *bufio.Reader) error {
		if _, err := readByte(r); err != nil {
			return err
		}
		nv, err := readUint64(r)
		if err != nil {
			return err
		}
		ne, err := readUint64(r)
		if err != nil {
			return err
		}
		ts, err := readUint64(r)
		if err != nil {
			return err
		}
		vc, err := readUint64(r)
		if err != nil {
			return err
		}
		ec, err := readUint64(r)
		if err != nil {
			return err
		}
		if _, err := readByte(r); err != nil { // propertiesOnEdges flag, informational only
			return err
		}
		s.nextVertexGID.Store(nv)
		s.nextEdgeGID.Store(ne)
		asOf = ts
		vertexCount = int(vc)
		edgeCount = int(ec)
		return nil
	}); err != nil {
		return 0, err
	}

	rawVertices, err := loadVertexSectionParallel(f, tbl.VertexSectionOffset, vertexCount)
	if err != nil {
		return 0, err
	}
	rawEdges, err := loadEdgeSectionParallel(f, tbl.EdgeSectionOffset, edgeCount)
	if err != nil {
		return 0, err
	}

	// Pass 1: create bare objects so pass 2 can resolve adjacency pointers.
	edgeByGID := make(map[GID]*Edge, len(rawEdges))
	for _, re := range rawEdges {
		e := &Edge{gid: re.gid, properties: re.props}
		s.edges.Insert(re.gid, e)
		edgeByGID[re.gid] = e
	}
	vertexByGID := make(map[GID]*Vertex, len(rawVertices))
	for _, rv := range rawVertices {
		v := newVertex(rv.gid)
		for _, l := range rv.labels {
			v.labels[l] = struct{}{}
		}
		for k, pv := range rv.props {
			v.properties[k] = pv
		}
		s.vertices.Insert(rv.gid, v)
		vertexByGID[rv.gid] = v
	}

	// Pass 2: resolve adjacency GIDs into live pointers.
	for _, rv := range rawVertices {
		v := vertexByGID[rv.gid]
		for _, a := range rv.outEdges {
			v.outEdges = append(v.outEdges, AdjacencyEntry{Type: a.Type, Peer: vertexByGID[a.PeerGID], Edge: edgeByGID[a.EdgeGID]})
		}
		for _, a := range rv.inEdges {
			v.inEdges = append(v.inEdges, AdjacencyEntry{Type: a.Type, Peer: vertexByGID[a.PeerGID], Edge: edgeByGID[a.EdgeGID]})
		}
	}

	s.clock.seed(asOf)
	return asOf, nil
}

// snapshotPartitionCount returns how many non-overlapping byte ranges to
// split n records into, per Design Notes §9's K ≈ 8 target: never more
// partitions than records, and never more than snapshotParallelism.
func snapshotPartitionCount(n int) int {
	if n == 0 {
		return 0
	}
	if n < snapshotParallelism {
		return n
	}
	return snapshotParallelism
}

// loadVertexSectionParallel reads count vertex records starting at
// sectionOffset by splitting them into up to snapshotParallelism
// non-overlapping byte ranges (found via nthVertexStartOffsetAndGID) and
// decoding each range in its own goroutine over its own
// io.NewSectionReader, per spec.md §4.9/§4.10 and Design Notes §9. Each
// goroutine calls f.ReadAt transitively through its SectionReader, which
// is safe to call concurrently on the same *os.File without reopening it.
func loadVertexSectionParallel(f *os.File, sectionOffset int64, count int) ([]rawVertex, error) {
	if count == 0 {
		return nil, nil
	}
	k := snapshotPartitionCount(count)
	bounds, err := vertexPartitionBounds(f, sectionOffset, count, k)
	if err != nil {
		return nil, err
	}

	results := make([][]rawVertex, k)
	errs := make([]error, k)
	var wg sync.WaitGroup
	for p := 0; p < k; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, n := bounds[p].offset, bounds[p].count
			sr := io.NewSectionReader(f, start, 1<<62)
			r := bufio.NewReader(sr)
			vs := make([]rawVertex, 0, n)
			for i := 0; i < n; i++ {
				rv, err := decodeVertexRecord(r)
				if err != nil {
					errs[p] = err
					return
				}
				vs = append(vs, rv)
			}
			results[p] = vs
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}

	out := make([]rawVertex, 0, count)
	for _, vs := range results {
		out = append(out, vs...)
	}
	return out, nil
}

// loadEdgeSectionParallel is loadVertexSectionParallel's edge counterpart.
func loadEdgeSectionParallel(f *os.File, sectionOffset int64, count int) ([]rawEdge, error) {
	if count == 0 {
		return nil, nil
	}
	k := snapshotPartitionCount(count)
	bounds, err := edgePartitionBounds(f, sectionOffset, count, k)
	if err != nil {
		return nil, err
	}

	results := make([][]rawEdge, k)
	errs := make([]error, k)
	var wg sync.WaitGroup
	for p := 0; p < k; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, n := bounds[p].offset, bounds[p].count
			sr := io.NewSectionReader(f, start, 1<<62)
			r := bufio.NewReader(sr)
			es := make([]rawEdge, 0, n)
			for i := 0; i < n; i++ {
				re, err := decodeEdgeRecord(r)
				if err != nil {
					errs[p] = err
					return
				}
				es = append(es, re)
			}
			results[p] = es
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}

	out := make([]rawEdge, 0, count)
	for _, es := range results {
		out = append(out, es...)
	}
	return out, nil
}

type partitionBound struct {
	offset int64
	count  int
}

// vertexPartitionBounds finds the start offset of each of k partitions by
// calling nthVertexStartOffsetAndGID at the partition boundaries, then
// derives each partition's record count from the boundaries it sits
// between — the pre-scan itself never allocates a vertexState or a
// PropertyValue, only skips past them (snapshot.go's skipVertexRecord).
func vertexPartitionBounds(f *os.File, sectionOffset int64, count, k int) ([]partitionBound, error) {
	base := count / k
	rem := count % k
	bounds := make([]partitionBound, k)
	n := 0
	for p := 0; p < k; p++ {
		sz := base
		if p < rem {
			sz++
		}
		offset, _, err := nthVertexStartOffsetAndGID(f, sectionOffset, n)
		if err != nil {
			return nil, err
		}
		bounds[p] = partitionBound{offset: offset, count: sz}
		n += sz
	}
	return bounds, nil
}

func edgePartitionBounds(f *os.File, sectionOffset int64, count, k int) ([]partitionBound, error) {
	base := count / k
	rem := count % k
	bounds := make([]partitionBound, k)
	n := 0
	for p := 0; p < k; p++ {
		sz := base
		if p < rem {
			sz++
		}
		offset, err := nthEdgeStartOffset(f, sectionOffset, n)
		if err != nil {
			return nil, err
		}
		bounds[p] = partitionBound{offset: offset, count: sz}
		n += sz
	}
	return bounds, nil
}

// decodeVertexRecord reads one vertex record (gid, labels, properties,
// out/in adjacency) — the full decode, as opposed to snapshot.go's
// skipVertexRecord, which only needs to know how many bytes it spans.
func decodeVertexRecord(r *bufio.Reader) (rawVertex, error) {
	gid, err := readUint64(r)
	if err != nil {
		return rawVertex{}, err
	}
	rv := rawVertex{gid: GID(gid), props: make(map[PropertyID]PropertyValue)}
	n, err := readUint32(r)
	if err != nil {
		return rawVertex{}, err
	}
	for i := uint32(0); i < n; i++ {
		id, err := readUint64(r)
		if err != nil {
			return rawVertex{}, err
		}
		rv.labels = append(rv.labels, LabelID(id))
	}
	n, err = readUint32(r)
	if err != nil {
		return rawVertex{}, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := readUint64(r)
		if err != nil {
			return rawVertex{}, err
		}
		pv, err := DecodePropertyValue(r)
		if err != nil {
			return rawVertex{}, err
		}
		rv.props[PropertyID(key)] = pv
	}
	rv.outEdges, err = readRawAdjacency(r)
	if err != nil {
		return rawVertex{}, err
	}
	rv.inEdges, err = readRawAdjacency(r)
	if err != nil {
		return rawVertex{}, err
	}
	return rv, nil
}

// decodeEdgeRecord is decodeVertexRecord's edge counterpart.
func decodeEdgeRecord(r *bufio.Reader) (rawEdge, error) {
	gid, err := readUint64(r)
	if err != nil {
		return rawEdge{}, err
	}
	re := rawEdge{gid: GID(gid)}
	hasProps, err := readByte(r)
	if err != nil {
		return rawEdge{}, err
	}
	if hasProps == 0 {
		return re, nil
	}
	re.props = make(map[PropertyID]PropertyValue)
	n, err := readUint32(r)
	if err != nil {
		return rawEdge{}, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := readUint64(r)
		if err != nil {
			return rawEdge{}, err
		}
		pv, err := DecodePropertyValue(r)
		if err != nil {
			return rawEdge{}, err
		}
		re.props[PropertyID(key)] = pv
	}
	return re, nil
}

func readRawAdjacency(r *bufio.Reader) ([]rawAdjacency, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]rawAdjacency, n)
	for i := range out {
		typ, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		peer, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		edge, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		out[i] = rawAdjacency{Type: EdgeTypeID(typ), PeerGID: GID(peer), EdgeGID: GID(edge)}
	}
	return out, nil
}

// seekAndRead seeks f to offset and runs fn with a fresh buffered reader
// positioned there. Each call gets its own bufio.Reader since the
// sections are read out of file order (offsets table lists them by
// section kind, not by position).
func seekAndRead(f *os.File, offset int64, fn func(r *bufio.Reader) error) error {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return fn(bufio.NewReader(f))
}

// replayWAL applies every record in every WAL segment under dir, in
// segment and then record order, directly to storage's live objects —
// the same single-threaded-bootstrap reasoning as loadSnapshot applies.
// A record that fails its checksum or is cut short ends replay of its
// segment at the last good record, without aborting recovery, per spec.md
// §4.10's "a torn tail is expected after a crash, not a corruption"; the
// segment file is not modified, and replay goes on with the next segment.
// A segment whose header cannot be decoded fails recovery with
// ErrRecoveryFailure. boundary is the
// snapshot_start_timestamp of whatever was already loaded into s (0 if
// nothing was); records at or below it are skipped since the snapshot
// already reflects their effect — applying them again would, for example,
// double up an edge's adjacency entries. maxCommitTS still tracks every
// record seen, applied or not, so the logical clock always resumes above
// the highest timestamp this data directory has ever recorded.
func replayWAL(s *Storage, dir string, boundary uint64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var maxCommitTS uint64
	for _, name := range names {
		ts, err := replayWALSegment(s, filepath.Join(dir, name), boundary)
		if err != nil {
			return err
		}
		if ts > maxCommitTS {
			maxCommitTS = ts
		}
	}
	s.clock.seed(maxCommitTS)
	return nil
}

func replayWALSegment(s *Storage, path string, boundary uint64) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	if _, err := decodeWalFileHeader(r); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRecoveryFailure, err)
	}

	var maxTS uint64
	for {
		rec, err := decodeWalRecord(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // torn tail: stop replaying this segment here
			}
			break
		}
		if rec.CommitTS > maxTS {
			maxTS = rec.CommitTS
		}
		if rec.CommitTS <= boundary {
			continue // already reflected in the loaded snapshot
		}
		applyWALRecord(s, rec)
	}
	return maxTS, nil
}

func applyWALRecord(s *Storage, rec walRecord) {
	switch rec.Kind {
	case walVertexCreate:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload))
		if _, ok := s.vertices.Find(gid); !ok {
			s.vertices.Insert(gid, newVertex(gid))
		}
		bumpGID(&s.nextVertexGID, gid)
	case walVertexDelete:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload))
		s.vertices.Delete(gid)
	case walVertexAddLabel:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload[0:8]))
		label := LabelID(binary.LittleEndian.Uint64(rec.Payload[8:16]))
		if v, ok := s.vertices.Find(gid); ok {
			v.labels[label] = struct{}{}
		}
	case walVertexRemoveLabel:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload[0:8]))
		label := LabelID(binary.LittleEndian.Uint64(rec.Payload[8:16]))
		if v, ok := s.vertices.Find(gid); ok {
			delete(v.labels, label)
		}
	case walVertexSetProperty:
		applySetProperty(s, rec.Payload, true)
	case walEdgeCreate:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload[0:8]))
		fromGID := GID(binary.LittleEndian.Uint64(rec.Payload[8:16]))
		toGID := GID(binary.LittleEndian.Uint64(rec.Payload[16:24]))
		typ := EdgeTypeID(binary.LittleEndian.Uint64(rec.Payload[24:32]))
		e, ok := s.edges.Find(gid)
		if !ok {
			e = newEdge(gid, s.cfg.PropertiesOnEdges)
			s.edges.Insert(gid, e)
		}
		bumpGID(&s.nextEdgeGID, gid)
		from, fromOK := s.vertices.Find(fromGID)
		to, toOK := s.vertices.Find(toGID)
		if fromOK && toOK {
			from.outEdges = append(from.outEdges, AdjacencyEntry{Type: typ, Peer: to, Edge: e})
			to.inEdges = append(to.inEdges, AdjacencyEntry{Type: typ, Peer: from, Edge: e})
		}
	case walEdgeDelete:
		gid := GID(binary.LittleEndian.Uint64(rec.Payload))
		s.vertices.Range(func(_ GID, v *Vertex) bool {
			for i, adj := range v.outEdges {
				if adj.Edge != nil && adj.Edge.gid == gid {
					v.outEdges = append(v.outEdges[:i:i], v.outEdges[i+1:]...)
					break
				}
			}
			for i, adj := range v.inEdges {
				if adj.Edge != nil && adj.Edge.gid == gid {
					v.inEdges = append(v.inEdges[:i:i], v.inEdges[i+1:]...)
					break
				}
			}
			return true
		})
		s.edges.Delete(gid)
	case walEdgeSetProperty:
		applySetProperty(s, rec.Payload, false)
	case walTransactionEnd:
		// No-op: a marker only, consumed for its CommitTS above.
	case walLabelIndexCreate:
		s.schema.CreateLabelIndex(LabelID(binary.LittleEndian.Uint64(rec.Payload)))
	case walLabelIndexDrop:
		s.schema.DropLabelIndex(LabelID(binary.LittleEndian.Uint64(rec.Payload)))
	case walLabelPropertyIndexCreate:
		label, prop := decodeLabelProperty(rec.Payload)
		s.schema.CreateLabelPropertyIndex(label, prop)
	case walLabelPropertyIndexDrop:
		label, prop := decodeLabelProperty(rec.Payload)
		s.schema.DropLabelPropertyIndex(label, prop)
	case walExistenceConstraintCreate:
		label, prop := decodeLabelProperty(rec.Payload)
		s.schema.CreateExistenceConstraint(label, prop)
	case walExistenceConstraintDrop:
		label, prop := decodeLabelProperty(rec.Payload)
		s.schema.DropExistenceConstraint(label, prop)
	case walUniqueConstraintCreate:
		label, props := decodeUniqueConstraint(rec.Payload)
		s.schema.CreateUniqueConstraint(label, props)
	case walUniqueConstraintDrop:
		label, props := decodeUniqueConstraint(rec.Payload)
		s.schema.DropUniqueConstraint(label, props)
	}
}

// decodeLabelProperty is encodeLabelProperty's inverse.
func decodeLabelProperty(payload []byte) (LabelID, PropertyID) {
	return LabelID(binary.LittleEndian.Uint64(payload[0:8])), PropertyID(binary.LittleEndian.Uint64(payload[8:16]))
}

// decodeUniqueConstraint is encodeUniqueConstraint's inverse.
func decodeUniqueConstraint(payload []byte) (LabelID, []PropertyID) {
	label := LabelID(binary.LittleEndian.Uint64(payload[0:8]))
	n := binary.LittleEndian.Uint32(payload[8:12])
	props := make([]PropertyID, n)
	for i := range props {
		props[i] = PropertyID(binary.LittleEndian.Uint64(payload[12+8*i : 20+8*i]))
	}
	return label, props
}

func bumpGID(counter *atomic.Uint64, gid GID) {
	for {
		cur := counter.Load()
		if cur >= uint64(gid) {
			return
		}
		if counter.CompareAndSwap(cur, uint64(gid)) {
			return
		}
	}
}

func applySetProperty(s *Storage, payload []byte, vertex bool) {
	gid := GID(binary.LittleEndian.Uint64(payload[0:8]))
	key := PropertyID(binary.LittleEndian.Uint64(payload[8:16]))
	value, err := DecodePropertyValue(bytes.NewReader(payload[16:]))
	if err != nil {
		return
	}
	if vertex {
		if v, ok := s.vertices.Find(gid); ok {
			if value.IsNull() {
				delete(v.properties, key)
			} else {
				v.properties[key] = value
			}
		}
		return
	}
	if e, ok := s.edges.Find(gid); ok {
		if value.IsNull() {
			delete(e.properties, key)
			return
		}
		if e.properties == nil {
			e.properties = make(map[PropertyID]PropertyValue)
		}
		e.properties[key] = value
	}
}
