package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/nornicdb/pkg/pool"
)

// walRecordKind tags one entry of the write-ahead log. Unlike Delta.Kind
// (which names the inverse operation a version record undoes), a WAL
// record names the forward operation that was actually applied, since
// that is what recovery needs to replay.
type walRecordKind uint8

const (
	walVertexCreate walRecordKind = iota
	walVertexDelete
	walVertexAddLabel
	walVertexRemoveLabel
	walVertexSetProperty
	walEdgeCreate
	walEdgeDelete
	walEdgeSetProperty
	walTransactionEnd
	walLabelIndexCreate
	walLabelIndexDrop
	walLabelPropertyIndexCreate
	walLabelPropertyIndexDrop
	walExistenceConstraintCreate
	walExistenceConstraintDrop
	walUniqueConstraintCreate
	walUniqueConstraintDrop
)

const walMagic = uint32(0x4e524e44) // "NRND"
const walVersion = uint16(1)

// walFileHeader is written once at the start of every WAL segment, per
// spec.md §4.8's file-level metadata: an id for the segment (UUID),
// a sequence number ordering segments within DataDir, and the range of
// commit timestamps the segment may contain (ToTS is updated in place as
// records are appended, then finalized on rotation/Close).
type walFileHeader struct {
	Magic   uint32
	Version uint16
	UUID    uuid.UUID
	SeqNum  uint64
	FromTS  uint64
	ToTS    uint64
}

func (h walFileHeader) encode(w *bufio.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, h.Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return err
	}
	if _, err := w.Write(h.UUID[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.SeqNum); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.FromTS); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.ToTS)
}

func decodeWalFileHeader(r *bufio.Reader) (walFileHeader, error) {
	var h walFileHeader
	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return h, err
	}
	if h.Magic != walMagic {
		return h, fmt.Errorf("%w: bad WAL magic %x", ErrRecoveryFailure, h.Magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return h, err
	}
	if _, err := fullRead(r, h.UUID[:]); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.SeqNum); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.FromTS); err != nil {
		return h, err
	}
	return h, binary.Read(r, binary.LittleEndian, &h.ToTS)
}

func fullRead(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// walRecord is one durable fact: a single Delta's forward operation, or a
// TRANSACTION_END marker closing out the group of records belonging to one
// committed transaction. CRC32 covers Kind+CommitTS+Payload and is
// verified on replay so a torn write at the tail of a segment (the
// process died mid-fsync) is detected and replay of that segment stops at
// the last good record rather than applying corrupt data; the segment file
// itself is left as it is.
type walRecord struct {
	Kind     walRecordKind
	CommitTS uint64
	Payload  []byte
	CRC      uint32
}

func newWalRecord(kind walRecordKind, commitTS uint64, payload []byte) walRecord {
	r := walRecord{Kind: kind, CommitTS: commitTS, Payload: payload}
	r.CRC = r.computeCRC()
	return r
}

func (r walRecord) computeCRC() uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte{byte(r.Kind)})
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], r.CommitTS)
	h.Write(tsBuf[:])
	h.Write(r.Payload)
	return h.Sum32()
}

func (r walRecord) encode(w *bufio.Writer) error {
	if err := writeByte(w, byte(r.Kind)); err != nil {
		return err
	}
	if err := writeUint64(w, r.CommitTS); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(r.Payload))); err != nil {
		return err
	}
	if _, err := w.Write(r.Payload); err != nil {
		return err
	}
	return writeUint32(w, r.CRC)
}

func decodeWalRecord(r *bufio.Reader) (walRecord, error) {
	var rec walRecord
	kindByte, err := readByte(r)
	if err != nil {
		return rec, err
	}
	rec.Kind = walRecordKind(kindByte)
	rec.CommitTS, err = readUint64(r)
	if err != nil {
		return rec, err
	}
	n, err := readUint32(r)
	if err != nil {
		return rec, err
	}
	rec.Payload = make([]byte, n)
	if _, err := fullRead(r, rec.Payload); err != nil {
		return rec, err
	}
	rec.CRC, err = readUint32(r)
	if err != nil {
		return rec, err
	}
	if rec.CRC != rec.computeCRC() {
		return rec, fmt.Errorf("%w: WAL record checksum mismatch", ErrRecoveryFailure)
	}
	return rec, nil
}

// WAL is the append-only durability log spec.md §4.8 describes: every
// committed transaction's Deltas, translated back into their forward
// operations, are appended as a group terminated by a TRANSACTION_END
// record before Accessor.Commit returns.
type WAL struct {
	mu          sync.Mutex
	dir         string
	maxFileSize int64
	flushEvery  time.Duration

	file      *os.File
	writer    *bufio.Writer
	header    walFileHeader
	written   int64
	seqNum    uint64
	closed    bool
	stopFlush chan struct{}
	doneFlush sync.WaitGroup

	index *walIndex // optional, see diskstore.go
}

func newWAL(dir string, maxFileSize int64, flushEvery time.Duration, indexed bool) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &WAL{dir: dir, maxFileSize: maxFileSize, flushEvery: flushEvery, stopFlush: make(chan struct{})}
	if indexed {
		idx, err := openWALIndex(walIndexDir(dir))
		if err != nil {
			return nil, err
		}
		w.index = idx
	}
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	if flushEvery > 0 {
		w.doneFlush.Add(1)
		go w.flushLoop()
	}
	return w, nil
}

func (w *WAL) flushLoop() {
	defer w.doneFlush.Done()
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopFlush:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.writer != nil {
				w.writer.Flush()
				w.file.Sync()
			}
			w.mu.Unlock()
		}
	}
}

// rotate closes the current segment (if any) and opens a fresh one
// numbered fromSeqNum.
func (w *WAL) rotate(fromSeqNum uint64) error {
	if w.file != nil {
		if err := w.finalizeLocked(); err != nil {
			return err
		}
	}
	name := filepath.Join(w.dir, fmt.Sprintf("%020d.wal", fromSeqNum))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64<<10)
	w.header = walFileHeader{Magic: walMagic, Version: walVersion, UUID: uuid.New(), SeqNum: fromSeqNum}
	if err := w.header.encode(w.writer); err != nil {
		return err
	}
	w.written = 0
	w.seqNum = fromSeqNum
	return nil
}

// finalizeLocked flushes, rewrites the header with its now-known ToTS, and
// fsyncs the segment before closing it. Caller holds w.mu.
func (w *WAL) finalizeLocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	hw := bufio.NewWriter(w.file)
	if err := w.header.encode(hw); err != nil {
		return err
	}
	if err := hw.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if w.index != nil {
		meta := walSegmentMeta{SeqNum: w.header.SeqNum, FromTS: w.header.FromTS, ToTS: w.header.ToTS}
		if err := w.index.Put(meta); err != nil {
			return err
		}
	}
	return w.file.Close()
}

func (w *WAL) appendRecord(rec walRecord) error {
	if err := rec.encode(w.writer); err != nil {
		return err
	}
	w.written += int64(1 + 8 + 4 + len(rec.Payload) + 4)
	pool.PutByteBuffer(rec.Payload) // encode already copied it into w.writer
	if w.header.FromTS == 0 || (rec.CommitTS != 0 && rec.CommitTS < w.header.FromTS) {
		w.header.FromTS = rec.CommitTS
	}
	if rec.CommitTS > w.header.ToTS {
		w.header.ToTS = rec.CommitTS
	}
	return nil
}

// appendTransaction writes every Delta owned by t as its forward
// operation, followed by a TRANSACTION_END record, and fsyncs before
// returning — satisfying the durability half of spec.md §4.5's commit
// protocol ("append ... to the WAL" happens before the commit is
// acknowledged to the caller).
func (w *WAL) appendTransaction(t *transaction, commitTS uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStorageClosed
	}

	for _, d := range t.deltas {
		rec, ok := walRecordForDelta(d, commitTS)
		if !ok {
			continue
		}
		if err := w.appendRecord(rec); err != nil {
			return err
		}
	}
	if err := w.appendRecord(newWalRecord(walTransactionEnd, commitTS, nil)); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if w.maxFileSize > 0 && w.written >= w.maxFileSize {
		return w.rotate(w.seqNum + 1)
	}
	return nil
}

// appendSchemaRecord logs a single index/constraint declaration change
// outside of any transaction, for the Storage.Create*Index/Constraint
// wrappers. It fsyncs immediately, same as appendTransaction, since there
// is no larger batch to amortize the sync cost over.
func (w *WAL) appendSchemaRecord(kind walRecordKind, asOf uint64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStorageClosed
	}
	if err := w.appendRecord(newWalRecord(kind, asOf, payload)); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// walRecordForDelta reverses a Delta back into the forward operation it
// is the inverse of. ok is false for Delta kinds that describe adjacency
// bookkeeping only (DeltaAdd/RemoveIn/OutEdge): those are implied by the
// EDGE_CREATE/EDGE_DELETE record already emitted for the edge itself
// (EDGE_CREATE's payload carries both endpoints and the type, so replay
// can reconstruct the adjacency entries without a separate record), so
// recording them again would double-apply the adjacency change on replay.
func walRecordForDelta(d *Delta, commitTS uint64) (walRecord, bool) {
	isVertex := d.OwnerKind == ObjectVertex
	switch d.Kind {
	case DeltaDeleteObject:
		if isVertex {
			return newWalRecord(walVertexCreate, commitTS, encodeGID(d.OwnerGID)), true
		}
		return newWalRecord(walEdgeCreate, commitTS, encodeEdgeCreate(d)), true
	case DeltaRecreateObject:
		if isVertex {
			return newWalRecord(walVertexDelete, commitTS, encodeGID(d.OwnerGID)), true
		}
		return newWalRecord(walEdgeDelete, commitTS, encodeGID(d.OwnerGID)), true
	case DeltaRemoveLabel: // forward op was AddLabel
		return newWalRecord(walVertexAddLabel, commitTS, encodeVertexLabel(d)), true
	case DeltaAddLabel: // forward op was RemoveLabel
		return newWalRecord(walVertexRemoveLabel, commitTS, encodeVertexLabel(d)), true
	case DeltaSetProperty:
		if isVertex {
			return newWalRecord(walVertexSetProperty, commitTS, encodeSetProperty(d)), true
		}
		return newWalRecord(walEdgeSetProperty, commitTS, encodeSetProperty(d)), true
	default:
		return walRecord{}, false
	}
}

func encodeGID(gid GID) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(gid))
	return buf[:]
}

// encodeEdgeCreate lays out the edge's own gid, its from/to endpoint gids,
// and its type, so an EDGE_CREATE record fully determines the adjacency
// entries recovery needs to install on both endpoint vertices.
func encodeEdgeCreate(d *Delta) []byte {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(d.OwnerGID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(d.FromPeer.gid))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(d.Peer.gid))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(d.EdgeType))
	return buf[:]
}

func encodeVertexLabel(d *Delta) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(d.OwnerGID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(d.Label))
	return buf[:]
}

// encodeLabelProperty lays out a (label, property) pair, the payload
// shape shared by LABEL_PROPERTY_INDEX_CREATE/DROP and
// EXISTENCE_CONSTRAINT_CREATE/DROP records.
func encodeLabelProperty(label LabelID, property PropertyID) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(label))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(property))
	return buf[:]
}

// encodeUniqueConstraint lays out a label followed by its property list,
// for UNIQUE_CONSTRAINT_CREATE/DROP records.
func encodeUniqueConstraint(label LabelID, properties []PropertyID) []byte {
	buf := make([]byte, 12+8*len(properties))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(label))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(properties)))
	for i, p := range properties {
		binary.LittleEndian.PutUint64(buf[12+8*i:20+8*i], uint64(p))
	}
	return buf
}

func encodeSetProperty(d *Delta) []byte {
	buf := bufferWriter{bytes: pool.GetByteBuffer()}
	buf.writeUint64(uint64(d.OwnerGID))
	buf.writeUint64(uint64(d.PropertyKey))
	d.NewValue.Encode(&buf)
	return buf.bytes
}

// bufferWriter is a minimal growable io.Writer used to build a WAL
// record payload before its length is known. Its backing array is drawn
// from pkg/pool and returned once appendRecord has copied it to the
// segment's buffered writer.
type bufferWriter struct{ bytes []byte }

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

func (b *bufferWriter) writeUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.bytes = append(b.bytes, buf[:]...)
}

// pruneWAL deletes WAL segments under dir that are no longer needed to
// recover forward from a snapshot whose start timestamp is boundary, per
// spec.md §4.9: a segment is removable once its ToTS precedes boundary, but
// the segment currently being written (the last one, by sequence number) is
// never touched, and pruning stops at the first remaining segment whose
// range could still overlap boundary so there is always one segment
// spanning it. idx, if non-nil, is consulted instead of re-reading every
// segment's header off disk; it is never treated as authoritative for
// which files exist, only for their bounds.
func pruneWAL(dir string, boundary uint64, idx *walIndex) {
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
	if len(names) <= 1 {
		return
	}
	sort.Strings(names)
	active := names[len(names)-1]

	bounds := map[string]uint64{}
	if idx != nil {
		idx.Range(func(m walSegmentMeta) bool {
			bounds[fmt.Sprintf("%020d.wal", m.SeqNum)] = m.ToTS
			return true
		})
	}

	for _, name := range names[:len(names)-1] {
		if name == active {
			continue
		}
		toTS, ok := bounds[name]
		if !ok {
			path := filepath.Join(dir, name)
			hdr, err := readWALSegmentHeader(path)
			if err != nil {
				break
			}
			toTS = hdr.ToTS
		}
		if toTS >= boundary {
			break
		}
		os.Remove(filepath.Join(dir, name))
		if idx != nil {
			idx.Delete(seqNumFromName(name))
		}
	}
}

func seqNumFromName(name string) uint64 {
	var seq uint64
	fmt.Sscanf(name, "%020d.wal", &seq)
	return seq
}

func readWALSegmentHeader(path string) (walFileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return walFileHeader{}, err
	}
	defer f.Close()
	return decodeWalFileHeader(bufio.NewReader(f))
}

// Close finalizes the current segment and stops the background flusher.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.stopFlush)
	err := w.finalizeLocked()
	w.doneFlush.Wait()
	if w.index != nil {
		if cerr := w.index.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
