package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// walIndex is an optional badger-backed index of WAL segment metadata
// (sequence number -> commit timestamp range), used to accelerate
// pruneWAL's retention decisions on DataDirs with many segments. It is a
// lookup accelerator only, never the source of truth: replayWAL still
// discovers segments by listing dir directly, so a stale or missing index
// only costs pruneWAL a directory scan, never correctness. Narrowed down
// from the teacher's BadgerEngine (options, open/close, key-prefix
// encoding) to exactly the GID-shaped problem this needs: fixed-size
// keys, fixed-size values, one prefix.
type walIndex struct {
	db *badger.DB
}

const walIndexPrefixSegment = byte(0x01)

// walSegmentMeta mirrors the bounds walFileHeader tracks for one segment,
// keyed by SeqNum so Range visits segments in file order.
type walSegmentMeta struct {
	SeqNum uint64
	FromTS uint64
	ToTS   uint64
}

// openWALIndex opens (creating if absent) a badger database under dir for
// segment bookkeeping. Mirrors the teacher's low-memory BadgerOptions
// tuning, since this index is metadata-sized and never needs badger's
// full value-log throughput.
func openWALIndex(dir string) (*walIndex, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open WAL index: %v", ErrIO, err)
	}
	return &walIndex{db: db}, nil
}

func segmentKey(seqNum uint64) []byte {
	key := make([]byte, 9)
	key[0] = walIndexPrefixSegment
	binary.BigEndian.PutUint64(key[1:], seqNum)
	return key
}

// Put records or replaces a segment's bounds, called whenever WAL.rotate
// or WAL.Close finalizes a segment's header.
func (idx *walIndex) Put(meta walSegmentMeta) error {
	val := make([]byte, 16)
	binary.LittleEndian.PutUint64(val[0:8], meta.FromTS)
	binary.LittleEndian.PutUint64(val[8:16], meta.ToTS)
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(segmentKey(meta.SeqNum), val)
	})
}

// Delete removes a segment's entry, called once its file has been
// removed by pruneWAL.
func (idx *walIndex) Delete(seqNum uint64) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(segmentKey(seqNum))
	})
}

// Range visits every indexed segment in ascending SeqNum order, stopping
// early if fn returns false.
func (idx *walIndex) Range(fn func(walSegmentMeta) bool) error {
	return idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{walIndexPrefixSegment}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			meta := walSegmentMeta{SeqNum: binary.BigEndian.Uint64(item.Key()[1:])}
			if err := item.Value(func(val []byte) error {
				meta.FromTS = binary.LittleEndian.Uint64(val[0:8])
				meta.ToTS = binary.LittleEndian.Uint64(val[8:16])
				return nil
			}); err != nil {
				return err
			}
			if !fn(meta) {
				break
			}
		}
		return nil
	})
}

func (idx *walIndex) Close() error { return idx.db.Close() }

// walIndexDir is where a WAL's optional index lives relative to its
// segment directory.
func walIndexDir(walDir string) string { return filepath.Join(walDir, "index") }
