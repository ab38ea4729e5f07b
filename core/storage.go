package core

// Persistent storage layer for the Block Assembler: a LevelDB-backed
// key-value store using a fixed key prefix layout
// (`b:`, `h:`, `m:metadata`, `t:`), with zstd compression of stored block
// blobs and a CRC32C integrity checksum computed over the uncompressed
// canonical bytes. Grounded on the tolelom-tolchain example repo's
// storage/leveldb.go, which wraps the same syndtr/goleveldb driver for a
// block store.

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

const (
	prefixBlock    = "b:"
	prefixHeight   = "h:"
	keyMetadata    = "m:metadata"
	prefixTxIndex  = "t:"
)

// KVStore is the minimal persistence contract the Block Assembler relies on.
// A goleveldb-backed implementation is provided below; tests use an
// in-memory implementation with the same contract.
type KVStore interface {
	Get(key []byte) ([]byte, error) // returns leveldb.ErrNotFound (or equivalent) when absent
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	NewIteratorPrefix(prefix []byte) Iterator
	NewBatch() Batch
	Write(batch Batch) error
	Close() error
}

// Batch accumulates writes to be committed as one atomic unit via
// KVStore.Write, so a crash mid-commit can never leave the block record and
// its height index inconsistent with each other.
type Batch interface {
	Put(key, value []byte)
}

// Iterator walks keys sharing a prefix in ascending order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

// ErrNotFound is returned by KVStore.Get when the key is absent, matching
// leveldb.ErrNotFound so callers can use errors.Is across implementations.
var ErrNotFound = leveldb.ErrNotFound

// LevelDBStore is the production KVStore, backed by syndtr/goleveldb.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (or creates) a LevelDB database at dir.
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, WrapError(ErrDataCorruption, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key []byte) ([]byte, error) { return s.db.Get(key, nil) }
func (s *LevelDBStore) Put(key, value []byte) error    { return s.db.Put(key, value, nil) }
func (s *LevelDBStore) Has(key []byte) (bool, error)   { return s.db.Has(key, nil) }
func (s *LevelDBStore) Delete(key []byte) error        { return s.db.Delete(key, nil) }
func (s *LevelDBStore) Close() error                   { return s.db.Close() }

// NewBatch returns a goleveldb batch, the concrete type Write expects back.
func (s *LevelDBStore) NewBatch() Batch { return new(leveldb.Batch) }

// Write commits batch atomically via goleveldb's own batch write path.
func (s *LevelDBStore) Write(batch Batch) error {
	b, ok := batch.(*leveldb.Batch)
	if !ok {
		return fmt.Errorf("storage: batch not produced by LevelDBStore.NewBatch")
	}
	return s.db.Write(b, nil)
}

type leveldbIterator struct{ it iterator.Iterator }

func (s *LevelDBStore) NewIteratorPrefix(prefix []byte) Iterator {
	return &leveldbIterator{it: s.db.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (i *leveldbIterator) Next() bool      { return i.it.Next() }
func (i *leveldbIterator) Key() []byte     { return i.it.Key() }
func (i *leveldbIterator) Value() []byte   { return i.it.Value() }
func (i *leveldbIterator) Release()        { i.it.Release() }

// --- canonical block record --------------------------------------------------

// BlockRecord is the value stored under the `b:` prefix: the serialized
// block, its merkle and state roots, and a 32-bit CRC32C checksum computed
// over their concatenation.
type BlockRecord struct {
	Block      []byte
	MerkleRoot Hash
	StateRoot  Hash
	Checksum   uint32
}

func checksumOf(block []byte, merkleRoot, stateRoot Hash) uint32 {
	h := crc32.New(crc32cTable)
	h.Write(block)
	h.Write(merkleRoot[:])
	h.Write(stateRoot[:])
	return h.Sum32()
}

// NewBlockRecord computes the checksum and returns a ready-to-store record.
func NewBlockRecord(block []byte, merkleRoot, stateRoot Hash) BlockRecord {
	return BlockRecord{
		Block:      block,
		MerkleRoot: merkleRoot,
		StateRoot:  stateRoot,
		Checksum:   checksumOf(block, merkleRoot, stateRoot),
	}
}

// Verify recomputes the checksum and compares it to the stored value. This
// check is mandatory and never disableable.
func (r BlockRecord) Verify() bool {
	return checksumOf(r.Block, r.MerkleRoot, r.StateRoot) == r.Checksum
}

// encode/decode use a small fixed-field layout plus zstd compression of the
// block payload; the checksum is always computed over the pre-compression
// bytes so compression-library choice never affects integrity.
func encodeBlockRecord(r BlockRecord, enc *zstd.Encoder) ([]byte, error) {
	compressed := enc.EncodeAll(r.Block, nil)
	buf := &bytes.Buffer{}
	writeUint64(buf, uint64(len(compressed)))
	buf.Write(compressed)
	buf.Write(r.MerkleRoot[:])
	buf.Write(r.StateRoot[:])
	var cb [4]byte
	putUint32LE(cb[:], r.Checksum)
	buf.Write(cb[:])
	return buf.Bytes(), nil
}

func decodeBlockRecord(data []byte, dec *zstd.Decoder) (BlockRecord, error) {
	r := bytes.NewReader(data)
	blen, err := readUint64(r)
	if err != nil {
		return BlockRecord{}, err
	}
	compressed := make([]byte, blen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return BlockRecord{}, err
	}
	block, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return BlockRecord{}, WrapError(ErrDataCorruption, err)
	}
	var merkleRoot, stateRoot Hash
	if _, err := io.ReadFull(r, merkleRoot[:]); err != nil {
		return BlockRecord{}, err
	}
	if _, err := io.ReadFull(r, stateRoot[:]); err != nil {
		return BlockRecord{}, err
	}
	var cb [4]byte
	if _, err := io.ReadFull(r, cb[:]); err != nil {
		return BlockRecord{}, err
	}
	return BlockRecord{
		Block:      block,
		MerkleRoot: merkleRoot,
		StateRoot:  stateRoot,
		Checksum:   getUint32LE(cb[:]),
	}, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func blockKey(h Hash) []byte    { return append([]byte(prefixBlock), h[:]...) }
func heightKey(h Height) []byte { return append([]byte(prefixHeight), beHeight(h)...) }
func txIndexKey(h Hash) []byte  { return append([]byte(prefixTxIndex), h[:]...) }
