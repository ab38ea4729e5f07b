package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory KVStore used by tests: a mutex-guarded map
// standing in for the real backing store, matching the mock-ledger pattern
// used throughout tests/*_test.go.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemoryStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryStore) Close() error { return nil }

type memoryBatchOp struct{ key, value []byte }

// memoryBatch mirrors leveldb.Batch's contract closely enough for
// MemoryStore to give tests the same atomic-write guarantee production gets.
type memoryBatch struct {
	ops []memoryBatchOp
}

func (b *memoryBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memoryBatchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (m *MemoryStore) NewBatch() Batch { return &memoryBatch{} }

func (m *MemoryStore) Write(batch Batch) error {
	b, ok := batch.(*memoryBatch)
	if !ok {
		return fmt.Errorf("storage: batch not produced by MemoryStore.NewBatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.ops {
		m.data[string(op.key)] = op.value
	}
	return nil
}

type memoryIterator struct {
	keys []string
	vals [][]byte
	pos  int
}

func (m *MemoryStore) NewIteratorPrefix(prefix []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	it := &memoryIterator{pos: -1}
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			it.keys = append(it.keys, k)
			it.vals = append(it.vals, append([]byte(nil), v...))
		}
	}
	sort.Sort(it)
	return it
}

func (it *memoryIterator) Len() int      { return len(it.keys) }
func (it *memoryIterator) Swap(i, j int) {
	it.keys[i], it.keys[j] = it.keys[j], it.keys[i]
	it.vals[i], it.vals[j] = it.vals[j], it.vals[i]
}
func (it *memoryIterator) Less(i, j int) bool { return it.keys[i] < it.keys[j] }

func (it *memoryIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}
func (it *memoryIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memoryIterator) Value() []byte { return it.vals[it.pos] }
func (it *memoryIterator) Release()      {}
