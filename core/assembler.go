package core

// Block Assembler: the stateful buffer that joins three independently
// produced block components into one atomic stored block. Deliberately
// not an orchestrator: each input event mutates a pending assembly in
// place, and completeness is checked after every mutation.

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// AssemblerConfig holds the Block Assembler's recognized tuning options.
type AssemblerConfig struct {
	AssemblyTimeoutSecs  int64
	MaxPendingAssemblies int
	MaxBlockSize         int
	MinDiskSpacePercent  int
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	if c.AssemblyTimeoutSecs == 0 {
		c.AssemblyTimeoutSecs = 30
	}
	if c.MaxPendingAssemblies == 0 {
		c.MaxPendingAssemblies = 1000
	}
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = 10 * 1024 * 1024
	}
	if c.MinDiskSpacePercent == 0 {
		c.MinDiskSpacePercent = 5
	}
	return c
}

// PendingAssembly tracks one in-flight block's components as they arrive.
type PendingAssembly struct {
	BlockHash  Hash
	Block      *ValidatedBlock
	Height     Height
	MerkleRoot *Hash
	StateRoot  *Hash
	StartedAt  time.Time
}

func (p *PendingAssembly) complete() bool {
	return p.Block != nil && p.MerkleRoot != nil && p.StateRoot != nil
}

// AssemblerMetadata is the singleton stored under `m:metadata`.
type AssemblerMetadata struct {
	GenesisHash    *Hash
	LatestHeight   Height
	TotalBlocks    uint64
	FinalizedHeight Height
	HasFinalized    bool
}

// DiskSpaceChecker reports the current percentage of free disk space; it is
// the contract boundary to the (excluded) storage subsystem's volume
// monitor. A constant checker is used by default.
type DiskSpaceChecker func() int

// AssemblyTimeoutEvent is emitted by GC for each purged pending assembly.
type AssemblyTimeoutEvent struct {
	BlockHash Hash
	ElapsedMS int64
}

// Assembler's buffer mutates far more often than it is enumerated wholesale,
// so it is guarded by a single write-biased mutex rather than RWMutex.
type Assembler struct {
	mu      sync.Mutex
	pending map[Hash]*PendingAssembly
	order   []Hash // insertion order, oldest first — drives GC & capacity eviction

	cfg     AssemblerConfig
	store   KVStore
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *assemblerMetrics
	disk    DiskSpaceChecker

	meta AssemblerMetadata

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewAssembler constructs an Assembler over store. disk defaults to a
// checker that always reports 100% free.
func NewAssembler(cfg AssemblerConfig, store KVStore, logger *logrus.Logger, c clock.Clock, disk DiskSpaceChecker) (*Assembler, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if c == nil {
		c = clock.New()
	}
	if disk == nil {
		disk = func() int { return 100 }
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	a := &Assembler{
		pending: make(map[Hash]*PendingAssembly),
		cfg:     cfg,
		store:   store,
		clock:   c,
		logger:  logger,
		metrics: newAssemblerMetrics(),
		disk:    disk,
		zenc:    enc,
		zdec:    dec,
	}
	a.loadMetadata()
	return a, nil
}

func (a *Assembler) loadMetadata() {
	raw, err := a.store.Get([]byte(keyMetadata))
	if err != nil {
		return
	}
	var m AssemblerMetadata
	if json.Unmarshal(raw, &m) == nil {
		a.meta = m
	}
}

func (a *Assembler) saveMetadataLocked() error {
	raw, err := json.Marshal(a.meta)
	if err != nil {
		return err
	}
	return a.store.Put([]byte(keyMetadata), raw)
}

func (a *Assembler) getOrCreateLocked(hash Hash) *PendingAssembly {
	p, ok := a.pending[hash]
	if !ok {
		p = &PendingAssembly{BlockHash: hash, StartedAt: a.clock.Now()}
		a.pending[hash] = p
		a.order = append(a.order, hash)
		a.evictIfOverCapacityLocked()
		a.metrics.pendingAssemblies.Set(float64(len(a.pending)))
	}
	return p
}

// evictIfOverCapacityLocked keeps the pending count bounded, evicting the
// oldest assembly first.
func (a *Assembler) evictIfOverCapacityLocked() {
	for len(a.pending) > a.cfg.MaxPendingAssemblies && len(a.order) > 0 {
		oldest := a.order[0]
		a.order = a.order[1:]
		delete(a.pending, oldest)
	}
}

// HandleBlockValidated ingests the Consensus-produced component of a
// pending assembly.
func (a *Assembler) HandleBlockValidated(hash Hash, block *ValidatedBlock, height Height) (committed bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.getOrCreateLocked(hash)
	p.Block = block
	p.Height = height
	return a.tryCommitLocked(p)
}

// HandleMerkleRootComputed ingests the Transaction Indexing component.
func (a *Assembler) HandleMerkleRootComputed(hash Hash, merkleRoot Hash) (committed bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.getOrCreateLocked(hash)
	p.MerkleRoot = &merkleRoot
	return a.tryCommitLocked(p)
}

// HandleStateRootComputed ingests the State Management component.
func (a *Assembler) HandleStateRootComputed(hash Hash, stateRoot Hash) (committed bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.getOrCreateLocked(hash)
	p.StateRoot = &stateRoot
	return a.tryCommitLocked(p)
}

// tryCommitLocked runs the seven-step atomic commit once all three inputs
// are present. On any check failure the pending entry is left untouched so
// a later correction (or the GC timeout) resolves it.
func (a *Assembler) tryCommitLocked(p *PendingAssembly) (bool, error) {
	if !p.complete() {
		return false, nil
	}

	if free := a.disk(); free < a.cfg.MinDiskSpacePercent {
		return false, NewError(ErrDiskFull, "disk free %d%% below minimum %d%%", free, a.cfg.MinDiskSpacePercent)
	}

	parentHash := p.Block.Header.ParentHash
	if p.Block.Header.Height != 0 {
		has, err := a.store.Has(blockKey(parentHash))
		if err != nil {
			return false, WrapError(ErrDataCorruption, err)
		}
		if !has {
			return false, NewError(ErrParentNotFound, "parent %s not found", parentHash)
		}
	}

	exists, err := a.store.Has(blockKey(p.BlockHash))
	if err != nil {
		return false, WrapError(ErrDataCorruption, err)
	}
	if exists {
		return false, NewError(ErrBlockExists, "block %s already stored", p.BlockHash)
	}

	serialized, err := json.Marshal(p.Block)
	if err != nil {
		return false, WrapError(ErrDataCorruption, err)
	}
	if len(serialized) > a.cfg.MaxBlockSize {
		return false, NewError(ErrDataCorruption, "block exceeds max size %d", a.cfg.MaxBlockSize)
	}

	record := NewBlockRecord(serialized, *p.MerkleRoot, *p.StateRoot)
	encoded, err := encodeBlockRecord(record, a.zenc)
	if err != nil {
		return false, WrapError(ErrDataCorruption, err)
	}

	// Single atomic batch: block record, height index, optional tx index.
	batch := a.store.NewBatch()
	batch.Put(blockKey(p.BlockHash), encoded)
	batch.Put(heightKey(p.Height), p.BlockHash[:])
	if err := a.store.Write(batch); err != nil {
		return false, WrapError(ErrDataCorruption, err)
	}

	if p.Height == 0 && a.meta.GenesisHash == nil {
		gh := p.BlockHash
		a.meta.GenesisHash = &gh
	}
	if p.Height >= a.meta.LatestHeight || a.meta.TotalBlocks == 0 {
		a.meta.LatestHeight = p.Height
	}
	a.meta.TotalBlocks++
	if err := a.saveMetadataLocked(); err != nil {
		return false, WrapError(ErrDataCorruption, err)
	}

	delete(a.pending, p.BlockHash)
	a.removeFromOrderLocked(p.BlockHash)
	a.metrics.pendingAssemblies.Set(float64(len(a.pending)))
	a.metrics.blocksStored.Inc()

	return true, nil
}

func (a *Assembler) removeFromOrderLocked(hash Hash) {
	for i, h := range a.order {
		if h == hash {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// GC purges assemblies older than the configured timeout, returning one
// AssemblyTimeoutEvent per purge. Intended to be driven by a periodic tick.
func (a *Assembler) GC() []AssemblyTimeoutEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	timeout := time.Duration(a.cfg.AssemblyTimeoutSecs) * time.Second
	var events []AssemblyTimeoutEvent
	var survivors []Hash
	for _, hash := range a.order {
		p := a.pending[hash]
		elapsed := now.Sub(p.StartedAt)
		if elapsed > timeout {
			events = append(events, AssemblyTimeoutEvent{BlockHash: hash, ElapsedMS: elapsed.Milliseconds()})
			delete(a.pending, hash)
			a.metrics.assemblyTimeouts.Inc()
			continue
		}
		survivors = append(survivors, hash)
	}
	a.order = survivors
	a.metrics.pendingAssemblies.Set(float64(len(a.pending)))
	return events
}

// PendingCount reports the number of in-flight assemblies.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// ReadBlock fetches and deserializes the stored block, verifying its
// checksum unconditionally.
func (a *Assembler) ReadBlock(hash Hash) (*ValidatedBlock, BlockRecord, error) {
	raw, err := a.store.Get(blockKey(hash))
	if err != nil {
		return nil, BlockRecord{}, NewError(ErrBlockNotFound, "block %s not found", hash)
	}
	record, err := decodeBlockRecord(raw, a.zdec)
	if err != nil {
		return nil, BlockRecord{}, err
	}
	if !record.Verify() {
		return nil, BlockRecord{}, NewError(ErrDataCorruption, "checksum mismatch for block %s", hash)
	}
	var block ValidatedBlock
	if err := json.Unmarshal(record.Block, &block); err != nil {
		return nil, BlockRecord{}, WrapError(ErrDataCorruption, err)
	}
	return &block, record, nil
}

// ReadBlockRange sequentially fetches up to limit (capped at 100) blocks
// starting at height start.
func (a *Assembler) ReadBlockRange(start Height, limit int) ([]*ValidatedBlock, error) {
	if limit > 100 {
		limit = 100
	}
	it := a.store.NewIteratorPrefix([]byte(prefixHeight))
	defer it.Release()

	type kv struct {
		height Height
		hash   Hash
	}
	var all []kv
	for it.Next() {
		key := it.Key()
		h := heightFromKey(key)
		var hash Hash
		copy(hash[:], it.Value())
		all = append(all, kv{height: h, hash: hash})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].height < all[j].height })

	var out []*ValidatedBlock
	for _, e := range all {
		if e.height < start {
			continue
		}
		if len(out) >= limit {
			break
		}
		block, _, err := a.ReadBlock(e.hash)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

func heightFromKey(key []byte) Height {
	suffix := key[len(prefixHeight):]
	var h Height
	for _, b := range suffix {
		h = h<<8 | Height(b)
	}
	return h
}

// MarkFinalized advances the assembler's finalized-height watermark. It
// rejects any regression: finalized height must be monotonically
// non-decreasing.
func (a *Assembler) MarkFinalized(height Height) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.meta.HasFinalized && height < a.meta.FinalizedHeight {
		return NewError(ErrInvalidFinalization, "finalized height cannot regress from %d to %d", a.meta.FinalizedHeight, height)
	}
	a.meta.FinalizedHeight = height
	a.meta.HasFinalized = true
	return a.saveMetadataLocked()
}

// Metadata returns a copy of the current metadata singleton.
func (a *Assembler) Metadata() AssemblerMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta
}

// MetricsCollectors exposes the assembler's Prometheus collectors for
// process-level registration.
func (a *Assembler) MetricsCollectors() []prometheus.Collector {
	return a.metrics.Collectors()
}

// ParentOf implements AncestorLookup over the assembler's own block store,
// letting the reversion shield and consensus validator walk ancestry without
// a separate storage-subsystem dependency.
func (a *Assembler) ParentOf(hash Hash) (Hash, bool) {
	block, _, err := a.ReadBlock(hash)
	if err != nil {
		return Hash{}, false
	}
	return block.Header.ParentHash, true
}
