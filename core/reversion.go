package core

// Reversion shield: rejects any candidate chain whose ancestry does not
// include the last finalized block, bounding the ancestor walk at
// maxReversionDepth so a malicious long fork can't stall validation.
// Follows the chain fork manager's orphan/fork-choice bookkeeping,
// generalized to an explicit "must include last finalized" rule, using
// hashicorp/golang-lru/v2 for the bounded ancestor cache in place of a
// plain ad hoc map.

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultMaxReversionDepth bounds how far back the shield will walk parent
// links before giving up and rejecting the candidate as unverifiable, unless
// NewReversionShield is given an explicit override.
const defaultMaxReversionDepth = 1000

// AncestorLookup resolves a block hash to its parent hash, backed by
// whatever the Storage subsystem exposes (see contracts.go's
// BlockAncestry).
type AncestorLookup interface {
	ParentOf(h Hash) (Hash, bool)
}

// ReversionShield enforces that every newly validated block's ancestry
// includes the most recently finalized block.
type ReversionShield struct {
	mu            sync.RWMutex
	lastFinalized Hash
	hasFinalized  bool
	ancestry      AncestorLookup
	ancestorCache *lru.Cache[Hash, Hash]
	maxDepth      int
}

// NewReversionShield builds a shield over the given ancestry lookup, with an
// LRU cache of parent-hash lookups bounded at cacheSize entries. maxDepth
// bounds the ancestor walk in Admits; a non-positive value falls back to
// defaultMaxReversionDepth.
func NewReversionShield(ancestry AncestorLookup, cacheSize int, maxDepth int) *ReversionShield {
	cache, _ := lru.New[Hash, Hash](cacheSize)
	if maxDepth <= 0 {
		maxDepth = defaultMaxReversionDepth
	}
	return &ReversionShield{ancestry: ancestry, ancestorCache: cache, maxDepth: maxDepth}
}

// SetLastFinalized updates the checkpoint every future candidate must
// descend from. Called exclusively by the finality gadget on finalization.
func (s *ReversionShield) SetLastFinalized(h Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFinalized = h
	s.hasFinalized = true
}

func (s *ReversionShield) cachedParentOf(h Hash) (Hash, bool) {
	if parent, ok := s.ancestorCache.Get(h); ok {
		return parent, true
	}
	parent, ok := s.ancestry.ParentOf(h)
	if ok {
		s.ancestorCache.Add(h, parent)
	}
	return parent, ok
}

// Admits walks back from candidate toward genesis, up to the shield's
// configured maxDepth hops, and reports whether it encounters the last
// finalized block. Before any block has been finalized, every candidate is
// admitted (genesis has no ancestor to check against).
func (s *ReversionShield) Admits(candidate Hash) (bool, error) {
	s.mu.RLock()
	target := s.lastFinalized
	has := s.hasFinalized
	s.mu.RUnlock()

	if !has {
		return true, nil
	}
	if candidate == target {
		return true, nil
	}

	cur := candidate
	for depth := 0; depth < s.maxDepth; depth++ {
		parent, ok := s.cachedParentOf(cur)
		if !ok {
			return false, NewError(ErrUnknownParent, "ancestor walk from %s broke at %s before reaching last finalized block", candidate, cur)
		}
		if parent == target {
			return true, nil
		}
		if parent.IsZero() {
			return false, nil // reached genesis without crossing the finalized block: a pre-finality fork
		}
		cur = parent
	}
	return false, NewError(ErrInvalidFinalization, "ancestor walk from %s exceeded max depth %d without reaching last finalized block", candidate, s.maxDepth)
}
