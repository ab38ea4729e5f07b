package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bloom/v3"
)

// defaultReplayWindowSecs is the nonce replay window, default 600 seconds.
const defaultReplayWindowSecs = 600

// replayEstimatedItems and replayFalsePositiveRate size each generation's
// bloom filter so the combined false-positive rate across both generations
// stays at or below a 5% ceiling.
const (
	replayEstimatedItems     = 1_000_000
	replayFalsePositiveRate  = 0.02
	replayGenerationOverlap1 = 0 // current generation index
	replayGenerationOverlap2 = 1 // previous generation index
)

// ReplayCache is a time-windowed, probabilistic set of envelope nonces. It is
// implemented as two generations of bloom filters: a "current" filter that
// absorbs new nonces, and a "previous" filter retained so nonces seen near a
// rotation boundary are still caught. Rotation swaps current into previous
// and starts a fresh current filter, discarding the old previous.
type ReplayCache struct {
	mu         sync.Mutex
	clock      clock.Clock
	windowSecs int64
	current    *bloom.BloomFilter
	previous   *bloom.BloomFilter
	rotatedAt  time.Time
}

// NewReplayCache builds a ReplayCache with the given window (seconds) and
// clock source; pass clock.New() in production and clock.NewMock() in tests
// to deterministically drive rotation.
func NewReplayCache(windowSecs int64, c clock.Clock) *ReplayCache {
	if windowSecs <= 0 {
		windowSecs = defaultReplayWindowSecs
	}
	if c == nil {
		c = clock.New()
	}
	return &ReplayCache{
		clock:      c,
		windowSecs: windowSecs,
		current:    bloom.NewWithEstimates(replayEstimatedItems, replayFalsePositiveRate),
		previous:   bloom.NewWithEstimates(replayEstimatedItems, replayFalsePositiveRate),
		rotatedAt:  c.Now(),
	}
}

// CheckAndRecord reports whether nonce was already seen within the current
// window (ok=false, already present) and otherwise records it for future
// lookups (ok=true, newly recorded). It rotates generations first if the
// window has elapsed.
func (c *ReplayCache) CheckAndRecord(nonce [16]byte) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRotateLocked()

	if c.current.Test(nonce[:]) || c.previous.Test(nonce[:]) {
		return false
	}
	c.current.Add(nonce[:])
	return true
}

func (c *ReplayCache) maybeRotateLocked() {
	if c.clock.Now().Sub(c.rotatedAt) < time.Duration(c.windowSecs)*time.Second {
		return
	}
	c.previous = c.current
	c.current = bloom.NewWithEstimates(replayEstimatedItems, replayFalsePositiveRate)
	c.rotatedAt = c.clock.Now()
}
