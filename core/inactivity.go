package core

// Quadratic inactivity leak: once finality stalls for longer than the
// configured epoch threshold, every validator that keeps missing epochs
// accrues a per-validator epochs_inactive streak (participants reset theirs
// to zero), and each absent validator's effective stake is penalized at
// base_penalty_bps*stake/10000 + quadratic_factor*epochs_inactive^2,
// accumulated in saturating u128 arithmetic. Follows the stake-adjustment
// bookkeeping pattern in consensus_constructor.go (mutex-guarded
// per-validator ledger), generalized from a single global epoch counter and
// flat per-validator fraction to the per-validator streak and stake-weighted
// quadratic curve.

import (
	"math/big"
	"sync"
)

// maxLeakUnits is the saturating ceiling for any cumulative or per-epoch
// penalty: 2^128 - 1, matching the spec's "saturating u128" arithmetic.
var maxLeakUnits = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// InactivityTracker accumulates per-validator leak penalties while the chain
// fails to finalize within leakThreshold consecutive epochs.
type InactivityTracker struct {
	mu sync.Mutex

	leakThreshold   uint64
	basePenaltyBps  uint64
	quadraticFactor uint64
	validatorStake  map[uint64]uint64

	epochsSinceFinality uint64
	epochsInactive      map[uint64]uint64
	leaked              map[uint64]*big.Int
}

// NewInactivityTracker builds a tracker that begins leaking once
// epochs_since_finality exceeds leakThreshold consecutive epochs without a
// finalization. validatorStake is the active stake table the base penalty
// term is proportional to; every validator it names has its epochs_inactive
// streak tracked (reset to zero on any epoch it participates in).
func NewInactivityTracker(leakThreshold, basePenaltyBps, quadraticFactor uint64, validatorStake map[uint64]uint64) *InactivityTracker {
	return &InactivityTracker{
		leakThreshold:   leakThreshold,
		basePenaltyBps:  basePenaltyBps,
		quadraticFactor: quadraticFactor,
		validatorStake:  validatorStake,
		epochsInactive:  make(map[uint64]uint64),
		leaked:          make(map[uint64]*big.Int),
	}
}

// Tick advances the tracker by one epoch. absent lists the validators that
// did not participate this epoch: their epochs_inactive streak accrues,
// while every other known validator's resets to zero. Once
// epochs_since_finality exceeds leakThreshold, each absent validator's
// per-epoch penalty is computed and added to its cumulative leak, both
// saturating at the u128 max; the per-epoch penalties applied this tick are
// returned.
func (t *InactivityTracker) Tick(absent []uint64) map[uint64]*big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.epochsSinceFinality++

	absentSet := make(map[uint64]struct{}, len(absent))
	for _, v := range absent {
		absentSet[v] = struct{}{}
	}
	for v := range t.validatorStake {
		if _, ok := absentSet[v]; ok {
			t.epochsInactive[v]++
		} else {
			t.epochsInactive[v] = 0
		}
	}
	for _, v := range absent {
		if _, known := t.validatorStake[v]; !known {
			// Not in the stake table (yet): still track its streak so a
			// later registration sees the correct accrued count.
			t.epochsInactive[v]++
		}
	}

	applied := make(map[uint64]*big.Int, len(absent))
	if t.epochsSinceFinality <= t.leakThreshold {
		return applied
	}

	for _, v := range absent {
		penalty := t.penaltyFor(v)
		acc, ok := t.leaked[v]
		if !ok {
			acc = new(big.Int)
			t.leaked[v] = acc
		}
		acc.Add(acc, penalty)
		if acc.Cmp(maxLeakUnits) > 0 {
			acc.Set(maxLeakUnits)
		}
		applied[v] = penalty
	}
	return applied
}

// penaltyFor computes base_penalty_bps*stake/10000 + quadratic_factor*
// epochs_inactive^2 for validatorID in saturating big-integer arithmetic.
func (t *InactivityTracker) penaltyFor(validatorID uint64) *big.Int {
	stake := new(big.Int).SetUint64(t.validatorStake[validatorID])
	base := new(big.Int).SetUint64(t.basePenaltyBps)
	base.Mul(base, stake)
	base.Div(base, big.NewInt(10000))

	epochs := new(big.Int).SetUint64(t.epochsInactive[validatorID])
	quad := new(big.Int).Mul(epochs, epochs)
	quad.Mul(quad, new(big.Int).SetUint64(t.quadraticFactor))

	penalty := base.Add(base, quad)
	if penalty.Cmp(maxLeakUnits) > 0 {
		penalty.Set(maxLeakUnits)
	}
	return penalty
}

// Reset clears the leak state; called by the finality gadget whenever a
// checkpoint finalizes.
func (t *InactivityTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epochsSinceFinality = 0
	t.epochsInactive = make(map[uint64]uint64)
	t.leaked = make(map[uint64]*big.Int)
}

// LeakedStake reports a validator's cumulative leaked stake-unit penalty.
func (t *InactivityTracker) LeakedStake(validatorID uint64) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acc, ok := t.leaked[validatorID]; ok {
		return new(big.Int).Set(acc)
	}
	return new(big.Int)
}

// EpochsInactive reports a validator's current consecutive-inactivity
// streak.
func (t *InactivityTracker) EpochsInactive(validatorID uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochsInactive[validatorID]
}

// Active reports whether the leak is currently penalizing absentees.
func (t *InactivityTracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epochsSinceFinality > t.leakThreshold
}
