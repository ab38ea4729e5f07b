package core

// Casper-FFG style finality gadget: checkpoint justification and
// finalization over epoch-boundary attestations, following
// consensus_constructor.go's quorum-counting pattern (stake-weighted
// supermajority over a fixed validator set) and generalized to a two-round
// justify/finalize rule.

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkpoint identifies an epoch boundary block.
type Checkpoint struct {
	Epoch     uint64
	BlockHash Hash
}

func (c Checkpoint) digest() Hash {
	buf := make([]byte, 0, 40)
	var eb [8]byte
	for i := 0; i < 8; i++ {
		eb[i] = byte(c.Epoch >> (56 - 8*i))
	}
	buf = append(buf, eb[:]...)
	buf = append(buf, c.BlockHash[:]...)
	return HashBytes(buf)
}

// CheckpointStatus records what stage a checkpoint has reached.
type CheckpointStatus int

const (
	CheckpointPending CheckpointStatus = iota
	CheckpointJustified
	CheckpointFinalized
)

type checkpointRecord struct {
	status      CheckpointStatus
	stakeVoted  uint64
	voters      map[uint64]struct{}
	justifiedAt uint64 // epoch at which justification occurred, 0 if unjustified
}

// FinalityConfig configures the finality gadget's stake accounting.
type FinalityConfig struct {
	TotalStake      uint64
	ValidatorStake  map[uint64]uint64
	CommitteeKeys   *CommitteeKeySet
	InactivityLeak  *InactivityTracker
	ReversionShield *ReversionShield
}

// FinalityGadget tracks checkpoint justification/finalization, per-validator
// vote history for slashing detection and the inactivity leak. It is the
// sole writer of "finalized" status; all other subsystems treat finalized
// checkpoints as immutable.
type FinalityGadget struct {
	mu sync.RWMutex

	cfg FinalityConfig

	checkpoints map[Hash]*checkpointRecord // keyed by Checkpoint.digest()
	votes       map[uint64][]Attestation   // validator ID -> cast attestations, for slashing
	lastJust    *Checkpoint
	lastFinal   *Checkpoint

	metrics *finalityMetrics
}

// NewFinalityGadget constructs a gadget over the given validator stake
// table.
func NewFinalityGadget(cfg FinalityConfig) *FinalityGadget {
	return &FinalityGadget{
		cfg:         cfg,
		checkpoints: make(map[Hash]*checkpointRecord),
		votes:       make(map[uint64][]Attestation),
		metrics:     newFinalityMetrics(),
	}
}

// Collectors exposes the gadget's Prometheus collectors for process-level
// registration.
func (g *FinalityGadget) Collectors() []prometheus.Collector {
	return g.metrics.Collectors()
}

// justificationThreshold computes ceil(2*total/3) + 1 using saturating
// arithmetic so it never overflows for any validator stake total.
func justificationThreshold(total uint64) uint64 {
	if total == 0 {
		return 0
	}
	num := total * 2
	if num < total { // overflow
		num = ^uint64(0)
	}
	threshold := num/3 + 1
	if num%3 != 0 {
		threshold++
	}
	if threshold > total {
		threshold = total
	}
	return threshold
}

// CastVote records a validator's attestation, checks it for slashable
// double-vote/surround-vote conditions, and advances
// justification/finalization when the stake threshold is crossed.
func (g *FinalityGadget) CastVote(att Attestation) (justified bool, finalized bool, offense *SlashableOffense, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if offense = detectSlashableOffense(g.votes[att.ValidatorID], att); offense != nil {
		g.metrics.slashingEvents.Inc()
		return false, false, offense, NewError(ErrSlashableOffense, "validator %d: %s", att.ValidatorID, offense.Reason)
	}
	g.votes[att.ValidatorID] = append(g.votes[att.ValidatorID], att)

	stake, ok := g.cfg.ValidatorStake[att.ValidatorID]
	if !ok {
		return false, false, nil, NewError(ErrUnauthorizedSender, "validator %d has no registered stake", att.ValidatorID)
	}

	key := att.Target.digest()
	rec, ok := g.checkpoints[key]
	if !ok {
		rec = &checkpointRecord{voters: make(map[uint64]struct{})}
		g.checkpoints[key] = rec
	}
	if _, already := rec.voters[att.ValidatorID]; !already {
		rec.voters[att.ValidatorID] = struct{}{}
		rec.stakeVoted += stake
	}

	threshold := justificationThreshold(g.cfg.TotalStake)
	if rec.status == CheckpointPending && rec.stakeVoted >= threshold {
		rec.status = CheckpointJustified
		rec.justifiedAt = att.Target.Epoch
		target := att.Target
		g.lastJust = &target
		justified = true
		g.metrics.lastJustifiedEpoch.Set(float64(target.Epoch))

		if srcRec, ok := g.checkpoints[att.Source.digest()]; ok &&
			srcRec.status == CheckpointJustified &&
			att.Target.Epoch == att.Source.Epoch+1 {
			srcRec.status = CheckpointFinalized
			src := att.Source
			g.lastFinal = &src
			finalized = true
			g.metrics.lastFinalizedEpoch.Set(float64(src.Epoch))
			if g.cfg.ReversionShield != nil {
				g.cfg.ReversionShield.SetLastFinalized(src.BlockHash)
			}
			if g.cfg.InactivityLeak != nil {
				g.cfg.InactivityLeak.Reset()
			}
		}
	}

	return justified, finalized, nil, nil
}

// LastJustified returns the most recently justified checkpoint, if any.
func (g *FinalityGadget) LastJustified() (Checkpoint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastJust == nil {
		return Checkpoint{}, false
	}
	return *g.lastJust, true
}

// LastFinalized returns the most recently finalized checkpoint, if any.
func (g *FinalityGadget) LastFinalized() (Checkpoint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastFinal == nil {
		return Checkpoint{}, false
	}
	return *g.lastFinal, true
}

// Status reports the status of a checkpoint, defaulting to Pending for
// checkpoints not yet seen.
func (g *FinalityGadget) Status(c Checkpoint) CheckpointStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.checkpoints[c.digest()]
	if !ok {
		return CheckpointPending
	}
	return rec.status
}
