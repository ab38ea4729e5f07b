package core

// Consensus Validator: checks a proposed block against its declared parent,
// height, proposer and attestation supermajority before it may be published
// as BlockValidated, and runs a deliberately simplified VDF-based leader
// selection (not cryptographically sound — see the leader selector's own
// doc comment). Generalized from consensus_constructor.go's single-chain
// PoS block-acceptance checks into an explicit
// parent/height/proposer/attestation pipeline feeding the choreography bus
// instead of a direct ledger append.

import (
	"crypto/sha256"
	"sync"
)

// ProposerSchedule resolves which validator is entitled to propose at a
// given height, e.g. a precomputed VRF/VDF-based rotation.
type ProposerSchedule interface {
	ProposerAt(height Height) Address
}

// VDFLeaderSelector is a deliberately simple (non-production) verifiable
// delay function: leader_seed = sha256^iterations(parent_hash || height).
// Real VDF soundness requires a trapdoor-free sequential function with a
// fast verifier (e.g. Wesolowski or Pietrzak proofs); integrating one is
// deferred until a suitable implementation is available.
type VDFLeaderSelector struct {
	Iterations int
}

// Evaluate runs the toy VDF and returns its output digest.
func (v VDFLeaderSelector) Evaluate(parent Hash, height Height) Hash {
	iterations := v.Iterations
	if iterations <= 0 {
		iterations = 1000
	}
	cur := HashBytes(append(append([]byte{}, parent[:]...), beHeight(height)...))
	for i := 1; i < iterations; i++ {
		sum := sha256.Sum256(cur[:])
		cur = Hash(sum)
	}
	return cur
}

// ConsensusConfig configures the validator's acceptance thresholds.
type ConsensusConfig struct {
	AttestationThreshold float64 // fraction of committee stake required, e.g. 2.0/3.0
	Schedule             ProposerSchedule
	VDF                  VDFLeaderSelector
}

// ConsensusValidator checks candidate blocks and emits BlockValidated on
// acceptance. It holds no ledger state of its own: parent/height lookups are
// delegated to the supplied AncestorLookup (see contracts.go), keeping the
// validator a pure function of its inputs plus that one external dependency.
type ConsensusValidator struct {
	mu       sync.RWMutex
	cfg      ConsensusConfig
	ancestry AncestorLookup
	heights  map[Hash]Height // accepted block -> height, for the next block's parent/height check
}

// NewConsensusValidator builds a validator over the given ancestry lookup.
func NewConsensusValidator(cfg ConsensusConfig, ancestry AncestorLookup) *ConsensusValidator {
	return &ConsensusValidator{
		cfg:      cfg,
		ancestry: ancestry,
		heights:  make(map[Hash]Height),
	}
}

// RecordAccepted registers a previously validated block's height so future
// children can be height-checked against it.
func (v *ConsensusValidator) RecordAccepted(h Hash, height Height) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.heights[h] = height
}

func (v *ConsensusValidator) heightOf(h Hash) (Height, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ht, ok := v.heights[h]
	return ht, ok
}

// Validate checks block against the parent/height/proposer/attestation
// rules and returns an error naming the first violated invariant. atts
// carries the committee's attestations for this block along with the
// per-validator stake table and per-validator committee membership
// (signed via BLS, verified in batch).
func (v *ConsensusValidator) Validate(block *ValidatedBlock, signed []SignedAttestation, validatorStake map[uint64]uint64, totalStake uint64) error {
	if !block.Header.ParentHash.IsZero() {
		if _, ok := v.ancestry.ParentOf(block.BlockHash()); !ok {
			if _, ok := v.heightOf(block.Header.ParentHash); !ok {
				return NewError(ErrParentNotFound, "parent %s not known to consensus", block.Header.ParentHash)
			}
		}
		parentHeight, ok := v.heightOf(block.Header.ParentHash)
		if ok && block.Header.Height != parentHeight+1 {
			return NewError(ErrInvalidHeight, "height %d is not parent height %d + 1", block.Header.Height, parentHeight)
		}
	}

	if v.cfg.Schedule != nil {
		want := v.cfg.Schedule.ProposerAt(block.Header.Height)
		if want != block.Header.Proposer {
			return NewError(ErrUnauthorizedSender, "proposer %s is not scheduled for height %d", block.Header.Proposer, block.Header.Height)
		}
	}

	if totalStake > 0 {
		failed, err := BatchVerifyAttestations(signed)
		if err != nil {
			return err
		}
		var votedStake uint64
		failedSet := make(map[int]struct{}, len(failed))
		for _, i := range failed {
			failedSet[i] = struct{}{}
		}
		for i, sa := range signed {
			if _, bad := failedSet[i]; bad {
				continue
			}
			votedStake += validatorStake[sa.Attestation.ValidatorID]
		}
		threshold := v.cfg.AttestationThreshold
		if threshold <= 0 {
			threshold = 2.0 / 3.0
		}
		if float64(votedStake) < threshold*float64(totalStake) {
			return NewError(ErrInsufficientAttestation, "attested stake %d below %.2f%% of %d", votedStake, threshold*100, totalStake)
		}
	}

	return nil
}
