package core

// Slashing condition detection: double votes (two distinct attestations at
// the same target epoch) and surround votes (one attestation's source/target
// span strictly contains another's), mirroring Casper-FFG's two slashing
// conditions. Follows the validator-misbehavior bookkeeping in
// consensus_constructor.go, generalized from its single-offense check to a
// pairwise span comparison across every prior vote a validator has cast.

// SlashableOffenseKind names which Casper-FFG condition was violated.
type SlashableOffenseKind string

const (
	OffenseDoubleVote   SlashableOffenseKind = "DoubleVote"
	OffenseSurroundVote SlashableOffenseKind = "SurroundVote"
)

// SlashableOffense describes a detected validator misbehavior.
type SlashableOffense struct {
	ValidatorID uint64
	Kind        SlashableOffenseKind
	Reason      string
	Offending   Attestation
	Prior       Attestation
}

// detectSlashableOffense compares att against a validator's prior votes,
// returning the first conflicting pair found, or nil if att is consistent
// with all prior votes.
func detectSlashableOffense(prior []Attestation, att Attestation) *SlashableOffense {
	for _, p := range prior {
		if p.Target.Epoch == att.Target.Epoch && p.Target.BlockHash != att.Target.BlockHash {
			return &SlashableOffense{
				ValidatorID: att.ValidatorID,
				Kind:        OffenseDoubleVote,
				Reason:      "two distinct attestations cast for the same target epoch",
				Offending:   att,
				Prior:       p,
			}
		}
		if surrounds(p, att) {
			return &SlashableOffense{
				ValidatorID: att.ValidatorID,
				Kind:        OffenseSurroundVote,
				Reason:      "attestation's source/target span surrounds a prior attestation",
				Offending:   att,
				Prior:       p,
			}
		}
		if surrounds(att, p) {
			return &SlashableOffense{
				ValidatorID: att.ValidatorID,
				Kind:        OffenseSurroundVote,
				Reason:      "attestation's source/target span is surrounded by a prior attestation",
				Offending:   att,
				Prior:       p,
			}
		}
	}
	return nil
}

// surrounds reports whether a's span (source_epoch, target_epoch) strictly
// contains b's span, i.e. a.source < b.source && b.target < a.target.
func surrounds(a, b Attestation) bool {
	return a.Source.Epoch < b.Source.Epoch && b.Target.Epoch < a.Target.Epoch
}
