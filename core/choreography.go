package core

// Wire payload structs for every event carried over the Event Router,
// encoded as JSON inside AuthenticatedEnvelope.Payload. Keeping these
// separate from the components that produce/consume them lets the
// subsystem adapters (cmd/choros/subsystems.go) marshal and unmarshal
// without reaching into component internals, matching the envelope's own
// "payload is opaque to the router" contract in envelope.go.

// CandidateBlockSubmittedPayload is the inbound trigger for the Consensus
// Validator: a proposed block plus the attestation set and stake table it
// must be checked against. Produced by the (excluded) networking/gossip
// layer; unrestricted in the authorization matrix since no in-scope
// subsystem owns block proposal.
type CandidateBlockSubmittedPayload struct {
	Block          *ValidatedBlock
	Attestations   []SignedAttestation
	ValidatorStake map[uint64]uint64
	TotalStake     uint64
}

// BlockValidatedPayload is published by the Consensus Validator once a
// candidate block passes parent/height/proposer/attestation checks.
type BlockValidatedPayload struct {
	BlockHash   Hash
	Block       *ValidatedBlock
	BlockHeight Height
}

// MerkleRootComputedPayload is published by Transaction Indexing (external
// to this core) once it has derived a block's merkle root.
type MerkleRootComputedPayload struct {
	BlockHash  Hash
	MerkleRoot Hash
}

// StateRootComputedPayload is published by State Management (external to
// this core) once it has derived a block's post-state root.
type StateRootComputedPayload struct {
	BlockHash Hash
	StateRoot Hash
}

// BlockStoredPayload is published by the Block Assembler after the atomic
// commit completes. It carries the block's attestation proof so the
// Finality Gadget can accumulate votes without a direct call back into the
// assembler.
type BlockStoredPayload struct {
	BlockHash    Hash
	BlockHeight  Height
	Attestations []Attestation
}

// CheckpointJustifiedPayload and CheckpointFinalizedPayload are published by
// the Finality Gadget as CastVote crosses the justification/finalization
// stake threshold.
type CheckpointJustifiedPayload struct {
	Checkpoint Checkpoint
}

type CheckpointFinalizedPayload struct {
	Checkpoint Checkpoint
}

// SlashableOffenseDetectedPayload is published by the Finality Gadget the
// instant CastVote detects a double-vote or surround-vote conflict.
type SlashableOffenseDetectedPayload struct {
	Offense SlashableOffense
}

// TransactionsOrderedPayload is broadcast to Smart Contracts by the
// Transaction Scheduler alongside its direct OrderTransactionsResponse
// reply, carrying the block the schedule applies to.
type TransactionsOrderedPayload struct {
	BlockHash      Hash
	BlockHeight    Height
	ParallelGroups []ParallelGroup
	MaxParallelism int
}
