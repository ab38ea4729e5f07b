package core

import "testing"

type fixedProposerSchedule map[Height]Address

func (f fixedProposerSchedule) ProposerAt(h Height) Address { return f[h] }

func TestConsensusValidatorAcceptsGenesisBlock(t *testing.T) {
	v := NewConsensusValidator(ConsensusConfig{}, mapAncestry{})
	block := &ValidatedBlock{Header: BlockHeader{Height: 0}}
	if err := v.Validate(block, nil, nil, 0); err != nil {
		t.Fatalf("expected genesis block to validate, got %v", err)
	}
}

func TestConsensusValidatorRejectsWrongHeight(t *testing.T) {
	v := NewConsensusValidator(ConsensusConfig{}, mapAncestry{})
	parent := fixedHash(0x01)
	v.RecordAccepted(parent, 0)

	block := &ValidatedBlock{Header: BlockHeader{ParentHash: parent, Height: 5}}
	err := v.Validate(block, nil, nil, 0)
	if err == nil {
		t.Fatal("expected a height-mismatch error")
	}
	if kind, _ := KindOf(err); kind != ErrInvalidHeight {
		t.Fatalf("expected ErrInvalidHeight, got %v", kind)
	}
}

func TestConsensusValidatorRejectsUnscheduledProposer(t *testing.T) {
	schedule := fixedProposerSchedule{1: Address{1}}
	v := NewConsensusValidator(ConsensusConfig{Schedule: schedule}, mapAncestry{})
	parent := fixedHash(0x01)
	v.RecordAccepted(parent, 0)

	block := &ValidatedBlock{Header: BlockHeader{ParentHash: parent, Height: 1, Proposer: Address{9}}}
	err := v.Validate(block, nil, nil, 0)
	if err == nil {
		t.Fatal("expected a proposer-authorization error")
	}
	if kind, _ := KindOf(err); kind != ErrUnauthorizedSender {
		t.Fatalf("expected ErrUnauthorizedSender, got %v", kind)
	}
}

func TestConsensusValidatorRejectsInsufficientAttestation(t *testing.T) {
	v := NewConsensusValidator(ConsensusConfig{AttestationThreshold: 2.0 / 3.0}, mapAncestry{})
	block := &ValidatedBlock{Header: BlockHeader{Height: 0}}

	src := Checkpoint{Epoch: 1, BlockHash: fixedHash(0x01)}
	tgt := Checkpoint{Epoch: 2, BlockHash: fixedHash(0x02)}
	signed := []SignedAttestation{signedAttestation(t, 1, src, tgt)}
	stake := map[uint64]uint64{1: 10, 2: 90}

	err := v.Validate(block, signed, stake, 100)
	if err == nil {
		t.Fatal("expected an insufficient-attestation error when only 10% of stake voted")
	}
	if kind, _ := KindOf(err); kind != ErrInsufficientAttestation {
		t.Fatalf("expected ErrInsufficientAttestation, got %v", kind)
	}
}

func TestConsensusValidatorAcceptsSufficientAttestation(t *testing.T) {
	v := NewConsensusValidator(ConsensusConfig{AttestationThreshold: 2.0 / 3.0}, mapAncestry{})
	block := &ValidatedBlock{Header: BlockHeader{Height: 0}}

	src := Checkpoint{Epoch: 1, BlockHash: fixedHash(0x01)}
	tgt := Checkpoint{Epoch: 2, BlockHash: fixedHash(0x02)}
	signed := []SignedAttestation{
		signedAttestation(t, 1, src, tgt),
		signedAttestation(t, 2, src, tgt),
	}
	stake := map[uint64]uint64{1: 50, 2: 50}

	if err := v.Validate(block, signed, stake, 100); err != nil {
		t.Fatalf("expected validation to succeed with full stake attesting, got %v", err)
	}
}

func TestVDFLeaderSelectorIsDeterministic(t *testing.T) {
	vdf := VDFLeaderSelector{Iterations: 16}
	parent := fixedHash(0x01)
	a := vdf.Evaluate(parent, 5)
	b := vdf.Evaluate(parent, 5)
	if a != b {
		t.Fatal("expected VDF evaluation to be deterministic for identical inputs")
	}
	if c := vdf.Evaluate(parent, 6); c == a {
		t.Fatal("expected VDF evaluation to differ across heights")
	}
}
