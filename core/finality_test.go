package core

import "testing"

func cp(epoch uint64, label string) Checkpoint {
	return Checkpoint{Epoch: epoch, BlockHash: HashBytes([]byte(label))}
}

func attest(validator uint64, src, tgt Checkpoint) Attestation {
	return Attestation{ValidatorID: validator, Source: src, Target: tgt}
}

func fourValidatorStake() map[uint64]uint64 {
	return map[uint64]uint64{1: 25, 2: 25, 3: 25, 4: 25}
}

func TestFinalityJustifiesAtSupermajorityThreshold(t *testing.T) {
	g := NewFinalityGadget(FinalityConfig{TotalStake: 100, ValidatorStake: fourValidatorStake()})
	genesis := cp(0, "genesis")
	epoch1 := cp(1, "epoch1")

	for v := uint64(1); v <= 2; v++ {
		justified, _, offense, err := g.CastVote(attest(v, genesis, epoch1))
		if err != nil {
			t.Fatalf("CastVote(%d): %v", v, err)
		}
		if offense != nil {
			t.Fatalf("unexpected offense: %+v", offense)
		}
		if justified {
			t.Fatalf("must not justify below threshold (validator %d)", v)
		}
	}

	// Third vote crosses ceil(2*100/3)+1 = 67+... stake 75 >= threshold.
	justified, _, _, err := g.CastVote(attest(3, genesis, epoch1))
	if err != nil {
		t.Fatalf("CastVote(3): %v", err)
	}
	if !justified {
		t.Fatal("expected justification once supermajority stake is reached")
	}
	if g.Status(epoch1) != CheckpointJustified {
		t.Fatalf("expected epoch1 status Justified, got %v", g.Status(epoch1))
	}
}

func TestFinalityFinalizesOnTwoConsecutiveJustifiedEpochs(t *testing.T) {
	g := NewFinalityGadget(FinalityConfig{TotalStake: 100, ValidatorStake: fourValidatorStake()})
	genesis := cp(0, "genesis")
	epoch1 := cp(1, "epoch1")
	epoch2 := cp(2, "epoch2")

	for v := uint64(1); v <= 3; v++ {
		if _, _, _, err := g.CastVote(attest(v, genesis, epoch1)); err != nil {
			t.Fatalf("CastVote epoch1(%d): %v", v, err)
		}
	}
	if g.Status(epoch1) != CheckpointJustified {
		t.Fatal("epoch1 should be justified before epoch2 votes")
	}

	var finalizedAny bool
	for v := uint64(1); v <= 3; v++ {
		_, finalized, _, err := g.CastVote(attest(v, epoch1, epoch2))
		if err != nil {
			t.Fatalf("CastVote epoch2(%d): %v", v, err)
		}
		if finalized {
			finalizedAny = true
		}
	}
	if !finalizedAny {
		t.Fatal("expected epoch1 to finalize once epoch2 is justified on top of it")
	}
	if g.Status(epoch1) != CheckpointFinalized {
		t.Fatalf("expected epoch1 status Finalized, got %v", g.Status(epoch1))
	}
	last, ok := g.LastFinalized()
	if !ok || last != epoch1 {
		t.Fatalf("expected LastFinalized to report epoch1, got %+v ok=%v", last, ok)
	}
}

func TestFinalityDetectsDoubleVoteSlashing(t *testing.T) {
	g := NewFinalityGadget(FinalityConfig{TotalStake: 100, ValidatorStake: fourValidatorStake()})
	genesis := cp(0, "genesis")
	epoch1a := cp(1, "epoch1-a")
	epoch1b := cp(1, "epoch1-b")

	if _, _, _, err := g.CastVote(attest(1, genesis, epoch1a)); err != nil {
		t.Fatalf("first vote: %v", err)
	}

	_, _, offense, err := g.CastVote(attest(1, genesis, epoch1b))
	if err == nil {
		t.Fatal("expected an error for the double-vote")
	}
	if kind, _ := KindOf(err); kind != ErrSlashableOffense {
		t.Fatalf("expected ErrSlashableOffense, got %v", kind)
	}
	if offense == nil || offense.Kind != OffenseDoubleVote {
		t.Fatalf("expected a DoubleVote offense, got %+v", offense)
	}
}

func TestFinalityDetectsSurroundVoteSlashing(t *testing.T) {
	g := NewFinalityGadget(FinalityConfig{TotalStake: 100, ValidatorStake: fourValidatorStake()})
	inner := attest(1, cp(2, "src-inner"), cp(3, "tgt-inner"))
	outer := attest(1, cp(1, "src-outer"), cp(4, "tgt-outer"))

	if _, _, _, err := g.CastVote(inner); err != nil {
		t.Fatalf("inner vote: %v", err)
	}
	_, _, offense, err := g.CastVote(outer)
	if err == nil {
		t.Fatal("expected an error for the surrounding vote")
	}
	if offense == nil || offense.Kind != OffenseSurroundVote {
		t.Fatalf("expected a SurroundVote offense, got %+v", offense)
	}
}

func TestFinalityRejectsVoteFromUnregisteredValidator(t *testing.T) {
	g := NewFinalityGadget(FinalityConfig{TotalStake: 100, ValidatorStake: fourValidatorStake()})
	_, _, _, err := g.CastVote(attest(99, cp(0, "genesis"), cp(1, "epoch1")))
	if err == nil {
		t.Fatal("expected an error for a validator with no registered stake")
	}
	if kind, _ := KindOf(err); kind != ErrUnauthorizedSender {
		t.Fatalf("expected ErrUnauthorizedSender, got %v", kind)
	}
}
