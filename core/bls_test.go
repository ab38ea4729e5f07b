package core

import (
	"testing"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func signedAttestation(t *testing.T, validatorID uint64, src, tgt Checkpoint) SignedAttestation {
	t.Helper()
	ensureBLSInit()
	var sec bls.SecretKey
	sec.SetByCSPRNG()
	pub := sec.GetPublicKey()

	att := Attestation{ValidatorID: validatorID, Source: src, Target: tgt}
	sig := sec.SignByte(attestationMessage(att))
	att.Signature = sig.Serialize()

	return SignedAttestation{Attestation: att, PublicKey: pub.Serialize()}
}

func TestBatchVerifyAttestationsAcceptsValidSmallBatch(t *testing.T) {
	src := Checkpoint{Epoch: 1, BlockHash: HashBytes([]byte("src"))}
	tgt := Checkpoint{Epoch: 2, BlockHash: HashBytes([]byte("tgt"))}

	atts := []SignedAttestation{
		signedAttestation(t, 1, src, tgt),
		signedAttestation(t, 2, src, tgt),
	}
	failed, err := BatchVerifyAttestations(atts)
	if err != nil {
		t.Fatalf("BatchVerifyAttestations: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
}

func TestBatchVerifyAttestationsFlagsTamperedSignature(t *testing.T) {
	src := Checkpoint{Epoch: 1, BlockHash: HashBytes([]byte("src"))}
	tgt := Checkpoint{Epoch: 2, BlockHash: HashBytes([]byte("tgt"))}

	good := signedAttestation(t, 1, src, tgt)
	bad := signedAttestation(t, 2, src, tgt)
	bad.Attestation.Signature[0] ^= 0xFF

	failed, err := BatchVerifyAttestations([]SignedAttestation{good, bad})
	if err != nil {
		t.Fatalf("BatchVerifyAttestations: %v", err)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected index 1 (the tampered attestation) to fail, got %v", failed)
	}
}

func TestBatchVerifyAttestationsUsesAggregateFastPathAboveThreshold(t *testing.T) {
	src := Checkpoint{Epoch: 1, BlockHash: HashBytes([]byte("src"))}
	tgt := Checkpoint{Epoch: 2, BlockHash: HashBytes([]byte("tgt"))}

	atts := make([]SignedAttestation, 0, minBatchSize)
	for i := uint64(0); i < minBatchSize; i++ {
		atts = append(atts, signedAttestation(t, i, src, tgt))
	}
	failed, err := BatchVerifyAttestations(atts)
	if err != nil {
		t.Fatalf("BatchVerifyAttestations: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected the same-message aggregate fast path to accept the whole committee, got failures %v", failed)
	}
}

func TestCommitteeKeySetEffectiveKeyExcludesAbsentMembers(t *testing.T) {
	ensureBLSInit()
	var secs [3]bls.SecretKey
	members := make([][]byte, 3)
	for i := range secs {
		secs[i].SetByCSPRNG()
		members[i] = secs[i].GetPublicKey().Serialize()
	}

	ks, err := NewCommitteeKeySet(members)
	if err != nil {
		t.Fatalf("NewCommitteeKeySet: %v", err)
	}

	full := ks.EffectiveKey([]bool{true, true, true})
	withOneAbsent := ks.EffectiveKey([]bool{true, false, true})
	if full.IsEqual(&withOneAbsent) {
		t.Fatal("expected the effective key to change when a member is marked absent")
	}

	// Re-deriving the aggregate of only the present members directly must
	// match subtracting the absent one from the full aggregate.
	var want bls.PublicKey
	var pk0, pk2 bls.PublicKey
	_ = pk0.Deserialize(members[0])
	_ = pk2.Deserialize(members[2])
	want = pk0
	want.Add(&pk2)
	if !withOneAbsent.IsEqual(&want) {
		t.Fatal("effective key with member 1 absent must equal the aggregate of members 0 and 2")
	}
}
