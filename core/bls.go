package core

// Batch BLS attestation verification, following the BLS12-381 wrapper
// pattern in core/security.go (bls.Init, *bls.PublicKey/*bls.Sign
// aggregation).

import (
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"golang.org/x/sync/errgroup"
)

var blsInitOnce sync.Once

func ensureBLSInit() {
	blsInitOnce.Do(func() {
		if err := bls.Init(bls.BLS12_381); err != nil {
			panic(WrapError(ErrDataCorruption, err))
		}
		_ = bls.SetETHmode(bls.EthModeDraft07)
	})
}

// minBatchSize is the threshold at or above which aggregate verification is
// attempted before falling back to per-signature checks.
const minBatchSize = 8

// CommitteeKeySet precomputes the aggregate public key for an epoch's full
// committee, so the "effective public key" for a given participation
// bitmap can be derived by subtracting absent members' keys rather than
// re-aggregating from scratch every time.
type CommitteeKeySet struct {
	mu        sync.RWMutex
	members   []bls.PublicKey
	aggregate bls.PublicKey
}

// NewCommitteeKeySet builds the committee aggregate from member public keys.
func NewCommitteeKeySet(members [][]byte) (*CommitteeKeySet, error) {
	ensureBLSInit()
	ks := &CommitteeKeySet{members: make([]bls.PublicKey, len(members))}
	for i, raw := range members {
		if err := ks.members[i].Deserialize(raw); err != nil {
			return nil, WrapError(ErrInvalidSignature, err)
		}
	}
	var agg bls.PublicKey
	for i := range ks.members {
		if i == 0 {
			agg = ks.members[i]
		} else {
			agg.Add(&ks.members[i])
		}
	}
	ks.aggregate = agg
	return ks, nil
}

// EffectiveKey returns the committee aggregate key minus the keys of any
// absent members: effective key = committee aggregate − Σ absent_keys.
func (ks *CommitteeKeySet) EffectiveKey(participation []bool) bls.PublicKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	eff := ks.aggregate
	for i, present := range participation {
		if !present && i < len(ks.members) {
			neg := ks.members[i]
			neg.Neg()
			eff.Add(&neg)
		}
	}
	return eff
}

// SignedAttestation pairs an Attestation with its validator's compressed
// BLS public key, for batch verification.
type SignedAttestation struct {
	Attestation Attestation
	PublicKey   []byte
}

func attestationMessage(a Attestation) []byte {
	buf := make([]byte, 0, 64)
	src := a.Source.digest()
	tgt := a.Target.digest()
	buf = append(buf, src[:]...)
	buf = append(buf, tgt[:]...)
	return buf
}

// BatchVerifyAttestations verifies atts in bulk. For batches of at least
// minBatchSize it tries a single aggregate-signature check first; on
// aggregate failure (or for small batches) it falls back to verifying each
// attestation individually so offenders can be located, returning the
// indices that failed.
func BatchVerifyAttestations(atts []SignedAttestation) (failedIdx []int, err error) {
	ensureBLSInit()
	if len(atts) == 0 {
		return nil, nil
	}
	if len(atts) >= minBatchSize {
		if ok, aggErr := aggregateVerify(atts); aggErr == nil && ok {
			return nil, nil
		}
	}
	results := make([]bool, len(atts))
	var g errgroup.Group
	for i, sa := range atts {
		i, sa := i, sa
		g.Go(func() error {
			ok, verr := verifyOne(sa)
			results[i] = ok && verr == nil
			return nil
		})
	}
	_ = g.Wait()
	for i, ok := range results {
		if !ok {
			failedIdx = append(failedIdx, i)
		}
	}
	return failedIdx, nil
}

func verifyOne(sa SignedAttestation) (bool, error) {
	var pk bls.PublicKey
	if err := pk.Deserialize(sa.PublicKey); err != nil {
		return false, WrapError(ErrInvalidSignature, err)
	}
	var sig bls.Sign
	if err := sig.Deserialize(sa.Attestation.Signature); err != nil {
		return false, WrapError(ErrInvalidSignature, err)
	}
	return sig.VerifyByte(&pk, attestationMessage(sa.Attestation)), nil
}

// aggregateVerify only applies when every attestation signs the same
// message (identical source/target pair); this is the fast path used when a
// whole committee votes for one checkpoint transition.
func aggregateVerify(atts []SignedAttestation) (bool, error) {
	msg := attestationMessage(atts[0].Attestation)
	var aggSig bls.Sign
	var aggPub bls.PublicKey
	for i, sa := range atts {
		if !bytesEqual(attestationMessage(sa.Attestation), msg) {
			return false, nil // mixed messages: aggregate path doesn't apply
		}
		var sig bls.Sign
		if err := sig.Deserialize(sa.Attestation.Signature); err != nil {
			return false, WrapError(ErrInvalidSignature, err)
		}
		var pk bls.PublicKey
		if err := pk.Deserialize(sa.PublicKey); err != nil {
			return false, WrapError(ErrInvalidSignature, err)
		}
		if i == 0 {
			aggSig = sig
			aggPub = pk
		} else {
			aggSig.Add(&sig)
			aggPub.Add(&pk)
		}
	}
	return aggSig.VerifyByte(&aggPub, msg), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
