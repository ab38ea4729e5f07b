// Package core implements the choreography core of a choros node: the
// authenticated event router, the stateful block assembler, the transaction
// scheduler, the Casper-FFG finality gadget, the consensus validator and the
// subsystem registry that wires them together.
package core

import (
	"encoding/binary"
	"fmt"
	"time"

	sha256simd "github.com/minio/sha256-simd"
)

// Hash is a 32-byte opaque digest used for block, transaction and checkpoint
// identity throughout the core.
type Hash [32]byte

// String renders the hash as a lowercase hex string.
func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// IsZero reports whether h is the all-zero hash (e.g. the parent hash of a
// not-yet-assigned genesis block).
func (h Hash) IsZero() bool { return h == Hash{} }

// HashBytes computes the accelerated SHA-256 digest of b as a Hash.
func HashBytes(b []byte) Hash {
	return sha256simd.Sum256(b)
}

// Height is the unsigned 64-bit block height.
type Height uint64

// SubsystemId is the 4-bit tag identifying one of the 16 node subsystems.
// Valid values are 1..16.
type SubsystemId uint8

const (
	SubsystemStorage         SubsystemId = 2
	SubsystemTxIndexing      SubsystemId = 3
	SubsystemStateMgmt       SubsystemId = 4
	SubsystemMempool         SubsystemId = 5
	SubsystemFinality        SubsystemId = 6
	SubsystemOrdering        SubsystemId = 7
	SubsystemConsensus       SubsystemId = 8
	SubsystemSmartContracts  SubsystemId = 9
	SubsystemSignatureVerify SubsystemId = 10
	SubsystemApiGateway      SubsystemId = 11
	SubsystemRouter          SubsystemId = 12
	SubsystemRegistry        SubsystemId = 13
)

// Valid reports whether id falls in the 1..16 range reserved for subsystems.
func (id SubsystemId) Valid() bool { return id >= 1 && id <= 16 }

// maxTimestamp clamps Timestamp arithmetic so that malicious or buggy inputs
// cannot push ordering computations past a representable calendar date.
var maxTimestamp = Timestamp(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix())

// Timestamp is an unsigned count of seconds since the Unix epoch, clamped to
// year 9999 to prevent overflow attacks in ordering logic.
type Timestamp uint64

// ClampTimestamp saturates t to [0, maxTimestamp].
func ClampTimestamp(t int64) Timestamp {
	if t < 0 {
		return 0
	}
	u := Timestamp(t)
	if u > maxTimestamp {
		return maxTimestamp
	}
	return u
}

// Now returns the current wall-clock time as a clamped Timestamp.
func Now() Timestamp { return ClampTimestamp(time.Now().Unix()) }

// beHeight renders height as an 8-byte big-endian key suffix, matching the
// `h:` storage prefix layout.
func beHeight(h Height) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return b[:]
}

// Attestation is a single validator's vote linking a source checkpoint to a
// target checkpoint, carried inside a ValidatedBlock's validation proof and
// inside Finality Gadget CastVote calls.
type Attestation struct {
	ValidatorID uint64
	Source      Checkpoint
	Target      Checkpoint
	Signature   []byte // BLS signature over (source, target)
	Slot        uint64
}

// BlockHeader is the fixed-size portion of a block consumed by the
// Consensus Validator and the Block Assembler.
type BlockHeader struct {
	ParentHash Hash
	Height     Height
	MerkleRoot Hash
	StateRoot  Hash
	Timestamp  Timestamp
	Proposer   Address
}

// Address identifies a validator or account as a 20-byte identifier.
type Address [20]byte

func (a Address) String() string { return fmt.Sprintf("%x", a[:]) }

// ValidatedBlock is the output of the Consensus Validator: a header, its
// transaction list and the attestation set that justified it.
type ValidatedBlock struct {
	Header       BlockHeader
	Transactions [][]byte
	Proof        []Attestation
}

// Hash computes the block's identity hash over its header fields. Two
// independently-serialized but logically identical headers must hash
// identically (see NonCanonicalEncoding in the envelope package).
func (b *ValidatedBlock) BlockHash() Hash {
	buf := make([]byte, 0, 20+8+32+32+8+20)
	buf = append(buf, b.Header.ParentHash[:]...)
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], uint64(b.Header.Height))
	buf = append(buf, hb[:]...)
	buf = append(buf, b.Header.MerkleRoot[:]...)
	buf = append(buf, b.Header.StateRoot[:]...)
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(b.Header.Timestamp))
	buf = append(buf, tb[:]...)
	buf = append(buf, b.Header.Proposer[:]...)
	return HashBytes(buf)
}
