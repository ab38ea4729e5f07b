// Package contracts declares the interfaces through which the core
// subsystems reach every collaborator explicitly excluded from this
// repository's scope (P2P transport, the mempool, the EVM/WASM execution
// engine, light-client/shard/bridge infrastructure, the admin surface and
// any external compute offload). The core only ever imports these
// interfaces; no production implementation of an excluded collaborator
// lives here, only the in-memory fakes tests use as stand-ins.
package contracts

import "choros/core"

// MempoolAdmitter is the boundary to the (excluded) mempool subsystem: the
// scheduler and assembler ask it whether a transaction is still admissible
// before scheduling or assembling around it.
type MempoolAdmitter interface {
	Admit(txHash core.Hash) bool
	Remove(txHash core.Hash)
}

// TransportBroadcaster is the boundary to the (excluded) P2P transport
// stack: it takes an already-authenticated, already-encoded envelope and
// ships it to peers. cmd/choros wires a loopback stub here; no libp2p/pion
// dependency is required to exercise the rest of the core.
type TransportBroadcaster interface {
	Broadcast(topic core.Topic, encodedEnvelope []byte) error
}

// BytecodeExecutor is the boundary to the (excluded) smart-contract
// execution engine: given a state root and a transaction's calldata it
// returns the post-state root and any emitted logs. Declared so the state
// root event the assembler consumes has a documented producer contract,
// without pulling in a WASM/EVM runtime.
type BytecodeExecutor interface {
	Execute(stateRoot core.Hash, txHash core.Hash, calldata []byte) (newStateRoot core.Hash, logs [][]byte, err error)
}

// FilterMembership is the boundary to an (excluded) probabilistic
// membership filter service shared across nodes (e.g. a cuckoo-filter
// sidecar); declared for parity with the replay cache's own in-process
// bloom filter, in case a future cross-node filter replaces it.
type FilterMembership interface {
	MightContain(key []byte) bool
	Add(key []byte)
}

// LightClientVerifier is the boundary to an (excluded) light-client proof
// verifier, consuming the Block Assembler's merkle proofs without needing
// the full node.
type LightClientVerifier interface {
	VerifyInclusion(root core.Hash, proof core.MerkleProof, leaf []byte) bool
}

// ShardCoordinator is the boundary to an (excluded) sharding layer: given a
// transaction it reports which shard owns its state, so the scheduler could
// in principle partition DAG construction per shard.
type ShardCoordinator interface {
	ShardOf(addr core.Address) uint32
}

// HTLCBridge is the boundary to an (excluded) cross-chain hashed-timelock
// bridge: the finality gadget could consult it to decide whether an
// in-flight bridge transfer blocks finalization of a given checkpoint.
type HTLCBridge interface {
	PendingTransfers(checkpoint core.Hash) int
}

// APIGateway is the boundary to the (excluded) public-facing API surface:
// it receives read-only notifications of finalized state, never calls back
// into the core.
type APIGateway interface {
	NotifyFinalized(checkpoint core.Checkpoint)
}

// AdminView is the boundary to an (excluded) operator TUI/dashboard: a
// pull-only snapshot of registry health, never a control surface.
type AdminView interface {
	SubsystemHealth() map[core.SubsystemId]string
}

// ComputeKernel is the boundary to an (excluded) external compute-offload
// service (e.g. a GPU-backed proof prover); declared so a future heavy
// cryptographic operation (batch BLS, VDF) has a documented seam to move
// off the validating goroutine without a concrete dependency today.
type ComputeKernel interface {
	Submit(job []byte) (result []byte, err error)
}

// StateConflictChecker resolves whether two transactions' declared access
// patterns actually conflict against live state, beyond the scheduler's own
// static read/write-set intersection. Production deployments back this with
// the State Management subsystem; see the in-memory reference in
// contracts_fakes.go for tests.
type StateConflictChecker interface {
	Conflicts(a, b core.AnnotatedTransaction) bool
}
