package contracts

import (
	"sync"

	"choros/core"
)

// FakeMempool is an in-memory MempoolAdmitter used by tests: every
// transaction is admissible unless explicitly removed.
type FakeMempool struct {
	mu      sync.Mutex
	removed map[core.Hash]bool
}

// NewFakeMempool returns an empty FakeMempool.
func NewFakeMempool() *FakeMempool {
	return &FakeMempool{removed: make(map[core.Hash]bool)}
}

func (m *FakeMempool) Admit(txHash core.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.removed[txHash]
}

func (m *FakeMempool) Remove(txHash core.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed[txHash] = true
}

// LoopbackTransport is a TransportBroadcaster that delivers encoded
// envelopes to an in-process channel, standing in for the real P2P stack in
// tests and in cmd/choros's single-node mode.
type LoopbackTransport struct {
	mu   sync.Mutex
	sent []loopbackMessage
}

type loopbackMessage struct {
	Topic   core.Topic
	Payload []byte
}

// NewLoopbackTransport returns an empty LoopbackTransport.
func NewLoopbackTransport() *LoopbackTransport { return &LoopbackTransport{} }

func (t *LoopbackTransport) Broadcast(topic core.Topic, encodedEnvelope []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, loopbackMessage{Topic: topic, Payload: encodedEnvelope})
	return nil
}

// Sent returns a copy of every message broadcast so far, for test
// assertions.
func (t *LoopbackTransport) Sent() []core.Topic {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]core.Topic, len(t.sent))
	for i, m := range t.sent {
		topics[i] = m.Topic
	}
	return topics
}

// NoConflictChecker is a StateConflictChecker that reports no conflicts
// beyond the scheduler's own static access-pattern intersection; the
// reference implementation for tests that don't exercise live-state
// conflicts.
type NoConflictChecker struct{}

func (NoConflictChecker) Conflicts(a, b core.AnnotatedTransaction) bool { return false }
