package core

// Transaction Scheduler: builds a dependency DAG over annotated
// transactions from their declared access patterns and produces a
// deterministic, parallel execution schedule via Kahn's algorithm.

import (
	"bytes"
	"sort"
)

// EdgeType names why two transactions are ordered relative to each other.
type EdgeType string

const (
	EdgeReadAfterWrite  EdgeType = "ReadAfterWrite"
	EdgeWriteAfterWrite EdgeType = "WriteAfterWrite"
	EdgeWriteAfterRead  EdgeType = "WriteAfterRead"
	EdgeBalanceConflict EdgeType = "BalanceConflict"
	EdgeNonceOrder      EdgeType = "NonceOrder"
)

// AccessPattern declares which storage locations a transaction reads and
// writes, including the balance-specific sets used for BalanceConflict
// edges.
type AccessPattern struct {
	Reads         [][]byte
	Writes        [][]byte
	BalanceReads  [][]byte
	BalanceWrites [][]byte
}

// AnnotatedTransaction is the scheduler's input unit.
type AnnotatedTransaction struct {
	TxHash   Hash
	Sender   Address
	Nonce    uint64
	GasPrice uint64
	Access   AccessPattern
}

// Edge is a directed dependency A -> B: A must be scheduled in an earlier
// (or same only if acyclic-impossible) group than B.
type Edge struct {
	From Hash
	To   Hash
	Type EdgeType
}

// DependencyGraph is the node set plus typed edges. Invariants: acyclic;
// every edge implies a real read/write intersection (or a nonce-ordering
// constraint).
type DependencyGraph struct {
	Nodes map[Hash]*AnnotatedTransaction
	Edges []Edge

	adjacency map[Hash][]Hash
	inDegree  map[Hash]int
}

// ParallelGroup is one layer of the execution schedule: transactions with no
// dependency edge between them, safe to execute concurrently.
type ParallelGroup struct {
	GroupID  int
	TxHashes []Hash
}

// ExecutionSchedule is the scheduler's output: ordered parallel groups.
type ExecutionSchedule struct {
	Groups         []ParallelGroup
	MaxParallelism int
	TotalTxs       int
}

// OrderTransactionsRequest is the scheduler's input event payload.
// BlockHash/BlockHeight identify the block this batch belongs to, carried
// through unchanged into the TransactionsOrdered broadcast.
type OrderTransactionsRequest struct {
	BlockHash   Hash
	BlockHeight Height
	TxHashes    []Hash
	Senders     []Address
	Nonces      []uint64
	GasPrice    []uint64
	Reads       [][][]byte
	Writes      [][][]byte
	BalReads    [][][]byte
	BalWrite    [][][]byte
}

// OrderTransactionsResponse is the scheduler's successful output.
type OrderTransactionsResponse struct {
	ParallelGroups []ParallelGroup
	MaxParallelism int
	TotalTxs       int
}

func intersects(a, b [][]byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[string(x)] = struct{}{}
	}
	for _, y := range b {
		if _, ok := set[string(y)]; ok {
			return true
		}
	}
	return false
}

// BuildDependencyGraph computes pairwise conflict edges over the input
// order, plus nonce-ascending chains per sender.
func BuildDependencyGraph(txs []AnnotatedTransaction) *DependencyGraph {
	g := &DependencyGraph{
		Nodes:     make(map[Hash]*AnnotatedTransaction, len(txs)),
		adjacency: make(map[Hash][]Hash),
		inDegree:  make(map[Hash]int),
	}
	for i := range txs {
		tx := &txs[i]
		g.Nodes[tx.TxHash] = tx
		if _, ok := g.inDegree[tx.TxHash]; !ok {
			g.inDegree[tx.TxHash] = 0
		}
	}

	addEdge := func(from, to Hash, t EdgeType) {
		g.Edges = append(g.Edges, Edge{From: from, To: to, Type: t})
		g.adjacency[from] = append(g.adjacency[from], to)
		g.inDegree[to]++
	}

	for i := 0; i < len(txs); i++ {
		for j := i + 1; j < len(txs); j++ {
			a, b := &txs[i], &txs[j]
			switch {
			case intersects(a.Access.Writes, b.Access.Reads):
				addEdge(a.TxHash, b.TxHash, EdgeReadAfterWrite)
			case intersects(a.Access.Writes, b.Access.Writes):
				addEdge(a.TxHash, b.TxHash, EdgeWriteAfterWrite)
			case intersects(a.Access.Reads, b.Access.Writes):
				addEdge(a.TxHash, b.TxHash, EdgeWriteAfterRead)
			case intersects(a.Access.BalanceWrites, b.Access.BalanceWrites),
				intersects(a.Access.BalanceWrites, b.Access.BalanceReads),
				intersects(a.Access.BalanceReads, b.Access.BalanceWrites):
				addEdge(a.TxHash, b.TxHash, EdgeBalanceConflict)
			}
		}
	}

	bySender := make(map[Address][]*AnnotatedTransaction)
	for i := range txs {
		tx := &txs[i]
		bySender[tx.Sender] = append(bySender[tx.Sender], tx)
	}
	for _, group := range bySender {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Nonce < group[j].Nonce })
		for i := 0; i+1 < len(group); i++ {
			addEdge(group[i].TxHash, group[i+1].TxHash, EdgeNonceOrder)
		}
	}

	return g
}

// Schedule runs Kahn's algorithm, producing deterministic, sorted-by-tx_hash
// parallel groups. It fails with ErrCycleDetected when the graph is not a
// DAG.
func (g *DependencyGraph) Schedule() (*ExecutionSchedule, error) {
	inDegree := make(map[Hash]int, len(g.inDegree))
	for h, d := range g.inDegree {
		inDegree[h] = d
	}

	var queue []Hash
	for h, d := range inDegree {
		if d == 0 {
			queue = append(queue, h)
		}
	}
	sortHashes(queue)

	var groups []ParallelGroup
	scheduled := 0
	groupID := 0
	for len(queue) > 0 {
		groups = append(groups, ParallelGroup{GroupID: groupID, TxHashes: queue})
		scheduled += len(queue)

		var next []Hash
		for _, h := range queue {
			for _, to := range g.adjacency[h] {
				inDegree[to]--
				if inDegree[to] == 0 {
					next = append(next, to)
				}
			}
		}
		sortHashes(next)
		queue = next
		groupID++
	}

	if scheduled < len(g.Nodes) {
		return nil, NewError(ErrCycleDetected, "dependency graph contains a cycle: scheduled %d of %d", scheduled, len(g.Nodes))
	}

	maxParallel := 0
	for _, grp := range groups {
		if len(grp.TxHashes) > maxParallel {
			maxParallel = len(grp.TxHashes)
		}
	}

	return &ExecutionSchedule{
		Groups:         groups,
		MaxParallelism: maxParallel,
		TotalTxs:       len(g.Nodes),
	}, nil
}

func sortHashes(hs []Hash) {
	sort.Slice(hs, func(i, j int) bool { return bytes.Compare(hs[i][:], hs[j][:]) < 0 })
}

// OrderTransactions is the Transaction Scheduler's top-level operation,
// combining graph construction and scheduling, enforcing the sender
// authorization and batch-size limits. Only SubsystemConsensus may request
// ordering.
func OrderTransactions(sender SubsystemId, req OrderTransactionsRequest, maxBatch int) (*OrderTransactionsResponse, error) {
	if sender != SubsystemConsensus {
		return nil, NewError(ErrUnauthorizedSender, "sender %d may not request transaction ordering", sender)
	}
	if maxBatch > 0 && len(req.TxHashes) > maxBatch {
		return nil, NewError(ErrBatchTooLarge, "batch of %d exceeds max %d", len(req.TxHashes), maxBatch)
	}

	at := func(slices [][][]byte, i int) [][]byte {
		if i < len(slices) {
			return slices[i]
		}
		return nil
	}

	txs := make([]AnnotatedTransaction, len(req.TxHashes))
	for i, h := range req.TxHashes {
		txs[i] = AnnotatedTransaction{
			TxHash: h,
			Sender: req.Senders[i],
			Nonce:  req.Nonces[i],
			Access: AccessPattern{
				Reads:         at(req.Reads, i),
				Writes:        at(req.Writes, i),
				BalanceReads:  at(req.BalReads, i),
				BalanceWrites: at(req.BalWrite, i),
			},
		}
		if i < len(req.GasPrice) {
			txs[i].GasPrice = req.GasPrice[i]
		}
	}

	graph := BuildDependencyGraph(txs)
	schedule, err := graph.Schedule()
	if err != nil {
		return nil, err
	}
	return &OrderTransactionsResponse{
		ParallelGroups: schedule.Groups,
		MaxParallelism: schedule.MaxParallelism,
		TotalTxs:       schedule.TotalTxs,
	}, nil
}
