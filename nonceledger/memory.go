package nonceledger

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type ledgerKey struct {
	chainID string
	sponsor common.Address
}

// MemoryLedger is an in-process, non-durable Reader used by tests;
// cmd/allocatord wires the SQL-backed SQLReader instead. It is safe for
// concurrent use.
type MemoryLedger struct {
	mu    sync.Mutex
	nonce map[ledgerKey]map[Tuple]struct{}
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{nonce: make(map[ledgerKey]map[Tuple]struct{})}
}

func (m *MemoryLedger) sortedLocked(chainID string, sponsor common.Address) []Tuple {
	set := m.nonce[ledgerKey{chainID, sponsor}]
	sorted := make([]Tuple, 0, len(set))
	for t := range set {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })
	return sorted
}

func (m *MemoryLedger) GenerateNext(_ context.Context, chainID string, sponsor common.Address) (Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FindGap(m.sortedLocked(chainID, sponsor)), nil
}

func (m *MemoryLedger) IsUsed(_ context.Context, chainID string, sponsor common.Address, t Tuple) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nonce[ledgerKey{chainID, sponsor}][t]
	return ok, nil
}

// Insert records a tuple as used, returning ErrNonceTaken if it already is.
// It takes its own lock and is meant to be called directly by tests or by
// store.MemoryStore under a shared higher-level lock; it does not itself
// participate in a cross-package transaction.
func (m *MemoryLedger) Insert(chainID string, sponsor common.Address, t Tuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(chainID, sponsor, t)
}

func (m *MemoryLedger) insertLocked(chainID string, sponsor common.Address, t Tuple) error {
	key := ledgerKey{chainID, sponsor}
	set, ok := m.nonce[key]
	if !ok {
		set = make(map[Tuple]struct{})
		m.nonce[key] = set
	}
	if _, taken := set[t]; taken {
		return ErrNonceTaken
	}
	set[t] = struct{}{}
	return nil
}
