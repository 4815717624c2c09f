package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/nonceledger"
)

type recordKey struct {
	chainID   string
	claimHash common.Hash
}

// MemoryStore is an in-process, non-durable CompactStore used by tests;
// cmd/allocatord wires the SQL-backed SQLStore instead. It owns its own nonceledger.MemoryLedger so AdmitTx can
// insert into both under a single mutex, the in-process equivalent of the
// SQL transaction SQLStore.AdmitTx uses.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*compact.CompactRecord
	ledger  *nonceledger.MemoryLedger
}

// NewMemoryStore returns an empty store with its own nonce ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*compact.CompactRecord),
		ledger:  nonceledger.NewMemoryLedger(),
	}
}

// Ledger exposes the store's nonce ledger so it can be wired into a
// Validator or CompactService alongside this store.
func (s *MemoryStore) Ledger() *nonceledger.MemoryLedger {
	return s.ledger
}

func (s *MemoryStore) Lookup(_ context.Context, chainID string, claimHash common.Hash) (*compact.CompactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{chainID, claimHash}]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) ListBySponsor(_ context.Context, sponsor common.Address) ([]*compact.CompactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compact.CompactRecord
	for _, rec := range s.records {
		if rec.Compact.Sponsor == sponsor {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AdmitTx(_ context.Context, chainID string, sponsor common.Address, tuple nonceledger.Tuple, rec *compact.CompactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{chainID, rec.ClaimHash}
	if _, exists := s.records[key]; exists {
		return ErrDuplicateClaim
	}

	if err := s.ledger.Insert(chainID, sponsor, tuple); err != nil {
		return err
	}

	copied := *rec
	s.records[key] = &copied
	return nil
}
