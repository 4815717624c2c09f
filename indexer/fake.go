package indexer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type fakeKey struct {
	allocator   common.Address
	sponsor     common.Address
	tokenLockID string
	chainID     string
}

// FakeClient is an in-memory Client used by Validator and CompactService
// tests. Snapshots are registered with Set; lookups not found return
// ErrLockNotFound.
type FakeClient struct {
	mu        sync.Mutex
	snapshots map[fakeKey]*LockSnapshot
}

// NewFakeClient returns a client with no registered snapshots.
func NewFakeClient() *FakeClient {
	return &FakeClient{snapshots: make(map[fakeKey]*LockSnapshot)}
}

// Set registers the snapshot returned for the given query.
func (f *FakeClient) Set(q Query, snap *LockSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[keyOf(q)] = snap
}

func keyOf(q Query) fakeKey {
	return fakeKey{
		allocator:   q.Allocator,
		sponsor:     q.Sponsor,
		tokenLockID: q.TokenLockID.Hex(),
		chainID:     q.ChainID,
	}
}

func (f *FakeClient) Snapshot(_ context.Context, q Query) (*LockSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[keyOf(q)]
	if !ok {
		return nil, ErrLockNotFound
	}
	return snap, nil
}
