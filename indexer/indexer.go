// Package indexer defines the narrow, strongly-typed query interface to the
// external chain indexer (§6.1) that the Validator consults for a resource
// lock's current on-chain state. The indexer itself is an external
// collaborator — out of scope per §1 — this package only shapes the request
// and response and draws the line between its failure modes.
package indexer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Query identifies the (allocator, sponsor, tokenLockId, chainId) tuple a
// snapshot is requested for (§6.1).
type Query struct {
	Allocator   common.Address
	Sponsor     common.Address
	TokenLockID *uint256.Int
	ChainID     string
}

// LockSnapshot is the point-in-time view of a resource lock's state (§4.4,
// §6.1, GLOSSARY "Snapshot").
type LockSnapshot struct {
	Balance          *big.Int
	WithdrawalStatus uint8
	AllocatorID      *uint256.Int
	PendingDeltas    []*big.Int
	Claims           []common.Hash
}

// PendingDelta sums the snapshot's pendingDeltas (§4.4).
func (s *LockSnapshot) PendingDelta() *big.Int {
	total := new(big.Int)
	for _, d := range s.PendingDeltas {
		total.Add(total, d)
	}
	return total
}

// HasClaim reports whether claimHash is already recorded as finalised in
// the snapshot (§4.8).
func (s *LockSnapshot) HasClaim(claimHash common.Hash) bool {
	for _, c := range s.Claims {
		if c == claimHash {
			return true
		}
	}
	return false
}

var (
	// ErrLockNotFound is returned when the indexer has no resourceLocks
	// entry for the requested tokenLockId (§6.1, §7 LockNotFound).
	ErrLockNotFound = errors.New("indexer: resource lock not found")

	// ErrChainNotSupported is returned when the allocator's
	// supportedChains has no entry for the requested chainId (§6.1). The
	// Validator maps this to AllocatorMismatch since there is no
	// allocatorId to compare against.
	ErrChainNotSupported = errors.New("indexer: chain not supported by allocator")
)

// Client is the query interface the Validator depends on (§6.1).
type Client interface {
	Snapshot(ctx context.Context, q Query) (*LockSnapshot, error)
}
