// Package balance implements the reconciliation of an indexer snapshot
// against the locally held ledger of outstanding compacts (§4.4).
package balance

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/indexer"
)

// OutstandingCompact is the minimal shape the reconciler needs from a
// locally persisted compact to decide whether it still counts against
// allocatable balance.
type OutstandingCompact struct {
	ClaimHash common.Hash
	Amount    *big.Int
	Expires   uint64
}

// IsOutstanding reports whether c still counts against allocatable balance
// given now, the chain's finalisation threshold, and the snapshot's
// recorded claims (§4.4, §4.8).
func IsOutstanding(c OutstandingCompact, now int64, finalizationThreshold uint64, snap *indexer.LockSnapshot) bool {
	if now >= int64(c.Expires+finalizationThreshold) {
		return false
	}
	return !snap.HasClaim(c.ClaimHash)
}

// Reconciler computes allocatable balance from an indexer snapshot and the
// local ledger of a sponsor's outstanding compacts for one resource lock
// (§4.4).
type Reconciler struct{}

// NewReconciler returns a stateless reconciler; all state lives in the
// snapshot and local ledger arguments passed to Reconcile.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reconcile computes allocatableRemaining for one (sponsor, chainId,
// tokenLockId) triple (§4.4, invariant B1).
func (r *Reconciler) Reconcile(snap *indexer.LockSnapshot, local []OutstandingCompact, now int64, finalizationThreshold uint64) *big.Int {
	snapshotAllocatable := new(big.Int).Sub(snap.Balance, snap.PendingDelta())
	if snapshotAllocatable.Sign() < 0 {
		snapshotAllocatable = new(big.Int)
	}

	locallyAllocated := new(big.Int)
	for _, c := range local {
		if IsOutstanding(c, now, finalizationThreshold, snap) {
			locallyAllocated.Add(locallyAllocated, c.Amount)
		}
	}

	return new(big.Int).Sub(snapshotAllocatable, locallyAllocated)
}

// CanAllocate reports whether newAmount can be admitted given the
// reconciled allocatableRemaining (§4.4: "Acceptance of a new compact
// requires allocatableRemaining ≥ newCompact.amount").
func (r *Reconciler) CanAllocate(snap *indexer.LockSnapshot, local []OutstandingCompact, now int64, finalizationThreshold uint64, newAmount *big.Int) (bool, *big.Int) {
	remaining := r.Reconcile(snap, local, now, finalizationThreshold)
	return remaining.Cmp(newAmount) >= 0, remaining
}
