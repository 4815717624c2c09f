// Package store implements the persisted CompactRecord log described in
// §4.7 and §6.2: point lookup by (chainId, claimHash), descending listing by
// sponsor, and the atomic admission commit that inserts both the used-nonce
// row and the compact record in one transaction (§4.6 step 5, §5).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/nonceledger"
)

// ErrDuplicateClaim is returned when (chainId, claimHash) already exists.
// The admission pipeline should not normally produce collisions since
// claimHash is a digest over a freshly-resolved nonce, but the uniqueness
// constraint is enforced at the store layer regardless (§4.7 invariant).
var ErrDuplicateClaim = errors.New("store: claim hash already recorded")

// ErrNotFound is returned by Lookup when no record matches.
var ErrNotFound = errors.New("store: record not found")

// CompactStore is the compact log (§4.7): point lookup, listing by sponsor,
// and the atomic admission commit.
type CompactStore interface {
	// Lookup returns the record for (chainId, claimHash), or ErrNotFound.
	Lookup(ctx context.Context, chainID string, claimHash common.Hash) (*compact.CompactRecord, error)

	// ListBySponsor returns every record for sponsor across all chains,
	// ordered by CreatedAt descending (§4.7).
	ListBySponsor(ctx context.Context, sponsor common.Address) ([]*compact.CompactRecord, error)

	// AdmitTx atomically inserts the nonce tuple and the compact record
	// (§4.6 step 5). It returns nonceledger.ErrNonceTaken if the tuple is
	// already used and ErrDuplicateClaim if the claim hash collides.
	AdmitTx(ctx context.Context, chainID string, sponsor common.Address, tuple nonceledger.Tuple, rec *compact.CompactRecord) error
}
