// Package nonceledger implements nonce generation and lookup over the
// sparse used-nonce set described in §4.3 of the specification: given a
// (chainId, sponsor) pair, find the smallest unused (high, low) tuple in
// ascending combined order, or answer whether a given tuple is already
// used.
package nonceledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/bitcodec"
)

// Tuple is the (high, low) fragment of a nonce for one (chainId, sponsor).
type Tuple struct {
	High uint64
	Low  uint32
}

// ErrNonceTaken is returned by a committing implementation when a race lost
// the insert of an already-claimed tuple (§4.6 step 5, §7 NonceTaken).
var ErrNonceTaken = errors.New("nonceledger: nonce already used")

// Reader is the read side of the ledger: generate-next and used-check. Both
// operations are pure lookups against durable state; nothing here mutates
// the ledger (§4.3, §5 — tentative reservations are not written until the
// admission commit).
type Reader interface {
	// GenerateNext returns the smallest unused tuple for (chainId, sponsor)
	// per the algorithm in §4.3. It must be computed from a single logical
	// read so it stays consistent with any concurrent inserter.
	GenerateNext(ctx context.Context, chainID string, sponsor common.Address) (Tuple, error)

	// IsUsed reports whether the given tuple already exists for
	// (chainId, sponsor).
	IsUsed(ctx context.Context, chainID string, sponsor common.Address, t Tuple) (bool, error)
}

// FindGap implements the §4.3 algorithm over an ascending, deduplicated
// slice of tuples (sorted by the numeric ordering high*2^32+low, never
// lexicographically). It is a pure function so both the SQL-backed and
// in-memory readers can share and test it directly.
func FindGap(sorted []Tuple) Tuple {
	if len(sorted) == 0 || sorted[0] != (Tuple{0, 0}) {
		return Tuple{0, 0}
	}

	for i := 0; i < len(sorted)-1; i++ {
		wantNext := successor(sorted[i])
		if sorted[i+1] != wantNext {
			return wantNext
		}
	}

	return successor(sorted[len(sorted)-1])
}

func successor(t Tuple) Tuple {
	h, l := bitcodec.Successor(t.High, t.Low)
	return Tuple{High: h, Low: l}
}

// Less reports whether a sorts before b under the ledger's numeric
// ordering.
func Less(a, b Tuple) bool {
	return bitcodec.Less(a.High, a.Low, b.High, b.Low)
}
