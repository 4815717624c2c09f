// Package validate implements the fixed-order, short-circuiting admission
// pipeline of §4.5: chain-id well-formedness, structural invariants, nonce
// checks, expiration, domain/id, and allocation against the indexer and
// local ledger.
package validate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/compactlabs/allocator/balance"
	"github.com/compactlabs/allocator/bitcodec"
	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/indexer"
	"github.com/compactlabs/allocator/nonceledger"
)

// maxExpiryWindow is the widest permitted gap between now and expires (E1).
const maxExpiryWindow = 7200

// RecordSource supplies a sponsor's existing admitted compacts so the
// allocation stage can compute locallyAllocated (§4.4). It is satisfied by
// store.CompactStore.
type RecordSource interface {
	ListBySponsor(ctx context.Context, sponsor common.Address) ([]*compact.CompactRecord, error)
}

// FinalizationThresholds supplies the per-chain grace period used by the
// allocation stage (§4.4). It is satisfied by *config.Config.
type FinalizationThresholds interface {
	FinalizationThreshold(chainID string) uint64
}

// Validator orchestrates the six stages of §4.5.
type Validator struct {
	Ledger       nonceledger.Reader
	Indexer      indexer.Client
	Records      RecordSource
	Reconciler   *balance.Reconciler
	Thresholds   FinalizationThresholds
	Allocator    common.Address // this allocator's own on-chain identity, used to query the indexer
}

// New builds a Validator from its collaborators.
func New(ledger nonceledger.Reader, idx indexer.Client, records RecordSource, thresholds FinalizationThresholds, allocator common.Address) *Validator {
	return &Validator{
		Ledger:     ledger,
		Indexer:    idx,
		Records:    records,
		Reconciler: balance.NewReconciler(),
		Thresholds: thresholds,
		Allocator:  allocator,
	}
}

var chainIDPattern = regexp.MustCompile(`^[1-9][0-9]*$`)

// Validate runs the full pipeline against a compact whose nonce has
// already been resolved by CompactService (§4.6 step 2-3). now is the
// single clock reading captured by the caller and reused across every
// stage (§4.5, §5, §9).
func (v *Validator) Validate(ctx context.Context, c *compact.Compact, chainID string, now int64) error {
	if err := validateChainID(chainID); err != nil {
		return err
	}
	if err := validateStructural(c); err != nil {
		return err
	}
	if err := v.validateNonce(ctx, c, chainID); err != nil {
		return err
	}
	if err := validateExpiration(c, now); err != nil {
		return err
	}
	if err := validateDomain(c, now); err != nil {
		return err
	}
	return v.validateAllocation(ctx, c, chainID, now)
}

// validateChainID implements §4.5 stage 1.
func validateChainID(chainID string) error {
	if !chainIDPattern.MatchString(chainID) {
		return compact.NewError(compact.KindInvalidChainId, fmt.Sprintf("chainId is not a canonical positive integer: %q", chainID))
	}
	n, ok := new(big.Int).SetString(chainID, 10)
	if !ok || n.String() != chainID {
		return compact.NewError(compact.KindInvalidChainId, fmt.Sprintf("chainId does not round-trip: %q", chainID))
	}
	return nil
}

// validateStructural implements §4.5 stage 2. Checksum decoding of
// arbiter/sponsor happens at the wire boundary (compact.UnmarshalJSON),
// where the original-case string is still available; this stage covers
// everything else in the invariant list.
func validateStructural(c *compact.Compact) error {
	if !c.WitnessCoherent() {
		return compact.NewError(compact.KindWitnessInconsistent, "witness fields must be both present or both absent")
	}
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return compact.NewError(compact.KindInvalidAmount, "amount must be a non-negative integer")
	}
	if c.Expires == 0 {
		return compact.NewError(compact.KindExpired, "expires must be greater than zero")
	}
	if c.ID == nil || c.ID.IsZero() {
		return compact.NewError(compact.KindLockNotFound, "id must be greater than zero")
	}
	return nil
}

// validateNonce implements §4.5 stage 3. A nil nonce is accepted as-is:
// CompactService resolves it via NonceLedger generate-next before this
// pipeline runs, which satisfies N2 by construction.
func (v *Validator) validateNonce(ctx context.Context, c *compact.Compact, chainID string) error {
	if c.Nonce == nil {
		return nil
	}

	sponsor, high, low := bitcodec.SplitNonce(c.Nonce)
	if sponsor != c.Sponsor {
		return compact.NewError(compact.KindNonceMismatchSponsor, "nonce's embedded sponsor does not match compact.sponsor")
	}

	used, err := v.Ledger.IsUsed(ctx, chainID, c.Sponsor, nonceledger.Tuple{High: high, Low: low})
	if err != nil {
		return compact.NewUpstream(err)
	}
	if used {
		return compact.NewError(compact.KindNonceUsed, fmt.Sprintf("nonce (%d,%d) already used for this sponsor/chain", high, low))
	}
	return nil
}

// validateExpiration implements §4.5 stage 4 (E1).
func validateExpiration(c *compact.Compact, now int64) error {
	expires := int64(c.Expires)
	if expires <= now {
		return compact.NewError(compact.KindExpired, "expires must be strictly in the future")
	}
	if expires > now+maxExpiryWindow {
		return compact.NewError(compact.KindExpiryTooFar, fmt.Sprintf("expires exceeds now+%d", maxExpiryWindow))
	}
	return nil
}

// validateDomain implements §4.5 stage 5 (E2).
func validateDomain(c *compact.Compact, now int64) error {
	resetPeriodIndex, _, _ := bitcodec.SplitID(c.ID)
	resetPeriodSeconds, err := bitcodec.ResetPeriodSeconds(resetPeriodIndex)
	if err != nil {
		// unreachable: resetPeriodIndex is masked to 3 bits by SplitID
		return compact.NewError(compact.KindResetPeriodTooShort, err.Error())
	}
	if now+int64(resetPeriodSeconds) < int64(c.Expires) {
		return compact.NewError(compact.KindResetPeriodTooShort, "reset period does not cover the requested expiry")
	}
	return nil
}

// validateAllocation implements §4.5 stage 6.
func (v *Validator) validateAllocation(ctx context.Context, c *compact.Compact, chainID string, now int64) error {
	_, allocatorID, tokenLockID := bitcodec.SplitID(c.ID)

	snap, err := v.Indexer.Snapshot(ctx, indexer.Query{
		Allocator:   v.Allocator,
		Sponsor:     c.Sponsor,
		TokenLockID: tokenLockID,
		ChainID:     chainID,
	})
	switch {
	case errors.Is(err, indexer.ErrLockNotFound):
		return compact.NewError(compact.KindLockNotFound, "indexer has no resource lock for this tokenLockId")
	case errors.Is(err, indexer.ErrChainNotSupported):
		return compact.NewError(compact.KindAllocatorMismatch, "allocator does not support this chain")
	case err != nil:
		return compact.NewUpstream(err)
	}

	if snap.WithdrawalStatus != 0 {
		return compact.NewError(compact.KindForcedWithdrawalEnabled, "resource lock has a forced withdrawal in progress")
	}
	if snap.AllocatorID.Cmp(allocatorID) != 0 {
		return compact.NewError(compact.KindAllocatorMismatch, "indexer's allocatorId does not match compact.id's allocatorId")
	}

	records, err := v.Records.ListBySponsor(ctx, c.Sponsor)
	if err != nil {
		return compact.NewUpstream(err)
	}

	local := outstandingFor(records, chainID, tokenLockID)
	threshold := v.Thresholds.FinalizationThreshold(chainID)

	ok, remaining := v.Reconciler.CanAllocate(snap, local, now, threshold, c.Amount)
	if !ok {
		return compact.NewInsufficientBalance(remaining, c.Amount)
	}
	return nil
}

func outstandingFor(records []*compact.CompactRecord, chainID string, tokenLockID *uint256.Int) []balance.OutstandingCompact {
	var out []balance.OutstandingCompact
	for _, rec := range records {
		if rec.ChainID != chainID {
			continue
		}
		_, _, recTokenLockID := bitcodec.SplitID(rec.Compact.ID)
		if recTokenLockID.Cmp(tokenLockID) != 0 {
			continue
		}
		out = append(out, balance.OutstandingCompact{
			ClaimHash: rec.ClaimHash,
			Amount:    rec.Compact.Amount,
			Expires:   rec.Compact.Expires,
		})
	}
	return out
}
