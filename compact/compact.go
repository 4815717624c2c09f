// Package compact defines the wire and in-memory data model for a signed
// intent message ("compact"), the persisted CompactRecord, and the error
// taxonomy shared by every stage of the admission pipeline (§3, §7).
package compact

import (
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Compact is a fixed-field sponsor message (§3.1). Nonce may be nil,
// meaning "allocator will generate one"; witness fields are either both nil
// or both set (invariant W1).
type Compact struct {
	Arbiter common.Address
	Sponsor common.Address
	Nonce   *uint256.Int // nil until resolved by generation or supplied by caller
	Expires uint64
	ID      *uint256.Int
	Amount  *big.Int

	WitnessTypeString *string
	WitnessHash       *common.Hash
}

// HasWitness reports whether both witness fields are present.
func (c *Compact) HasWitness() bool {
	return c.WitnessTypeString != nil && c.WitnessHash != nil
}

// WitnessCoherent checks invariant W1: witness fields are both present or
// both absent.
func (c *Compact) WitnessCoherent() bool {
	return (c.WitnessTypeString == nil) == (c.WitnessHash == nil)
}

// CompactRecord is the persisted, admitted form of a compact (§3.4, §6.4).
type CompactRecord struct {
	ChainID   string
	Compact   Compact
	ClaimHash common.Hash
	Signature [65]byte
	CreatedAt time.Time
}

// Kind enumerates the error taxonomy of §7. Every value is a short,
// stable identifier a transport layer can map to a status code.
type Kind string

const (
	KindInvalidChainId          Kind = "InvalidChainId"
	KindInvalidAddress          Kind = "InvalidAddress"
	KindInvalidAmount           Kind = "InvalidAmount"
	KindWitnessInconsistent     Kind = "WitnessInconsistent"
	KindExpired                 Kind = "Expired"
	KindExpiryTooFar            Kind = "ExpiryTooFar"
	KindResetPeriodTooShort     Kind = "ResetPeriodTooShort"
	KindNonceMismatchSponsor    Kind = "NonceMismatchSponsor"
	KindNonceUsed               Kind = "NonceUsed"
	KindNonceTaken              Kind = "NonceTaken"
	KindLockNotFound            Kind = "LockNotFound"
	KindForcedWithdrawalEnabled Kind = "ForcedWithdrawalEnabled"
	KindAllocatorMismatch       Kind = "AllocatorMismatch"
	KindInsufficientBalance     Kind = "InsufficientBalance"
	KindUnauthorised            Kind = "Unauthorised"
	KindContention              Kind = "Contention"
	KindUpstream                Kind = "Upstream"
)

// Error is the single error type surfaced by every admission stage. Field
// carries which struct field caused an InvalidAddress error; Have/Need
// carry the InsufficientBalance operands.
type Error struct {
	Kind   Kind
	Detail string
	Field  string
	Have   *big.Int
	Need   *big.Int

	// Cause holds the wrapped upstream error for Kind == KindUpstream.
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindInvalidAddress && e.Field != "":
		return fmt.Sprintf("%s: field=%s: %s", e.Kind, e.Field, e.Detail)
	case e.Kind == KindInsufficientBalance && e.Have != nil && e.Need != nil:
		return fmt.Sprintf("%s: have=%s need=%s", e.Kind, e.Have, e.Need)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a plain Error with the given kind and detail message.
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewInvalidAddress builds an InvalidAddress error for the named field.
func NewInvalidAddress(field, detail string) *Error {
	return &Error{Kind: KindInvalidAddress, Field: field, Detail: detail}
}

// NewInsufficientBalance builds an InsufficientBalance error carrying the
// available and required amounts.
func NewInsufficientBalance(have, need *big.Int) *Error {
	return &Error{Kind: KindInsufficientBalance, Have: have, Need: need}
}

// NewUpstream wraps an external I/O failure (indexer or storage) so callers
// can distinguish it from a validation failure (§7 propagation policy).
func NewUpstream(cause error) *Error {
	return &Error{Kind: KindUpstream, Detail: cause.Error(), Cause: cause}
}

var amountPattern = regexp.MustCompile(`^[0-9]+$`)

// ParseAmount parses the wire amount string per §3.1 ("non-negative decimal
// integer of unbounded width"). It rejects anything that is not a bare
// run of ASCII digits (no sign, no leading "0x", no whitespace).
func ParseAmount(s string) (*big.Int, error) {
	if !amountPattern.MatchString(s) {
		return nil, NewError(KindInvalidAmount, fmt.Sprintf("amount is not a decimal integer: %q", s))
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, NewError(KindInvalidAmount, fmt.Sprintf("amount failed to parse: %q", s))
	}
	return n, nil
}

// RenderAmount renders an amount as the ASCII decimal string used on the
// wire (§6.5).
func RenderAmount(n *big.Int) string {
	return n.String()
}
