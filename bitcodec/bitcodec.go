// Package bitcodec packs and unpacks the two 256-bit values the allocator
// core carries end to end: the compact-id (§3.2 of the specification) and
// the nonce (§3.3). All bit extraction is defined by masks and shifts, never
// by string slicing, so the layout is exact regardless of how the value
// arrived (wire hex, database column, in-memory arithmetic).
package bitcodec

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bit widths and shifts for the compact-id layout.
const (
	resetPeriodBits  = 3
	allocatorIDBits  = 93
	tokenLockIDBits  = 160
	resetPeriodShift = allocatorIDBits + tokenLockIDBits // 253
	allocatorIDShift = tokenLockIDBits                   // 160
)

// Bit widths and shifts for the nonce layout.
const (
	sponsorBits  = 160
	nonceHighBits = 64
	nonceLowBits  = 32
	sponsorShift  = nonceHighBits + nonceLowBits // 96
	nonceHighShift = nonceLowBits                // 32

	// MaxLow is the largest permitted value of the nonce's low 32 bits.
	// The reference implementation stores low in a signed 32-bit database
	// column, so bit 31 is reserved and never set (§4.3).
	MaxLow uint32 = 1<<31 - 1
)

// ResetPeriods is the fixed table of reset-period durations in seconds,
// indexed 0..7 (§3.2).
var ResetPeriods = [8]uint64{1, 15, 60, 600, 3900, 86400, 612000, 2592000}

var (
	// ErrAllocatorIDOverflow is returned by PackID when allocatorID does not
	// fit in 93 bits.
	ErrAllocatorIDOverflow = errors.New("bitcodec: allocatorId exceeds 93 bits")
	// ErrTokenLockIDOverflow is returned by PackID when tokenLockID does not
	// fit in 160 bits.
	ErrTokenLockIDOverflow = errors.New("bitcodec: tokenLockId exceeds 160 bits")
	// ErrResetPeriodIndexRange is returned by PackID and ResetPeriodSeconds
	// when the index is not in [0, 7].
	ErrResetPeriodIndexRange = errors.New("bitcodec: resetPeriodIndex out of range")
	// ErrLowOverflow is returned by PackNonce when low exceeds MaxLow.
	ErrLowOverflow = errors.New("bitcodec: nonce low exceeds 2^31-1")
)

func mask(bits uint) *uint256.Int {
	one := uint256.NewInt(1)
	m := new(uint256.Int).Lsh(one, bits)
	return m.Sub(m, uint256.NewInt(1))
}

var (
	allocatorIDMask = mask(allocatorIDBits)
	tokenLockIDMask = mask(tokenLockIDBits)
	sponsorMask     = mask(sponsorBits)
	nonceHighMask   = mask(nonceHighBits)
	nonceLowMask    = mask(nonceLowBits)
)

// SplitID unpacks a compact-id into its three fields (§3.2). It is a pure
// total function: every 256-bit value has a well-defined split, though the
// resulting resetPeriodIndex may or may not be a caller-meaningful value
// (callers validate it via ResetPeriodSeconds).
func SplitID(id *uint256.Int) (resetPeriodIndex uint8, allocatorID *uint256.Int, tokenLockID *uint256.Int) {
	rp := new(uint256.Int).Rsh(id, resetPeriodShift)
	resetPeriodIndex = uint8(rp.Uint64() & 0x7)

	aid := new(uint256.Int).Rsh(id, allocatorIDShift)
	aid.And(aid, allocatorIDMask)

	tlid := new(uint256.Int).And(id, tokenLockIDMask)

	return resetPeriodIndex, aid, tlid
}

// PackID builds a compact-id from its three fields, the inverse of SplitID.
func PackID(resetPeriodIndex uint8, allocatorID, tokenLockID *uint256.Int) (*uint256.Int, error) {
	if resetPeriodIndex > 7 {
		return nil, ErrResetPeriodIndexRange
	}
	if allocatorID.Cmp(allocatorIDMask) > 0 {
		return nil, ErrAllocatorIDOverflow
	}
	if tokenLockID.Cmp(tokenLockIDMask) > 0 {
		return nil, ErrTokenLockIDOverflow
	}

	id := new(uint256.Int).Lsh(uint256.NewInt(uint64(resetPeriodIndex)), resetPeriodShift)
	shiftedAllocator := new(uint256.Int).Lsh(allocatorID, allocatorIDShift)
	id.Or(id, shiftedAllocator)
	id.Or(id, tokenLockID)
	return id, nil
}

// ResetPeriodSeconds looks up the reset-period duration for an index,
// returning ErrResetPeriodIndexRange if index > 7.
func ResetPeriodSeconds(index uint8) (uint64, error) {
	if index > 7 {
		return 0, ErrResetPeriodIndexRange
	}
	return ResetPeriods[index], nil
}

// SplitNonce unpacks a nonce into its sponsor address, high, and low
// fields (§3.3).
func SplitNonce(nonce *uint256.Int) (sponsor common.Address, high uint64, low uint32) {
	s := new(uint256.Int).Rsh(nonce, sponsorShift)
	s.And(s, sponsorMask)
	sponsor = common.BytesToAddress(s.Bytes())

	h := new(uint256.Int).Rsh(nonce, nonceHighShift)
	h.And(h, nonceHighMask)
	high = h.Uint64()

	l := new(uint256.Int).And(nonce, nonceLowMask)
	low = uint32(l.Uint64())

	return sponsor, high, low
}

// PackNonce builds a nonce from a sponsor address, high, and low, the
// inverse of SplitNonce. low must be in [0, MaxLow].
func PackNonce(sponsor common.Address, high uint64, low uint32) (*uint256.Int, error) {
	if low > MaxLow {
		return nil, ErrLowOverflow
	}

	sponsorInt := new(uint256.Int).SetBytes(sponsor.Bytes())
	nonce := new(uint256.Int).Lsh(sponsorInt, sponsorShift)

	highInt := new(uint256.Int).Lsh(uint256.NewInt(high), nonceHighShift)
	nonce.Or(nonce, highInt)
	nonce.Or(nonce, uint256.NewInt(uint64(low)))
	return nonce, nil
}

// Successor returns the tuple immediately following (high, low) in the
// combined ordering high*2^32+low, rolling low over to high+1 when low
// reaches MaxLow (§4.3).
func Successor(high uint64, low uint32) (uint64, uint32) {
	if low < MaxLow {
		return high, low + 1
	}
	return high + 1, 0
}

// Less reports whether (h1, l1) sorts before (h2, l2) under the numeric
// ordering high*2^32+low (never lexicographic on zero-padded strings).
func Less(h1 uint64, l1 uint32, h2 uint64, l2 uint32) bool {
	if h1 != h2 {
		return h1 < h2
	}
	return l1 < l2
}

// HexString renders a 256-bit value as 64 lower-case hex nibbles with no
// "0x" prefix, per the wire encoding used for id/nonce/claimHash bodies.
func HexString(v *uint256.Int) string {
	b := v.Bytes32()
	return hex.EncodeToString(b[:])
}

// ParseHexString parses a 64-nibble (optionally "0x"-prefixed) hex string
// into a 256-bit value.
func ParseHexString(s string) (*uint256.Int, error) {
	s = trim0x(s)
	if len(s) > 64 {
		return nil, fmt.Errorf("bitcodec: hex value exceeds 32 bytes: %q", s)
	}
	b, err := hex.DecodeString(pad(s))
	if err != nil {
		return nil, fmt.Errorf("bitcodec: invalid hex value: %w", err)
	}
	return new(uint256.Int).SetBytes(b), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func pad(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}
