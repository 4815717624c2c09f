package compact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/compactlabs/allocator/bitcodec"
)

// expiresPattern anchors expires to a bare run of ASCII digits, the same
// way amountPattern and chainIDPattern guard their own wire fields —
// strconv/Sscanf-style partial parses would silently accept trailing
// garbage (e.g. "3600garbage").
var expiresPattern = regexp.MustCompile(`^[0-9]+$`)

// wireCompact is the JSON shape exchanged with callers (§6.5): amount is a
// decimal string, id/nonce are 0x-prefixed 64-nibble hex, addresses are
// EIP-55 checksummed.
type wireCompact struct {
	Arbiter           string  `json:"arbiter"`
	Sponsor           string  `json:"sponsor"`
	Nonce             *string `json:"nonce"`
	Expires           string  `json:"expires"`
	ID                string  `json:"id"`
	Amount            string  `json:"amount"`
	WitnessTypeString *string `json:"witnessTypeString,omitempty"`
	WitnessHash       *string `json:"witnessHash,omitempty"`
}

// MarshalJSON renders the compact using the wire encoding of §6.5.
func (c Compact) MarshalJSON() ([]byte, error) {
	w := wireCompact{
		Arbiter: c.Arbiter.Hex(),
		Sponsor: c.Sponsor.Hex(),
		Expires: fmt.Sprintf("%d", c.Expires),
		Amount:  RenderAmount(c.Amount),
	}
	if c.Nonce != nil {
		s := "0x" + bitcodec.HexString(c.Nonce)
		w.Nonce = &s
	}
	if c.ID != nil {
		w.ID = "0x" + bitcodec.HexString(c.ID)
	}
	if c.HasWitness() {
		w.WitnessTypeString = c.WitnessTypeString
		s := c.WitnessHash.Hex()
		w.WitnessHash = &s
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire encoding of §6.5. EIP-55 checksum
// correctness for arbiter/sponsor is checked here, at the wire boundary,
// since it depends on the original-case string — once decoded to
// common.Address the casing is lost. Remaining semantic checks
// (positivity, W1, nonce/sponsor binding) belong to the validate package.
func (c *Compact) UnmarshalJSON(data []byte) error {
	var w wireCompact
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	arbiter, err := checksummedAddress(w.Arbiter)
	if err != nil {
		return NewInvalidAddress("arbiter", err.Error())
	}
	c.Arbiter = arbiter

	sponsor, err := checksummedAddress(w.Sponsor)
	if err != nil {
		return NewInvalidAddress("sponsor", err.Error())
	}
	c.Sponsor = sponsor

	if !expiresPattern.MatchString(w.Expires) {
		return NewError(KindInvalidAmount, fmt.Sprintf("expires is not a decimal integer: %q", w.Expires))
	}
	expires, err := strconv.ParseUint(w.Expires, 10, 64)
	if err != nil {
		return NewError(KindInvalidAmount, fmt.Sprintf("expires failed to parse: %q", w.Expires))
	}
	c.Expires = expires

	if w.ID != "" {
		id, err := bitcodec.ParseHexString(w.ID)
		if err != nil {
			return NewError(KindInvalidAmount, fmt.Sprintf("id is not valid hex: %v", err))
		}
		c.ID = id
	}

	if w.Nonce != nil {
		n, err := bitcodec.ParseHexString(*w.Nonce)
		if err != nil {
			return NewError(KindInvalidAmount, fmt.Sprintf("nonce is not valid hex: %v", err))
		}
		c.Nonce = n
	}

	amount, err := ParseAmount(w.Amount)
	if err != nil {
		return err
	}
	c.Amount = amount

	if w.WitnessTypeString != nil || w.WitnessHash != nil {
		c.WitnessTypeString = w.WitnessTypeString
		if w.WitnessHash != nil {
			h := common.HexToHash(*w.WitnessHash)
			c.WitnessHash = &h
		}
	}

	return nil
}

// checksummedAddress parses raw as a hex address and rejects it if its
// casing doesn't match the EIP-55 checksum of its own digits.
func checksummedAddress(raw string) (common.Address, error) {
	addr := common.HexToAddress(raw)
	if addr.Hex() != raw {
		return common.Address{}, fmt.Errorf("%q is not EIP-55 checksummed", raw)
	}
	return addr, nil
}

// NonceUint64Pair exposes a nonce's (high, low) fragment as a convenience
// for logging without pulling in bitcodec at call sites.
func NonceUint64Pair(nonce *uint256.Int) (high uint64, low uint32) {
	_, high, low = bitcodec.SplitNonce(nonce)
	return high, low
}
