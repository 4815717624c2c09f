// Package typedhash implements the deterministic EIP-712 domain and struct
// hashing the allocator signs over (§4.2). The output must match the
// on-chain verifier bit-for-bit, so every field is encoded by explicit
// width-aware rules rather than any general-purpose ABI reflection.
package typedhash

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/compactlabs/allocator/compact"
)

// VerifyingContract is the on-chain Compact contract address baked into
// the EIP-712 domain (§4.2).
var VerifyingContract = common.HexToAddress("0x00000000000018DF021Ff2467dF97ff846E09f48")

const (
	domainName    = "The Compact"
	domainVersion = "0"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	compactTypeHash = crypto.Keccak256Hash([]byte(
		"Compact(address arbiter,address sponsor,uint256 nonce,uint256 expires,uint256 id,uint256 amount)",
	))

	compactWitnessTypeHash = crypto.Keccak256Hash([]byte(
		"Compact(address arbiter,address sponsor,uint256 nonce,uint256 expires,uint256 id,uint256 amount,string witnessTypeString,bytes32 witnessHash)",
	))
)

// encodeAddress left-pads a 20-byte address to a 32-byte EIP-712 field.
func encodeAddress(a common.Address) []byte {
	var buf [32]byte
	copy(buf[12:], a.Bytes())
	return buf[:]
}

// encodeUint256 renders x as 32 big-endian bytes.
func encodeUint256(x *big.Int) []byte {
	var buf [32]byte
	x.FillBytes(buf[:])
	return buf[:]
}

func encodeUint256FromU256(x *uint256.Int) []byte {
	b := x.Bytes32()
	return b[:]
}

// DomainSeparator computes the EIP-712 domain separator for a given chain
// (§4.2). name and version are fixed; verifyingContract is read from the
// package-level VerifyingContract, which cmd/allocatord sets from its
// configuration at startup.
func DomainSeparator(chainID *big.Int) common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(domainName))
	versionHash := crypto.Keccak256Hash([]byte(domainVersion))

	buf := make([]byte, 0, 32*5)
	buf = append(buf, domainTypeHash.Bytes()...)
	buf = append(buf, nameHash.Bytes()...)
	buf = append(buf, versionHash.Bytes()...)
	buf = append(buf, encodeUint256(chainID)...)
	buf = append(buf, encodeAddress(VerifyingContract)...)

	return crypto.Keccak256Hash(buf)
}

// StructHash computes the EIP-712 struct hash of a compact, selecting the
// witness-bearing or witness-free schema based on whether the compact
// carries witness fields (§4.2). Callers must have already checked W1.
func StructHash(c *compact.Compact) common.Hash {
	if c.HasWitness() {
		buf := make([]byte, 0, 32*8)
		buf = append(buf, compactWitnessTypeHash.Bytes()...)
		buf = append(buf, encodeAddress(c.Arbiter)...)
		buf = append(buf, encodeAddress(c.Sponsor)...)
		buf = append(buf, encodeUint256FromU256(c.Nonce)...)
		buf = append(buf, encodeUint256(new(big.Int).SetUint64(c.Expires))...)
		buf = append(buf, encodeUint256FromU256(c.ID)...)
		buf = append(buf, encodeUint256(c.Amount)...)
		buf = append(buf, crypto.Keccak256Hash([]byte(*c.WitnessTypeString)).Bytes()...)
		buf = append(buf, c.WitnessHash.Bytes()...)
		return crypto.Keccak256Hash(buf)
	}

	buf := make([]byte, 0, 32*6)
	buf = append(buf, compactTypeHash.Bytes()...)
	buf = append(buf, encodeAddress(c.Arbiter)...)
	buf = append(buf, encodeAddress(c.Sponsor)...)
	buf = append(buf, encodeUint256FromU256(c.Nonce)...)
	buf = append(buf, encodeUint256(new(big.Int).SetUint64(c.Expires))...)
	buf = append(buf, encodeUint256FromU256(c.ID)...)
	buf = append(buf, encodeUint256(c.Amount)...)
	return crypto.Keccak256Hash(buf)
}

// Digest computes the final EIP-712 digest signed by the allocator:
// keccak256(0x1901 || domainSeparator || structHash) (§4.2). chainID must
// be the same value the compact was validated against.
func Digest(c *compact.Compact, chainID *big.Int) common.Hash {
	domainSeparator := DomainSeparator(chainID)
	structHash := StructHash(c)

	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, structHash.Bytes()...)

	return crypto.Keccak256Hash(buf)
}
