// Package signer defines the opaque digest-signing oracle (§6.3) and a
// local-key reference implementation. Production deployments may swap in
// an HSM- or KMS-backed Oracle; the admission pipeline only ever depends
// on the Oracle interface.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Oracle signs an arbitrary 32-byte digest and returns a 65-byte
// recoverable signature (r, s, v) with no message prefix — the digest is
// already the EIP-712 result (§6.3).
type Oracle interface {
	Sign(ctx context.Context, digest [32]byte) ([65]byte, error)
}

// LocalKey is an Oracle backed by an in-process ECDSA private key. It is
// the reference implementation described in §9's trust boundary note: the
// raw signing primitive is treated as opaque by everything above it.
type LocalKey struct {
	key *ecdsa.PrivateKey
}

// NewLocalKey wraps an existing private key.
func NewLocalKey(key *ecdsa.PrivateKey) *LocalKey {
	return &LocalKey{key: key}
}

// GenerateLocalKey creates a fresh, ephemeral key — suitable only for local
// development and tests, never for a production allocator deployment.
func GenerateLocalKey() (*LocalKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return NewLocalKey(key), nil
}

// LoadLocalKey reads a hex-encoded private key from keyFile.
func LoadLocalKey(keyFile string) (*LocalKey, error) {
	key, err := crypto.LoadECDSA(keyFile)
	if err != nil {
		return nil, fmt.Errorf("signer: load key file %q: %w", keyFile, err)
	}
	return NewLocalKey(key), nil
}

// Address returns the Ethereum address derived from the key.
func (l *LocalKey) Address() common.Address {
	return crypto.PubkeyToAddress(l.key.PublicKey)
}

func (l *LocalKey) Sign(_ context.Context, digest [32]byte) ([65]byte, error) {
	sig, err := crypto.Sign(digest[:], l.key)
	if err != nil {
		return [65]byte{}, fmt.Errorf("signer: sign digest: %w", err)
	}
	var out [65]byte
	copy(out[:], sig)
	return out, nil
}
