// Package config defines allocatord's runtime configuration: listen
// address, data directory, per-chain finalisation thresholds, and the
// allocator's EIP-712 verifying contract address.
package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the allocator service's full runtime configuration.
type Config struct {
	// ListenAddr is the address the HTTP transport binds to.
	ListenAddr string

	// DataDir holds the sqlite database file.
	DataDir string

	// VerifyingContract is the EIP-712 verifyingContract address baked
	// into the domain separator (§4.2).
	VerifyingContract common.Address

	// AllocatorAddress is this allocator's own on-chain identity, used to
	// query the indexer's per-allocator supportedChains table (§6.1). It
	// is distinct from VerifyingContract, which names the on-chain
	// Compact contract the signature verifies against.
	AllocatorAddress common.Address

	// FinalizationThresholds maps chainId to the per-chain grace period
	// in seconds after expiry during which a compact is still
	// outstanding (§4.4, GLOSSARY "Finalisation threshold").
	FinalizationThresholds map[string]uint64

	// SignerKeyFile points at the allocator's private key, consumed by
	// the signer oracle (§6.3). Empty means an ephemeral key is
	// generated at startup — suitable only for local development.
	SignerKeyFile string

	// MaxNonceRetries bounds the retry loop on NonceTaken (§4.6 step 5,
	// §9 "Retry loop for nonce race").
	MaxNonceRetries int
}

// FinalizationThreshold returns the configured threshold for chainId, or
// the default if none is configured.
func (c *Config) FinalizationThreshold(chainID string) uint64 {
	if t, ok := c.FinalizationThresholds[chainID]; ok {
		return t
	}
	return DefaultFinalizationThreshold
}

// DefaultFinalizationThreshold is used for any chain without an explicit
// entry in FinalizationThresholds.
const DefaultFinalizationThreshold uint64 = 900

// DefaultMaxNonceRetries is the suggested retry bound from §4.6 step 5.
const DefaultMaxNonceRetries = 3

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data directory must not be empty")
	}
	if c.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("config: verifying contract address must not be empty")
	}
	if c.AllocatorAddress == (common.Address{}) {
		return fmt.Errorf("config: allocator address must not be empty")
	}
	if c.MaxNonceRetries <= 0 {
		return fmt.Errorf("config: max nonce retries must be positive")
	}
	for chainID, threshold := range c.FinalizationThresholds {
		if chainID == "" {
			return fmt.Errorf("config: finalisation threshold has empty chain id")
		}
		if threshold == 0 {
			return fmt.Errorf("config: finalisation threshold for chain %s must be positive", chainID)
		}
	}
	return nil
}

// Default returns a Config suitable for local development: an ephemeral
// signer key, a single default finalisation threshold, and the canonical
// verifying contract address from §4.2.
func Default() *Config {
	return &Config{
		ListenAddr:             "127.0.0.1:8787",
		DataDir:                "./data",
		VerifyingContract:      common.HexToAddress("0x00000000000018DF021Ff2467dF97ff846E09f48"),
		FinalizationThresholds: map[string]uint64{},
		MaxNonceRetries:        DefaultMaxNonceRetries,
	}
}
