// Package service implements the top-level compact admission flow of
// §4.6: authorise, reserve or accept a nonce, validate, hash, sign, and
// atomically persist — retrying a bounded number of times on a nonce race
// before surfacing Contention.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compactlabs/allocator/bitcodec"
	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/log"
	"github.com/compactlabs/allocator/nonceledger"
	"github.com/compactlabs/allocator/signer"
	"github.com/compactlabs/allocator/store"
	"github.com/compactlabs/allocator/typedhash"
	"github.com/compactlabs/allocator/validate"
)

// Admission is the successful result of Admit (§6.4).
type Admission struct {
	ClaimHash common.Hash
	Signature [65]byte
}

// Stats are admission counters exposed for observability (not part of the
// core invariants, but cheap to keep and useful to a transport layer).
type Stats struct {
	Admitted  uint64
	Rejected  uint64
	Contended uint64
	Errors    uint64
}

// Service is the top-level admission entry point (§4.6, §6.4).
type Service struct {
	Ledger     nonceledger.Reader
	Validator  *validate.Validator
	Store      store.CompactStore
	Signer     signer.Oracle
	MaxRetries int
	Now        func() time.Time

	log *log.Logger

	admitted  uint64
	rejected  uint64
	contended uint64
	errored   uint64
}

// New builds a Service from its collaborators.
func New(ledger nonceledger.Reader, v *validate.Validator, st store.CompactStore, sig signer.Oracle, maxRetries int) *Service {
	return &Service{
		Ledger:     ledger,
		Validator:  v,
		Store:      st,
		Signer:     sig,
		MaxRetries: maxRetries,
		Now:        time.Now,
		log:        log.Default().Module("service"),
	}
}

// Stats returns a snapshot of the service's admission counters.
func (s *Service) Stats() Stats {
	return Stats{
		Admitted:  atomic.LoadUint64(&s.admitted),
		Rejected:  atomic.LoadUint64(&s.rejected),
		Contended: atomic.LoadUint64(&s.contended),
		Errors:    atomic.LoadUint64(&s.errored),
	}
}

// Admit runs the full admission pipeline of §4.6 for a compact submitted
// under chainID by authenticatedSponsor.
func (s *Service) Admit(ctx context.Context, c compact.Compact, chainID string, authenticatedSponsor common.Address) (*Admission, error) {
	if authenticatedSponsor != c.Sponsor {
		atomic.AddUint64(&s.rejected, 1)
		return nil, compact.NewError(compact.KindUnauthorised, "authenticated sponsor does not match compact.sponsor")
	}

	now := s.Now().Unix()
	chainIDInt, ok := new(big.Int).SetString(chainID, 10)
	if !ok {
		atomic.AddUint64(&s.rejected, 1)
		return nil, compact.NewError(compact.KindInvalidChainId, fmt.Sprintf("chainId is not a canonical positive integer: %q", chainID))
	}

	retries := s.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		working := c
		var tuple nonceledger.Tuple

		if working.Nonce == nil {
			next, err := s.Ledger.GenerateNext(ctx, chainID, working.Sponsor)
			if err != nil {
				atomic.AddUint64(&s.errored, 1)
				return nil, compact.NewUpstream(err)
			}
			tuple = next
			packed, err := bitcodec.PackNonce(working.Sponsor, tuple.High, tuple.Low)
			if err != nil {
				atomic.AddUint64(&s.errored, 1)
				return nil, compact.NewUpstream(err)
			}
			working.Nonce = packed
		} else {
			_, high, low := bitcodec.SplitNonce(working.Nonce)
			tuple = nonceledger.Tuple{High: high, Low: low}
		}

		if err := s.Validator.Validate(ctx, &working, chainID, now); err != nil {
			atomic.AddUint64(&s.rejected, 1)
			return nil, err
		}

		claimHash := typedhash.Digest(&working, chainIDInt)
		signature, err := s.Signer.Sign(ctx, claimHash)
		if err != nil {
			atomic.AddUint64(&s.errored, 1)
			return nil, compact.NewUpstream(err)
		}

		rec := &compact.CompactRecord{
			ChainID:   chainID,
			Compact:   working,
			ClaimHash: claimHash,
			Signature: signature,
			CreatedAt: s.Now().UTC(),
		}

		err = s.Store.AdmitTx(ctx, chainID, working.Sponsor, tuple, rec)
		switch {
		case err == nil:
			atomic.AddUint64(&s.admitted, 1)
			return &Admission{ClaimHash: claimHash, Signature: signature}, nil
		case errors.Is(err, nonceledger.ErrNonceTaken):
			atomic.AddUint64(&s.contended, 1)
			s.log.Debug("nonce race, retrying", "chainId", chainID, "sponsor", working.Sponsor, "attempt", attempt)
			continue
		case errors.Is(err, store.ErrDuplicateClaim):
			atomic.AddUint64(&s.contended, 1)
			s.log.Debug("claim hash race, retrying", "chainId", chainID, "sponsor", working.Sponsor, "attempt", attempt)
			continue
		default:
			atomic.AddUint64(&s.errored, 1)
			return nil, compact.NewUpstream(err)
		}
	}

	atomic.AddUint64(&s.contended, 1)
	return nil, compact.NewError(compact.KindContention, fmt.Sprintf("exceeded %d nonce-reservation retries", retries))
}

// Lookup implements §6.4's lookup(chainId, claimHash).
func (s *Service) Lookup(ctx context.Context, chainID string, claimHash common.Hash) (*compact.CompactRecord, error) {
	rec, err := s.Store.Lookup(ctx, chainID, claimHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, compact.NewUpstream(err)
	}
	return rec, nil
}

// ListBySponsor implements §6.4's listBySponsor(sponsor).
func (s *Service) ListBySponsor(ctx context.Context, sponsor common.Address) ([]*compact.CompactRecord, error) {
	records, err := s.Store.ListBySponsor(ctx, sponsor)
	if err != nil {
		return nil, compact.NewUpstream(err)
	}
	return records, nil
}
