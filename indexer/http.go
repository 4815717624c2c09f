package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HTTPClient queries the indexer over HTTP using the response shape of
// §6.1. It is the production Client implementation; tests use
// FakeClient instead.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient builds a client against the given indexer endpoint. If hc
// is nil, http.DefaultClient is used.
func NewHTTPClient(endpoint string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{endpoint: endpoint, httpClient: hc}
}

type httpRequest struct {
	Allocator   string `json:"allocator"`
	Sponsor     string `json:"sponsor"`
	TokenLockID string `json:"tokenLockId"`
	ChainID     string `json:"chainId"`
}

type httpResourceLock struct {
	Balance          string `json:"balance"`
	WithdrawalStatus uint8  `json:"withdrawalStatus"`
}

type httpClaim struct {
	ClaimHash string `json:"claimHash"`
}

type httpAccount struct {
	ResourceLocks []httpResourceLock `json:"resourceLocks"`
	Claims        []httpClaim        `json:"claims"`
}

type httpSupportedChain struct {
	AllocatorID string `json:"allocatorId"`
}

type httpAllocator struct {
	SupportedChains []httpSupportedChain `json:"supportedChains"`
}

type httpAccountDelta struct {
	Delta string `json:"delta"`
}

type httpResponse struct {
	Account       httpAccount        `json:"account"`
	Allocator     httpAllocator      `json:"allocator"`
	AccountDeltas []httpAccountDelta `json:"accountDeltas"`
}

func (c *HTTPClient) Snapshot(ctx context.Context, q Query) (*LockSnapshot, error) {
	body, err := json.Marshal(httpRequest{
		Allocator:   q.Allocator.Hex(),
		Sponsor:     q.Sponsor.Hex(),
		TokenLockID: q.TokenLockID.Hex(),
		ChainID:     q.ChainID,
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("indexer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer: unexpected status %d", resp.StatusCode)
	}

	var parsed httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("indexer: decode response: %w", err)
	}

	return toSnapshot(parsed)
}

func toSnapshot(parsed httpResponse) (*LockSnapshot, error) {
	if len(parsed.Account.ResourceLocks) == 0 {
		return nil, ErrLockNotFound
	}
	if len(parsed.Allocator.SupportedChains) == 0 {
		return nil, ErrChainNotSupported
	}

	lock := parsed.Account.ResourceLocks[0]
	balance, ok := new(big.Int).SetString(lock.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("indexer: malformed balance %q", lock.Balance)
	}

	allocatorID, err := uint256FromDecimal(parsed.Allocator.SupportedChains[0].AllocatorID)
	if err != nil {
		return nil, fmt.Errorf("indexer: malformed allocatorId: %w", err)
	}

	claims := make([]common.Hash, 0, len(parsed.Account.Claims))
	for _, cl := range parsed.Account.Claims {
		claims = append(claims, common.HexToHash(cl.ClaimHash))
	}

	deltas := make([]*big.Int, 0, len(parsed.AccountDeltas))
	for _, d := range parsed.AccountDeltas {
		v, ok := new(big.Int).SetString(d.Delta, 10)
		if !ok {
			return nil, fmt.Errorf("indexer: malformed delta %q", d.Delta)
		}
		deltas = append(deltas, v)
	}

	return &LockSnapshot{
		Balance:          balance,
		WithdrawalStatus: lock.WithdrawalStatus,
		AllocatorID:      allocatorID,
		PendingDeltas:    deltas,
		Claims:           claims,
	}, nil
}

func uint256FromDecimal(s string) (*uint256.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("value overflows 256 bits: %q", s)
	}
	return v, nil
}
