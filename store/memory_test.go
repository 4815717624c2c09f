package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/compactlabs/allocator/compact"
	"github.com/compactlabs/allocator/nonceledger"
)

func sampleRecord(claimHash common.Hash, sponsor common.Address) *compact.CompactRecord {
	return &compact.CompactRecord{
		ChainID: "1",
		Compact: compact.Compact{
			Arbiter: common.HexToAddress("0x00000000000000000000000000000000000009"),
			Sponsor: sponsor,
			Nonce:   uint256.NewInt(0),
			Expires: 1893456000,
			ID:      uint256.NewInt(42),
			Amount:  big.NewInt(1000),
		},
		ClaimHash: claimHash,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStoreAdmitThenLookup(t *testing.T) {
	s := NewMemoryStore()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	claimHash := common.HexToHash("0xaa")
	rec := sampleRecord(claimHash, sponsor)
	ctx := context.Background()

	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 0}, rec); err != nil {
		t.Fatalf("admit: %v", err)
	}

	got, err := s.Lookup(ctx, "1", claimHash)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Compact.Sponsor != sponsor {
		t.Fatalf("got sponsor %v, want %v", got.Compact.Sponsor, sponsor)
	}
}

func TestMemoryStoreLookupMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Lookup(context.Background(), "1", common.HexToHash("0xbb"))
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAdmitDuplicateNonceFails(t *testing.T) {
	s := NewMemoryStore()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	rec1 := sampleRecord(common.HexToHash("0xaa"), sponsor)
	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 0}, rec1); err != nil {
		t.Fatalf("admit: %v", err)
	}

	rec2 := sampleRecord(common.HexToHash("0xbb"), sponsor)
	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 0}, rec2); err != nonceledger.ErrNonceTaken {
		t.Fatalf("got %v, want ErrNonceTaken", err)
	}
}

func TestMemoryStoreAdmitDuplicateClaimFails(t *testing.T) {
	s := NewMemoryStore()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	claimHash := common.HexToHash("0xaa")
	ctx := context.Background()

	rec1 := sampleRecord(claimHash, sponsor)
	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 0}, rec1); err != nil {
		t.Fatalf("admit: %v", err)
	}

	rec2 := sampleRecord(claimHash, sponsor)
	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 1}, rec2); err != ErrDuplicateClaim {
		t.Fatalf("got %v, want ErrDuplicateClaim", err)
	}
}

func TestMemoryStoreListBySponsorOrdersDescending(t *testing.T) {
	s := NewMemoryStore()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	older := sampleRecord(common.HexToHash("0xaa"), sponsor)
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer := sampleRecord(common.HexToHash("0xbb"), sponsor)
	newer.CreatedAt = time.Now().UTC()

	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 0}, older); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := s.AdmitTx(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 1}, newer); err != nil {
		t.Fatalf("admit: %v", err)
	}

	got, err := s.ListBySponsor(ctx, sponsor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ClaimHash != newer.ClaimHash {
		t.Fatalf("expected newest record first")
	}
}

func TestMemoryStoreListBySponsorExcludesOthers(t *testing.T) {
	s := NewMemoryStore()
	a := common.HexToAddress("0x00000000000000000000000000000000000001")
	b := common.HexToAddress("0x00000000000000000000000000000000000002")
	ctx := context.Background()

	recA := sampleRecord(common.HexToHash("0xaa"), a)
	if err := s.AdmitTx(ctx, "1", a, nonceledger.Tuple{High: 0, Low: 0}, recA); err != nil {
		t.Fatalf("admit: %v", err)
	}

	got, err := s.ListBySponsor(ctx, b)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records, want 0", len(got))
	}
}
