package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/compactlabs/allocator/nonceledger"
)

// newTestDB opens an in-memory sqlite database with both the nonce-ledger
// and compact-store schemas applied, mirroring how allocatord opens a
// single database and shares it between SQLReader and SQLStore. A single
// pooled connection is kept open so the in-memory database survives across
// the queries a test issues.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(nonceledger.Schema); err != nil {
		t.Fatalf("apply nonce ledger schema: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply compact store schema: %v", err)
	}
	return db
}

func TestSQLStoreAdmitThenLookup(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
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
	if got.Compact.Amount.Cmp(rec.Compact.Amount) != 0 {
		t.Fatalf("got amount %v, want %v", got.Compact.Amount, rec.Compact.Amount)
	}
	if got.Compact.ID.Cmp(rec.Compact.ID) != 0 {
		t.Fatalf("got id %v, want %v", got.Compact.ID, rec.Compact.ID)
	}
}

func TestSQLStoreLookupMissing(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
	_, err := s.Lookup(context.Background(), "1", common.HexToHash("0xbb"))
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSQLStoreAdmitDuplicateNonceFails(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
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

	// the failed admission must not have left the claim behind either.
	if _, err := s.Lookup(ctx, "1", common.HexToHash("0xbb")); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound for rolled-back claim", err)
	}
}

func TestSQLStoreAdmitDuplicateClaimFails(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
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

	// the failed admission must not have consumed the second nonce either,
	// since the whole commit rolls back together (§5).
	used, err := nonceledger.NewSQLReader(db).IsUsed(ctx, "1", sponsor, nonceledger.Tuple{High: 0, Low: 1})
	if err != nil {
		t.Fatalf("is used: %v", err)
	}
	if used {
		t.Fatalf("expected nonce (0,1) to remain unused after rolled-back admission")
	}
}

func TestSQLStoreListBySponsorOrdersDescending(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
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

func TestSQLStoreListBySponsorExcludesOthers(t *testing.T) {
	db := newTestDB(t)
	s := NewSQLStore(db)
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
