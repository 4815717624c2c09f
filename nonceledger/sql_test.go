package nonceledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

// newTestDB opens an in-memory sqlite database and applies Schema. A single
// pooled connection is kept open for the database's lifetime: sqlite's
// ":memory:" database is private to the connection that created it, and the
// sql.DB pool would otherwise hand out a fresh, empty database to a second
// connection.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func TestSQLReaderGenerateNextOnEmptyLedger(t *testing.T) {
	db := newTestDB(t)
	r := NewSQLReader(db)
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")

	got, err := r.GenerateNext(context.Background(), "1", sponsor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("got %+v, want zero tuple", got)
	}
}

func TestSQLReaderInsertThenGenerateNextSkipsGap(t *testing.T) {
	db := newTestDB(t)
	r := NewSQLReader(db)
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	insert := func(tuple Tuple) {
		t.Helper()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		if err := InsertTx(ctx, tx, "1", sponsor, tuple); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	insert(Tuple{0, 0})
	insert(Tuple{0, 2})

	got, err := r.GenerateNext(ctx, "1", sponsor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 1}) {
		t.Fatalf("got %+v, want (0,1)", got)
	}
}

func TestSQLInsertTxDuplicateFails(t *testing.T) {
	db := newTestDB(t)
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	tx1, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := InsertTx(ctx, tx1, "1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx2.Rollback()
	if err := InsertTx(ctx, tx2, "1", sponsor, Tuple{0, 0}); err != ErrNonceTaken {
		t.Fatalf("got %v, want ErrNonceTaken", err)
	}
}

func TestSQLInsertTxDuplicateWithinSameTxFails(t *testing.T) {
	db := newTestDB(t)
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	if err := InsertTx(ctx, tx, "1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := InsertTx(ctx, tx, "1", sponsor, Tuple{0, 0}); err != ErrNonceTaken {
		t.Fatalf("got %v, want ErrNonceTaken", err)
	}
}

func TestSQLReaderIsUsed(t *testing.T) {
	db := newTestDB(t)
	r := NewSQLReader(db)
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	used, err := r.IsUsed(ctx, "1", sponsor, Tuple{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used {
		t.Fatalf("expected unused")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := InsertTx(ctx, tx, "1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	used, err = r.IsUsed(ctx, "1", sponsor, Tuple{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !used {
		t.Fatalf("expected used")
	}
}

func TestSQLReaderSeparatesChainsAndSponsors(t *testing.T) {
	db := newTestDB(t)
	r := NewSQLReader(db)
	a := common.HexToAddress("0x00000000000000000000000000000000000001")
	b := common.HexToAddress("0x00000000000000000000000000000000000002")
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := InsertTx(ctx, tx, "1", a, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := r.GenerateNext(ctx, "1", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("sponsor b should be unaffected by sponsor a, got %+v", got)
	}

	got, err = r.GenerateNext(ctx, "2", a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("chain 2 should be unaffected by chain 1, got %+v", got)
	}
}
