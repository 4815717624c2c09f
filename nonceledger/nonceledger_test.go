package nonceledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestFindGapEmptyReturnsZero(t *testing.T) {
	got := FindGap(nil)
	if got != (Tuple{0, 0}) {
		t.Fatalf("got %+v, want zero tuple", got)
	}
}

func TestFindGapZeroAbsentReturnsZero(t *testing.T) {
	got := FindGap([]Tuple{{High: 0, Low: 1}, {High: 0, Low: 2}})
	if got != (Tuple{0, 0}) {
		t.Fatalf("got %+v, want zero tuple", got)
	}
}

func TestFindGapInternalGap(t *testing.T) {
	sorted := []Tuple{{0, 0}, {0, 1}, {0, 3}}
	got := FindGap(sorted)
	if got != (Tuple{0, 2}) {
		t.Fatalf("got %+v, want (0,2)", got)
	}
}

func TestFindGapNoInternalGapAppends(t *testing.T) {
	sorted := []Tuple{{0, 0}, {0, 1}, {0, 2}}
	got := FindGap(sorted)
	if got != (Tuple{0, 3}) {
		t.Fatalf("got %+v, want (0,3)", got)
	}
}

func TestFindGapFillsGapBeforeMaxLow(t *testing.T) {
	sorted := []Tuple{{0, 0}, {0, maxLowForTest()}}
	got := FindGap(sorted)
	if got != (Tuple{0, 1}) {
		t.Fatalf("got %+v, want (0,1)", got)
	}
}

func maxLowForTest() uint32 {
	return 1<<31 - 1
}

func TestMemoryLedgerGenerateNextOnEmptyLedger(t *testing.T) {
	l := NewMemoryLedger()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	got, err := l.GenerateNext(context.Background(), "1", sponsor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("got %+v, want zero tuple", got)
	}
}

func TestMemoryLedgerInsertThenGenerateNextSkipsGap(t *testing.T) {
	l := NewMemoryLedger()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	if err := l.Insert("1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.Insert("1", sponsor, Tuple{0, 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := l.GenerateNext(ctx, "1", sponsor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 1}) {
		t.Fatalf("got %+v, want (0,1)", got)
	}
}

func TestMemoryLedgerInsertDuplicateFails(t *testing.T) {
	l := NewMemoryLedger()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")

	if err := l.Insert("1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.Insert("1", sponsor, Tuple{0, 0}); err != ErrNonceTaken {
		t.Fatalf("got %v, want ErrNonceTaken", err)
	}
}

func TestMemoryLedgerIsUsed(t *testing.T) {
	l := NewMemoryLedger()
	sponsor := common.HexToAddress("0x00000000000000000000000000000000000001")
	ctx := context.Background()

	used, err := l.IsUsed(ctx, "1", sponsor, Tuple{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used {
		t.Fatalf("expected unused")
	}

	if err := l.Insert("1", sponsor, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	used, err = l.IsUsed(ctx, "1", sponsor, Tuple{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !used {
		t.Fatalf("expected used")
	}
}

func TestMemoryLedgerSeparatesChainsAndSponsors(t *testing.T) {
	l := NewMemoryLedger()
	a := common.HexToAddress("0x00000000000000000000000000000000000001")
	b := common.HexToAddress("0x00000000000000000000000000000000000002")
	ctx := context.Background()

	if err := l.Insert("1", a, Tuple{0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := l.GenerateNext(ctx, "1", b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("sponsor b should be unaffected by sponsor a, got %+v", got)
	}

	got, err = l.GenerateNext(ctx, "2", a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (Tuple{0, 0}) {
		t.Fatalf("chain 2 should be unaffected by chain 1, got %+v", got)
	}
}
