package core_test

import (
	"VaultLedger/internal/core"
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeDB struct {
	seen  map[string]bool
	err   error
	calls int
}

func (f *fakeDB) IsDuplicate(_ context.Context, kind, requestID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[kind+":"+requestID], nil
}

// ============================================================================
// Test: LRU
// ============================================================================

func TestIdempotencyLRU_EvictsOldest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // a is now most recent
	if !lru.Add("c") {
		t.Fatal("expected an eviction")
	}

	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("a and c should remain")
	}
	if lru.Evictions() != 1 {
		t.Errorf("expected 1 eviction, got %d", lru.Evictions())
	}
}

func TestIdempotencyLRU_WarmKeepsOrder(t *testing.T) {
	lru := core.NewIdempotencyLRU(3)
	lru.WarmFromKeys([]string{"newest", "middle", "oldest", "dropped"})

	want := []string{"newest", "middle", "oldest"}
	if got := lru.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// ============================================================================
// Test: Two-tier lookup
// ============================================================================

func TestIdempotencyChecker_TwoTier(t *testing.T) {
	db := &fakeDB{seen: map[string]bool{"open:r-1": true}}
	ic := core.NewIdempotencyChecker(16, db, nil)
	ctx := context.Background()

	if !ic.IsDuplicate(ctx, "open", "r-1") {
		t.Fatal("expected Postgres tier to report r-1")
	}
	if !ic.IsDuplicate(ctx, "open", "r-1") {
		t.Fatal("expected LRU tier to report r-1")
	}
	if db.calls != 1 {
		t.Errorf("second lookup must be served from the LRU, db calls=%d", db.calls)
	}

	if ic.IsDuplicate(ctx, "open", "r-2") {
		t.Fatal("r-2 was never seen")
	}
	ic.MarkProcessed("open", "r-2")
	if !ic.IsDuplicate(ctx, "open", "r-2") {
		t.Fatal("r-2 should be a duplicate after MarkProcessed")
	}
	if ic.IsDuplicate(ctx, "close", "r-2") {
		t.Fatal("keys are scoped by kind")
	}
}

func TestIdempotencyChecker_DBErrorIsNotDuplicate(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	ic := core.NewIdempotencyChecker(16, db, nil)

	if ic.IsDuplicate(context.Background(), "open", "r-1") {
		t.Fatal("a Postgres error must not block the request")
	}
}

// ============================================================================
// Test: Sequence validation
// ============================================================================

func TestSequenceValidator_StrictPartition(t *testing.T) {
	sv := core.NewSequenceValidator()

	if applied, err := sv.ValidateSequence("params:ATOM", 1); applied || err != nil {
		t.Fatalf("first update: applied=%v err=%v", applied, err)
	}
	if _, err := sv.ValidateSequence("params:ATOM", 3); !errors.Is(err, core.ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if applied, err := sv.ValidateSequence("params:ATOM", 1); !applied || err != nil {
		t.Fatalf("replay: applied=%v err=%v", applied, err)
	}
	if applied, err := sv.ValidateSequence("params:ATOM", 2); applied || err != nil {
		t.Fatalf("next update: applied=%v err=%v", applied, err)
	}
	if sv.GetExpectedSequence("params:ATOM") != 3 {
		t.Errorf("expected next 3, got %d", sv.GetExpectedSequence("params:ATOM"))
	}
	if sv.Gaps("params:ATOM") != 1 || sv.Stale("params:ATOM") != 1 {
		t.Errorf("gaps=%d stale=%d", sv.Gaps("params:ATOM"), sv.Stale("params:ATOM"))
	}
}

func TestSequenceValidator_PriceGapsTolerated(t *testing.T) {
	sv := core.NewSequenceValidator()

	if !sv.ValidatePriceSequence("ATOM/RUN", 5) {
		t.Fatal("first price must be accepted")
	}
	if !sv.ValidatePriceSequence("ATOM/RUN", 9) {
		t.Fatal("a gap must be accepted")
	}
	if sv.ValidatePriceSequence("ATOM/RUN", 7) {
		t.Fatal("an older price must be dropped")
	}
	if sv.ValidatePriceSequence("ATOM/RUN", 9) {
		t.Fatal("a repeated price must be dropped")
	}
	if !sv.ValidatePriceSequence("BLD/RUN", 1) {
		t.Fatal("pairs are independent")
	}
	if sv.Gaps("price:ATOM/RUN") != 1 {
		t.Errorf("expected one gap, got %d", sv.Gaps("price:ATOM/RUN"))
	}
}
