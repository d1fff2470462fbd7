package amm_test

import (
	"VaultLedger/internal/amm"
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
	"testing"
)

const (
	run  fpmath.Brand = "RUN"
	atom fpmath.Brand = "ATOM"
)

func newPool(t *testing.T) *amm.Pool {
	t.Helper()
	p, err := amm.NewPool(fpmath.MustAmount(run, 1_000_000), fpmath.MustAmount(atom, 1_000_000), 30)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPool_SwapIn(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()

	res, err := p.SwapIn(ctx, fpmath.MustAmount(atom, 1000), fpmath.Empty(run))
	if err != nil {
		t.Fatal(err)
	}
	if res.Out.Value != 996 {
		t.Errorf("out = %d, want 996", res.Out.Value)
	}

	r, _ := p.PoolReserves(ctx, atom)
	if r.Secondary.Value != 1_001_000 || r.Central.Value != 999_004 {
		t.Errorf("reserves = %s / %s", r.Central, r.Secondary)
	}
}

func TestPool_SwapInBelowMinimumRefused(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()

	_, err := p.SwapIn(ctx, fpmath.MustAmount(atom, 1000), fpmath.MustAmount(run, 1000))
	if !errors.Is(err, amm.ErrSwapRefused) {
		t.Fatalf("expected ErrSwapRefused, got %v", err)
	}
	if p.Swaps() != 0 {
		t.Error("refused swap should not execute")
	}
}

func TestPool_SwapExactOut(t *testing.T) {
	p := newPool(t)

	res, err := p.SwapExactOut(context.Background(), fpmath.MustAmount(atom, 200), fpmath.MustAmount(run, 100))
	if err != nil {
		t.Fatal(err)
	}
	if res.Out.Value != 100 {
		t.Errorf("out = %d, want 100", res.Out.Value)
	}
	if res.In.Value != 102 {
		t.Errorf("in = %d, want 102", res.In.Value)
	}
}

func TestPool_SwapExactOutInsufficientGiveRefused(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()

	_, err := p.SwapExactOut(ctx, fpmath.MustAmount(atom, 50), fpmath.MustAmount(run, 100))
	if !errors.Is(err, amm.ErrSwapRefused) {
		t.Fatalf("expected ErrSwapRefused, got %v", err)
	}

	r, _ := p.PoolReserves(ctx, atom)
	if r.Central.Value != 1_000_000 || r.Secondary.Value != 1_000_000 {
		t.Error("refused swap should leave reserves untouched")
	}
}

func TestPool_WrongPair(t *testing.T) {
	p := newPool(t)
	_, err := p.SwapIn(context.Background(), fpmath.MustAmount("BTC", 1), fpmath.Empty(run))
	if !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Fatalf("expected ErrBrandMismatch, got %v", err)
	}
}
