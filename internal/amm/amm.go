// Package amm defines the exchange counterparty used by liquidation
// strategies and a constant-product pool that implements it in memory.
package amm

import (
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
)

// ErrSwapRefused reports that the pool declined an offer. A refused swap
// leaves the pool untouched.
var ErrSwapRefused = errors.New("amm: swap refused")

// SwapResult is what the caller gave and received.
type SwapResult struct {
	In  fpmath.Amount
	Out fpmath.Amount
}

// Reserves are a pool's holdings of the central (debt) brand and the
// secondary (collateral) brand.
type Reserves struct {
	Central   fpmath.Amount
	Secondary fpmath.Amount
}

type AMM interface {
	// SwapExactOut spends at most give to receive exactly want.
	SwapExactOut(ctx context.Context, give, want fpmath.Amount) (SwapResult, error)

	// SwapIn spends all of give and receives at least minWant.
	SwapIn(ctx context.Context, give, minWant fpmath.Amount) (SwapResult, error)

	// PoolReserves returns the reserves of the pool trading secondary.
	PoolReserves(ctx context.Context, secondary fpmath.Brand) (Reserves, error)
}
