package math

import (
	"fmt"
	"math/big"
)

// impactScale is the fixed-point scale of ImpactFactor results.
const impactScale int64 = 1_000_000_000_000_000_000

// ImpactFactor approximates sqrt(1 + maxImpact/(1 - fee)) - 1 for a
// constant-product pool, where both inputs are basis points. Selling
// poolCollateral * factor moves the pool price by at most maxImpact.
// The result is rounded down at 1e18 precision and branded on both sides.
func ImpactFactor(maxImpactBP, feeBP int64, brand Brand) (Ratio, error) {
	if maxImpactBP < 0 || feeBP < 0 || feeBP >= BasisPointsDenominator {
		return Ratio{}, fmt.Errorf("impact factor out of range: impact=%dbp fee=%dbp", maxImpactBP, feeBP)
	}

	keep := BasisPointsDenominator - feeBP
	scale := big.NewInt(impactScale)

	// inner = (keep + impact) / keep, at scale^2 so the root lands at scale
	inner := new(big.Int).Mul(big.NewInt(keep+maxImpactBP), scale)
	inner.Mul(inner, scale)
	inner.Quo(inner, big.NewInt(keep))

	root := new(big.Int).Sqrt(inner)
	root.Sub(root, scale)
	if root.Sign() < 0 {
		root.SetInt64(0)
	}

	return NewRatio(Amount{Brand: brand, Value: root.Int64()}, Amount{Brand: brand, Value: impactScale})
}

// EstimateSwapProceeds is the fee-free constant-product output for selling
// amountIn into a pool holding reserveIn and reserveOut, rounded down.
func EstimateSwapProceeds(amountIn, reserveIn, reserveOut Amount) (Amount, error) {
	after, err := reserveIn.Add(amountIn)
	if err != nil {
		return Amount{}, err
	}
	if after.Value <= 0 {
		return Empty(reserveOut.Brand), nil
	}
	value, err := MulDiv(reserveOut.Value, amountIn.Value, after.Value, RoundDown)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Brand: reserveOut.Brand, Value: value}, nil
}
