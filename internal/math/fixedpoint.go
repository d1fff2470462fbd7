package math

import (
	"math/big"
	"sync"
)

// RoundingMode selects how an inexact quotient is resolved.
// Amounts owed by the system round down, amounts owed to it round up.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Pooled big.Int scratch values for intermediate products
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

// divideRounded returns numerator / denominator for non-negative operands.
// The result is freshly allocated and never returned to the pool.
func divideRounded(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	quotient := new(big.Int)
	remainder := getInt()
	defer putInt(remainder)

	quotient.QuoRem(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient
	}

	switch mode {
	case RoundUp:
		quotient.Add(quotient, bigOne)
	case RoundHalfEven:
		twice := getInt()
		defer putInt(twice)
		twice.Lsh(remainder, 1)

		cmp := twice.Cmp(denominator)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, bigOne)
		}
	}

	return quotient
}

var bigOne = big.NewInt(1)

// toInt64 narrows v, reporting ErrOverflow when it does not fit.
func toInt64(v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, ErrOverflow
	}
	return v.Int64(), nil
}

// MulDiv computes a * b / c with the given rounding. Operands must be
// non-negative and c must be positive.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if c <= 0 {
		return 0, ErrZeroDenominator
	}

	product := getInt()
	defer putInt(product)
	product.Mul(big.NewInt(a), big.NewInt(b))

	return toInt64(divideRounded(product, big.NewInt(c), mode))
}
