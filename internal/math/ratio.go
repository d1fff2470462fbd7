package math

import (
	"fmt"
	"math/big"
)

// BasisPointsDenominator is the denominator of ratios expressed in basis points.
const BasisPointsDenominator = 10_000

// Ratio is an exact rational number whose numerator and denominator each
// carry a brand. Interest coefficients and margins use the same brand top and
// bottom; prices use (out brand / in brand).
type Ratio struct {
	Numerator   Amount `json:"numerator"`
	Denominator Amount `json:"denominator"`
}

// NewRatio validates that the denominator is positive.
func NewRatio(numerator, denominator Amount) (Ratio, error) {
	if numerator.Value < 0 || denominator.Value < 0 {
		return Ratio{}, ErrNegativeAmount
	}
	if denominator.Value == 0 {
		return Ratio{}, ErrZeroDenominator
	}
	return Ratio{Numerator: numerator, Denominator: denominator}, nil
}

// MakeRatio builds num/den for constants. It panics on an invalid pair.
func MakeRatio(num int64, numBrand Brand, den int64, denBrand Brand) Ratio {
	r, err := NewRatio(Amount{Brand: numBrand, Value: num}, Amount{Brand: denBrand, Value: den})
	if err != nil {
		panic(fmt.Sprintf("make ratio %d/%d: %v", num, den, err))
	}
	return r
}

// RatioFromBasisPoints returns bp/10000 with brand on both sides.
func RatioFromBasisPoints(bp int64, brand Brand) (Ratio, error) {
	return NewRatio(Amount{Brand: brand, Value: bp}, Amount{Brand: brand, Value: BasisPointsDenominator})
}

// OneMinusBasisPoints returns (10000 - bp)/10000.
func OneMinusBasisPoints(bp int64, brand Brand) (Ratio, error) {
	if bp < 0 || bp > BasisPointsDenominator {
		return Ratio{}, fmt.Errorf("basis points out of range: %d", bp)
	}
	return RatioFromBasisPoints(BasisPointsDenominator-bp, brand)
}

func (r Ratio) String() string {
	return fmt.Sprintf("%d%s/%d%s", r.Numerator.Value, r.Numerator.Brand, r.Denominator.Value, r.Denominator.Brand)
}

func (r Ratio) IsZero() bool {
	return r.Numerator.Value == 0
}

// IsValid reports whether r has a positive denominator.
func (r Ratio) IsValid() bool {
	return r.Denominator.Value > 0 && r.Numerator.Value >= 0
}

// Cmp compares r and o by value using cross multiplication. Both ratios
// must carry the same brands; a mismatch is a programming defect.
func (r Ratio) Cmp(o Ratio) int {
	if r.Numerator.Brand != o.Numerator.Brand || r.Denominator.Brand != o.Denominator.Brand {
		panic(fmt.Sprintf("FATAL: comparing ratios of different brands: %s vs %s", r, o))
	}

	left := getInt()
	right := getInt()
	defer putInt(left)
	defer putInt(right)

	left.Mul(big.NewInt(r.Numerator.Value), big.NewInt(o.Denominator.Value))
	right.Mul(big.NewInt(o.Numerator.Value), big.NewInt(r.Denominator.Value))
	return left.Cmp(right)
}

// Equal is value equality: 1/1 equals 100/100.
func (r Ratio) Equal(o Ratio) bool {
	if r.Numerator.Brand != o.Numerator.Brand || r.Denominator.Brand != o.Denominator.Brand {
		return false
	}
	return r.Cmp(o) == 0
}

// MultiplyBy returns amount * r. The amount must carry the denominator's
// brand; the result carries the numerator's.
func MultiplyBy(amount Amount, r Ratio, mode RoundingMode) (Amount, error) {
	if amount.Brand != r.Denominator.Brand {
		return Amount{}, fmt.Errorf("%w: %s * %s", ErrBrandMismatch, amount, r)
	}
	if !r.IsValid() {
		return Amount{}, ErrZeroDenominator
	}
	value, err := MulDiv(amount.Value, r.Numerator.Value, r.Denominator.Value, mode)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Brand: r.Numerator.Brand, Value: value}, nil
}

// DivideBy returns amount / r. The amount must carry the numerator's brand;
// the result carries the denominator's.
func DivideBy(amount Amount, r Ratio, mode RoundingMode) (Amount, error) {
	if amount.Brand != r.Numerator.Brand {
		return Amount{}, fmt.Errorf("%w: %s / %s", ErrBrandMismatch, amount, r)
	}
	if r.Numerator.Value == 0 {
		return Amount{}, ErrZeroDenominator
	}
	value, err := MulDiv(amount.Value, r.Denominator.Value, r.Numerator.Value, mode)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Brand: r.Denominator.Brand, Value: value}, nil
}

func FloorMultiplyBy(amount Amount, r Ratio) (Amount, error) {
	return MultiplyBy(amount, r, RoundDown)
}

func CeilMultiplyBy(amount Amount, r Ratio) (Amount, error) {
	return MultiplyBy(amount, r, RoundUp)
}

func FloorDivideBy(amount Amount, r Ratio) (Amount, error) {
	return DivideBy(amount, r, RoundDown)
}

func CeilDivideBy(amount Amount, r Ratio) (Amount, error) {
	return DivideBy(amount, r, RoundUp)
}

// InvertRatio swaps numerator and denominator.
func InvertRatio(r Ratio) (Ratio, error) {
	return NewRatio(r.Denominator, r.Numerator)
}

// MultiplyRatios chains a * b where a's denominator brand matches b's
// numerator brand (x/y * y/z = x/z). The product is reduced by its gcd.
func MultiplyRatios(a, b Ratio) (Ratio, error) {
	if a.Denominator.Brand != b.Numerator.Brand {
		return Ratio{}, fmt.Errorf("%w: %s * %s", ErrBrandMismatch, a, b)
	}
	if !a.IsValid() || !b.IsValid() {
		return Ratio{}, ErrZeroDenominator
	}

	num := new(big.Int).Mul(big.NewInt(a.Numerator.Value), big.NewInt(b.Numerator.Value))
	den := new(big.Int).Mul(big.NewInt(a.Denominator.Value), big.NewInt(b.Denominator.Value))
	return ratioFromBig(num, a.Numerator.Brand, den, b.Denominator.Brand)
}

func ratioFromBig(num *big.Int, numBrand Brand, den *big.Int, denBrand Brand) (Ratio, error) {
	if num.Sign() != 0 {
		gcd := new(big.Int).GCD(nil, nil, num, den)
		num.Quo(num, gcd)
		den.Quo(den, gcd)
	} else {
		den.SetInt64(1)
	}

	n, err := toInt64(num)
	if err != nil {
		return Ratio{}, err
	}
	d, err := toInt64(den)
	if err != nil {
		return Ratio{}, err
	}
	return NewRatio(Amount{Brand: numBrand, Value: n}, Amount{Brand: denBrand, Value: d})
}

// Quantize re-expresses r over a fixed denominator, rounding the numerator
// with mode. It keeps long-running coefficients inside int64.
func Quantize(r Ratio, denominator int64, mode RoundingMode) (Ratio, error) {
	if denominator <= 0 {
		return Ratio{}, ErrZeroDenominator
	}
	if r.Denominator.Value == denominator {
		return r, nil
	}
	num, err := MulDiv(r.Numerator.Value, denominator, r.Denominator.Value, mode)
	if err != nil {
		return Ratio{}, err
	}
	return NewRatio(
		Amount{Brand: r.Numerator.Brand, Value: num},
		Amount{Brand: r.Denominator.Brand, Value: denominator},
	)
}

// RatioGTE reports r >= o by value.
func RatioGTE(r, o Ratio) bool {
	return r.Cmp(o) >= 0
}

// CompareRatios is r.Cmp(o) as a free function.
func CompareRatios(r, o Ratio) int {
	return r.Cmp(o)
}

func RatiosEqual(r, o Ratio) bool {
	return r.Equal(o)
}
