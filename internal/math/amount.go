// Package math implements the exact quantity and ratio arithmetic used by the
// vault engine. Every value is an integer count tagged with its brand; ratios
// are integer numerator/denominator pairs and never pass through floating point.
package math

import (
	"errors"
	"fmt"
)

var (
	ErrBrandMismatch   = errors.New("math: brand mismatch")
	ErrNegativeAmount  = errors.New("math: negative amount")
	ErrOverflow        = errors.New("math: amount overflows int64")
	ErrZeroDenominator = errors.New("math: ratio denominator must be positive")
)

// Brand identifies the asset type of a quantity.
type Brand string

// Amount is a non-negative quantity of a single brand.
type Amount struct {
	Brand Brand `json:"brand"`
	Value int64 `json:"value"`
}

// NewAmount builds an Amount, rejecting negative values.
func NewAmount(brand Brand, value int64) (Amount, error) {
	if value < 0 {
		return Amount{}, fmt.Errorf("%w: %d %s", ErrNegativeAmount, value, brand)
	}
	return Amount{Brand: brand, Value: value}, nil
}

// MustAmount is NewAmount for constants and fixtures. It panics on negatives.
func MustAmount(brand Brand, value int64) Amount {
	a, err := NewAmount(brand, value)
	if err != nil {
		panic(err)
	}
	return a
}

// Empty returns the zero quantity of brand.
func Empty(brand Brand) Amount {
	return Amount{Brand: brand}
}

func (a Amount) IsEmpty() bool {
	return a.Value == 0
}

func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Value, a.Brand)
}

// Validate checks that a is a well-formed quantity of brand.
func (a Amount) Validate(brand Brand) error {
	if a.Brand != brand {
		return fmt.Errorf("%w: got %q, want %q", ErrBrandMismatch, a.Brand, brand)
	}
	if a.Value < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, a)
	}
	return nil
}

func (a Amount) sameBrand(b Amount) error {
	if a.Brand != b.Brand {
		return fmt.Errorf("%w: %q vs %q", ErrBrandMismatch, a.Brand, b.Brand)
	}
	return nil
}

func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameBrand(b); err != nil {
		return Amount{}, err
	}
	sum := a.Value + b.Value
	if sum < a.Value {
		return Amount{}, ErrOverflow
	}
	return Amount{Brand: a.Brand, Value: sum}, nil
}

// Sub returns a - b. Going below zero is an error, never a clamp.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.sameBrand(b); err != nil {
		return Amount{}, err
	}
	if b.Value > a.Value {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, a, b)
	}
	return Amount{Brand: a.Brand, Value: a.Value - b.Value}, nil
}

func (a Amount) Min(b Amount) (Amount, error) {
	if err := a.sameBrand(b); err != nil {
		return Amount{}, err
	}
	if b.Value < a.Value {
		return b, nil
	}
	return a, nil
}

func (a Amount) Max(b Amount) (Amount, error) {
	if err := a.sameBrand(b); err != nil {
		return Amount{}, err
	}
	if b.Value > a.Value {
		return b, nil
	}
	return a, nil
}

func (a Amount) IsGTE(b Amount) (bool, error) {
	if err := a.sameBrand(b); err != nil {
		return false, err
	}
	return a.Value >= b.Value, nil
}

func (a Amount) IsEqual(b Amount) (bool, error) {
	if err := a.sameBrand(b); err != nil {
		return false, err
	}
	return a.Value == b.Value, nil
}

// AddSubtract returns base + gain - loss, the delta form used by
// adjustments where both sides arrive independently.
func AddSubtract(base, gain, loss Amount) (Amount, error) {
	sum, err := base.Add(gain)
	if err != nil {
		return Amount{}, err
	}
	return sum.Sub(loss)
}

// The Must helpers are for paths where brands and bounds were already
// validated. A failure there is a programming defect.

func MustAdd(a, b Amount) Amount {
	sum, err := a.Add(b)
	if err != nil {
		panic(fmt.Sprintf("FATAL: amount add: %v", err))
	}
	return sum
}

func MustSub(a, b Amount) Amount {
	diff, err := a.Sub(b)
	if err != nil {
		panic(fmt.Sprintf("FATAL: amount subtract: %v", err))
	}
	return diff
}

func MustMin(a, b Amount) Amount {
	m, err := a.Min(b)
	if err != nil {
		panic(fmt.Sprintf("FATAL: amount min: %v", err))
	}
	return m
}

func MustGTE(a, b Amount) bool {
	ok, err := a.IsGTE(b)
	if err != nil {
		panic(fmt.Sprintf("FATAL: amount compare: %v", err))
	}
	return ok
}
