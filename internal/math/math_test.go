package math_test

import (
	fpmath "VaultLedger/internal/math"
	"errors"
	"testing"
)

const (
	run  fpmath.Brand = "RUN"
	atom fpmath.Brand = "ATOM"
)

// ============================================================================
// Test: Amount
// ============================================================================

func TestAmount_RejectsNegative(t *testing.T) {
	if _, err := fpmath.NewAmount(run, -1); !errors.Is(err, fpmath.ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestAmount_BrandMismatch(t *testing.T) {
	a := fpmath.MustAmount(run, 10)
	b := fpmath.MustAmount(atom, 10)

	if _, err := a.Add(b); !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Errorf("Add: expected ErrBrandMismatch, got %v", err)
	}
	if _, err := a.Sub(b); !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Errorf("Sub: expected ErrBrandMismatch, got %v", err)
	}
	if _, err := a.IsGTE(b); !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Errorf("IsGTE: expected ErrBrandMismatch, got %v", err)
	}
}

func TestAmount_SubBelowZero(t *testing.T) {
	_, err := fpmath.MustAmount(run, 5).Sub(fpmath.MustAmount(run, 6))
	if !errors.Is(err, fpmath.ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestAddSubtract(t *testing.T) {
	got, err := fpmath.AddSubtract(fpmath.MustAmount(run, 100), fpmath.MustAmount(run, 30), fpmath.MustAmount(run, 50))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 80 {
		t.Errorf("got %d, want 80", got.Value)
	}
}

// ============================================================================
// Test: Ratio
// ============================================================================

func TestRatio_FloorAndCeil(t *testing.T) {
	fee := fpmath.MakeRatio(5, run, 100, run)
	want := fpmath.MustAmount(run, 70)

	ceil, err := fpmath.CeilMultiplyBy(want, fee)
	if err != nil {
		t.Fatal(err)
	}
	if ceil.Value != 4 {
		t.Errorf("ceil(70 * 5%%) = %d, want 4", ceil.Value)
	}

	floor, err := fpmath.FloorMultiplyBy(want, fee)
	if err != nil {
		t.Fatal(err)
	}
	if floor.Value != 3 {
		t.Errorf("floor(70 * 5%%) = %d, want 3", floor.Value)
	}
}

func TestRatio_PriceBrands(t *testing.T) {
	// 1 ATOM = 2 RUN
	price := fpmath.MakeRatio(2, run, 1, atom)

	out, err := fpmath.FloorMultiplyBy(fpmath.MustAmount(atom, 50), price)
	if err != nil {
		t.Fatal(err)
	}
	if out.Brand != run || out.Value != 100 {
		t.Errorf("got %s, want 100 RUN", out)
	}

	back, err := fpmath.FloorDivideBy(out, price)
	if err != nil {
		t.Fatal(err)
	}
	if back.Brand != atom || back.Value != 50 {
		t.Errorf("got %s, want 50 ATOM", back)
	}

	if _, err := fpmath.FloorMultiplyBy(fpmath.MustAmount(run, 1), price); !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Errorf("expected ErrBrandMismatch, got %v", err)
	}
}

func TestRatio_CompareCrossMultiplies(t *testing.T) {
	a := fpmath.MakeRatio(1, run, 3, atom)
	b := fpmath.MakeRatio(33, run, 100, atom)

	if a.Cmp(b) <= 0 {
		t.Error("1/3 should exceed 33/100")
	}
	if !fpmath.RatiosEqual(fpmath.MakeRatio(1, run, 1, run), fpmath.MakeRatio(100, run, 100, run)) {
		t.Error("1/1 should equal 100/100")
	}
}

func TestRatio_CompareBrandMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic comparing mixed brands")
		}
	}()
	fpmath.MakeRatio(1, run, 1, atom).Cmp(fpmath.MakeRatio(1, atom, 1, run))
}

func TestRatio_ZeroDenominator(t *testing.T) {
	if _, err := fpmath.NewRatio(fpmath.MustAmount(run, 1), fpmath.Empty(run)); !errors.Is(err, fpmath.ErrZeroDenominator) {
		t.Fatalf("expected ErrZeroDenominator, got %v", err)
	}
}

func TestMultiplyRatios_Reduces(t *testing.T) {
	a := fpmath.MakeRatio(6, run, 4, atom)
	b := fpmath.MakeRatio(2, atom, 3, atom)

	got, err := fpmath.MultiplyRatios(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Numerator.Value != 1 || got.Denominator.Value != 1 {
		t.Errorf("got %s, want 1/1", got)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	const big = int64(1) << 62
	if _, err := fpmath.MulDiv(big, 4, 1, fpmath.RoundDown); !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	got, err := fpmath.MulDiv(big, 4, 8, fpmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if got != big/2 {
		t.Errorf("got %d, want %d", got, big/2)
	}
}

func TestMulDiv_HalfEven(t *testing.T) {
	cases := []struct {
		a, b, c int64
		want    int64
	}{
		{5, 1, 2, 2},
		{7, 1, 2, 4},
		{11, 1, 4, 3},
	}
	for _, tc := range cases {
		got, err := fpmath.MulDiv(tc.a, tc.b, tc.c, fpmath.RoundHalfEven)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("%d*%d/%d half-even = %d, want %d", tc.a, tc.b, tc.c, got, tc.want)
		}
	}
}

// ============================================================================
// Test: Interest
// ============================================================================

func TestCalculateCurrentDebt_InterestRises(t *testing.T) {
	debt := fpmath.MustAmount(run, 1_000_000)
	got, err := fpmath.CalculateCurrentDebt(debt, fpmath.MakeRatio(100, run, 100, run), fpmath.MakeRatio(102, run, 100, run))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 1_020_000 {
		t.Errorf("got %d, want 1020000", got.Value)
	}
}

func TestCalculateCurrentDebt_InterestFalls(t *testing.T) {
	debt := fpmath.MustAmount(run, 1_000_000)
	got, err := fpmath.CalculateCurrentDebt(debt, fpmath.MakeRatio(102, run, 100, run), fpmath.MakeRatio(100, run, 100, run))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 980_392 {
		t.Errorf("got %d, want 980392", got.Value)
	}
}

func TestCalculateCurrentDebt_EqualCoefficientsShortCircuit(t *testing.T) {
	debt := fpmath.MustAmount(run, 333)
	same := fpmath.MakeRatio(7, run, 3, run)
	got, err := fpmath.CalculateCurrentDebt(debt, same, fpmath.MakeRatio(14, run, 6, run))
	if err != nil {
		t.Fatal(err)
	}
	if got != debt {
		t.Errorf("got %s, want %s", got, debt)
	}
}

func TestCalculateCurrentDebt_Composes(t *testing.T) {
	debt := fpmath.MustAmount(run, 987_654)
	r0 := fpmath.MakeRatio(100, run, 100, run)
	r1 := fpmath.MakeRatio(103, run, 100, run)
	r2 := fpmath.MakeRatio(1071, run, 1000, run)

	direct, err := fpmath.CalculateCurrentDebt(debt, r0, r2)
	if err != nil {
		t.Fatal(err)
	}
	step, err := fpmath.CalculateCurrentDebt(debt, r0, r1)
	if err != nil {
		t.Fatal(err)
	}
	stepped, err := fpmath.CalculateCurrentDebt(step, r1, r2)
	if err != nil {
		t.Fatal(err)
	}

	diff := direct.Value - stepped.Value
	if diff < -1 || diff > 1 {
		t.Errorf("direct %d and stepped %d differ by more than one unit", direct.Value, stepped.Value)
	}
}

func TestReverseInterest(t *testing.T) {
	got, err := fpmath.ReverseInterest(fpmath.MustAmount(run, 1_020_000), fpmath.MakeRatio(102, run, 100, run))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value != 1_000_000 {
		t.Errorf("got %d, want 1000000", got.Value)
	}
}

func TestCalculateCompoundedInterest_NoPriorDebt(t *testing.T) {
	prior := fpmath.MakeRatio(105, run, 100, run)
	got, err := fpmath.CalculateCompoundedInterest(prior, fpmath.Empty(run), fpmath.MustAmount(run, 10))
	if err != nil {
		t.Fatal(err)
	}
	if got != prior {
		t.Errorf("got %s, want %s", got, prior)
	}
}

func TestCalculateCompoundedInterest_Scales(t *testing.T) {
	got, err := fpmath.CalculateCompoundedInterest(fpmath.UnitInterest(run), fpmath.MustAmount(run, 1000), fpmath.MustAmount(run, 1020))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(fpmath.MakeRatio(102, run, 100, run)) {
		t.Errorf("got %s, want 1.02", got)
	}
}

func TestInterestCalculator_WholeRecordingPeriods(t *testing.T) {
	// 100% APR charged daily, recorded weekly
	const day = 24 * 60 * 60
	calc, err := fpmath.NewInterestCalculator(fpmath.MakeRatio(1, run, 1, run), day, 7*day)
	if err != nil {
		t.Fatal(err)
	}

	start := fpmath.DebtStatus{NewDebt: fpmath.MustAmount(run, 365_000), Interest: fpmath.Empty(run)}

	early, err := calc.CalculateReportingPeriod(start, 6*day)
	if err != nil {
		t.Fatal(err)
	}
	if early.LatestInterestUpdate != 0 || !early.Interest.IsEmpty() {
		t.Errorf("partial recording period should charge nothing, got %+v", early)
	}

	week, err := calc.CalculateReportingPeriod(start, 8*day)
	if err != nil {
		t.Fatal(err)
	}
	if week.LatestInterestUpdate != 7*day {
		t.Errorf("latest = %d, want %d", week.LatestInterestUpdate, 7*day)
	}
	// 1000/day compounding: first day exactly 1000, later days slightly more
	if week.Interest.Value != 7061 {
		t.Errorf("weekly interest = %d, want 7061", week.Interest.Value)
	}
	if week.NewDebt.Value != start.NewDebt.Value+week.Interest.Value {
		t.Errorf("new debt %d != debt + interest", week.NewDebt.Value)
	}
}

func TestInterestCalculator_RoundsUp(t *testing.T) {
	calc, err := fpmath.NewInterestCalculator(fpmath.MakeRatio(1, run, 100, run), 3600, 3600)
	if err != nil {
		t.Fatal(err)
	}
	got, err := calc.Calculate(fpmath.DebtStatus{NewDebt: fpmath.MustAmount(run, 1), Interest: fpmath.Empty(run)}, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if got.Interest.Value != 1 {
		t.Errorf("tiny interest should round up to 1, got %d", got.Interest.Value)
	}
}

// ============================================================================
// Test: Constant-product helpers
// ============================================================================

func TestImpactFactor(t *testing.T) {
	factor, err := fpmath.ImpactFactor(50, 30, atom)
	if err != nil {
		t.Fatal(err)
	}
	tranche, err := fpmath.FloorMultiplyBy(fpmath.MustAmount(atom, 1_000_000), factor)
	if err != nil {
		t.Fatal(err)
	}
	if tranche.Value != 2504 {
		t.Errorf("max tranche = %d, want 2504", tranche.Value)
	}
}

func TestImpactFactor_ZeroImpact(t *testing.T) {
	factor, err := fpmath.ImpactFactor(0, 30, atom)
	if err != nil {
		t.Fatal(err)
	}
	if !factor.IsZero() {
		t.Errorf("zero impact should give zero factor, got %s", factor)
	}
}

func TestEstimateSwapProceeds(t *testing.T) {
	got, err := fpmath.EstimateSwapProceeds(fpmath.MustAmount(atom, 100), fpmath.MustAmount(atom, 900), fpmath.MustAmount(run, 1800))
	if err != nil {
		t.Fatal(err)
	}
	if got.Brand != run || got.Value != 180 {
		t.Errorf("got %s, want 180 RUN", got)
	}
}

func TestEstimateSwapProceeds_ReserveOverflow(t *testing.T) {
	_, err := fpmath.EstimateSwapProceeds(
		fpmath.MustAmount(atom, 10),
		fpmath.MustAmount(atom, 9223372036854775800),
		fpmath.MustAmount(run, 1800),
	)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}

	if _, err := fpmath.EstimateSwapProceeds(fpmath.MustAmount(atom, 1), fpmath.MustAmount(run, 1), fpmath.MustAmount(run, 1)); !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Errorf("expected ErrBrandMismatch, got %v", err)
	}
}
