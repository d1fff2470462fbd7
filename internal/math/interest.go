package math

import (
	"fmt"
	"math/big"
)

const (
	SecondsPerYear int64 = 60 * 60 * 24 * 365

	// CompoundedInterestDenominator bounds the precision of the running
	// compounded-interest coefficient. Quantizing keeps it within int64 for
	// the lifetime of a manager.
	CompoundedInterestDenominator int64 = 1_000_000_000_000
)

// UnitInterest returns the 1/1 coefficient a manager starts with.
func UnitInterest(debtBrand Brand) Ratio {
	return MakeRatio(CompoundedInterestDenominator, debtBrand, CompoundedInterestDenominator, debtBrand)
}

// CalculateCurrentDebt brings a debt snapshot forward from the coefficient it
// was recorded at to the current coefficient, rounding down.
//
// Equal coefficients return the snapshot unchanged so that a vault never
// shows drift on a manager that has not charged interest since it was touched.
func CalculateCurrentDebt(debtSnapshot Amount, interestSnapshot, currentCompoundedInterest Ratio) (Amount, error) {
	if interestSnapshot.Equal(currentCompoundedInterest) {
		return debtSnapshot, nil
	}
	if debtSnapshot.Brand != currentCompoundedInterest.Numerator.Brand {
		return Amount{}, fmt.Errorf("%w: debt %s vs interest %s", ErrBrandMismatch, debtSnapshot, currentCompoundedInterest)
	}
	if !interestSnapshot.IsValid() || !currentCompoundedInterest.IsValid() || interestSnapshot.IsZero() {
		return Amount{}, ErrZeroDenominator
	}

	// debt * (cn/cd) / (sn/sd) = debt * cn * sd / (cd * sn)
	num := new(big.Int).Mul(big.NewInt(debtSnapshot.Value), big.NewInt(currentCompoundedInterest.Numerator.Value))
	num.Mul(num, big.NewInt(interestSnapshot.Denominator.Value))
	den := new(big.Int).Mul(big.NewInt(currentCompoundedInterest.Denominator.Value), big.NewInt(interestSnapshot.Numerator.Value))

	value, err := toInt64(divideRounded(num, den, RoundDown))
	if err != nil {
		return Amount{}, err
	}
	return Amount{Brand: debtSnapshot.Brand, Value: value}, nil
}

// ReverseInterest normalizes a debt to the 1/1 coefficient.
func ReverseInterest(debt Amount, interestApplied Ratio) (Amount, error) {
	return FloorDivideBy(debt, interestApplied)
}

// CalculateCompoundedInterest scales prior by newDebt/priorDebt. With no prior
// debt there is nothing to compound and prior is returned unchanged.
func CalculateCompoundedInterest(prior Ratio, priorDebt, newDebt Amount) (Ratio, error) {
	if priorDebt.IsEmpty() {
		return prior, nil
	}
	if err := priorDebt.sameBrand(newDebt); err != nil {
		return Ratio{}, err
	}
	if !prior.IsValid() {
		return Ratio{}, ErrZeroDenominator
	}

	num := new(big.Int).Mul(big.NewInt(prior.Numerator.Value), big.NewInt(newDebt.Value))
	num.Mul(num, big.NewInt(CompoundedInterestDenominator))
	den := new(big.Int).Mul(big.NewInt(prior.Denominator.Value), big.NewInt(priorDebt.Value))

	value, err := toInt64(divideRounded(num, den, RoundUp))
	if err != nil {
		return Ratio{}, err
	}
	return NewRatio(
		Amount{Brand: prior.Numerator.Brand, Value: value},
		Amount{Brand: prior.Denominator.Brand, Value: CompoundedInterestDenominator},
	)
}

// DebtStatus is the aggregate debt of a manager at its last interest update.
type DebtStatus struct {
	LatestInterestUpdate int64
	NewDebt              Amount
	Interest             Amount
}

// InterestCalculator compounds an annual rate once per charging period and
// only reports whole recording periods.
type InterestCalculator struct {
	ratePerChargingPeriod Ratio
	chargingPeriod        int64
	recordingPeriod       int64
}

func NewInterestCalculator(annualRate Ratio, chargingPeriod, recordingPeriod int64) (*InterestCalculator, error) {
	if chargingPeriod <= 0 || recordingPeriod <= 0 {
		return nil, fmt.Errorf("interest periods must be positive: charging=%d recording=%d", chargingPeriod, recordingPeriod)
	}
	if !annualRate.IsValid() {
		return nil, ErrZeroDenominator
	}

	num := new(big.Int).Mul(big.NewInt(annualRate.Numerator.Value), big.NewInt(chargingPeriod))
	den := new(big.Int).Mul(big.NewInt(annualRate.Denominator.Value), big.NewInt(SecondsPerYear))
	perPeriod, err := ratioFromBig(num, annualRate.Numerator.Brand, den, annualRate.Denominator.Brand)
	if err != nil {
		return nil, fmt.Errorf("rate per charging period: %w", err)
	}

	return &InterestCalculator{
		ratePerChargingPeriod: perPeriod,
		chargingPeriod:        chargingPeriod,
		recordingPeriod:       recordingPeriod,
	}, nil
}

func (c *InterestCalculator) RatePerChargingPeriod() Ratio {
	return c.ratePerChargingPeriod
}

// Calculate charges every charging period that has fully elapsed by now.
// Each period's interest is rounded up and compounds into the next.
func (c *InterestCalculator) Calculate(status DebtStatus, now int64) (DebtStatus, error) {
	newDebt := status.NewDebt
	interest := status.Interest
	latest := status.LatestInterestUpdate

	for latest+c.chargingPeriod <= now {
		charge, err := CeilMultiplyBy(newDebt, c.ratePerChargingPeriod)
		if err != nil {
			return DebtStatus{}, fmt.Errorf("charge period at %d: %w", latest, err)
		}
		if newDebt, err = newDebt.Add(charge); err != nil {
			return DebtStatus{}, err
		}
		if interest, err = interest.Add(charge); err != nil {
			return DebtStatus{}, err
		}
		latest += c.chargingPeriod
	}

	return DebtStatus{LatestInterestUpdate: latest, NewDebt: newDebt, Interest: interest}, nil
}

// CalculateReportingPeriod is Calculate truncated to the last whole
// recording period before now.
func (c *InterestCalculator) CalculateReportingPeriod(status DebtStatus, now int64) (DebtStatus, error) {
	if now <= status.LatestInterestUpdate {
		return status, nil
	}
	overshoot := (now - status.LatestInterestUpdate) % c.recordingPeriod
	return c.Calculate(status, now-overshoot)
}
