package state

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"sync"
)

// Params are the governed values a manager reads on every operation.
// All ratios are debt/debt.
type Params struct {
	LiquidationMargin  fpmath.Ratio
	LiquidationPenalty fpmath.Ratio
	LoanFee            fpmath.Ratio
	InterestRate       fpmath.Ratio // annual
	ChargingPeriod     int64        // seconds
	RecordingPeriod    int64        // seconds
	DebtLimit          fpmath.Amount
}

// BasisPointParams is the catalogue form of Params.
type BasisPointParams struct {
	LiquidationMarginBP  int64
	LiquidationPenaltyBP int64
	LoanFeeBP            int64
	InterestRateBP       int64
	ChargingPeriod       int64
	RecordingPeriod      int64
	DebtLimit            int64
}

func ParamsFromBasisPoints(debt fpmath.Brand, bp BasisPointParams) (Params, error) {
	margin, err := fpmath.RatioFromBasisPoints(bp.LiquidationMarginBP, debt)
	if err != nil {
		return Params{}, fmt.Errorf("liquidation_margin_bp: %w", err)
	}
	penalty, err := fpmath.RatioFromBasisPoints(bp.LiquidationPenaltyBP, debt)
	if err != nil {
		return Params{}, fmt.Errorf("liquidation_penalty_bp: %w", err)
	}
	fee, err := fpmath.RatioFromBasisPoints(bp.LoanFeeBP, debt)
	if err != nil {
		return Params{}, fmt.Errorf("loan_fee_bp: %w", err)
	}
	rate, err := fpmath.RatioFromBasisPoints(bp.InterestRateBP, debt)
	if err != nil {
		return Params{}, fmt.Errorf("interest_rate_bp: %w", err)
	}
	limit, err := fpmath.NewAmount(debt, bp.DebtLimit)
	if err != nil {
		return Params{}, fmt.Errorf("debt_limit: %w", err)
	}

	p := Params{
		LiquidationMargin:  margin,
		LiquidationPenalty: penalty,
		LoanFee:            fee,
		InterestRate:       rate,
		ChargingPeriod:     bp.ChargingPeriod,
		RecordingPeriod:    bp.RecordingPeriod,
		DebtLimit:          limit,
	}
	return p, ValidateParams(p, debt)
}

// ValidateParams checks that parameters are within valid ranges:
// margin > 1, 0 <= fee < 1, penalty >= 0, rate >= 0, periods > 0,
// recording period a multiple of the charging period.
func ValidateParams(p Params, debt fpmath.Brand) error {
	for name, r := range map[string]fpmath.Ratio{
		"liquidation_margin":  p.LiquidationMargin,
		"liquidation_penalty": p.LiquidationPenalty,
		"loan_fee":            p.LoanFee,
		"interest_rate":       p.InterestRate,
	} {
		if !r.IsValid() {
			return fmt.Errorf("%s must have a positive denominator", name)
		}
		if r.Numerator.Brand != debt || r.Denominator.Brand != debt {
			return fmt.Errorf("%s must be %s/%s, got %s", name, debt, debt, r)
		}
	}
	if p.LiquidationMargin.Numerator.Value <= p.LiquidationMargin.Denominator.Value {
		return fmt.Errorf("liquidation_margin must be > 1, got %s", p.LiquidationMargin)
	}
	if p.LoanFee.Numerator.Value >= p.LoanFee.Denominator.Value {
		return fmt.Errorf("loan_fee must be < 1, got %s", p.LoanFee)
	}
	if p.ChargingPeriod <= 0 {
		return fmt.Errorf("charging_period must be > 0, got %d", p.ChargingPeriod)
	}
	if p.RecordingPeriod <= 0 {
		return fmt.Errorf("recording_period must be > 0, got %d", p.RecordingPeriod)
	}
	if p.RecordingPeriod%p.ChargingPeriod != 0 {
		return fmt.Errorf("recording_period (%d) must be a multiple of charging_period (%d)", p.RecordingPeriod, p.ChargingPeriod)
	}
	if p.DebtLimit.Brand != debt {
		return fmt.Errorf("debt_limit must be %s, got %s", debt, p.DebtLimit)
	}
	return nil
}

// ParamSource supplies the current governed parameters. The core never
// writes them.
type ParamSource interface {
	Params() Params
}

// ParamStore is a ParamSource whose values an outside governance process
// may replace.
type ParamStore struct {
	mu     sync.RWMutex
	debt   fpmath.Brand
	params Params
}

func NewParamStore(debt fpmath.Brand, p Params) (*ParamStore, error) {
	if err := ValidateParams(p, debt); err != nil {
		return nil, err
	}
	return &ParamStore{debt: debt, params: p}, nil
}

func (s *ParamStore) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *ParamStore) Update(p Params) error {
	if err := ValidateParams(p, s.debt); err != nil {
		return fmt.Errorf("invalid params for %s: %w", s.debt, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}
