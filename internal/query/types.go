package query

import (
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/state"
	"time"

	"github.com/shopspring/decimal"
)

// ratioPlaces is the precision used when rendering ratios and prices.
const ratioPlaces = 8

// AmountView is an integer amount in the brand's smallest unit.
type AmountView struct {
	Brand string `json:"brand"`
	Value int64  `json:"value"`
}

func amountView(a fpmath.Amount) AmountView {
	return AmountView{Brand: string(a.Brand), Value: a.Value}
}

// VaultResponse is one vault as seen by the projection.
type VaultResponse struct {
	Collateral   string     `json:"collateral"`
	VaultID      uint64     `json:"vault_id"`
	Owner        string     `json:"owner"`
	Phase        string     `json:"phase"`
	Locked       AmountView `json:"locked"`
	Debt         AmountView `json:"debt"`
	Version      int64      `json:"version"`
	LastEvent    string     `json:"last_event"`
	LastSequence int64      `json:"last_sequence"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Collateralization is locked value over debt at the current quote.
	// Empty when the vault has no debt or no quote is available.
	Collateralization string `json:"collateralization,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// LiquidationResponse is one liquidation and, once finished, its outcome.
type LiquidationResponse struct {
	LiquidationID   string    `json:"liquidation_id"`
	Collateral      string    `json:"collateral"`
	VaultID         uint64    `json:"vault_id"`
	Status          string    `json:"status"`
	Debt            int64     `json:"debt"`
	Locked          int64     `json:"locked"`
	Proceeds        int64     `json:"proceeds"`
	Penalty         int64     `json:"penalty"`
	Overage         int64     `json:"overage"`
	Shortfall       int64     `json:"shortfall"`
	CollateralSold  int64     `json:"collateral_sold"`
	StartedSequence int64     `json:"started_sequence"`
	UpdatedSequence int64     `json:"updated_sequence"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// RecoveryRate is proceeds over debt; set for completed liquidations.
	RecoveryRate string `json:"recovery_rate,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// ManagerMetricsResponse is the live state of one vault manager.
type ManagerMetricsResponse struct {
	Collateral     string `json:"collateral"`
	NumVaults      int    `json:"num_vaults"`
	NumQueued      int    `json:"num_queued"`
	NumLiquidating int    `json:"num_liquidating"`

	TotalCollateral AmountView `json:"total_collateral"`
	TotalDebt       AmountView `json:"total_debt"`

	TotalCollateralSold      AmountView `json:"total_collateral_sold"`
	TotalOverageReceived     AmountView `json:"total_overage_received"`
	TotalProceedsReceived    AmountView `json:"total_proceeds_received"`
	TotalShortfallReceived   AmountView `json:"total_shortfall_received"`
	TotalPenaltyReceived     AmountView `json:"total_penalty_received"`
	TotalInterestMinted      AmountView `json:"total_interest_minted"`
	NumLiquidationsCompleted int        `json:"num_liquidations_completed"`
	NumLiquidationsStalled   int        `json:"num_liquidations_stalled"`

	CompoundedInterest   string `json:"compounded_interest"`
	LatestInterestUpdate int64  `json:"latest_interest_update"`

	LiquidationMargin  string `json:"liquidation_margin,omitempty"`
	LiquidationPenalty string `json:"liquidation_penalty,omitempty"`
	LoanFee            string `json:"loan_fee,omitempty"`
	InterestRate       string `json:"interest_rate,omitempty"`

	DebtLimit *AmountView `json:"debt_limit,omitempty"`

	// Price is debt per unit of collateral from the current quote.
	Price string `json:"price,omitempty"`
}

func metricsResponse(m state.ManagerMetrics) *ManagerMetricsResponse {
	return &ManagerMetricsResponse{
		Collateral:               string(m.Collateral),
		NumVaults:                m.NumVaults,
		NumQueued:                m.NumQueued,
		NumLiquidating:           m.NumLiquidating,
		TotalCollateral:          amountView(m.TotalCollateral),
		TotalDebt:                amountView(m.TotalDebt),
		TotalCollateralSold:      amountView(m.TotalCollateralSold),
		TotalOverageReceived:     amountView(m.TotalOverageReceived),
		TotalProceedsReceived:    amountView(m.TotalProceedsReceived),
		TotalShortfallReceived:   amountView(m.TotalShortfallReceived),
		TotalPenaltyReceived:     amountView(m.TotalPenaltyReceived),
		TotalInterestMinted:      amountView(m.TotalInterestMinted),
		NumLiquidationsCompleted: m.NumLiquidationsCompleted,
		NumLiquidationsStalled:   m.NumLiquidationsStalled,
		CompoundedInterest:       RatioString(m.CompoundedInterest),
		LatestInterestUpdate:     m.LatestInterestUpdate,
	}
}

// BalanceResponse is a wallet balance read from the live ledger.
type BalanceResponse struct {
	Owner   string `json:"owner"`
	Brand   string `json:"brand"`
	Balance int64  `json:"balance"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy      bool   `json:"is_healthy"`
	EventsChecked  int    `json:"events_checked"`
	ChainError     string `json:"chain_error,omitempty"`
	LedgerBalanced bool   `json:"ledger_balanced"`
	LedgerError    string `json:"ledger_error,omitempty"`
}

// RatioString renders a ratio as a decimal. An invalid ratio renders as "".
func RatioString(r fpmath.Ratio) string {
	if !r.IsValid() {
		return ""
	}
	num := decimal.NewFromInt(r.Numerator.Value)
	den := decimal.NewFromInt(r.Denominator.Value)
	return num.DivRound(den, ratioPlaces).String()
}

// quotient renders num/den, or "" when den is zero.
func quotient(num, den int64) string {
	if den == 0 {
		return ""
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), ratioPlaces).String()
}

// collateralization values locked collateral at amountOut/amountIn and
// divides by debt.
func collateralization(locked, debt, amountIn, amountOut int64) string {
	if debt == 0 || amountIn == 0 {
		return ""
	}
	value := decimal.NewFromInt(locked).Mul(decimal.NewFromInt(amountOut))
	return value.DivRound(decimal.NewFromInt(amountIn).Mul(decimal.NewFromInt(debt)), ratioPlaces).String()
}
