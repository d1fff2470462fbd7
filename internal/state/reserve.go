package state

import (
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"sync"

	"github.com/rs/zerolog"
)

// ShortfallReporter is told about debt a liquidation failed to cover.
type ShortfallReporter interface {
	IncreaseLiquidationShortfall(collateral fpmath.Brand, shortfall fpmath.Amount)
}

// Reserve accumulates liquidation shortfall per collateral type. Penalties
// collected by a manager sit in its penalty reserve account on the ledger;
// the reserve reports how much of the shortfall they could cover.
type Reserve struct {
	mu         sync.Mutex
	ledger     *ledger.Ledger
	shortfalls map[fpmath.Brand]fpmath.Amount
	logger     zerolog.Logger
}

func NewReserve(l *ledger.Ledger, logger zerolog.Logger) *Reserve {
	return &Reserve{
		ledger:     l,
		shortfalls: make(map[fpmath.Brand]fpmath.Amount),
		logger:     logger,
	}
}

func (r *Reserve) IncreaseLiquidationShortfall(collateral fpmath.Brand, shortfall fpmath.Amount) {
	if shortfall.IsEmpty() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	total, ok := r.shortfalls[collateral]
	if !ok {
		total = fpmath.Empty(shortfall.Brand)
	}
	total = fpmath.MustAdd(total, shortfall)
	r.shortfalls[collateral] = total

	r.logger.Warn().
		Str("collateral", string(collateral)).
		Str("shortfall", shortfall.String()).
		Str("total", total.String()).
		Msg("liquidation shortfall recorded")
}

// Shortfall returns the cumulative shortfall reported for collateral.
func (r *Reserve) Shortfall(collateral fpmath.Brand, debt fpmath.Brand) fpmath.Amount {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total, ok := r.shortfalls[collateral]; ok {
		return total
	}
	return fpmath.Empty(debt)
}

// Coverage compares the shortfall of collateral with the penalties its
// manager has collected.
func (r *Reserve) Coverage(collateral, debt fpmath.Brand) (covered, uncovered int64) {
	fund := r.ledger.Balance(PenaltyReserveAccount(collateral, debt))
	return ComputeCoverage(fund, r.Shortfall(collateral, debt).Value)
}

// ComputeCoverage returns how much of deficit a fund can cover and what
// remains uncovered.
func ComputeCoverage(fundBalance, deficit int64) (covered, remaining int64) {
	if fundBalance >= deficit {
		return deficit, 0
	}
	if fundBalance < 0 {
		return 0, deficit
	}
	return fundBalance, deficit - fundBalance
}

// PenaltyReserveAccount receives a manager's liquidation penalties.
func PenaltyReserveAccount(collateral, debt fpmath.Brand) ledger.AccountKey {
	return ledger.SystemAccount(string(collateral), ledger.SubTypePenaltyReserve, debt)
}

// RewardPoolAccount receives a manager's loan fees and minted interest.
func RewardPoolAccount(collateral, debt fpmath.Brand) ledger.AccountKey {
	return ledger.SystemAccount(string(collateral), ledger.SubTypeRewardPool, debt)
}
