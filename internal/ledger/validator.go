package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateNoDebtHeld verifies a vault's debt-token transit account is empty.
// Debt tokens only pass through it inside a single commit.
func (v *InvariantValidator) ValidateNoDebtHeld(key AccountKey) error {
	if key.SubType != SubTypeDebtTransit {
		return fmt.Errorf("account %s is not a debt transit account", key)
	}
	if balance := v.tracker.GetBalance(key); balance != 0 {
		return fmt.Errorf("debt transit %s holds %d at rest", key, balance)
	}
	return nil
}

// ValidateNonNegative checks every non-external account is >= 0
func (v *InvariantValidator) ValidateNonNegative() error {
	for key, balance := range v.tracker.balances {
		if !key.IsExternal() && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key, balance)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum per brand
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for brand, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", brand, total)
		}
	}

	return nil
}
