package liquidation

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
)

// Partition splits liquidation proceeds between the debt, the penalty and
// the owner.
type Partition struct {
	DebtPaid        fpmath.Amount
	PenaltyProceeds fpmath.Amount
	RunToBurn       fpmath.Amount
}

// PartitionProceeds computes what the proceeds cover. debt is the target the
// strategy sold against (debt plus penalty); the penalty is paid first out of
// whatever was covered and the rest is burned. Proceeds beyond debtPaid are
// overage and a debt beyond proceeds is shortfall; both are left to the caller.
func PartitionProceeds(proceeds, debt, penaltyPortion fpmath.Amount) (Partition, error) {
	if proceeds.Brand != debt.Brand || penaltyPortion.Brand != debt.Brand {
		return Partition{}, fmt.Errorf("partition proceeds: %w", fpmath.ErrBrandMismatch)
	}

	debtPaid := fpmath.MustMin(proceeds, debt)
	penalty := fpmath.MustMin(penaltyPortion, debtPaid)

	return Partition{
		DebtPaid:        debtPaid,
		PenaltyProceeds: penalty,
		RunToBurn:       fpmath.MustSub(debtPaid, penalty),
	}, nil
}
