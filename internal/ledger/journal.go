package ledger

import (
	fpmath "VaultLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeCollateralLock
	JournalTypeCollateralRelease
	JournalTypeLoanMint
	JournalTypeLoanFee
	JournalTypeDebtRepay
	JournalTypeDebtBurn
	JournalTypeInterestMint
	JournalTypeLiquidationSeat
	JournalTypeLiquidationSale
	JournalTypeLiquidationPenalty
	JournalTypeLiquidationOverage
	JournalTypeLiquidationRefund
	JournalTypeAdjustment
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeCollateralLock:
		return "collateral_lock"
	case JournalTypeCollateralRelease:
		return "collateral_release"
	case JournalTypeLoanMint:
		return "loan_mint"
	case JournalTypeLoanFee:
		return "loan_fee"
	case JournalTypeDebtRepay:
		return "debt_repay"
	case JournalTypeDebtBurn:
		return "debt_burn"
	case JournalTypeInterestMint:
		return "interest_mint"
	case JournalTypeLiquidationSeat:
		return "liquidation_seat"
	case JournalTypeLiquidationSale:
		return "liquidation_sale"
	case JournalTypeLiquidationPenalty:
		return "liquidation_penalty"
	case JournalTypeLiquidationOverage:
		return "liquidation_overage"
	case JournalTypeLiquidationRefund:
		return "liquidation_refund"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups balanced entries
	EventRef      string       // Operation that produced the entry
	Sequence      int64        // Ledger commit sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	Brand         fpmath.Brand // Asset being transferred
	Amount        int64        // ALWAYS positive
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Epoch microseconds
}

// Batch represents a set of journal entries applied all-or-nothing
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal is a balanced
// transfer by construction, so a batch of valid journals is balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Brand != j.Brand || j.CreditAccount.Brand != j.Brand {
			return fmt.Errorf("journal %s moves %s between %s and %s",
				j.JournalID, j.Brand, j.CreditAccount, j.DebitAccount)
		}
	}

	return nil
}
