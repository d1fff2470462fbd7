package ledger

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
)

// BalanceTracker maintains in-memory account balances. It is not safe for
// concurrent use; Ledger serializes access.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// Simulate returns the balances batch would leave behind for every account
// it touches, without mutating the tracker.
func (bt *BalanceTracker) Simulate(batch *Batch) map[AccountKey]int64 {
	after := make(map[AccountKey]int64, 2*len(batch.Journals))
	for _, j := range batch.Journals {
		if _, ok := after[j.DebitAccount]; !ok {
			after[j.DebitAccount] = bt.balances[j.DebitAccount]
		}
		if _, ok := after[j.CreditAccount]; !ok {
			after[j.CreditAccount] = bt.balances[j.CreditAccount]
		}
		after[j.DebitAccount] += j.Amount
		after[j.CreditAccount] -= j.Amount
	}
	return after
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetAmount returns a non-external balance as an Amount of the key's brand.
func (bt *BalanceTracker) GetAmount(key AccountKey) fpmath.Amount {
	balance := bt.balances[key]
	if balance < 0 {
		balance = 0
	}
	return fpmath.Amount{Brand: key.Brand, Value: balance}
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[fpmath.Brand]int64 {
	totals := make(map[fpmath.Brand]int64)

	for key, balance := range bt.balances {
		totals[key.Brand] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all non-zero balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		if v != 0 {
			snapshot[k] = v
		}
	}
	return snapshot
}

// Restore replaces all balances with snapshot.
func (bt *BalanceTracker) Restore(snapshot map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(snapshot))
	for k, v := range snapshot {
		bt.balances[k] = v
	}
}
