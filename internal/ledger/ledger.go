package ledger

import (
	fpmath "VaultLedger/internal/math"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// CommitHook observes every committed batch in commit order.
type CommitHook func(batch *Batch)

// Ledger is the shared escrow ledger. Commits are atomic: a batch either
// applies in full or leaves every balance untouched.
type Ledger struct {
	mu        sync.Mutex
	tracker   *BalanceTracker
	validator *InvariantValidator
	sequence  int64
	hooks     []CommitHook
}

func New() *Ledger {
	tracker := NewBalanceTracker()
	return &Ledger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
	}
}

// OnCommit registers a hook. Hooks run under the ledger lock and must not
// call back into the ledger.
func (l *Ledger) OnCommit(hook CommitHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Commit validates and applies batch. An empty batch is a no-op.
func (l *Ledger) Commit(batch *Batch) error {
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, balance := range l.tracker.Simulate(batch) {
		if !key.IsExternal() && balance < 0 {
			return fmt.Errorf("%w: %s would hold %d", ErrInsufficientFunds, key, balance)
		}
	}

	l.sequence++
	batch.Sequence = l.sequence
	for i := range batch.Journals {
		batch.Journals[i].Sequence = l.sequence
	}

	if err := l.tracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: validated batch %s failed to apply: %v", batch.BatchID, err))
	}

	for _, hook := range l.hooks {
		hook(batch)
	}
	return nil
}

// Deposit credits an owner's wallet from outside the ledger.
func (l *Ledger) Deposit(owner string, amount fpmath.Amount) error {
	batch, err := NewBuilder("deposit:"+owner, time.Now()).
		Transfer(ExternalAccount(SubTypeDeposits, amount.Brand), UserAccount(owner, amount.Brand), amount, JournalTypeDeposit).
		Build()
	if err != nil {
		return err
	}
	return l.Commit(batch)
}

// Withdraw returns funds from an owner's wallet to outside the ledger.
func (l *Ledger) Withdraw(owner string, amount fpmath.Amount) error {
	batch, err := NewBuilder("withdraw:"+owner, time.Now()).
		Transfer(UserAccount(owner, amount.Brand), ExternalAccount(SubTypeDeposits, amount.Brand), amount, JournalTypeWithdrawal).
		Build()
	if err != nil {
		return err
	}
	return l.Commit(batch)
}

func (l *Ledger) Balance(key AccountKey) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.GetBalance(key)
}

// Amount returns a non-external balance as a branded Amount.
func (l *Ledger) Amount(key AccountKey) fpmath.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.GetAmount(key)
}

// Sequence returns the number of committed batches.
func (l *Ledger) Sequence() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

func (l *Ledger) ValidateNoDebtHeld(key AccountKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validator.ValidateNoDebtHeld(key)
}

func (l *Ledger) ValidateGlobalBalance() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.validator.ValidateNonNegative(); err != nil {
		return err
	}
	return l.validator.ValidateGlobalBalance()
}

// Snapshot returns the commit sequence and a copy of every non-zero balance.
func (l *Ledger) Snapshot() (int64, map[AccountKey]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence, l.tracker.Snapshot()
}

func (l *Ledger) Restore(sequence int64, balances map[AccountKey]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sequence = sequence
	l.tracker.Restore(balances)
}
