package ledger_test

import (
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	run  fpmath.Brand = "RUN"
	atom fpmath.Brand = "ATOM"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.UserAccount("alice", atom)

	path := key.AccountPath()
	if path != "user:alice:wallet:ATOM" {
		t.Errorf("got %q, want %q", path, "user:alice:wallet:ATOM")
	}
}

func TestAccountKey_VaultPath(t *testing.T) {
	key := ledger.VaultAccount("ATOM/7", ledger.SubTypeCollateralEscrow, atom)

	path := key.AccountPath()
	if path != "vault:ATOM/7:collateral:ATOM" {
		t.Errorf("got %q, want %q", path, "vault:ATOM/7:collateral:ATOM")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.SystemAccount("ATOM", ledger.SubTypeRewardPool, run)

	path := key.AccountPath()
	if path != "system:ATOM:reward_pool:RUN" {
		t.Errorf("got %q, want %q", path, "system:ATOM:reward_pool:RUN")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.ExternalAccount(ledger.SubTypeIssuance, run)

	if key.AccountPath() != "external:issuance:RUN" {
		t.Errorf("got %q", key.AccountPath())
	}
	if !key.IsExternal() {
		t.Error("issuance should be external")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if balance := bt.GetBalance(ledger.UserAccount("alice", atom)); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	wallet := ledger.UserAccount("alice", atom)
	escrow := ledger.VaultAccount("ATOM/1", ledger.SubTypeCollateralEscrow, atom)

	batch, err := ledger.NewBuilder("test", time.Now()).
		Transfer(ledger.ExternalAccount(ledger.SubTypeDeposits, atom), wallet, fpmath.MustAmount(atom, 100), ledger.JournalTypeDeposit).
		Transfer(wallet, escrow, fpmath.MustAmount(atom, 40), ledger.JournalTypeCollateralLock).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	if got := bt.GetBalance(wallet); got != 60 {
		t.Errorf("wallet = %d, want 60", got)
	}
	if got := bt.GetBalance(escrow); got != 40 {
		t.Errorf("escrow = %d, want 40", got)
	}
	if got := bt.ComputeGlobalBalance()[atom]; got != 0 {
		t.Errorf("global ATOM balance = %d, want 0", got)
	}
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	wallet := ledger.UserAccount("alice", run)

	batch, _ := ledger.NewBuilder("mint", time.Now()).
		Mint(wallet, fpmath.MustAmount(run, 500), ledger.JournalTypeLoanMint).
		Build()
	_ = bt.ApplyBatch(batch)

	snap := bt.Snapshot()
	restored := ledger.NewBalanceTracker()
	restored.Restore(snap)

	if restored.GetBalance(wallet) != 500 {
		t.Errorf("restored wallet = %d, want 500", restored.GetBalance(wallet))
	}
	if restored.GetBalance(ledger.ExternalAccount(ledger.SubTypeIssuance, run)) != -500 {
		t.Error("issuance should mirror the mint")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.UserAccount("alice", atom)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			Brand:         atom,
			Amount:        1,
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self transfer should fail validation")
	}
}

func TestBatchValidate_BrandMismatch_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.UserAccount("alice", atom),
			CreditAccount: ledger.UserAccount("bob", run),
			Brand:         atom,
			Amount:        1,
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("cross-brand journal should fail validation")
	}
}

func TestBuilder_SkipsZeroLegs(t *testing.T) {
	b := ledger.NewBuilder("zero", time.Now()).
		Transfer(ledger.UserAccount("alice", atom), ledger.UserAccount("bob", atom), fpmath.Empty(atom), ledger.JournalTypeAdjustment)

	if b.Len() != 0 {
		t.Errorf("zero leg should be skipped, got %d journals", b.Len())
	}
}

func TestBuilder_BrandMismatch(t *testing.T) {
	_, err := ledger.NewBuilder("bad", time.Now()).
		Transfer(ledger.UserAccount("alice", atom), ledger.UserAccount("bob", atom), fpmath.MustAmount(run, 1), ledger.JournalTypeAdjustment).
		Build()
	if !errors.Is(err, fpmath.ErrBrandMismatch) {
		t.Fatalf("expected ErrBrandMismatch, got %v", err)
	}
}

// ============================================================================
// Test: Ledger
// ============================================================================

func TestLedger_CommitIsAllOrNothing(t *testing.T) {
	l := ledger.New()
	wallet := ledger.UserAccount("alice", atom)
	escrow := ledger.VaultAccount("ATOM/1", ledger.SubTypeCollateralEscrow, atom)

	if err := l.Deposit("alice", fpmath.MustAmount(atom, 50)); err != nil {
		t.Fatal(err)
	}

	batch, err := ledger.NewBuilder("overdraw", time.Now()).
		Transfer(wallet, escrow, fpmath.MustAmount(atom, 30), ledger.JournalTypeCollateralLock).
		Transfer(wallet, escrow, fpmath.MustAmount(atom, 30), ledger.JournalTypeCollateralLock).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Commit(batch); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.Balance(wallet); got != 50 {
		t.Errorf("wallet = %d after refused commit, want 50", got)
	}
	if got := l.Balance(escrow); got != 0 {
		t.Errorf("escrow = %d after refused commit, want 0", got)
	}
}

func TestLedger_CommitHookSeesSequence(t *testing.T) {
	l := ledger.New()
	var seen []int64
	l.OnCommit(func(b *ledger.Batch) {
		seen = append(seen, b.Sequence)
	})

	_ = l.Deposit("alice", fpmath.MustAmount(atom, 1))
	_ = l.Deposit("bob", fpmath.MustAmount(atom, 2))

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("hook sequences = %v, want [1 2]", seen)
	}
}

func TestLedger_EmptyCommitIsNoOp(t *testing.T) {
	l := ledger.New()
	batch, _ := ledger.NewBuilder("empty", time.Now()).Build()

	if err := l.Commit(batch); err != nil {
		t.Fatalf("empty commit should succeed, got %v", err)
	}
	if l.Sequence() != 0 {
		t.Errorf("empty commit should not advance sequence, got %d", l.Sequence())
	}
}

func TestLedger_MintAndBurnThroughTransit(t *testing.T) {
	l := ledger.New()
	transit := ledger.VaultAccount("ATOM/1", ledger.SubTypeDebtTransit, run)
	wallet := ledger.UserAccount("alice", run)

	batch, err := ledger.NewBuilder("open", time.Now()).
		Mint(transit, fpmath.MustAmount(run, 74), ledger.JournalTypeLoanMint).
		Transfer(transit, wallet, fpmath.MustAmount(run, 70), ledger.JournalTypeLoanMint).
		Transfer(transit, ledger.SystemAccount("ATOM", ledger.SubTypeRewardPool, run), fpmath.MustAmount(run, 4), ledger.JournalTypeLoanFee).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(batch); err != nil {
		t.Fatal(err)
	}

	if err := l.ValidateNoDebtHeld(transit); err != nil {
		t.Errorf("transit should be empty at rest: %v", err)
	}
	if err := l.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}

	burn, _ := ledger.NewBuilder("close", time.Now()).
		Transfer(wallet, transit, fpmath.MustAmount(run, 70), ledger.JournalTypeDebtRepay).
		Burn(transit, fpmath.MustAmount(run, 70), ledger.JournalTypeDebtBurn).
		Build()
	if err := l.Commit(burn); err != nil {
		t.Fatal(err)
	}
	if got := l.Balance(ledger.ExternalAccount(ledger.SubTypeIssuance, run)); got != -4 {
		t.Errorf("outstanding issuance = %d, want -4", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_DetectsHeldDebt(t *testing.T) {
	l := ledger.New()
	transit := ledger.VaultAccount("ATOM/1", ledger.SubTypeDebtTransit, run)

	batch, _ := ledger.NewBuilder("leak", time.Now()).
		Mint(transit, fpmath.MustAmount(run, 1), ledger.JournalTypeLoanMint).
		Build()
	_ = l.Commit(batch)

	if err := l.ValidateNoDebtHeld(transit); err == nil {
		t.Error("expected held debt to be reported")
	}
}

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	batch, _ := ledger.NewBuilder("deposit", time.Now()).
		Transfer(ledger.ExternalAccount(ledger.SubTypeDeposits, atom), ledger.UserAccount("alice", atom), fpmath.MustAmount(atom, 10), ledger.JournalTypeDeposit).
		Build()
	_ = bt.ApplyBatch(batch)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should validate: %v", err)
	}
}
