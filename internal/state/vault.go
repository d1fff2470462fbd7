package state

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Vault is one collateralized loan. Every method runs inside a turn of the
// manager that owns it.
//
// The debt is tracked as a snapshot taken at some compounded-interest
// coefficient; the current debt is derived from the manager's coefficient
// on demand, so interest never rewrites individual vaults between charges.
type Vault struct {
	mgr   *Manager
	id    uint64
	owner string
	phase Phase

	debtSnapshot     fpmath.Amount
	interestSnapshot fpmath.Ratio

	holder     uuid.UUID
	invitation uuid.UUID
	revoked    map[uuid.UUID]struct{}

	// liquidation bookkeeping, carried across stalled attempts
	stalled         bool
	liquidationSold fpmath.Amount

	version int64
}

func newVault(m *Manager, id uint64, owner string) *Vault {
	return &Vault{
		mgr:              m,
		id:               id,
		owner:            owner,
		phase:            PhaseActive,
		debtSnapshot:     fpmath.Empty(m.debt),
		interestSnapshot: m.compoundedInterest,
		revoked:          make(map[uuid.UUID]struct{}),
		liquidationSold:  fpmath.Empty(m.collateral),
	}
}

func vaultRef(collateral fpmath.Brand, id uint64) string {
	return fmt.Sprintf("%s/%d", collateral, id)
}

func (v *Vault) ref() string {
	return vaultRef(v.mgr.collateral, v.id)
}

func (v *Vault) collateralEscrow() ledger.AccountKey {
	return ledger.VaultAccount(v.ref(), ledger.SubTypeCollateralEscrow, v.mgr.collateral)
}

// debtTransit is where minted debt lands before it is paid out, and where
// repaid debt waits to be burned. It is empty at rest.
func (v *Vault) debtTransit() ledger.AccountKey {
	return ledger.VaultAccount(v.ref(), ledger.SubTypeDebtTransit, v.mgr.debt)
}

// proceedsEscrow holds liquidation overage, and proceeds carried over from
// a stalled attempt, until the owner closes the vault.
func (v *Vault) proceedsEscrow() ledger.AccountKey {
	return ledger.VaultAccount(v.ref(), ledger.SubTypeLiquidationProceeds, v.mgr.debt)
}

// ============================================================================
// Reads
// ============================================================================

// CurrentDebt is the snapshot brought forward to the manager's coefficient.
func (v *Vault) CurrentDebt() fpmath.Amount {
	debt, err := fpmath.CalculateCurrentDebt(v.debtSnapshot, v.interestSnapshot, v.mgr.compoundedInterest)
	if err != nil {
		panic(fmt.Sprintf("FATAL: vault %s current debt: %v", v.ref(), err))
	}
	return debt
}

// NormalizedDebt is the debt as if the vault had existed since the
// manager's coefficient was 1.
func (v *Vault) NormalizedDebt() fpmath.Amount {
	debt, err := fpmath.ReverseInterest(v.debtSnapshot, v.interestSnapshot)
	if err != nil {
		panic(fmt.Sprintf("FATAL: vault %s normalized debt: %v", v.ref(), err))
	}
	return debt
}

func (v *Vault) CollateralAmount() fpmath.Amount {
	return v.mgr.ledger.Amount(v.collateralEscrow())
}

// VaultState is a point-in-time copy of a vault.
type VaultState struct {
	VaultID             uint64        `json:"vault_id"`
	Owner               string        `json:"owner"`
	Phase               Phase         `json:"phase"`
	Collateral          fpmath.Amount `json:"collateral"`
	Debt                fpmath.Amount `json:"debt"`
	NormalizedDebt      fpmath.Amount `json:"normalized_debt"`
	DebtSnapshot        fpmath.Amount `json:"debt_snapshot"`
	InterestSnapshot    fpmath.Ratio  `json:"interest_snapshot"`
	LiquidationProceeds fpmath.Amount `json:"liquidation_proceeds"`
	Stalled             bool          `json:"stalled"`
	Version             int64         `json:"version"`
}

func (s VaultState) View() event.VaultView {
	return event.VaultView{
		VaultID:    s.VaultID,
		Owner:      s.Owner,
		Phase:      s.Phase.String(),
		Collateral: s.Collateral,
		Debt:       s.Debt,
		Version:    s.Version,
	}
}

func (v *Vault) State() VaultState {
	return VaultState{
		VaultID:             v.id,
		Owner:               v.owner,
		Phase:               v.phase,
		Collateral:          v.CollateralAmount(),
		Debt:                v.CurrentDebt(),
		NormalizedDebt:      v.NormalizedDebt(),
		DebtSnapshot:        v.debtSnapshot,
		InterestSnapshot:    v.interestSnapshot,
		LiquidationProceeds: v.mgr.ledger.Amount(v.proceedsEscrow()),
		Stalled:             v.stalled,
		Version:             v.version,
	}
}

// ============================================================================
// Phase and snapshot helpers
// ============================================================================

func (v *Vault) assignPhase(next Phase) {
	if !v.phase.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: vault %s cannot transition from %s to %s", v.ref(), v.phase, next))
	}
	v.phase = next
}

func (v *Vault) assertActive() error {
	if v.phase != PhaseActive {
		return fmt.Errorf("%w: vault %s is %s, not active", ErrInvalidPhase, v.ref(), v.phase)
	}
	return nil
}

func (v *Vault) assertCloseable() error {
	if !v.phase.IsCloseable() {
		return fmt.Errorf("%w: vault %s must be active or liquidated, not %s", ErrInvalidPhase, v.ref(), v.phase)
	}
	return nil
}

// updateDebtSnapshot is called whenever the debt is paid or created through
// a transaction, and by the bulk interest pass.
func (v *Vault) updateDebtSnapshot(newDebt fpmath.Amount) {
	v.debtSnapshot = newDebt
	v.interestSnapshot = v.mgr.compoundedInterest
}

// assertHoldsNoDebt enforces that mint and burn legs around the vault net
// to zero.
func (v *Vault) assertHoldsNoDebt() {
	if err := v.mgr.ledger.ValidateNoDebtHeld(v.debtTransit()); err != nil {
		panic(fmt.Sprintf("FATAL: vault %s: %v", v.ref(), err))
	}
}

// loanFee computes the fee on want and the debt after minting want+fee and
// repaying give.
func (v *Vault) loanFee(currentDebt, give, want fpmath.Amount) (newDebt, toMint, fee fpmath.Amount, err error) {
	fee, err = fpmath.CeilMultiplyBy(want, v.mgr.params.Params().LoanFee)
	if err != nil {
		return newDebt, toMint, fee, fmt.Errorf("loan fee: %w", err)
	}
	if toMint, err = want.Add(fee); err != nil {
		return newDebt, toMint, fee, err
	}
	newDebt, err = fpmath.AddSubtract(currentDebt, toMint, give)
	return newDebt, toMint, fee, err
}

// commit applies a vault batch, mapping a wallet shortfall to a validation
// error.
func (v *Vault) commit(b *ledger.Builder) error {
	batch, err := b.Build()
	if err != nil {
		return wrapAmountErr("build batch", err)
	}
	if err := v.mgr.ledger.Commit(batch); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}
	return nil
}

// ============================================================================
// Owner operations
// ============================================================================

// open escrows give and mints want plus the loan fee. maxDebt is the most
// debt give supports at the quote taken before this turn.
func (v *Vault) open(give, want, maxDebt fpmath.Amount) (fpmath.Amount, error) {
	if v.version != 0 || !v.debtSnapshot.IsEmpty() {
		panic(fmt.Sprintf("FATAL: vault %s opened twice", v.ref()))
	}
	debtPre := v.CurrentDebt()

	newDebt, toMint, fee, err := v.loanFee(debtPre, fpmath.Empty(v.mgr.debt), want)
	if err != nil {
		return fee, wrapAmountErr("open", err)
	}
	// With a zero fee rate any non-empty loan is accepted fee-free.
	if want.IsEmpty() || (fee.IsEmpty() && !v.mgr.params.Params().LoanFee.IsZero()) {
		return fee, fmt.Errorf("%w: requested %s cannot accrue a fee", ErrLoanTooSmall, want)
	}
	if !fpmath.MustGTE(maxDebt, toMint) {
		return fee, fmt.Errorf("%w: requested %s exceeds max %s", ErrInsufficientCollateral, toMint, maxDebt)
	}
	if err := v.mgr.checkDebtLimit(toMint); err != nil {
		return fee, err
	}

	wallet := ledger.UserAccount(v.owner, v.mgr.collateral)
	b := ledger.NewBuilder(v.ref()+":open", v.mgr.now()).
		Transfer(wallet, v.collateralEscrow(), give, ledger.JournalTypeCollateralLock).
		Mint(v.debtTransit(), toMint, ledger.JournalTypeLoanMint).
		Transfer(v.debtTransit(), ledger.UserAccount(v.owner, v.mgr.debt), want, ledger.JournalTypeLoanMint).
		Transfer(v.debtTransit(), v.mgr.rewardPool(), fee, ledger.JournalTypeLoanFee)
	if err := v.commit(b); err != nil {
		return fee, err
	}

	v.mgr.recordMint(toMint)
	v.updateDebtSnapshot(newDebt)
	v.mgr.handleBalanceChange(v, fpmath.Empty(v.mgr.collateral))
	v.assertHoldsNoDebt()

	v.holder = uuid.New()
	v.version++
	return fee, nil
}

// AdjustResult reports a committed adjustment.
type AdjustResult struct {
	Vault     VaultState    `json:"vault"`
	Fee       fpmath.Amount `json:"fee"`
	Restarted bool          `json:"restarted"`
}

// adjustBalances applies req. newCollateralPre and maxDebtPre were computed
// before the price quote suspended the caller; if the collateral went up and
// the debt no longer fits under maxDebtPre, restart is returned and nothing
// changes.
func (v *Vault) adjustBalances(req AdjustRequest, newCollateralPre, maxDebtPre fpmath.Amount) (restart bool, res AdjustResult, err error) {
	if err := v.assertActive(); err != nil {
		return false, res, err
	}

	debtPre := v.CurrentDebt()
	collateralPre := v.CollateralAmount()

	newCollateral, err := fpmath.AddSubtract(collateralPre, req.GiveCollateral, req.WantCollateral)
	if err != nil {
		return false, res, wrapAmountErr("collateral delta", err)
	}

	// Overpayment is not taken.
	giveDebt := fpmath.MustMin(req.GiveDebt, debtPre)
	newDebt, toMint, fee, err := v.loanFee(debtPre, giveDebt, req.WantDebt)
	if err != nil {
		return false, res, wrapAmountErr("debt delta", err)
	}

	restart, err = checkRestart(newCollateralPre, maxDebtPre, newCollateral, newDebt)
	if err != nil || restart {
		return restart, res, err
	}
	if err := v.mgr.checkDebtLimit(toMint); err != nil {
		return false, res, err
	}

	collWallet := ledger.UserAccount(v.owner, v.mgr.collateral)
	debtWallet := ledger.UserAccount(v.owner, v.mgr.debt)
	b := ledger.NewBuilder(fmt.Sprintf("%s:adjust:%d", v.ref(), v.version), v.mgr.now()).
		Transfer(collWallet, v.collateralEscrow(), req.GiveCollateral, ledger.JournalTypeCollateralLock).
		Transfer(v.collateralEscrow(), collWallet, req.WantCollateral, ledger.JournalTypeCollateralRelease).
		Transfer(debtWallet, v.debtTransit(), giveDebt, ledger.JournalTypeDebtRepay).
		Burn(v.debtTransit(), giveDebt, ledger.JournalTypeDebtBurn).
		Mint(v.debtTransit(), toMint, ledger.JournalTypeLoanMint).
		Transfer(v.debtTransit(), debtWallet, req.WantDebt, ledger.JournalTypeLoanMint).
		Transfer(v.debtTransit(), v.mgr.rewardPool(), fee, ledger.JournalTypeLoanFee)
	if err := v.commit(b); err != nil {
		return false, res, err
	}

	v.mgr.recordMint(toMint)
	v.mgr.recordBurn(giveDebt)
	v.updateDebtSnapshot(newDebt)
	v.mgr.handleBalanceChange(v, collateralPre)
	v.assertHoldsNoDebt()

	v.version++
	return false, AdjustResult{Vault: v.State(), Fee: fee}, nil
}

// checkRestart decides whether an adjustment can proceed on the quote taken
// for newCollateralPre.
//
// If the collateral did not go up, maxDebt is pro-rated down to the new
// collateral. That is conservative for a linear or convex quote. If it went
// up and the debt also exceeds the old capacity, the quote has to be taken
// again at the higher collateral.
func checkRestart(newCollateralPre, maxDebtPre, newCollateral, newDebt fpmath.Amount) (bool, error) {
	if fpmath.MustGTE(newCollateralPre, newCollateral) {
		maxDebtAfter := fpmath.Empty(maxDebtPre.Brand)
		if !newCollateralPre.IsEmpty() {
			debtPerCollateral, err := fpmath.NewRatio(maxDebtPre, newCollateralPre)
			if err != nil {
				return false, err
			}
			// floor keeps the ceiling tight
			if maxDebtAfter, err = fpmath.FloorMultiplyBy(newCollateral, debtPerCollateral); err != nil {
				return false, err
			}
		}
		if !fpmath.MustGTE(maxDebtAfter, newDebt) {
			return false, fmt.Errorf("%w: requested debt %s is more than the ratio allows: %s", ErrOverCollateralization, newDebt, maxDebtAfter)
		}
		return false, nil
	}
	return !fpmath.MustGTE(maxDebtPre, newDebt), nil
}

// CloseResult reports what a close returned to the owner.
type CloseResult struct {
	Vault              VaultState    `json:"vault"`
	DebtRepaid         fpmath.Amount `json:"debt_repaid"`
	CollateralReturned fpmath.Amount `json:"collateral_returned"`
	OverageReturned    fpmath.Amount `json:"overage_returned"`
}

// close pays off an active vault, or hands a liquidated vault's remainder
// back without taking payment.
func (v *Vault) close(payment fpmath.Amount) (CloseResult, error) {
	if err := v.assertCloseable(); err != nil {
		return CloseResult{}, err
	}

	collateralPre := v.CollateralAmount()
	overage := v.mgr.ledger.Amount(v.proceedsEscrow())
	repaid := fpmath.Empty(v.mgr.debt)

	collWallet := ledger.UserAccount(v.owner, v.mgr.collateral)
	debtWallet := ledger.UserAccount(v.owner, v.mgr.debt)
	b := ledger.NewBuilder(v.ref()+":close", v.mgr.now())

	wasActive := v.phase == PhaseActive
	if wasActive {
		debt := v.CurrentDebt()
		if !fpmath.MustGTE(payment, debt) {
			return CloseResult{}, fmt.Errorf("%w: offered %s, owed %s", ErrInsufficientPayment, payment, debt)
		}
		// Only the owed amount is taken.
		repaid = debt
		b.Transfer(debtWallet, v.debtTransit(), debt, ledger.JournalTypeDebtRepay).
			Burn(v.debtTransit(), debt, ledger.JournalTypeDebtBurn)
	}
	b.Transfer(v.collateralEscrow(), collWallet, collateralPre, ledger.JournalTypeCollateralRelease).
		Transfer(v.proceedsEscrow(), debtWallet, overage, ledger.JournalTypeLiquidationOverage)
	if err := v.commit(b); err != nil {
		return CloseResult{}, err
	}

	v.mgr.recordBurn(repaid)
	v.assignPhase(PhaseClosed)
	v.updateDebtSnapshot(fpmath.Empty(v.mgr.debt))
	if wasActive {
		v.mgr.handleBalanceChange(v, collateralPre)
	}
	v.assertHoldsNoDebt()

	v.holder = uuid.Nil
	v.invitation = uuid.Nil
	v.version++
	return CloseResult{
		Vault:              v.State(),
		DebtRepaid:         repaid,
		CollateralReturned: collateralPre,
		OverageReturned:    overage,
	}, nil
}

// ============================================================================
// Manager operations
// ============================================================================

// liquidating flips the phase. Accounting is left to the settlement.
func (v *Vault) liquidating() {
	v.assignPhase(PhaseLiquidating)
	v.version++
}

// liquidated records what the sale did not cover as the new debt. The
// caller must remember the shortfall.
func (v *Vault) liquidated(remainingDebt fpmath.Amount) {
	v.updateDebtSnapshot(remainingDebt)
	v.assignPhase(PhaseLiquidated)
	v.stalled = false
	v.version++
}

// ============================================================================
// Transfer
// ============================================================================

// makeTransferInvitation revokes the current holder and mints a one-shot
// invitation. Accounting is untouched.
func (v *Vault) makeTransferInvitation() (uuid.UUID, error) {
	if err := v.assertCloseable(); err != nil {
		return uuid.Nil, err
	}
	// Bring the snapshot current for the report handed to the new owner.
	v.updateDebtSnapshot(v.CurrentDebt())

	v.revoked[v.holder] = struct{}{}
	v.holder = uuid.Nil
	v.invitation = uuid.New()
	v.version++
	return v.invitation, nil
}

// acceptTransfer consumes invitation and makes newOwner the holder.
func (v *Vault) acceptTransfer(invitation uuid.UUID, newOwner string) (string, error) {
	if v.invitation == uuid.Nil || v.invitation != invitation {
		return "", fmt.Errorf("%w: invitation for vault %s is not outstanding", ErrHandleRevoked, v.ref())
	}
	if err := v.assertCloseable(); err != nil {
		return "", err
	}

	previous := v.owner
	v.revoked[v.invitation] = struct{}{}
	v.invitation = uuid.Nil
	v.owner = newOwner
	v.holder = uuid.New()
	v.version++
	return previous, nil
}

// authorize checks that token is the current holder.
func (v *Vault) authorize(token uuid.UUID) error {
	if token != uuid.Nil && token == v.holder {
		return nil
	}
	if _, ok := v.revoked[token]; ok {
		return fmt.Errorf("%w: vault %s", ErrHandleRevoked, v.ref())
	}
	return fmt.Errorf("%w: %s", ErrVaultNotFound, v.ref())
}
