package projection

import (
	"VaultLedger/internal/event"
	"time"
)

// Liquidation statuses stored in projections.liquidations.
const (
	LiquidationStarted   = "started"
	LiquidationCompleted = "completed"
	LiquidationStalled   = "stalled"
)

// VaultRow is one row of projections.vaults.
type VaultRow struct {
	Collateral    string
	VaultID       uint64
	Owner         string
	Phase         string
	CollateralAmt int64
	DebtAmt       int64
	DebtBrand     string
	Version       int64
	LastEvent     string
	LastSequence  int64
	UpdatedAt     time.Time
}

// LiquidationRow is one row of projections.liquidations. Outcome fields are
// zero until the liquidation completes.
type LiquidationRow struct {
	LiquidationID  string
	Collateral     string
	VaultID        uint64
	Status         string
	Debt           int64
	CollateralAmt  int64
	Proceeds       int64
	Penalty        int64
	Overage        int64
	Shortfall      int64
	CollateralSold int64
	Sequence       int64
	At             time.Time
}

// Update is what one sequenced event changes in the read models.
type Update struct {
	Sequence    int64
	Vault       *VaultRow
	Liquidation *LiquidationRow
}

// Empty reports whether the event only advances the watermark.
func (u Update) Empty() bool {
	return u.Vault == nil && u.Liquidation == nil
}

func vaultRow(seq int64, et event.EventType, brand string, v event.VaultView, at time.Time) *VaultRow {
	return &VaultRow{
		Collateral:    brand,
		VaultID:       v.VaultID,
		Owner:         v.Owner,
		Phase:         v.Phase,
		CollateralAmt: v.Collateral.Value,
		DebtAmt:       v.Debt.Value,
		DebtBrand:     string(v.Debt.Brand),
		Version:       v.Version,
		LastEvent:     et.String(),
		LastSequence:  seq,
		UpdatedAt:     at,
	}
}

// Plan maps a sequenced event to read-model changes. It does no I/O.
func Plan(seq int64, ev event.Event) Update {
	u := Update{Sequence: seq}
	et := ev.EventType()
	brand := string(ev.CollateralBrand())
	at := ev.OccurredAt()

	switch e := ev.(type) {
	case *event.VaultOpened:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
	case *event.VaultAdjusted:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
	case *event.VaultClosed:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
	case *event.VaultTransferInvited:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
	case *event.VaultTransferred:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)

	case *event.LiquidationStarted:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
		u.Liquidation = &LiquidationRow{
			LiquidationID: e.LiquidationID.String(),
			Collateral:    brand,
			VaultID:       e.Vault.VaultID,
			Status:        LiquidationStarted,
			Debt:          e.Vault.Debt.Value,
			CollateralAmt: e.Vault.Collateral.Value,
			Penalty:       e.Penalty.Value,
			Sequence:      seq,
			At:            at,
		}
	case *event.LiquidationCompleted:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
		u.Liquidation = &LiquidationRow{
			LiquidationID:  e.LiquidationID.String(),
			Collateral:     brand,
			VaultID:        e.Vault.VaultID,
			Status:         LiquidationCompleted,
			Debt:           e.Vault.Debt.Value,
			CollateralAmt:  e.Vault.Collateral.Value,
			Proceeds:       e.Proceeds.Value,
			Penalty:        e.Penalty.Value,
			Overage:        e.Overage.Value,
			Shortfall:      e.Shortfall.Value,
			CollateralSold: e.CollateralSold.Value,
			Sequence:       seq,
			At:             at,
		}
	case *event.LiquidationStalled:
		u.Vault = vaultRow(seq, et, brand, e.Vault, at)
		u.Liquidation = &LiquidationRow{
			LiquidationID: e.LiquidationID.String(),
			Collateral:    brand,
			VaultID:       e.Vault.VaultID,
			Status:        LiquidationStalled,
			Debt:          e.Vault.Debt.Value,
			CollateralAmt: e.Vault.Collateral.Value,
			Sequence:      seq,
			At:            at,
		}
	}
	// InterestCharged and PriceCheckArmed only move the watermark.
	return u
}
