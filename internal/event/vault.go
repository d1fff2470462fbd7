package event

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"
)

// VaultView is the state of a vault after the event that carries it.
type VaultView struct {
	VaultID    uint64        `json:"vault_id"`
	Owner      string        `json:"owner"`
	Phase      string        `json:"phase"`
	Collateral fpmath.Amount `json:"collateral"`
	Debt       fpmath.Amount `json:"debt"`
	Version    int64         `json:"version"`
}

// VaultOpened emitted when a new vault locks collateral and mints its loan
type VaultOpened struct {
	Brand     fpmath.Brand  `json:"collateral_brand"`
	Vault     VaultView     `json:"vault"`
	Loan      fpmath.Amount `json:"loan"`
	Fee       fpmath.Amount `json:"fee"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e *VaultOpened) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:opened", e.Brand, e.Vault.VaultID)
}

func (e *VaultOpened) EventType() EventType          { return EventTypeVaultOpened }
func (e *VaultOpened) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *VaultOpened) OccurredAt() time.Time         { return e.Timestamp }

// VaultAdjusted emitted after a committed adjustBalances
type VaultAdjusted struct {
	Brand          fpmath.Brand  `json:"collateral_brand"`
	Vault          VaultView     `json:"vault"`
	CollateralGive fpmath.Amount `json:"collateral_give"`
	CollateralWant fpmath.Amount `json:"collateral_want"`
	DebtGive       fpmath.Amount `json:"debt_give"`
	DebtWant       fpmath.Amount `json:"debt_want"`
	Fee            fpmath.Amount `json:"fee"`
	Restarted      bool          `json:"restarted"`
	Timestamp      time.Time     `json:"timestamp"`
}

func (e *VaultAdjusted) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:adjusted:%d", e.Brand, e.Vault.VaultID, e.Vault.Version)
}

func (e *VaultAdjusted) EventType() EventType          { return EventTypeVaultAdjusted }
func (e *VaultAdjusted) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *VaultAdjusted) OccurredAt() time.Time         { return e.Timestamp }

// VaultClosed emitted when a vault returns its remaining assets
type VaultClosed struct {
	Brand              fpmath.Brand  `json:"collateral_brand"`
	Vault              VaultView     `json:"vault"`
	DebtRepaid         fpmath.Amount `json:"debt_repaid"`
	CollateralReturned fpmath.Amount `json:"collateral_returned"`
	OverageReturned    fpmath.Amount `json:"overage_returned"`
	Timestamp          time.Time     `json:"timestamp"`
}

func (e *VaultClosed) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:closed", e.Brand, e.Vault.VaultID)
}

func (e *VaultClosed) EventType() EventType          { return EventTypeVaultClosed }
func (e *VaultClosed) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *VaultClosed) OccurredAt() time.Time         { return e.Timestamp }

// VaultTransferInvited emitted when the holder token is revoked in favour of
// a transfer invitation
type VaultTransferInvited struct {
	Brand        fpmath.Brand `json:"collateral_brand"`
	Vault        VaultView    `json:"vault"`
	InvitationID string       `json:"invitation_id"`
	Timestamp    time.Time    `json:"timestamp"`
}

func (e *VaultTransferInvited) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:invited:%s", e.Brand, e.Vault.VaultID, e.InvitationID)
}

func (e *VaultTransferInvited) EventType() EventType          { return EventTypeVaultTransferInvited }
func (e *VaultTransferInvited) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *VaultTransferInvited) OccurredAt() time.Time         { return e.Timestamp }

// VaultTransferred emitted when an invitation is accepted
type VaultTransferred struct {
	Brand         fpmath.Brand `json:"collateral_brand"`
	Vault         VaultView    `json:"vault"`
	PreviousOwner string       `json:"previous_owner"`
	InvitationID  string       `json:"invitation_id"`
	Timestamp     time.Time    `json:"timestamp"`
}

func (e *VaultTransferred) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:transferred:%s", e.Brand, e.Vault.VaultID, e.InvitationID)
}

func (e *VaultTransferred) EventType() EventType          { return EventTypeVaultTransferred }
func (e *VaultTransferred) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *VaultTransferred) OccurredAt() time.Time         { return e.Timestamp }
