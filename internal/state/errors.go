package state

import (
	fpmath "VaultLedger/internal/math"
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a malformed request before any state changes.
	ErrValidation = errors.New("vault: invalid request")

	// ErrCapacity is the parent of every collateralization failure.
	ErrCapacity = errors.New("vault: capacity")

	ErrInsufficientCollateral = fmt.Errorf("%w: insufficient collateral", ErrCapacity)
	ErrOverCollateralization  = fmt.Errorf("%w: collateralization ratio exceeded", ErrCapacity)

	ErrInsufficientPayment = errors.New("vault: payment does not cover debt")
	ErrLoanTooSmall        = errors.New("vault: loan too small to accrue a fee")
	ErrDebtLimitExceeded   = errors.New("vault: manager debt limit exceeded")
	ErrInvalidPhase        = errors.New("vault: invalid phase")
	ErrHandleRevoked       = errors.New("vault: handle revoked")
	ErrVaultNotFound       = errors.New("vault: not found")
	ErrManagerStopped      = errors.New("vault: manager stopped")

	// ErrConflict reports that a vault kept changing while an adjustment
	// was waiting on a price quote.
	ErrConflict = errors.New("vault: changed during adjustment")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// wrapAmountErr moves amount arithmetic errors (brand mismatch, negative
// results) into the validation class.
func wrapAmountErr(what string, err error) error {
	if errors.Is(err, fpmath.ErrBrandMismatch) || errors.Is(err, fpmath.ErrNegativeAmount) {
		return fmt.Errorf("%w: %s: %w", ErrValidation, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
