package ledger

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeVault
	AccountScopeSystem
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopeUser:
		return "user"
	case AccountScopeVault:
		return "vault"
	case AccountScopeSystem:
		return "system"
	case AccountScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Vault sub-types
	SubTypeCollateralEscrow
	SubTypeDebtTransit // debt tokens in flight; must be zero at rest
	SubTypeLiquidationProceeds
	SubTypeLiquidationSeat

	// System sub-types
	SubTypeRewardPool
	SubTypePenaltyReserve

	// External sub-types
	SubTypeIssuance
	SubTypeDeposits
	SubTypeAMM
)

func (t AccountSubType) String() string {
	switch t {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCollateralEscrow:
		return "collateral"
	case SubTypeDebtTransit:
		return "debt_transit"
	case SubTypeLiquidationProceeds:
		return "proceeds"
	case SubTypeLiquidationSeat:
		return "liquidation_seat"
	case SubTypeRewardPool:
		return "reward_pool"
	case SubTypePenaltyReserve:
		return "penalty_reserve"
	case SubTypeIssuance:
		return "issuance"
	case SubTypeDeposits:
		return "deposits"
	case SubTypeAMM:
		return "amm"
	default:
		return "unknown"
	}
}

// AccountKey is the in-memory key for balance tracking. It is comparable
// and used directly as a map key.
type AccountKey struct {
	Scope   AccountScope
	Entity  string // owner for users, vault reference for vaults, name for system accounts
	SubType AccountSubType
	Brand   fpmath.Brand
}

// UserAccount is an owner's wallet for brand.
func UserAccount(owner string, brand fpmath.Brand) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  owner,
		SubType: SubTypeWallet,
		Brand:   brand,
	}
}

// VaultAccount is an escrow held on behalf of a single vault.
func VaultAccount(vaultRef string, subType AccountSubType, brand fpmath.Brand) AccountKey {
	return AccountKey{
		Scope:   AccountScopeVault,
		Entity:  vaultRef,
		SubType: subType,
		Brand:   brand,
	}
}

// SystemAccount is an account owned by a manager or the factory.
func SystemAccount(name string, subType AccountSubType, brand fpmath.Brand) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Entity:  name,
		SubType: subType,
		Brand:   brand,
	}
}

// ExternalAccount is a boundary account. External balances may go negative;
// they mirror value that entered or left the ledger.
func ExternalAccount(subType AccountSubType, brand fpmath.Brand) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Brand:   brand,
	}
}

func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser, AccountScopeVault:
		return fmt.Sprintf("%s:%s:%s:%s", k.Scope, k.Entity, k.SubType, k.Brand)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Entity, k.SubType, k.Brand)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType, k.Brand)
	}
	return "unknown"
}

func (k AccountKey) String() string {
	return k.AccountPath()
}
