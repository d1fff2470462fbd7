package event

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiquidationStarted emitted when a vault's collateral moves to a liquidation seat
type LiquidationStarted struct {
	LiquidationID uuid.UUID     `json:"liquidation_id"`
	Brand         fpmath.Brand  `json:"collateral_brand"`
	Vault         VaultView     `json:"vault"`
	Penalty       fpmath.Amount `json:"penalty"`
	Retry         bool          `json:"retry"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (e *LiquidationStarted) IdempotencyKey() string {
	return fmt.Sprintf("%s:started", e.LiquidationID)
}

func (e *LiquidationStarted) EventType() EventType          { return EventTypeLiquidationStarted }
func (e *LiquidationStarted) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *LiquidationStarted) OccurredAt() time.Time         { return e.Timestamp }

// LiquidationCompleted marks liquidation as finished
type LiquidationCompleted struct {
	LiquidationID      uuid.UUID     `json:"liquidation_id"`
	Brand              fpmath.Brand  `json:"collateral_brand"`
	Vault              VaultView     `json:"vault"`
	Proceeds           fpmath.Amount `json:"proceeds"`
	Penalty            fpmath.Amount `json:"penalty"`
	Burned             fpmath.Amount `json:"burned"`
	Overage            fpmath.Amount `json:"overage"`
	Shortfall          fpmath.Amount `json:"shortfall"` // If positive, debt was written off
	CollateralSold     fpmath.Amount `json:"collateral_sold"`
	CollateralReturned fpmath.Amount `json:"collateral_returned"`
	Timestamp          time.Time     `json:"timestamp"`
}

func (e *LiquidationCompleted) IdempotencyKey() string {
	return fmt.Sprintf("%s:complete", e.LiquidationID)
}

func (e *LiquidationCompleted) EventType() EventType          { return EventTypeLiquidationCompleted }
func (e *LiquidationCompleted) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *LiquidationCompleted) OccurredAt() time.Time         { return e.Timestamp }

// LiquidationStalled emitted when a strategy gives up; the vault stays in
// Liquidating and is retried on a later pass
type LiquidationStalled struct {
	LiquidationID uuid.UUID    `json:"liquidation_id"`
	Brand         fpmath.Brand `json:"collateral_brand"`
	Vault         VaultView    `json:"vault"`
	Reason        string       `json:"reason"`
	Timestamp     time.Time    `json:"timestamp"`
}

func (e *LiquidationStalled) IdempotencyKey() string {
	return fmt.Sprintf("%s:stalled", e.LiquidationID)
}

func (e *LiquidationStalled) EventType() EventType          { return EventTypeLiquidationStalled }
func (e *LiquidationStalled) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *LiquidationStalled) OccurredAt() time.Time         { return e.Timestamp }
