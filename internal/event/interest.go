package event

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"
)

// InterestCharged emitted after a manager advances its compounded interest
// and re-snapshots every vault
type InterestCharged struct {
	Brand                fpmath.Brand  `json:"collateral_brand"`
	CompoundedInterest   fpmath.Ratio  `json:"compounded_interest"`
	LatestInterestUpdate int64         `json:"latest_interest_update"`
	Minted               fpmath.Amount `json:"minted"`
	TotalDebt            fpmath.Amount `json:"total_debt"`
	VaultsCharged        int           `json:"vaults_charged"`
	Timestamp            time.Time     `json:"timestamp"`
}

func (e *InterestCharged) IdempotencyKey() string {
	return fmt.Sprintf("%s:interest:%d", e.Brand, e.LatestInterestUpdate)
}

func (e *InterestCharged) EventType() EventType          { return EventTypeInterestCharged }
func (e *InterestCharged) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *InterestCharged) OccurredAt() time.Time         { return e.Timestamp }

// PriceCheckArmed emitted when the manager's oracle trigger is set or moved
type PriceCheckArmed struct {
	Brand     fpmath.Brand  `json:"collateral_brand"`
	AmountIn  fpmath.Amount `json:"amount_in"`
	Threshold fpmath.Amount `json:"threshold"`
	Updated   bool          `json:"updated"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e *PriceCheckArmed) IdempotencyKey() string {
	return fmt.Sprintf("%s:armed:%d:%d:%d", e.Brand, e.AmountIn.Value, e.Threshold.Value, e.Timestamp.UnixNano())
}

func (e *PriceCheckArmed) EventType() EventType          { return EventTypePriceCheckArmed }
func (e *PriceCheckArmed) CollateralBrand() fpmath.Brand { return e.Brand }
func (e *PriceCheckArmed) OccurredAt() time.Time         { return e.Timestamp }
