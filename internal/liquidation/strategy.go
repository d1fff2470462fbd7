// Package liquidation converts a vault's collateral into debt tokens on an
// AMM. A strategy only ever trades through the seat it is handed; the
// manager settles whatever the seat holds afterwards.
package liquidation

import (
	"VaultLedger/internal/amm"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSettlementRefused reports an AMM refusal that the strategy handles
	// by falling back.
	ErrSettlementRefused = errors.New("liquidation: settlement refused")

	// ErrLiquidationFailed reports that no sale could be offered at all.
	ErrLiquidationFailed = errors.New("liquidation: failed")

	// ErrLiquidationStalled reports that the strategy gave up before the
	// debt was covered. The vault stays in Liquidating.
	ErrLiquidationStalled = errors.New("liquidation: stalled")
)

// Seat is the pair of working escrows owned by one settlement.
type Seat struct {
	Collateral ledger.AccountKey
	Proceeds   ledger.AccountKey
}

// NewSeat names a fresh seat for liquidationID.
func NewSeat(liquidationID uuid.UUID, collateral, debt fpmath.Brand) Seat {
	ref := liquidationID.String()
	return Seat{
		Collateral: ledger.VaultAccount(ref, ledger.SubTypeLiquidationSeat, collateral),
		Proceeds:   ledger.VaultAccount(ref, ledger.SubTypeLiquidationSeat, debt),
	}
}

type Request struct {
	LiquidationID uuid.UUID
	Seat          Seat

	// Collateral is the amount in the seat available for sale.
	Collateral fpmath.Amount

	// Debt is the target: the vault's debt plus its penalty.
	Debt fpmath.Amount

	// Carried is proceeds already in the seat from an earlier stalled attempt.
	Carried fpmath.Amount

	// Now stamps the journal batches of each sale.
	Now func() time.Time
}

func (r Request) Validate() error {
	if r.Now == nil {
		return errors.New("request has no clock")
	}
	if r.Collateral.Brand == r.Debt.Brand {
		return fmt.Errorf("collateral and debt share brand %s", r.Debt.Brand)
	}
	if r.Seat.Collateral.Brand != r.Collateral.Brand || r.Seat.Proceeds.Brand != r.Debt.Brand {
		return fmt.Errorf("seat %s/%s does not match request: %w", r.Seat.Collateral, r.Seat.Proceeds, fpmath.ErrBrandMismatch)
	}
	if r.Carried.Brand != r.Debt.Brand {
		return fmt.Errorf("carried %s: %w", r.Carried, fpmath.ErrBrandMismatch)
	}
	return nil
}

type Result struct {
	Proceeds       fpmath.Amount // total in the seat, including carried
	CollateralSold fpmath.Amount
	Rounds         int
}

// Strategy sells collateral from a seat.
type Strategy interface {
	Name() string
	Sell(ctx context.Context, req Request) (Result, error)
}

// recordSwap moves a filled swap through the ledger.
// Moves funds: seat collateral → external:amm, external:amm → seat proceeds
func recordSwap(l *ledger.Ledger, req Request, res amm.SwapResult) error {
	pool := ledger.ExternalAccount(ledger.SubTypeAMM, res.In.Brand)
	batch, err := ledger.NewBuilder("liquidation:"+req.LiquidationID.String(), req.Now()).
		Transfer(req.Seat.Collateral, pool, res.In, ledger.JournalTypeLiquidationSale).
		Transfer(ledger.ExternalAccount(ledger.SubTypeAMM, res.Out.Brand), req.Seat.Proceeds, res.Out, ledger.JournalTypeLiquidationSale).
		Build()
	if err != nil {
		return err
	}
	if err := l.Commit(batch); err != nil {
		return fmt.Errorf("record swap %s for %s: %w", res.In, res.Out, err)
	}
	return nil
}
