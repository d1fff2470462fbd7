package liquidation_test

import (
	"VaultLedger/internal/amm"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/timer"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	run  fpmath.Brand = "RUN"
	atom fpmath.Brand = "ATOM"
)

type fixture struct {
	ledger *ledger.Ledger
	pool   *amm.Pool
	prices *oracle.ManualPriceAuthority
	clock  *timer.Manual
	req    liquidation.Request
}

func newFixture(t *testing.T, collateral, debt int64) *fixture {
	t.Helper()

	pool, err := amm.NewPool(fpmath.MustAmount(run, 1_000_000), fpmath.MustAmount(atom, 1_000_000), 30)
	require.NoError(t, err)

	prices := oracle.NewManualPriceAuthority("test")
	require.NoError(t, prices.SetPrice(fpmath.MakeRatio(1, run, 1, atom)))

	clock := timer.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New()
	id := uuid.New()
	seat := liquidation.NewSeat(id, atom, run)

	batch, err := ledger.NewBuilder("fund-seat", time.Now()).
		Transfer(ledger.ExternalAccount(ledger.SubTypeDeposits, atom), seat.Collateral, fpmath.MustAmount(atom, collateral), ledger.JournalTypeLiquidationSeat).
		Build()
	require.NoError(t, err)
	require.NoError(t, l.Commit(batch))

	return &fixture{
		ledger: l,
		pool:   pool,
		prices: prices,
		clock:  clock,
		req: liquidation.Request{
			LiquidationID: id,
			Seat:          seat,
			Collateral:    fpmath.MustAmount(atom, collateral),
			Debt:          fpmath.MustAmount(run, debt),
			Carried:       fpmath.Empty(run),
			Now:           clock.Now,
		},
	}
}

// refusingPool refuses every swap but reports real reserves.
type refusingPool struct {
	*amm.Pool
}

func (refusingPool) SwapExactOut(context.Context, fpmath.Amount, fpmath.Amount) (amm.SwapResult, error) {
	return amm.SwapResult{}, fmt.Errorf("closed: %w", amm.ErrSwapRefused)
}

func (refusingPool) SwapIn(context.Context, fpmath.Amount, fpmath.Amount) (amm.SwapResult, error) {
	return amm.SwapResult{}, fmt.Errorf("closed: %w", amm.ErrSwapRefused)
}

func countingStepper(n *int, onStep func()) timer.Stepper {
	return timer.StepFunc(func(ctx context.Context) error {
		*n++
		if onStep != nil {
			onStep()
		}
		return ctx.Err()
	})
}

// ============================================================================
// Test: PartitionProceeds
// ============================================================================

func TestPartitionProceeds_Shortfall(t *testing.T) {
	p, err := liquidation.PartitionProceeds(fpmath.MustAmount(run, 100), fpmath.MustAmount(run, 200), fpmath.MustAmount(run, 10))
	require.NoError(t, err)
	require.Equal(t, int64(100), p.DebtPaid.Value)
	require.Equal(t, int64(10), p.PenaltyProceeds.Value)
	require.Equal(t, int64(90), p.RunToBurn.Value)
}

func TestPartitionProceeds_NoProceeds(t *testing.T) {
	p, err := liquidation.PartitionProceeds(fpmath.Empty(run), fpmath.MustAmount(run, 100), fpmath.MustAmount(run, 10))
	require.NoError(t, err)
	require.True(t, p.DebtPaid.IsEmpty())
	require.True(t, p.PenaltyProceeds.IsEmpty())
	require.True(t, p.RunToBurn.IsEmpty())
}

func TestPartitionProceeds_PenaltyBoundedByDebtPaid(t *testing.T) {
	p, err := liquidation.PartitionProceeds(fpmath.MustAmount(run, 4), fpmath.MustAmount(run, 110), fpmath.MustAmount(run, 10))
	require.NoError(t, err)
	require.Equal(t, int64(4), p.PenaltyProceeds.Value)
	require.True(t, p.RunToBurn.IsEmpty())
}

func TestPartitionProceeds_BrandMismatch(t *testing.T) {
	_, err := liquidation.PartitionProceeds(fpmath.MustAmount(atom, 4), fpmath.MustAmount(run, 110), fpmath.MustAmount(run, 10))
	require.ErrorIs(t, err, fpmath.ErrBrandMismatch)
}

// ============================================================================
// Test: MinimumSale
// ============================================================================

func TestMinimumSale_ExactOut(t *testing.T) {
	f := newFixture(t, 1000, 500)
	s := liquidation.NewMinimumSale(f.pool, f.ledger, zerolog.Nop(), nil)

	res, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.Proceeds.Value)
	require.Equal(t, int64(503), res.CollateralSold.Value)

	require.Equal(t, int64(497), f.ledger.Balance(f.req.Seat.Collateral))
	require.Equal(t, int64(500), f.ledger.Balance(f.req.Seat.Proceeds))
}

func TestMinimumSale_FallsBackToSellAll(t *testing.T) {
	f := newFixture(t, 100, 500)
	s := liquidation.NewMinimumSale(f.pool, f.ledger, zerolog.Nop(), nil)

	res, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)
	require.Equal(t, int64(98), res.Proceeds.Value)
	require.Equal(t, int64(100), res.CollateralSold.Value)
	require.Equal(t, 2, res.Rounds)
	require.Zero(t, f.ledger.Balance(f.req.Seat.Collateral))
}

func TestMinimumSale_FailsWhenFallbackRefused(t *testing.T) {
	f := newFixture(t, 100, 500)
	s := liquidation.NewMinimumSale(refusingPool{f.pool}, f.ledger, zerolog.Nop(), nil)

	_, err := s.Sell(context.Background(), f.req)
	require.ErrorIs(t, err, liquidation.ErrLiquidationFailed)
	require.Equal(t, int64(100), f.ledger.Balance(f.req.Seat.Collateral), "refused sale leaves the seat intact")
}

func TestMinimumSale_CarriedProceedsReduceWant(t *testing.T) {
	f := newFixture(t, 1000, 500)
	f.req.Carried = fpmath.MustAmount(run, 500)
	s := liquidation.NewMinimumSale(f.pool, f.ledger, zerolog.Nop(), nil)

	res, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)
	require.True(t, res.CollateralSold.IsEmpty())
	require.Equal(t, int64(0), f.pool.Swaps())
}

func TestMinimumSale_StampsSalesWithRequestClock(t *testing.T) {
	f := newFixture(t, 1000, 500)
	f.clock.Advance(90 * time.Minute)

	var stamps []int64
	f.ledger.OnCommit(func(b *ledger.Batch) { stamps = append(stamps, b.Timestamp) })

	s := liquidation.NewMinimumSale(f.pool, f.ledger, zerolog.Nop(), nil)
	_, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)

	require.Len(t, stamps, 1)
	require.Equal(t, f.clock.Now().UnixMicro(), stamps[0])
}

func TestRequest_RequiresClock(t *testing.T) {
	f := newFixture(t, 100, 500)
	f.req.Now = nil
	s := liquidation.NewMinimumSale(f.pool, f.ledger, zerolog.Nop(), nil)

	_, err := s.Sell(context.Background(), f.req)
	require.Error(t, err)
	require.Zero(t, f.pool.Swaps())
}

// ============================================================================
// Test: Incremental
// ============================================================================

func TestIncrementalConfig_Validate(t *testing.T) {
	require.NoError(t, liquidation.DefaultIncrementalConfig().Validate())

	bad := liquidation.DefaultIncrementalConfig()
	bad.MaxRounds = 0
	require.Error(t, bad.Validate())
}

func TestIncremental_SellsInBoundedTranches(t *testing.T) {
	f := newFixture(t, 10_000, 5_000)
	steps := 0
	s, err := liquidation.NewIncremental(liquidation.DefaultIncrementalConfig(), f.pool, f.prices,
		countingStepper(&steps, nil), f.ledger, zerolog.Nop(), nil)
	require.NoError(t, err)

	res, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)
	require.Equal(t, 3, res.Rounds)
	require.Equal(t, int64(7448), res.Proceeds.Value)
	require.Equal(t, int64(7530), res.CollateralSold.Value)
	require.Zero(t, steps)

	require.Equal(t, int64(2470), f.ledger.Balance(f.req.Seat.Collateral))
	require.Equal(t, int64(7448), f.ledger.Balance(f.req.Seat.Proceeds))
}

func TestIncremental_WaitsWhileOracleAbovePool(t *testing.T) {
	f := newFixture(t, 10_000, 5_000)
	require.NoError(t, f.prices.SetPrice(fpmath.MakeRatio(2, run, 1, atom)))

	steps := 0
	stepper := countingStepper(&steps, func() {
		_ = f.prices.SetPrice(fpmath.MakeRatio(1, run, 1, atom))
	})
	s, err := liquidation.NewIncremental(liquidation.DefaultIncrementalConfig(), f.pool, f.prices,
		stepper, f.ledger, zerolog.Nop(), nil)
	require.NoError(t, err)

	res, err := s.Sell(context.Background(), f.req)
	require.NoError(t, err)
	require.Equal(t, 1, steps)
	require.Equal(t, 4, res.Rounds)
	require.GreaterOrEqual(t, res.Proceeds.Value, int64(5_000))
}

func TestIncremental_CircuitBreaker(t *testing.T) {
	f := newFixture(t, 10_000, 5_000)
	steps := 0
	s, err := liquidation.NewIncremental(liquidation.DefaultIncrementalConfig(), refusingPool{f.pool}, f.prices,
		countingStepper(&steps, nil), f.ledger, zerolog.Nop(), nil)
	require.NoError(t, err)

	res, err := s.Sell(context.Background(), f.req)
	require.ErrorIs(t, err, liquidation.ErrLiquidationStalled)
	require.Equal(t, 4, res.Rounds)
	require.Equal(t, 3, steps)
	require.Equal(t, int64(10_000), f.ledger.Balance(f.req.Seat.Collateral))
}

func TestIncremental_RoundCap(t *testing.T) {
	f := newFixture(t, 10_000, 5_000)
	require.NoError(t, f.prices.SetPrice(fpmath.MakeRatio(2, run, 1, atom)))

	cfg := liquidation.DefaultIncrementalConfig()
	cfg.MaxRounds = 5
	steps := 0
	s, err := liquidation.NewIncremental(cfg, f.pool, f.prices, countingStepper(&steps, nil), f.ledger, zerolog.Nop(), nil)
	require.NoError(t, err)

	res, err := s.Sell(context.Background(), f.req)
	require.ErrorIs(t, err, liquidation.ErrLiquidationStalled)
	require.Equal(t, 5, res.Rounds)
	require.Equal(t, 5, steps)
	require.Equal(t, int64(0), f.pool.Swaps())
}

func TestIncremental_Cancelled(t *testing.T) {
	f := newFixture(t, 10_000, 5_000)
	require.NoError(t, f.prices.SetPrice(fpmath.MakeRatio(2, run, 1, atom)))

	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	s, err := liquidation.NewIncremental(liquidation.DefaultIncrementalConfig(), f.pool, f.prices,
		countingStepper(&steps, cancel), f.ledger, zerolog.Nop(), nil)
	require.NoError(t, err)

	_, err = s.Sell(ctx, f.req)
	require.ErrorIs(t, err, context.Canceled)
}
