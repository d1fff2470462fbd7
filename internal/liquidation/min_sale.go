package liquidation

import (
	"VaultLedger/internal/amm"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const StrategyMinimumSale = "minimum_sale"

// MinimumSale asks the AMM for exactly the debt, offering all collateral.
// If the AMM refuses, it sells everything for whatever the pool gives.
type MinimumSale struct {
	amm     amm.AMM
	ledger  *ledger.Ledger
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewMinimumSale(pool amm.AMM, l *ledger.Ledger, logger zerolog.Logger, metrics *observability.Metrics) *MinimumSale {
	return &MinimumSale{
		amm:     pool,
		ledger:  l,
		logger:  logger.With().Str("strategy", StrategyMinimumSale).Logger(),
		metrics: metrics,
	}
}

func (s *MinimumSale) Name() string {
	return StrategyMinimumSale
}

func (s *MinimumSale) Sell(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	result := Result{
		Proceeds:       req.Carried,
		CollateralSold: fpmath.Empty(req.Collateral.Brand),
	}
	if req.Collateral.IsEmpty() || fpmath.MustGTE(req.Carried, req.Debt) {
		return result, nil
	}
	want := fpmath.MustSub(req.Debt, req.Carried)

	result.Rounds = 1
	swap, err := s.amm.SwapExactOut(ctx, req.Collateral, want)
	if err != nil {
		if !errors.Is(err, amm.ErrSwapRefused) {
			s.observe("error")
			return result, fmt.Errorf("%w: exact-out for %s: %v", ErrLiquidationFailed, want, err)
		}
		s.observe("refused")
		s.logger.Info().
			Str("liquidation_id", req.LiquidationID.String()).
			Str("want", want.String()).
			Err(fmt.Errorf("%w: %w", ErrSettlementRefused, err)).
			Msg("exact-out refused, selling all collateral")

		result.Rounds = 2
		swap, err = s.amm.SwapIn(ctx, req.Collateral, fpmath.Empty(req.Debt.Brand))
		if err != nil {
			s.observe("error")
			return result, fmt.Errorf("%w: sell-all of %s: %v", ErrLiquidationFailed, req.Collateral, err)
		}
	}
	s.observe("filled")

	if err := recordSwap(s.ledger, req, swap); err != nil {
		panic(fmt.Sprintf("FATAL: executed swap could not be recorded: %v", err))
	}

	result.Proceeds = fpmath.MustAdd(result.Proceeds, swap.Out)
	result.CollateralSold = swap.In
	return result, nil
}

func (s *MinimumSale) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.SwapOutcomes.WithLabelValues(StrategyMinimumSale, outcome).Inc()
	}
}
