package liquidation

import (
	"VaultLedger/internal/amm"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/timer"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const StrategyIncremental = "incremental"

// IncrementalConfig bounds each tranche. Basis points are out of 10_000.
type IncrementalConfig struct {
	MaxImpactBP           int64 `toml:"max_impact_bp"`
	AMMFeeBP              int64 `toml:"amm_fee_bp"`
	OracleToleranceBP     int64 `toml:"oracle_tolerance_bp"`
	MaxSlippageBP         int64 `toml:"max_slippage_bp"`
	MaxSequentialFailures int   `toml:"max_sequential_failures"`

	// MaxRounds caps rounds of any kind, skipped ones included.
	MaxRounds int `toml:"max_rounds"`
}

func DefaultIncrementalConfig() IncrementalConfig {
	return IncrementalConfig{
		MaxImpactBP:           50,
		AMMFeeBP:              30,
		OracleToleranceBP:     3000,
		MaxSlippageBP:         300,
		MaxSequentialFailures: 3,
		MaxRounds:             1000,
	}
}

func (c IncrementalConfig) Validate() error {
	if c.MaxImpactBP <= 0 || c.MaxImpactBP >= fpmath.BasisPointsDenominator {
		return fmt.Errorf("max_impact_bp must be in (0, 10000), got %d", c.MaxImpactBP)
	}
	if c.AMMFeeBP < 0 || c.AMMFeeBP >= fpmath.BasisPointsDenominator {
		return fmt.Errorf("amm_fee_bp must be in [0, 10000), got %d", c.AMMFeeBP)
	}
	if c.OracleToleranceBP < 0 || c.OracleToleranceBP > fpmath.BasisPointsDenominator {
		return fmt.Errorf("oracle_tolerance_bp must be in [0, 10000], got %d", c.OracleToleranceBP)
	}
	if c.MaxSlippageBP < 0 || c.MaxSlippageBP > fpmath.BasisPointsDenominator {
		return fmt.Errorf("max_slippage_bp must be in [0, 10000], got %d", c.MaxSlippageBP)
	}
	if c.MaxSequentialFailures < 0 {
		return fmt.Errorf("max_sequential_failures must be >= 0, got %d", c.MaxSequentialFailures)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be > 0, got %d", c.MaxRounds)
	}
	return nil
}

// Incremental sells in tranches sized so that no single swap moves the pool
// price by more than MaxImpactBP, and only while the pool price is within
// OracleToleranceBP of the oracle.
type Incremental struct {
	cfg     IncrementalConfig
	amm     amm.AMM
	oracle  oracle.PriceOracle
	stepper timer.Stepper
	ledger  *ledger.Ledger
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewIncremental(
	cfg IncrementalConfig,
	pool amm.AMM,
	priceOracle oracle.PriceOracle,
	stepper timer.Stepper,
	l *ledger.Ledger,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*Incremental, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("incremental strategy: %w", err)
	}
	return &Incremental{
		cfg:     cfg,
		amm:     pool,
		oracle:  priceOracle,
		stepper: stepper,
		ledger:  l,
		logger:  logger.With().Str("strategy", StrategyIncremental).Logger(),
		metrics: metrics,
	}, nil
}

func (s *Incremental) Name() string {
	return StrategyIncremental
}

// round is what one tranche evaluation decided.
type round struct {
	tranche     fpmath.Amount
	minAmm      fpmath.Amount
	oracleLimit fpmath.Amount
}

func (s *Incremental) Sell(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	collBrand := req.Collateral.Brand
	debtBrand := req.Debt.Brand

	impact, err := fpmath.ImpactFactor(s.cfg.MaxImpactBP, s.cfg.AMMFeeBP, collBrand)
	if err != nil {
		return Result{}, err
	}
	slippage, err := fpmath.OneMinusBasisPoints(s.cfg.MaxSlippageBP, debtBrand)
	if err != nil {
		return Result{}, err
	}
	tolerance, err := fpmath.OneMinusBasisPoints(s.cfg.OracleToleranceBP, debtBrand)
	if err != nil {
		return Result{}, err
	}

	log := s.logger.With().Str("liquidation_id", req.LiquidationID.String()).Logger()

	result := Result{
		Proceeds:       req.Carried,
		CollateralSold: fpmath.Empty(collBrand),
	}
	remaining := req.Collateral
	failures := 0

	for {
		if fpmath.MustGTE(result.Proceeds, req.Debt) || remaining.IsEmpty() {
			break
		}
		if result.Rounds >= s.cfg.MaxRounds {
			s.observeRounds(result.Rounds)
			return result, fmt.Errorf("%w: %d rounds without covering %s", ErrLiquidationStalled, result.Rounds, req.Debt)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Rounds++

		r, err := s.evaluate(ctx, remaining, debtBrand, impact, slippage, tolerance)
		if err != nil {
			return result, fmt.Errorf("%w: round %d: %v", ErrLiquidationFailed, result.Rounds, err)
		}

		if r.tranche.IsEmpty() {
			// Pool too shallow for any bounded tranche
			failures++
			s.observe("empty")
		} else if r.minAmm.Value < r.oracleLimit.Value {
			s.observe("skipped")
			log.Debug().
				Int("round", result.Rounds).
				Int64("min_amm", r.minAmm.Value).
				Int64("oracle_limit", r.oracleLimit.Value).
				Msg("pool price below oracle tolerance, waiting")
			if err := s.stepper.WaitStep(ctx); err != nil {
				return result, err
			}
			continue
		} else {
			want := fpmath.MustMin(fpmath.MustSub(req.Debt, result.Proceeds), r.oracleLimit)
			swap, err := s.amm.SwapIn(ctx, r.tranche, want)
			switch {
			case errors.Is(err, amm.ErrSwapRefused):
				failures++
				s.observe("refused")
			case err != nil:
				return result, fmt.Errorf("%w: swap %s: %v", ErrLiquidationFailed, r.tranche, err)
			case swap.Out.IsEmpty():
				failures++
				s.observe("empty")
			default:
				if err := recordSwap(s.ledger, req, swap); err != nil {
					panic(fmt.Sprintf("FATAL: executed swap could not be recorded: %v", err))
				}
				failures = 0
				s.observe("filled")
				result.Proceeds = fpmath.MustAdd(result.Proceeds, swap.Out)
				result.CollateralSold = fpmath.MustAdd(result.CollateralSold, swap.In)
				remaining = fpmath.MustSub(remaining, swap.In)
				log.Debug().
					Int("round", result.Rounds).
					Str("sold", swap.In.String()).
					Str("received", swap.Out.String()).
					Msg("tranche sold")
				continue
			}
		}

		if failures > s.cfg.MaxSequentialFailures {
			s.observeRounds(result.Rounds)
			log.Warn().
				Int("failures", failures).
				Str("proceeds", result.Proceeds.String()).
				Str("unsold", remaining.String()).
				Msg("circuit breaker tripped")
			return result, fmt.Errorf("%w: %d sequential failed rounds", ErrLiquidationStalled, failures)
		}
		if err := s.stepper.WaitStep(ctx); err != nil {
			return result, err
		}
	}

	s.observeRounds(result.Rounds)
	return result, nil
}

func (s *Incremental) evaluate(
	ctx context.Context,
	remaining fpmath.Amount,
	debtBrand fpmath.Brand,
	impact, slippage, tolerance fpmath.Ratio,
) (round, error) {
	reserves, err := s.amm.PoolReserves(ctx, remaining.Brand)
	if err != nil {
		return round{}, fmt.Errorf("pool reserves: %w", err)
	}

	maxTranche, err := fpmath.FloorMultiplyBy(reserves.Secondary, impact)
	if err != nil {
		return round{}, err
	}
	tranche := fpmath.MustMin(maxTranche, remaining)
	if tranche.IsEmpty() {
		return round{tranche: tranche}, nil
	}

	estimate, err := fpmath.EstimateSwapProceeds(tranche, reserves.Secondary, reserves.Central)
	if err != nil {
		return round{}, err
	}
	minAmm, err := fpmath.CeilMultiplyBy(estimate, slippage)
	if err != nil {
		return round{}, err
	}

	quote, err := s.oracle.QuoteGiven(ctx, tranche, debtBrand)
	if err != nil {
		return round{}, fmt.Errorf("oracle quote: %w", err)
	}
	oracleLimit, err := fpmath.CeilMultiplyBy(quote.AmountOut, tolerance)
	if err != nil {
		return round{}, err
	}

	return round{tranche: tranche, minAmm: minAmm, oracleLimit: oracleLimit}, nil
}

func (s *Incremental) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.SwapOutcomes.WithLabelValues(StrategyIncremental, outcome).Inc()
	}
}

func (s *Incremental) observeRounds(n int) {
	if s.metrics != nil {
		s.metrics.TrancheRounds.WithLabelValues(StrategyIncremental).Observe(float64(n))
	}
}
