package query

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/state"
	"context"
	"errors"
	"time"
)

const verifyPageSize = 1000

// LiveState is the running engine, read for values that move without an
// event: prices, parameters and manager totals.
type LiveState interface {
	ManagerMetrics(ctx context.Context, collateral fpmath.Brand) (state.ManagerMetrics, error)
	CollateralQuote(ctx context.Context, collateral fpmath.Brand) (oracle.PriceQuote, error)
	Params(collateral fpmath.Brand) (state.Params, error)
}

// ChainVerifier replays the persisted hash chain.
type ChainVerifier interface {
	VerifyLog(ctx context.Context, from core.Checkpoint, pageSize int) (int, error)
}

type Config struct {
	Store   Store
	Live    LiveState
	Ledger  *ledger.Ledger
	Chain   ChainVerifier
	Metrics *observability.Metrics
}

// QueryService provides read-only access to vaults and liquidations. Vault
// and liquidation reads come from the projections and include
// as_of_sequence; manager metrics and balances come from the live engine.
type QueryService struct {
	store   Store
	live    LiveState
	ledger  *ledger.Ledger
	chain   ChainVerifier
	metrics *observability.Metrics
}

func NewQueryService(cfg Config) *QueryService {
	return &QueryService{
		store:   cfg.Store,
		live:    cfg.Live,
		ledger:  cfg.Ledger,
		chain:   cfg.Chain,
		metrics: cfg.Metrics,
	}
}

// GetVault returns one vault with its collateralization at the current quote.
func (qs *QueryService) GetVault(ctx context.Context, collateral string, vaultID uint64) (out *VaultResponse, err error) {
	defer qs.observe("get_vault", time.Now(), &err)

	v, err := qs.store.GetVault(ctx, collateral, vaultID)
	if err != nil {
		return nil, err
	}
	if q, ok := qs.quote(ctx, collateral); ok {
		v.Collateralization = collateralization(v.Locked.Value, v.Debt.Value, q.AmountIn.Value, q.AmountOut.Value)
	}
	return v, nil
}

// ListVaults returns up to limit vaults of one collateral type by id.
func (qs *QueryService) ListVaults(ctx context.Context, collateral string, limit int) (out []VaultResponse, err error) {
	defer qs.observe("list_vaults", time.Now(), &err)

	vaults, err := qs.store.ListVaults(ctx, collateral, limit)
	if err != nil {
		return nil, err
	}
	if q, ok := qs.quote(ctx, collateral); ok {
		for i := range vaults {
			v := &vaults[i]
			v.Collateralization = collateralization(v.Locked.Value, v.Debt.Value, q.AmountIn.Value, q.AmountOut.Value)
		}
	}
	return vaults, nil
}

// GetLiquidations returns recent liquidations, newest first. An empty
// status matches every status.
func (qs *QueryService) GetLiquidations(ctx context.Context, collateral, status string, limit int) (out []LiquidationResponse, err error) {
	defer qs.observe("get_liquidations", time.Now(), &err)

	liqs, err := qs.store.GetLiquidations(ctx, collateral, status, limit)
	if err != nil {
		return nil, err
	}
	for i := range liqs {
		if liqs[i].Status == "completed" {
			liqs[i].RecoveryRate = quotient(liqs[i].Proceeds, liqs[i].Debt)
		}
	}
	return liqs, nil
}

// GetManagerMetrics reads a manager's totals, parameters and price.
func (qs *QueryService) GetManagerMetrics(ctx context.Context, collateral string) (out *ManagerMetricsResponse, err error) {
	defer qs.observe("manager_metrics", time.Now(), &err)

	brand := fpmath.Brand(collateral)
	m, err := qs.live.ManagerMetrics(ctx, brand)
	if err != nil {
		return nil, err
	}
	resp := metricsResponse(m)

	if p, err := qs.live.Params(brand); err == nil {
		resp.LiquidationMargin = RatioString(p.LiquidationMargin)
		resp.LiquidationPenalty = RatioString(p.LiquidationPenalty)
		resp.LoanFee = RatioString(p.LoanFee)
		resp.InterestRate = RatioString(p.InterestRate)
		limit := amountView(p.DebtLimit)
		resp.DebtLimit = &limit
	}
	if q, ok := qs.quote(ctx, collateral); ok {
		resp.Price = quotient(q.AmountOut.Value, q.AmountIn.Value)
	}
	return resp, nil
}

// GetBalance returns an owner's wallet balance from the live ledger.
func (qs *QueryService) GetBalance(owner, brand string) (*BalanceResponse, error) {
	if qs.ledger == nil {
		return nil, errors.New("query: ledger not configured")
	}
	b := fpmath.Brand(brand)
	return &BalanceResponse{
		Owner:   owner,
		Brand:   brand,
		Balance: qs.ledger.Balance(ledger.UserAccount(owner, b)),
	}, nil
}

// --- Admin APIs ---

// VerifyIntegrity replays the persisted hash chain from genesis and checks
// that the live ledger balances to zero per brand.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if qs.chain != nil {
		checked, err := qs.chain.VerifyLog(ctx, core.Checkpoint{StateHash: core.GenesisHash()}, verifyPageSize)
		report.EventsChecked = checked
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			report.ChainError = err.Error()
		}
	}

	report.LedgerBalanced = true
	if qs.ledger != nil {
		if err := qs.ledger.ValidateGlobalBalance(); err != nil {
			report.LedgerBalanced = false
			report.LedgerError = err.Error()
		}
	}

	report.IsHealthy = report.ChainError == "" && report.LedgerBalanced
	return report, nil
}

// --- helpers ---

func (qs *QueryService) quote(ctx context.Context, collateral string) (oracle.PriceQuote, bool) {
	if qs.live == nil {
		return oracle.PriceQuote{}, false
	}
	q, err := qs.live.CollateralQuote(ctx, fpmath.Brand(collateral))
	if err != nil || q.AmountIn.Value == 0 {
		return oracle.PriceQuote{}, false
	}
	return q, true
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	status := "ok"
	if *err != nil {
		status = "error"
		errType := "internal"
		if errors.Is(*err, ErrNotFound) {
			errType = "not_found"
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, errType).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
}
