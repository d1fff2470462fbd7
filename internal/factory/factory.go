// Package factory owns one vault manager per collateral type and routes
// owner requests to them by brand.
package factory

import (
	"VaultLedger/internal/amm"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/state"
	"VaultLedger/internal/timer"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownCollateral  = errors.New("factory: unknown collateral")
	ErrDuplicateVaultType = errors.New("factory: vault type already exists")
	ErrFactoryRunning     = errors.New("factory: already running")
)

type Config struct {
	Debt    fpmath.Brand
	Ledger  *ledger.Ledger
	Oracle  oracle.PriceOracle
	Timer   timer.Service
	Sink    event.Sink
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// VaultFactory shares one ledger, oracle, timer and event sink between its
// managers.
type VaultFactory struct {
	cfg     Config
	reserve *state.Reserve

	mu       sync.RWMutex
	managers map[fpmath.Brand]*vaultType
	running  bool
}

type vaultType struct {
	manager *state.Manager
	params  *state.ParamStore
	pool    amm.AMM
}

func New(cfg Config) (*VaultFactory, error) {
	if cfg.Debt == "" || cfg.Ledger == nil || cfg.Oracle == nil || cfg.Timer == nil {
		return nil, errors.New("factory needs a debt brand, ledger, oracle and timer")
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard{}
	}
	return &VaultFactory{
		cfg:      cfg,
		reserve:  state.NewReserve(cfg.Ledger, cfg.Logger.With().Str("component", "reserve").Logger()),
		managers: make(map[fpmath.Brand]*vaultType),
	}, nil
}

// AddVaultType creates the manager for a collateral type. pool is the
// market its liquidations sell into.
func (f *VaultFactory) AddVaultType(cc CollateralConfig, pool amm.AMM) (*state.Manager, error) {
	if err := cc.Validate(f.cfg.Debt); err != nil {
		return nil, fmt.Errorf("add vault type %s: %w", cc.Brand, err)
	}
	brand := fpmath.Brand(cc.Brand)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, ErrFactoryRunning
	}
	if _, exists := f.managers[brand]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVaultType, brand)
	}

	p, err := cc.Params(f.cfg.Debt)
	if err != nil {
		return nil, err
	}
	params, err := state.NewParamStore(f.cfg.Debt, p)
	if err != nil {
		return nil, err
	}

	strategy, err := f.newStrategy(cc, pool, f.cfg.Logger.With().Str("collateral", string(brand)).Logger())
	if err != nil {
		return nil, fmt.Errorf("add vault type %s: %w", brand, err)
	}

	mgr, err := state.NewManager(state.ManagerConfig{
		Collateral: brand,
		Debt:       f.cfg.Debt,
		Params:     params,
		Ledger:     f.cfg.Ledger,
		Oracle:     f.cfg.Oracle,
		Timer:      f.cfg.Timer,
		Strategy:   strategy,
		Shortfall:  f.reserve,
		Sink:       f.cfg.Sink,
		QuoteUnit:  cc.QuoteUnit,
		Logger:     f.cfg.Logger,
		Metrics:    f.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	f.managers[brand] = &vaultType{manager: mgr, params: params, pool: pool}

	f.cfg.Logger.Info().
		Str("collateral", string(brand)).
		Str("strategy", strategy.Name()).
		Str("liquidation_margin", p.LiquidationMargin.String()).
		Str("debt_limit", p.DebtLimit.String()).
		Msg("vault type added")
	return mgr, nil
}

func (f *VaultFactory) newStrategy(cc CollateralConfig, pool amm.AMM, logger zerolog.Logger) (liquidation.Strategy, error) {
	switch cc.Strategy {
	case liquidation.StrategyIncremental:
		stepper := timer.NewStepper(f.cfg.Timer, time.Duration(cc.StepSeconds)*time.Second)
		return liquidation.NewIncremental(*cc.Incremental, pool, f.cfg.Oracle, stepper, f.cfg.Ledger, logger, f.cfg.Metrics)
	default:
		return liquidation.NewMinimumSale(pool, f.cfg.Ledger, logger, f.cfg.Metrics), nil
	}
}

// Run runs every manager until ctx is done or one of them fails.
func (f *VaultFactory) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrFactoryRunning
	}
	f.running = true
	managers := make([]*state.Manager, 0, len(f.managers))
	for _, vt := range f.managers {
		managers = append(managers, vt.manager)
	}
	f.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			if err := m.Run(gctx); err != nil {
				return fmt.Errorf("manager %s: %w", m.CollateralBrand(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ============================================================================
// Lookup
// ============================================================================

func (f *VaultFactory) Manager(collateral fpmath.Brand) (*state.Manager, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	vt, ok := f.managers[collateral]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	return vt.manager, nil
}

// Collaterals lists the vault types in brand order.
func (f *VaultFactory) Collaterals() []fpmath.Brand {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]fpmath.Brand, 0, len(f.managers))
	for b := range f.managers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *VaultFactory) DebtBrand() fpmath.Brand { return f.cfg.Debt }
func (f *VaultFactory) Reserve() *state.Reserve { return f.reserve }
func (f *VaultFactory) Ledger() *ledger.Ledger  { return f.cfg.Ledger }

// UpdateParams replaces the governed parameters of a vault type.
func (f *VaultFactory) UpdateParams(collateral fpmath.Brand, p state.Params) error {
	f.mu.RLock()
	vt, ok := f.managers[collateral]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	return vt.params.Update(p)
}

// Params returns the current parameters of a vault type.
func (f *VaultFactory) Params(collateral fpmath.Brand) (state.Params, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	vt, ok := f.managers[collateral]
	if !ok {
		return state.Params{}, fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	return vt.params.Params(), nil
}

// ============================================================================
// Routing
// ============================================================================

// OpenVault routes by the brand of the collateral given.
func (f *VaultFactory) OpenVault(ctx context.Context, req state.OpenRequest) (state.OpenResult, error) {
	m, err := f.Manager(req.Give.Brand)
	if err != nil {
		return state.OpenResult{}, err
	}
	return m.OpenVault(ctx, req)
}

func (f *VaultFactory) AdjustVault(ctx context.Context, req state.AdjustRequest) (state.AdjustResult, error) {
	m, err := f.Manager(req.Handle.Collateral)
	if err != nil {
		return state.AdjustResult{}, err
	}
	return m.AdjustVault(ctx, req)
}

func (f *VaultFactory) CloseVault(ctx context.Context, req state.CloseRequest) (state.CloseResult, error) {
	m, err := f.Manager(req.Handle.Collateral)
	if err != nil {
		return state.CloseResult{}, err
	}
	return m.CloseVault(ctx, req)
}

func (f *VaultFactory) MakeTransferInvitation(ctx context.Context, h state.VaultHandle) (state.TransferInvitation, error) {
	m, err := f.Manager(h.Collateral)
	if err != nil {
		return state.TransferInvitation{}, err
	}
	return m.MakeTransferInvitation(ctx, h)
}

func (f *VaultFactory) AcceptTransfer(ctx context.Context, inv state.TransferInvitation, newOwner string) (state.VaultHandle, error) {
	m, err := f.Manager(inv.Collateral)
	if err != nil {
		return state.VaultHandle{}, err
	}
	return m.AcceptTransfer(ctx, inv, newOwner)
}

func (f *VaultFactory) GetVault(ctx context.Context, collateral fpmath.Brand, id uint64) (state.VaultState, error) {
	m, err := f.Manager(collateral)
	if err != nil {
		return state.VaultState{}, err
	}
	return m.GetVault(ctx, id)
}

func (f *VaultFactory) ListVaults(ctx context.Context, collateral fpmath.Brand) ([]state.VaultState, error) {
	m, err := f.Manager(collateral)
	if err != nil {
		return nil, err
	}
	return m.ListVaults(ctx)
}

func (f *VaultFactory) CollateralQuote(ctx context.Context, collateral fpmath.Brand) (oracle.PriceQuote, error) {
	m, err := f.Manager(collateral)
	if err != nil {
		return oracle.PriceQuote{}, err
	}
	return m.GetCollateralQuote(ctx)
}

// PoolReserves reports the market a vault type liquidates into.
func (f *VaultFactory) PoolReserves(ctx context.Context, collateral fpmath.Brand) (amm.Reserves, error) {
	f.mu.RLock()
	vt, ok := f.managers[collateral]
	f.mu.RUnlock()
	if !ok {
		return amm.Reserves{}, fmt.Errorf("%w: %s", ErrUnknownCollateral, collateral)
	}
	return vt.pool.PoolReserves(ctx, collateral)
}

func (f *VaultFactory) ManagerMetrics(ctx context.Context, collateral fpmath.Brand) (state.ManagerMetrics, error) {
	m, err := f.Manager(collateral)
	if err != nil {
		return state.ManagerMetrics{}, err
	}
	return m.Metrics(ctx)
}

func (f *VaultFactory) LiquidateAll(ctx context.Context, collateral fpmath.Brand) error {
	m, err := f.Manager(collateral)
	if err != nil {
		return err
	}
	return m.LiquidateAll(ctx)
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot captures every manager. It is consistent per manager only; the
// caller pairs it with a ledger snapshot taken while requests are paused.
func (f *VaultFactory) Snapshot(ctx context.Context) ([]state.ManagerSnapshot, error) {
	var out []state.ManagerSnapshot
	for _, b := range f.Collaterals() {
		m, err := f.Manager(b)
		if err != nil {
			return nil, err
		}
		s, err := m.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", b, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// FinalSnapshot captures every manager after Run has returned.
func (f *VaultFactory) FinalSnapshot() ([]state.ManagerSnapshot, error) {
	var out []state.ManagerSnapshot
	for _, b := range f.Collaterals() {
		m, err := f.Manager(b)
		if err != nil {
			return nil, err
		}
		s, err := m.FinalSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Restore loads manager snapshots before Run.
func (f *VaultFactory) Restore(snapshots []state.ManagerSnapshot) error {
	for _, s := range snapshots {
		m, err := f.Manager(s.Collateral)
		if err != nil {
			return err
		}
		if err := m.Restore(s); err != nil {
			return err
		}
	}
	return nil
}
