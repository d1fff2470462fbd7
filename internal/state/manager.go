package state

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/timer"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxAdjustAttempts allows one re-quote when the vault changed while the
// adjustment was suspended on the oracle.
const maxAdjustAttempts = 2

type ManagerConfig struct {
	Collateral fpmath.Brand
	Debt       fpmath.Brand

	Params    ParamSource
	Ledger    *ledger.Ledger
	Oracle    oracle.PriceOracle
	Timer     timer.Service
	Strategy  liquidation.Strategy
	Shortfall ShortfallReporter
	Sink      event.Sink

	// QuoteUnit is the collateral amount GetCollateralQuote prices.
	QuoteUnit int64

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Manager owns every vault of one collateral type. All state is touched
// only from the goroutine running Run; public methods post a turn and wait
// for its result. Calls to the oracle and the AMM happen between turns.
type Manager struct {
	collateral fpmath.Brand
	debt       fpmath.Brand
	params     ParamSource
	ledger     *ledger.Ledger
	oracle     oracle.PriceOracle
	timer      timer.Service
	strategy   liquidation.Strategy
	shortfall  ShortfallReporter
	sink       event.Sink
	quoteUnit  int64
	logger     zerolog.Logger
	metrics    *observability.Metrics

	inbox   chan func()
	liqDone chan liquidationOutcome
	stopped chan struct{}
	running atomic.Bool
	runCtx  context.Context

	// owned by the turn loop
	vaults               map[uint64]*Vault
	queue                *PrioritizedVaults
	compoundedInterest   fpmath.Ratio
	latestInterestUpdate int64
	vaultCounter         uint64
	totals               ManagerMetrics
	outstanding          oracle.QuoteSubscription
	pass                 *liquidationPass
	inFlight             *activeLiquidation
	stalled              map[uint64]struct{}
	pendingSeats         []pendingSeat
	bulkUpdate           bool
	stopping             bool
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Collateral == "" || cfg.Debt == "" || cfg.Collateral == cfg.Debt {
		return nil, fmt.Errorf("manager needs distinct collateral and debt brands, got %q/%q", cfg.Collateral, cfg.Debt)
	}
	if cfg.Params == nil || cfg.Ledger == nil || cfg.Oracle == nil || cfg.Timer == nil || cfg.Strategy == nil {
		return nil, errors.New("manager needs params, ledger, oracle, timer and strategy")
	}
	if err := ValidateParams(cfg.Params.Params(), cfg.Debt); err != nil {
		return nil, fmt.Errorf("manager %s: %w", cfg.Collateral, err)
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard{}
	}
	if cfg.QuoteUnit <= 0 {
		cfg.QuoteUnit = 1
	}

	m := &Manager{
		collateral: cfg.Collateral,
		debt:       cfg.Debt,
		params:     cfg.Params,
		ledger:     cfg.Ledger,
		oracle:     cfg.Oracle,
		timer:      cfg.Timer,
		strategy:   cfg.Strategy,
		shortfall:  cfg.Shortfall,
		sink:       cfg.Sink,
		quoteUnit:  cfg.QuoteUnit,
		logger: cfg.Logger.With().
			Str("collateral", string(cfg.Collateral)).
			Str("manager", string(cfg.Collateral)+"/"+string(cfg.Debt)).
			Logger(),
		metrics: cfg.Metrics,

		inbox:   make(chan func()),
		liqDone: make(chan liquidationOutcome, 1),
		stopped: make(chan struct{}),

		vaults:               make(map[uint64]*Vault),
		compoundedInterest:   fpmath.UnitInterest(cfg.Debt),
		latestInterestUpdate: cfg.Timer.Now().Unix(),
		totals:               emptyMetrics(cfg.Collateral, cfg.Debt),
		stalled:              make(map[uint64]struct{}),
	}
	m.queue = m.newQueue()
	return m, nil
}

// newQueue re-arms the price trigger whenever the worst ratio rises,
// except during the bulk interest update.
func (m *Manager) newQueue() *PrioritizedVaults {
	q := NewPrioritizedVaults()
	q.OnHighestRatioChanged(func(QueueEntry) {
		if !m.bulkUpdate {
			m.reschedulePriceCheck()
		}
	})
	return q
}

func (m *Manager) CollateralBrand() fpmath.Brand { return m.collateral }
func (m *Manager) DebtBrand() fpmath.Brand       { return m.debt }
func (m *Manager) StrategyName() string          { return m.strategy.Name() }

// ============================================================================
// Turn loop
// ============================================================================

// Run executes turns until ctx is cancelled. It charges interest on every
// charging period of the timer and reacts to the outstanding price trigger.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("manager %s already running", m.collateral)
	}
	defer close(m.stopped)
	m.runCtx = ctx

	period := time.Duration(m.params.Params().ChargingPeriod) * time.Second
	ticks := m.timer.Subscribe(period)
	defer ticks.Stop()

	m.logger.Info().
		Dur("charging_period", period).
		Str("strategy", m.strategy.Name()).
		Int("vaults", len(m.vaults)).
		Msg("vault manager started")

	m.returnPendingSeats()
	m.reschedulePriceCheck()
	m.publishGauges()

	for {
		var quotes <-chan oracle.PriceQuote
		if m.outstanding != nil {
			quotes = m.outstanding.C()
		}

		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case fn := <-m.inbox:
			m.timed(fn)
		case q := <-quotes:
			m.timed(func() { m.onQuote(q) })
		case now := <-ticks.C():
			m.timed(func() { m.chargeAllVaults(now) })
		case out := <-m.liqDone:
			m.timed(func() { m.settleLiquidation(out) })
		}
	}
}

func (m *Manager) timed(fn func()) {
	start := time.Now()
	fn()
	if m.metrics != nil {
		m.metrics.ManagerTurnLength.WithLabelValues(string(m.collateral)).Observe(time.Since(start).Seconds())
	}
}

// do runs fn as a turn and returns its error.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case m.inbox <- func() { done <- fn() }:
	case <-m.stopped:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) shutdown() {
	m.stopping = true
	if m.outstanding != nil {
		m.outstanding.Stop()
		m.outstanding = nil
	}
	var waiters []chan error
	if m.pass != nil {
		waiters = m.pass.waiters
		m.pass = nil
	}
	if m.inFlight != nil {
		// The strategy observes the same cancelled context.
		m.settleLiquidation(<-m.liqDone)
	}
	for _, w := range waiters {
		w <- ErrManagerStopped
	}
	m.logger.Info().Msg("vault manager stopped")
}

func (m *Manager) now() time.Time {
	return m.timer.Now()
}

// ============================================================================
// Requests
// ============================================================================

// VaultHandle is the holder capability for one vault.
type VaultHandle struct {
	Collateral fpmath.Brand `json:"collateral"`
	VaultID    uint64       `json:"vault_id"`
	Token      uuid.UUID    `json:"token"`
}

type OpenRequest struct {
	Owner string
	Give  fpmath.Amount // collateral
	Want  fpmath.Amount // debt
}

type AdjustRequest struct {
	Handle         VaultHandle
	GiveCollateral fpmath.Amount
	WantCollateral fpmath.Amount
	GiveDebt       fpmath.Amount
	WantDebt       fpmath.Amount
}

type CloseRequest struct {
	Handle  VaultHandle
	Payment fpmath.Amount
}

type OpenResult struct {
	Handle VaultHandle   `json:"handle"`
	Vault  VaultState    `json:"vault"`
	Fee    fpmath.Amount `json:"fee"`
}

// TransferInvitation is a one-shot capability for taking over a vault.
type TransferInvitation struct {
	Collateral   fpmath.Brand `json:"collateral"`
	VaultID      uint64       `json:"vault_id"`
	InvitationID uuid.UUID    `json:"invitation_id"`
	Vault        VaultState   `json:"vault"`
}

// orEmpty validates a request amount; the zero value means none.
func orEmpty(what string, a fpmath.Amount, brand fpmath.Brand) (fpmath.Amount, error) {
	if a.Brand == "" && a.Value == 0 {
		return fpmath.Empty(brand), nil
	}
	if err := a.Validate(brand); err != nil {
		return fpmath.Amount{}, wrapAmountErr(what, err)
	}
	return a, nil
}

func (r *AdjustRequest) normalize(collateral, debt fpmath.Brand) error {
	var err error
	if r.GiveCollateral, err = orEmpty("give collateral", r.GiveCollateral, collateral); err != nil {
		return err
	}
	if r.WantCollateral, err = orEmpty("want collateral", r.WantCollateral, collateral); err != nil {
		return err
	}
	if r.GiveDebt, err = orEmpty("give debt", r.GiveDebt, debt); err != nil {
		return err
	}
	if r.WantDebt, err = orEmpty("want debt", r.WantDebt, debt); err != nil {
		return err
	}
	if r.GiveCollateral.IsEmpty() && r.WantCollateral.IsEmpty() && r.GiveDebt.IsEmpty() && r.WantDebt.IsEmpty() {
		return invalid("empty adjustment")
	}
	return nil
}

// holderVault resolves h to a vault its token still controls.
func (m *Manager) holderVault(h VaultHandle) (*Vault, error) {
	if h.Collateral != m.collateral {
		return nil, invalid("handle for %s sent to %s manager", h.Collateral, m.collateral)
	}
	v, ok := m.vaults[h.VaultID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultRef(m.collateral, h.VaultID))
	}
	if err := v.authorize(h.Token); err != nil {
		return nil, err
	}
	return v, nil
}

// MaxDebtFor is the most debt collateral supports at the current price:
// floor(quote / liquidationMargin). It does not run as a turn.
func (m *Manager) MaxDebtFor(ctx context.Context, collateral fpmath.Amount) (fpmath.Amount, error) {
	if collateral.IsEmpty() {
		return fpmath.Empty(m.debt), nil
	}
	quote, err := m.oracle.QuoteGiven(ctx, collateral, m.debt)
	if err != nil {
		return fpmath.Amount{}, fmt.Errorf("quote %s: %w", collateral, err)
	}
	// floor keeps the ceiling low
	return fpmath.FloorDivideBy(quote.AmountOut, m.params.Params().LiquidationMargin)
}

// GetCollateralQuote prices one collateral unit in debt.
func (m *Manager) GetCollateralQuote(ctx context.Context) (oracle.PriceQuote, error) {
	return m.oracle.QuoteGiven(ctx, fpmath.MustAmount(m.collateral, m.quoteUnit), m.debt)
}

func (m *Manager) OpenVault(ctx context.Context, req OpenRequest) (OpenResult, error) {
	var res OpenResult
	if req.Owner == "" {
		return res, m.observeOp("open", invalid("owner required"))
	}
	if err := req.Give.Validate(m.collateral); err != nil {
		return res, m.observeOp("open", wrapAmountErr("give", err))
	}
	if err := req.Want.Validate(m.debt); err != nil {
		return res, m.observeOp("open", wrapAmountErr("want", err))
	}

	maxDebt, err := m.MaxDebtFor(ctx, req.Give)
	if err != nil {
		return res, m.observeOp("open", err)
	}

	err = m.do(ctx, func() error {
		id := m.vaultCounter + 1
		v := newVault(m, id, req.Owner)
		fee, err := v.open(req.Give, req.Want, maxDebt)
		if err != nil {
			return err
		}
		m.vaultCounter = id
		m.vaults[id] = v

		res = OpenResult{
			Handle: VaultHandle{Collateral: m.collateral, VaultID: id, Token: v.holder},
			Vault:  v.State(),
			Fee:    fee,
		}
		m.emit(&event.VaultOpened{
			Brand:     m.collateral,
			Vault:     res.Vault.View(),
			Loan:      req.Want,
			Fee:       fee,
			Timestamp: m.now(),
		})
		m.logger.Info().
			Uint64("vault_id", id).
			Str("owner", req.Owner).
			Str("collateral", req.Give.String()).
			Str("debt", res.Vault.Debt.String()).
			Msg("vault opened")
		return nil
	})
	return res, m.observeOp("open", err)
}

// AdjustVault changes collateral and debt atomically. The price quote is
// taken between two turns; the second turn re-validates the vault and, if
// the collateral went up past what the quote covered, the quote is taken
// again.
func (m *Manager) AdjustVault(ctx context.Context, req AdjustRequest) (AdjustResult, error) {
	var res AdjustResult
	if err := req.normalize(m.collateral, m.debt); err != nil {
		return res, m.observeOp("adjust", err)
	}

	for attempt := 0; attempt < maxAdjustAttempts; attempt++ {
		var newCollateralPre fpmath.Amount
		err := m.do(ctx, func() error {
			v, err := m.holderVault(req.Handle)
			if err != nil {
				return err
			}
			if err := v.assertActive(); err != nil {
				return err
			}
			newCollateralPre, err = fpmath.AddSubtract(v.CollateralAmount(), req.GiveCollateral, req.WantCollateral)
			if err != nil {
				return wrapAmountErr("collateral delta", err)
			}
			return nil
		})
		if err != nil {
			return res, m.observeOp("adjust", err)
		}

		maxDebtPre, err := m.MaxDebtFor(ctx, newCollateralPre)
		if err != nil {
			return res, m.observeOp("adjust", err)
		}

		var restart bool
		err = m.do(ctx, func() error {
			v, err := m.holderVault(req.Handle)
			if err != nil {
				return err
			}
			restart, res, err = v.adjustBalances(req, newCollateralPre, maxDebtPre)
			if err != nil || restart {
				return err
			}
			res.Restarted = attempt > 0
			m.emit(&event.VaultAdjusted{
				Brand:          m.collateral,
				Vault:          res.Vault.View(),
				CollateralGive: req.GiveCollateral,
				CollateralWant: req.WantCollateral,
				DebtGive:       req.GiveDebt,
				DebtWant:       req.WantDebt,
				Fee:            res.Fee,
				Restarted:      res.Restarted,
				Timestamp:      m.now(),
			})
			return nil
		})
		if err != nil || !restart {
			return res, m.observeOp("adjust", err)
		}
		m.logger.Debug().
			Uint64("vault_id", req.Handle.VaultID).
			Int("attempt", attempt+1).
			Msg("collateral rose past quoted capacity, re-quoting")
	}
	return res, m.observeOp("adjust", fmt.Errorf("%w: %s", ErrConflict, vaultRef(m.collateral, req.Handle.VaultID)))
}

func (m *Manager) CloseVault(ctx context.Context, req CloseRequest) (CloseResult, error) {
	var res CloseResult
	payment, err := orEmpty("payment", req.Payment, m.debt)
	if err != nil {
		return res, m.observeOp("close", err)
	}

	err = m.do(ctx, func() error {
		v, err := m.holderVault(req.Handle)
		if err != nil {
			return err
		}
		if res, err = v.close(payment); err != nil {
			return err
		}
		m.emit(&event.VaultClosed{
			Brand:              m.collateral,
			Vault:              res.Vault.View(),
			DebtRepaid:         res.DebtRepaid,
			CollateralReturned: res.CollateralReturned,
			OverageReturned:    res.OverageReturned,
			Timestamp:          m.now(),
		})
		m.logger.Info().
			Uint64("vault_id", v.id).
			Str("repaid", res.DebtRepaid.String()).
			Str("returned", res.CollateralReturned.String()).
			Msg("vault closed")
		return nil
	})
	return res, m.observeOp("close", err)
}

// MakeTransferInvitation revokes h and returns an invitation for a new
// owner. The revoked handle reports the vault as transferring.
func (m *Manager) MakeTransferInvitation(ctx context.Context, h VaultHandle) (TransferInvitation, error) {
	var inv TransferInvitation
	err := m.do(ctx, func() error {
		v, err := m.holderVault(h)
		if err != nil {
			return err
		}
		id, err := v.makeTransferInvitation()
		if err != nil {
			return err
		}
		inv = TransferInvitation{Collateral: m.collateral, VaultID: v.id, InvitationID: id, Vault: v.State()}
		m.emit(&event.VaultTransferInvited{
			Brand:        m.collateral,
			Vault:        inv.Vault.View(),
			InvitationID: id.String(),
			Timestamp:    m.now(),
		})
		return nil
	})
	return inv, m.observeOp("transfer", err)
}

// AcceptTransfer consumes inv and hands the vault to newOwner.
func (m *Manager) AcceptTransfer(ctx context.Context, inv TransferInvitation, newOwner string) (VaultHandle, error) {
	var h VaultHandle
	if newOwner == "" {
		return h, m.observeOp("accept", invalid("new owner required"))
	}
	err := m.do(ctx, func() error {
		v, ok := m.vaults[inv.VaultID]
		if !ok || inv.Collateral != m.collateral {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, vaultRef(inv.Collateral, inv.VaultID))
		}
		previous, err := v.acceptTransfer(inv.InvitationID, newOwner)
		if err != nil {
			return err
		}
		h = VaultHandle{Collateral: m.collateral, VaultID: v.id, Token: v.holder}
		m.emit(&event.VaultTransferred{
			Brand:         m.collateral,
			Vault:         v.State().View(),
			PreviousOwner: previous,
			InvitationID:  inv.InvitationID.String(),
			Timestamp:     m.now(),
		})
		return nil
	})
	return h, m.observeOp("accept", err)
}

// GetVault reads a vault by id.
func (m *Manager) GetVault(ctx context.Context, id uint64) (VaultState, error) {
	var s VaultState
	err := m.do(ctx, func() error {
		v, ok := m.vaults[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrVaultNotFound, vaultRef(m.collateral, id))
		}
		s = v.State()
		return nil
	})
	return s, err
}

// HolderState reads a vault through a handle. A handle revoked by a
// transfer sees the transferring phase.
func (m *Manager) HolderState(ctx context.Context, h VaultHandle) (VaultState, error) {
	var s VaultState
	err := m.do(ctx, func() error {
		v, err := m.holderVault(h)
		if errors.Is(err, ErrHandleRevoked) {
			s = m.vaults[h.VaultID].State()
			s.Phase = PhaseTransferring
			return nil
		}
		if err != nil {
			return err
		}
		s = v.State()
		return nil
	})
	return s, err
}

// ListVaults returns every vault the manager has opened, by id.
func (m *Manager) ListVaults(ctx context.Context) ([]VaultState, error) {
	var out []VaultState
	err := m.do(ctx, func() error {
		ids := m.sortedVaultIDs()
		out = make([]VaultState, 0, len(ids))
		for _, id := range ids {
			out = append(out, m.vaults[id].State())
		}
		return nil
	})
	return out, err
}

func (m *Manager) sortedVaultIDs() []uint64 {
	ids := make([]uint64, 0, len(m.vaults))
	for id := range m.vaults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ============================================================================
// Accounting
// ============================================================================

// ManagerMetrics follows the convention that nouns are present values and
// past participles are running sums.
type ManagerMetrics struct {
	Collateral fpmath.Brand `json:"collateral"`

	// NumVaults counts active and liquidating vaults; NumQueued only those
	// carrying debt in the priority queue.
	NumVaults       int           `json:"num_vaults"`
	NumQueued       int           `json:"num_queued"`
	NumLiquidating  int           `json:"num_liquidating"`
	TotalCollateral fpmath.Amount `json:"total_collateral"`
	TotalDebt       fpmath.Amount `json:"total_debt"`

	TotalCollateralSold      fpmath.Amount `json:"total_collateral_sold"`
	TotalOverageReceived     fpmath.Amount `json:"total_overage_received"`
	TotalProceedsReceived    fpmath.Amount `json:"total_proceeds_received"`
	TotalShortfallReceived   fpmath.Amount `json:"total_shortfall_received"`
	TotalPenaltyReceived     fpmath.Amount `json:"total_penalty_received"`
	TotalInterestMinted      fpmath.Amount `json:"total_interest_minted"`
	NumLiquidationsCompleted int           `json:"num_liquidations_completed"`
	NumLiquidationsStalled   int           `json:"num_liquidations_stalled"`

	CompoundedInterest   fpmath.Ratio `json:"compounded_interest"`
	LatestInterestUpdate int64        `json:"latest_interest_update"`
}

func emptyMetrics(collateral, debt fpmath.Brand) ManagerMetrics {
	return ManagerMetrics{
		Collateral:             collateral,
		TotalCollateral:        fpmath.Empty(collateral),
		TotalDebt:              fpmath.Empty(debt),
		TotalCollateralSold:    fpmath.Empty(collateral),
		TotalOverageReceived:   fpmath.Empty(debt),
		TotalProceedsReceived:  fpmath.Empty(debt),
		TotalShortfallReceived: fpmath.Empty(debt),
		TotalPenaltyReceived:   fpmath.Empty(debt),
		TotalInterestMinted:    fpmath.Empty(debt),
	}
}

func (m *Manager) Metrics(ctx context.Context) (ManagerMetrics, error) {
	var out ManagerMetrics
	err := m.do(ctx, func() error {
		out = m.currentMetrics()
		return nil
	})
	return out, err
}

func (m *Manager) currentMetrics() ManagerMetrics {
	out := m.totals
	for _, v := range m.vaults {
		if v.phase == PhaseActive || v.phase == PhaseLiquidating {
			out.NumVaults++
		}
	}
	out.NumQueued = m.queue.Len()
	out.NumLiquidating = len(m.stalled)
	if m.inFlight != nil {
		out.NumLiquidating++
	}
	out.CompoundedInterest = m.compoundedInterest
	out.LatestInterestUpdate = m.latestInterestUpdate
	return out
}

func (m *Manager) rewardPool() ledger.AccountKey {
	return RewardPoolAccount(m.collateral, m.debt)
}

func (m *Manager) penaltyReserve() ledger.AccountKey {
	return PenaltyReserveAccount(m.collateral, m.debt)
}

func (m *Manager) checkDebtLimit(toMint fpmath.Amount) error {
	limit := m.params.Params().DebtLimit
	after := fpmath.MustAdd(m.totals.TotalDebt, toMint)
	if !fpmath.MustGTE(limit, after) {
		return fmt.Errorf("%w: minting %s would bring total debt to %s, limit %s", ErrDebtLimitExceeded, toMint, after, limit)
	}
	return nil
}

func (m *Manager) recordMint(toMint fpmath.Amount) {
	m.totals.TotalDebt = fpmath.MustAdd(m.totals.TotalDebt, toMint)
}

func (m *Manager) recordBurn(burned fpmath.Amount) {
	m.totals.TotalDebt = fpmath.MustSub(m.totals.TotalDebt, burned)
}

// handleBalanceChange keeps the collateral total and the queue in step with
// a vault whose balances just changed.
func (m *Manager) handleBalanceChange(v *Vault, oldCollateral fpmath.Amount) {
	newCollateral := v.CollateralAmount()
	m.totals.TotalCollateral = fpmath.MustSub(fpmath.MustAdd(m.totals.TotalCollateral, newCollateral), oldCollateral)

	if v.phase == PhaseActive && !v.debtSnapshot.IsEmpty() {
		m.queue.RefreshVault(v.id, v.CurrentDebt(), newCollateral)
	} else {
		m.queue.RemoveVault(v.id)
	}
	m.publishGauges()
}

func (m *Manager) emit(e event.Event) {
	m.sink.Emit(e)
}

func (m *Manager) observeOp(op string, err error) error {
	if m.metrics != nil {
		result := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrValidation):
			result = "invalid"
		case errors.Is(err, ErrCapacity), errors.Is(err, ErrDebtLimitExceeded), errors.Is(err, ErrLoanTooSmall):
			result = "capacity"
		default:
			result = "error"
		}
		m.metrics.VaultOperations.WithLabelValues(string(m.collateral), op, result).Inc()
	}
	return err
}

func (m *Manager) publishGauges() {
	if m.metrics == nil {
		return
	}
	label := string(m.collateral)
	m.metrics.VaultsOpen.WithLabelValues(label).Set(float64(m.queue.Len()))
	m.metrics.TotalCollateral.WithLabelValues(label).Set(float64(m.totals.TotalCollateral.Value))
	m.metrics.TotalDebt.WithLabelValues(label).Set(float64(m.totals.TotalDebt.Value))
	r := m.compoundedInterest
	m.metrics.CompoundedFactor.WithLabelValues(label).Set(float64(r.Numerator.Value) / float64(r.Denominator.Value))
}
