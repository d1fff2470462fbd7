package state

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// liquidationPass liquidates vaults one at a time until its selection is
// exhausted or a sale stalls.
type liquidationPass struct {
	// threshold selects queue entries at or above a debt/collateral ratio
	threshold *fpmath.Ratio

	// ids are tried first: active vaults, or stalled ones to retry
	ids []uint64

	// force liquidates every vault in the queue
	force bool

	waiters []chan error
	err     error
}

type activeLiquidation struct {
	vaultID       uint64
	id            uuid.UUID
	seat          liquidation.Seat
	collateralPre fpmath.Amount
	penalty       fpmath.Amount
	retry         bool
	startedAt     time.Time
}

type liquidationOutcome struct {
	res liquidation.Result
	err error
}

// pendingSeat is a seat restored from a snapshot taken mid-sale.
type pendingSeat struct {
	vaultID uint64
	seat    liquidation.Seat
}

// LiquidateAll liquidates every vault that carries debt, regardless of
// price, and retries stalled ones. It returns when the pass ends.
func (m *Manager) LiquidateAll(ctx context.Context) error {
	wait := make(chan error, 1)
	err := m.do(ctx, func() error {
		if m.pass != nil {
			m.pass.force = true
			m.pass.waiters = append(m.pass.waiters, wait)
			return nil
		}
		m.startPass(&liquidationPass{ids: m.stalledIDs(), force: true, waiters: []chan error{wait}})
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) stalledIDs() []uint64 {
	ids := make([]uint64, 0, len(m.stalled))
	for id := range m.stalled {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) startPass(p *liquidationPass) {
	if m.outstanding != nil {
		m.outstanding.Stop()
		m.outstanding = nil
	}
	m.pass = p
	m.advancePass()
}

// advancePass starts the next liquidation of the running pass, or ends it.
func (m *Manager) advancePass() {
	p := m.pass
	if p == nil {
		m.reschedulePriceCheck()
		return
	}
	if m.inFlight != nil || m.stopping {
		return
	}
	id, retry, ok := m.nextInPass(p)
	if !ok {
		m.finishPass()
		return
	}
	m.beginLiquidation(id, retry)
}

// nextInPass picks the next vault. Queue selections are re-derived on each
// step since every liquidation removes the head.
func (m *Manager) nextInPass(p *liquidationPass) (id uint64, retry bool, ok bool) {
	for len(p.ids) > 0 {
		id, p.ids = p.ids[0], p.ids[1:]
		v, found := m.vaults[id]
		if !found {
			continue
		}
		switch {
		case v.phase == PhaseActive && !v.debtSnapshot.IsEmpty():
			return id, false, true
		case v.phase == PhaseLiquidating && v.stalled:
			return id, true, true
		}
	}
	head, found := m.queue.Highest()
	if !found {
		return 0, false, false
	}
	if p.force || (p.threshold != nil && head.AtOrAbove(*p.threshold)) {
		return head.VaultID, false, true
	}
	return 0, false, false
}

func (m *Manager) finishPass() {
	p := m.pass
	m.pass = nil
	for _, w := range p.waiters {
		w <- p.err
	}
	m.reschedulePriceCheck()
}

// beginLiquidation moves a vault's collateral, and any proceeds carried from
// a stalled attempt, into a fresh seat and hands it to the strategy.
func (m *Manager) beginLiquidation(id uint64, retry bool) {
	v := m.vaults[id]
	debt := v.CurrentDebt()
	penalty, err := fpmath.CeilMultiplyBy(debt, m.params.Params().LiquidationPenalty)
	if err != nil {
		panic(fmt.Sprintf("FATAL: vault %s penalty: %v", v.ref(), err))
	}

	if !retry {
		v.liquidating()
		m.queue.RemoveVault(id)
	}
	delete(m.stalled, id)

	liquidationID := uuid.New()
	seat := liquidation.NewSeat(liquidationID, m.collateral, m.debt)
	collateral := v.CollateralAmount()
	carried := m.ledger.Amount(v.proceedsEscrow())

	b := ledger.NewBuilder("liquidation:"+liquidationID.String()+":seat", m.now()).
		Transfer(v.collateralEscrow(), seat.Collateral, collateral, ledger.JournalTypeLiquidationSeat).
		Transfer(v.proceedsEscrow(), seat.Proceeds, carried, ledger.JournalTypeLiquidationSeat)
	m.mustCommit(b, v)

	m.inFlight = &activeLiquidation{
		vaultID:       id,
		id:            liquidationID,
		seat:          seat,
		collateralPre: collateral,
		penalty:       penalty,
		retry:         retry,
		startedAt:     time.Now(),
	}

	m.emit(&event.LiquidationStarted{
		LiquidationID: liquidationID,
		Brand:         m.collateral,
		Vault:         v.State().View(),
		Penalty:       penalty,
		Retry:         retry,
		Timestamp:     m.now(),
	})
	if m.metrics != nil {
		m.metrics.LiquidationStarted.WithLabelValues(string(m.collateral), m.strategy.Name()).Inc()
	}
	m.logger.Warn().
		Uint64("vault_id", id).
		Str("liquidation_id", liquidationID.String()).
		Str("collateral", collateral.String()).
		Str("debt", debt.String()).
		Str("penalty", penalty.String()).
		Bool("retry", retry).
		Msg("liquidation started")

	req := liquidation.Request{
		LiquidationID: liquidationID,
		Seat:          seat,
		Collateral:    collateral,
		Debt:          fpmath.MustAdd(debt, penalty),
		Carried:       carried,
		Now:           m.timer.Now,
	}
	ctx := m.runCtx
	go func() {
		res, err := m.strategy.Sell(ctx, req)
		m.liqDone <- liquidationOutcome{res: res, err: err}
	}()
}

func (m *Manager) settleLiquidation(out liquidationOutcome) {
	a := m.inFlight
	if a == nil {
		panic("FATAL: liquidation outcome without a liquidation in flight")
	}
	m.inFlight = nil
	v := m.vaults[a.vaultID]

	if out.err != nil {
		m.settleStalled(v, a, out.err)
	} else {
		m.settleCompleted(v, a, out.res)
	}
	if m.pass != nil && m.pass.err != nil {
		m.finishPass()
		return
	}
	m.advancePass()
}

// settleStalled puts whatever is left in the seat back on the vault. The
// vault stays Liquidating and is retried later.
func (m *Manager) settleStalled(v *Vault, a *activeLiquidation, cause error) {
	returned := m.ledger.Amount(a.seat.Collateral)
	proceeds := m.ledger.Amount(a.seat.Proceeds)
	b := ledger.NewBuilder("liquidation:"+a.id.String()+":stall", m.now()).
		Transfer(a.seat.Collateral, v.collateralEscrow(), returned, ledger.JournalTypeLiquidationRefund).
		Transfer(a.seat.Proceeds, v.proceedsEscrow(), proceeds, ledger.JournalTypeLiquidationRefund)
	m.mustCommit(b, v)

	sold := fpmath.MustSub(a.collateralPre, returned)
	m.totals.TotalCollateral = fpmath.MustSub(m.totals.TotalCollateral, sold)
	v.liquidationSold = fpmath.MustAdd(v.liquidationSold, sold)
	v.stalled = true
	v.version++
	m.stalled[v.id] = struct{}{}
	m.totals.NumLiquidationsStalled++

	reason := cause.Error()
	m.emit(&event.LiquidationStalled{
		LiquidationID: a.id,
		Brand:         m.collateral,
		Vault:         v.State().View(),
		Reason:        reason,
		Timestamp:     m.now(),
	})
	if m.metrics != nil {
		m.metrics.LiquidationStalled.WithLabelValues(string(m.collateral), m.strategy.Name()).Inc()
		m.metrics.CollateralSold.WithLabelValues(string(m.collateral)).Add(float64(sold.Value))
	}
	m.publishGauges()
	m.logger.Error().
		Err(cause).
		Uint64("vault_id", v.id).
		Str("liquidation_id", a.id.String()).
		Str("collateral_sold", sold.String()).
		Str("proceeds_held", proceeds.String()).
		Dur("elapsed", time.Since(a.startedAt)).
		Msg("liquidation stalled")

	if m.pass != nil && !errors.Is(cause, context.Canceled) {
		m.pass.err = fmt.Errorf("vault %s: %w", v.ref(), cause)
	}
}

// settleCompleted distributes the seat: penalty to the reserve, the rest of
// the covered debt burned, overage to the vault, unsold collateral back to
// the vault. Debt left over is shortfall.
func (m *Manager) settleCompleted(v *Vault, a *activeLiquidation, res liquidation.Result) {
	proceeds := m.ledger.Amount(a.seat.Proceeds)
	remainingCollateral := m.ledger.Amount(a.seat.Collateral)
	debt := v.CurrentDebt()

	part, err := liquidation.PartitionProceeds(proceeds, fpmath.MustAdd(debt, a.penalty), a.penalty)
	if err != nil {
		panic(fmt.Sprintf("FATAL: vault %s partition: %v", v.ref(), err))
	}
	overage := fpmath.MustSub(proceeds, part.DebtPaid)
	shortfall := fpmath.Empty(m.debt)
	if !fpmath.MustGTE(part.RunToBurn, debt) {
		shortfall = fpmath.MustSub(debt, part.RunToBurn)
	}

	b := ledger.NewBuilder("liquidation:"+a.id.String()+":settle", m.now()).
		Transfer(a.seat.Proceeds, m.penaltyReserve(), part.PenaltyProceeds, ledger.JournalTypeLiquidationPenalty).
		Burn(a.seat.Proceeds, part.RunToBurn, ledger.JournalTypeDebtBurn).
		Transfer(a.seat.Proceeds, v.proceedsEscrow(), overage, ledger.JournalTypeLiquidationOverage).
		Transfer(a.seat.Collateral, v.collateralEscrow(), remainingCollateral, ledger.JournalTypeLiquidationRefund)
	m.mustCommit(b, v)

	sold := fpmath.MustSub(a.collateralPre, remainingCollateral)
	v.liquidationSold = fpmath.MustAdd(v.liquidationSold, sold)

	m.totals.TotalCollateral = fpmath.MustSub(m.totals.TotalCollateral, a.collateralPre)
	m.totals.TotalDebt = fpmath.MustSub(m.totals.TotalDebt, debt)
	m.totals.TotalProceedsReceived = fpmath.MustAdd(m.totals.TotalProceedsReceived, proceeds)
	m.totals.TotalOverageReceived = fpmath.MustAdd(m.totals.TotalOverageReceived, overage)
	m.totals.TotalShortfallReceived = fpmath.MustAdd(m.totals.TotalShortfallReceived, shortfall)
	m.totals.TotalPenaltyReceived = fpmath.MustAdd(m.totals.TotalPenaltyReceived, part.PenaltyProceeds)
	m.totals.TotalCollateralSold = fpmath.MustAdd(m.totals.TotalCollateralSold, v.liquidationSold)
	m.totals.NumLiquidationsCompleted++

	totalSold := v.liquidationSold
	v.liquidationSold = fpmath.Empty(m.collateral)
	v.liquidated(shortfall)
	if !shortfall.IsEmpty() && m.shortfall != nil {
		m.shortfall.IncreaseLiquidationShortfall(m.collateral, shortfall)
	}

	m.emit(&event.LiquidationCompleted{
		LiquidationID:      a.id,
		Brand:              m.collateral,
		Vault:              v.State().View(),
		Proceeds:           proceeds,
		Penalty:            part.PenaltyProceeds,
		Burned:             part.RunToBurn,
		Overage:            overage,
		Shortfall:          shortfall,
		CollateralSold:     totalSold,
		CollateralReturned: remainingCollateral,
		Timestamp:          m.now(),
	})
	if m.metrics != nil {
		label := string(m.collateral)
		m.metrics.LiquidationCompleted.WithLabelValues(label, m.strategy.Name()).Inc()
		m.metrics.LiquidationProceeds.WithLabelValues(label).Add(float64(proceeds.Value))
		m.metrics.LiquidationOverage.WithLabelValues(label).Add(float64(overage.Value))
		m.metrics.LiquidationShortfall.WithLabelValues(label).Add(float64(shortfall.Value))
		m.metrics.CollateralSold.WithLabelValues(label).Add(float64(sold.Value))
		m.metrics.TrancheRounds.WithLabelValues(m.strategy.Name()).Observe(float64(res.Rounds))
	}
	m.publishGauges()
	m.logger.Warn().
		Uint64("vault_id", v.id).
		Str("liquidation_id", a.id.String()).
		Str("proceeds", proceeds.String()).
		Str("burned", part.RunToBurn.String()).
		Str("penalty", part.PenaltyProceeds.String()).
		Str("overage", overage.String()).
		Str("shortfall", shortfall.String()).
		Int("rounds", res.Rounds).
		Dur("elapsed", time.Since(a.startedAt)).
		Msg("liquidation completed")

	v.assertHoldsNoDebt()
}

// returnPendingSeats undoes seats that were in use when the snapshot was
// taken. Their vaults become stalled.
func (m *Manager) returnPendingSeats() {
	for _, p := range m.pendingSeats {
		v := m.vaults[p.vaultID]
		returned := m.ledger.Amount(p.seat.Collateral)
		proceeds := m.ledger.Amount(p.seat.Proceeds)
		b := ledger.NewBuilder(fmt.Sprintf("%s:restore-seat", v.ref()), m.now()).
			Transfer(p.seat.Collateral, v.collateralEscrow(), returned, ledger.JournalTypeLiquidationRefund).
			Transfer(p.seat.Proceeds, v.proceedsEscrow(), proceeds, ledger.JournalTypeLiquidationRefund)
		m.mustCommit(b, v)
		v.stalled = true
		m.stalled[v.id] = struct{}{}
		m.logger.Warn().
			Uint64("vault_id", v.id).
			Str("collateral_returned", returned.String()).
			Msg("restored liquidation seat returned, vault will be retried")
	}
	m.pendingSeats = nil
}

func (m *Manager) mustCommit(b *ledger.Builder, v *Vault) {
	batch, err := b.Build()
	if err == nil {
		err = m.ledger.Commit(batch)
	}
	if err != nil {
		panic(fmt.Sprintf("FATAL: vault %s liquidation transfer: %v", v.ref(), err))
	}
}

// ============================================================================
// Price trigger
// ============================================================================

// onQuote starts a pass over every vault the quoted price makes
// undercollateralized.
func (m *Manager) onQuote(q oracle.PriceQuote) {
	m.outstanding = nil
	if m.metrics != nil {
		m.metrics.OracleTriggers.WithLabelValues(string(m.collateral), "fired").Inc()
	}
	if m.pass != nil {
		return
	}

	// A vault is undercollateralized when debt/collateral reaches
	// (quoteOut / margin) / quoteIn.
	limit, err := fpmath.CeilDivideBy(q.AmountOut, m.params.Params().LiquidationMargin)
	if err == nil && q.AmountIn.IsEmpty() {
		err = fmt.Errorf("quote for empty amount")
	}
	if err != nil {
		m.logger.Error().Err(err).Str("quote", q.AmountOut.String()).Msg("discarding price quote")
		m.reschedulePriceCheck()
		return
	}
	threshold, err := fpmath.NewRatio(limit, q.AmountIn)
	if err != nil {
		panic(fmt.Sprintf("FATAL: liquidation threshold: %v", err))
	}

	if len(m.queue.EntriesPrioritizedGTE(threshold)) == 0 {
		// The queue moved since the trigger was armed.
		m.reschedulePriceCheck()
		return
	}
	m.logger.Info().
		Str("quote_in", q.AmountIn.String()).
		Str("quote_out", q.AmountOut.String()).
		Str("threshold", threshold.String()).
		Msg("price fell below trigger, liquidating")
	m.startPass(&liquidationPass{threshold: &threshold})
}

// reschedulePriceCheck arms the oracle to fire when the worst vault in the
// queue becomes undercollateralized.
func (m *Manager) reschedulePriceCheck() {
	if m.pass != nil || m.bulkUpdate || m.stopping || !m.running.Load() {
		return
	}
	head, ok := m.queue.Highest()
	if !ok {
		if m.outstanding != nil {
			m.outstanding.Stop()
			m.outstanding = nil
		}
		return
	}
	if head.Collateral.IsEmpty() {
		m.startPass(&liquidationPass{ids: []uint64{head.VaultID}})
		return
	}

	threshold, err := fpmath.CeilMultiplyBy(head.Debt, m.params.Params().LiquidationMargin)
	if err != nil {
		panic(fmt.Sprintf("FATAL: price trigger threshold: %v", err))
	}

	updated := m.outstanding != nil
	if updated {
		err = m.outstanding.UpdateTrigger(head.Collateral, threshold)
		if errors.Is(err, oracle.ErrSubscriptionClosed) {
			// Its quote is already buffered and is handled next turn.
			return
		}
	} else {
		m.outstanding, err = m.oracle.SubscribeWhenBelow(head.Collateral, threshold)
	}
	if err != nil {
		m.outstanding = nil
		m.logger.Error().Err(err).Msg("arming price trigger")
		return
	}

	m.emit(&event.PriceCheckArmed{
		Brand:     m.collateral,
		AmountIn:  head.Collateral,
		Threshold: threshold,
		Updated:   updated,
		Timestamp: m.now(),
	})
	if m.metrics != nil {
		action := "armed"
		if updated {
			action = "updated"
		}
		m.metrics.OracleTriggers.WithLabelValues(string(m.collateral), action).Inc()
	}
}
