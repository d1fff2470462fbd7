package state

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"
)

// chargeAllVaults advances the compounded interest to the last whole
// recording period, mints the accrued interest into the reward pool and
// re-snapshots every vault that owes it. Stalled liquidations are retried
// afterwards.
func (m *Manager) chargeAllVaults(now time.Time) {
	p := m.params.Params()
	calc, err := fpmath.NewInterestCalculator(p.InterestRate, p.ChargingPeriod, p.RecordingPeriod)
	if err != nil {
		panic(fmt.Sprintf("FATAL: interest calculator for %s: %v", m.collateral, err))
	}

	prior := fpmath.DebtStatus{
		LatestInterestUpdate: m.latestInterestUpdate,
		NewDebt:              m.totals.TotalDebt,
		Interest:             fpmath.Empty(m.debt),
	}
	status, err := calc.CalculateReportingPeriod(prior, now.Unix())
	if err != nil {
		panic(fmt.Sprintf("FATAL: charge interest for %s: %v", m.collateral, err))
	}

	if status.LatestInterestUpdate != prior.LatestInterestUpdate {
		compounded, err := fpmath.CalculateCompoundedInterest(m.compoundedInterest, prior.NewDebt, status.NewDebt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: compound interest for %s: %v", m.collateral, err))
		}
		m.compoundedInterest = compounded
		m.latestInterestUpdate = status.LatestInterestUpdate
		m.updateAllDebts(now)
	}

	m.retryStalled()
	m.reschedulePriceCheck()
}

// updateAllDebts re-snapshots every vault at the new coefficient. The queue
// trigger is held until all entries are refreshed.
func (m *Manager) updateAllDebts(now time.Time) {
	m.bulkUpdate = true
	defer func() { m.bulkUpdate = false }()

	accrued := fpmath.Empty(m.debt)
	charged := 0
	for _, id := range m.sortedVaultIDs() {
		v := m.vaults[id]
		if v.debtSnapshot.IsEmpty() {
			continue
		}
		if v.phase != PhaseActive && v.phase != PhaseLiquidating {
			continue
		}
		current := v.CurrentDebt()
		accrued = fpmath.MustAdd(accrued, fpmath.MustSub(current, v.debtSnapshot))
		v.updateDebtSnapshot(current)
		if v.phase == PhaseActive {
			m.queue.RefreshVault(id, current, v.CollateralAmount())
		}
		charged++
	}

	if !accrued.IsEmpty() {
		b := ledger.NewBuilder(fmt.Sprintf("%s:interest:%d", m.collateral, m.latestInterestUpdate), now).
			Mint(m.rewardPool(), accrued, ledger.JournalTypeInterestMint)
		batch, err := b.Build()
		if err == nil {
			err = m.ledger.Commit(batch)
		}
		if err != nil {
			panic(fmt.Sprintf("FATAL: mint interest for %s: %v", m.collateral, err))
		}
		m.totals.TotalDebt = fpmath.MustAdd(m.totals.TotalDebt, accrued)
		m.totals.TotalInterestMinted = fpmath.MustAdd(m.totals.TotalInterestMinted, accrued)
	}

	m.emit(&event.InterestCharged{
		Brand:                m.collateral,
		CompoundedInterest:   m.compoundedInterest,
		LatestInterestUpdate: m.latestInterestUpdate,
		Minted:               accrued,
		TotalDebt:            m.totals.TotalDebt,
		VaultsCharged:        charged,
		Timestamp:            now,
	})
	if m.metrics != nil {
		m.metrics.InterestMinted.WithLabelValues(string(m.collateral)).Add(float64(accrued.Value))
	}
	m.publishGauges()
	m.logger.Info().
		Str("compounded_interest", m.compoundedInterest.String()).
		Int64("latest_interest_update", m.latestInterestUpdate).
		Str("minted", accrued.String()).
		Int("vaults", charged).
		Msg("interest charged")
}

func (m *Manager) retryStalled() {
	if m.pass != nil || len(m.stalled) == 0 {
		return
	}
	m.logger.Info().Int("vaults", len(m.stalled)).Msg("retrying stalled liquidations")
	m.startPass(&liquidationPass{ids: m.stalledIDs()})
}
