package state

import (
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// VaultRecord is the persisted form of a vault.
type VaultRecord struct {
	ID               uint64        `json:"id"`
	Owner            string        `json:"owner"`
	Phase            Phase         `json:"phase"`
	DebtSnapshot     fpmath.Amount `json:"debt_snapshot"`
	InterestSnapshot fpmath.Ratio  `json:"interest_snapshot"`
	Holder           uuid.UUID     `json:"holder"`
	Invitation       uuid.UUID     `json:"invitation"`
	Revoked          []uuid.UUID   `json:"revoked,omitempty"`
	Version          int64         `json:"version"`
	Stalled          bool          `json:"stalled"`
	LiquidationSold  fpmath.Amount `json:"liquidation_sold"`

	// Seat is set when a sale was running at snapshot time.
	Seat *uuid.UUID `json:"seat,omitempty"`
}

// ManagerSnapshot is everything a manager keeps outside the ledger.
type ManagerSnapshot struct {
	Collateral           fpmath.Brand   `json:"collateral"`
	Debt                 fpmath.Brand   `json:"debt"`
	CompoundedInterest   fpmath.Ratio   `json:"compounded_interest"`
	LatestInterestUpdate int64          `json:"latest_interest_update"`
	VaultCounter         uint64         `json:"vault_counter"`
	Totals               ManagerMetrics `json:"totals"`
	Vaults               []VaultRecord  `json:"vaults"`
}

// Snapshot captures the manager between turns. Balances live in the ledger
// and are snapshotted with it.
func (m *Manager) Snapshot(ctx context.Context) (ManagerSnapshot, error) {
	var s ManagerSnapshot
	err := m.do(ctx, func() error {
		s = m.snapshot()
		return nil
	})
	return s, err
}

// FinalSnapshot captures a manager whose Run has returned, or one that never
// ran. Requests still queued in the inbox are not applied.
func (m *Manager) FinalSnapshot() (ManagerSnapshot, error) {
	if m.running.Load() {
		select {
		case <-m.stopped:
		default:
			return ManagerSnapshot{}, fmt.Errorf("manager %s is still running", m.collateral)
		}
	}
	return m.snapshot(), nil
}

func (m *Manager) snapshot() ManagerSnapshot {
	s := ManagerSnapshot{
		Collateral:           m.collateral,
		Debt:                 m.debt,
		CompoundedInterest:   m.compoundedInterest,
		LatestInterestUpdate: m.latestInterestUpdate,
		VaultCounter:         m.vaultCounter,
		Totals:               m.totals,
	}
	for _, id := range m.sortedVaultIDs() {
		v := m.vaults[id]
		rec := VaultRecord{
			ID:               v.id,
			Owner:            v.owner,
			Phase:            v.phase,
			DebtSnapshot:     v.debtSnapshot,
			InterestSnapshot: v.interestSnapshot,
			Holder:           v.holder,
			Invitation:       v.invitation,
			Version:          v.version,
			Stalled:          v.stalled,
			LiquidationSold:  v.liquidationSold,
		}
		for t := range v.revoked {
			rec.Revoked = append(rec.Revoked, t)
		}
		sort.Slice(rec.Revoked, func(i, j int) bool { return rec.Revoked[i].String() < rec.Revoked[j].String() })
		if m.inFlight != nil && m.inFlight.vaultID == id {
			seat := m.inFlight.id
			rec.Seat = &seat
		}
		s.Vaults = append(s.Vaults, rec)
	}
	return s
}

// Restore loads s into a manager that has not started. The ledger must
// already hold the balances from the same point.
func (m *Manager) Restore(s ManagerSnapshot) error {
	if m.running.Load() {
		return fmt.Errorf("manager %s: restore after start", m.collateral)
	}
	if s.Collateral != m.collateral || s.Debt != m.debt {
		return fmt.Errorf("snapshot for %s/%s restored into %s/%s", s.Collateral, s.Debt, m.collateral, m.debt)
	}

	m.vaults = make(map[uint64]*Vault, len(s.Vaults))
	m.queue = m.newQueue()
	m.stalled = make(map[uint64]struct{})
	m.pendingSeats = nil

	m.compoundedInterest = s.CompoundedInterest
	m.latestInterestUpdate = s.LatestInterestUpdate
	m.vaultCounter = s.VaultCounter
	m.totals = s.Totals

	for _, rec := range s.Vaults {
		if rec.ID == 0 || rec.ID > s.VaultCounter {
			return fmt.Errorf("vault record %d outside counter %d", rec.ID, s.VaultCounter)
		}
		v := newVault(m, rec.ID, rec.Owner)
		v.phase = rec.Phase
		v.debtSnapshot = rec.DebtSnapshot
		v.interestSnapshot = rec.InterestSnapshot
		v.holder = rec.Holder
		v.invitation = rec.Invitation
		v.version = rec.Version
		v.stalled = rec.Stalled
		v.liquidationSold = rec.LiquidationSold
		for _, t := range rec.Revoked {
			v.revoked[t] = struct{}{}
		}
		m.vaults[rec.ID] = v

		switch {
		case rec.Seat != nil:
			m.pendingSeats = append(m.pendingSeats, pendingSeat{
				vaultID: rec.ID,
				seat:    liquidation.NewSeat(*rec.Seat, m.collateral, m.debt),
			})
		case v.stalled:
			m.stalled[rec.ID] = struct{}{}
		case v.phase == PhaseActive && !v.debtSnapshot.IsEmpty():
			m.queue.AddVault(rec.ID, v.CurrentDebt(), v.CollateralAmount())
		}
	}

	m.logger.Info().
		Int("vaults", len(m.vaults)).
		Int("queued", m.queue.Len()).
		Int("stalled", len(m.stalled)).
		Int("pending_seats", len(m.pendingSeats)).
		Msg("vault manager restored")
	return nil
}
