package projection_test

import (
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/projection"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func view(id uint64, phase string, coll, debt int64) event.VaultView {
	return event.VaultView{
		VaultID:    id,
		Owner:      "alice",
		Phase:      phase,
		Collateral: fpmath.Amount{Brand: "ATOM", Value: coll},
		Debt:       fpmath.Amount{Brand: "RUN", Value: debt},
		Version:    3,
	}
}

func TestPlan_VaultEventsUpsertTheVault(t *testing.T) {
	u := projection.Plan(7, &event.VaultAdjusted{Brand: "ATOM", Vault: view(2, "active", 900, 450), Timestamp: at})

	require.Nil(t, u.Liquidation)
	require.NotNil(t, u.Vault)
	require.Equal(t, projection.VaultRow{
		Collateral:    "ATOM",
		VaultID:       2,
		Owner:         "alice",
		Phase:         "active",
		CollateralAmt: 900,
		DebtAmt:       450,
		DebtBrand:     "RUN",
		Version:       3,
		LastEvent:     "VaultAdjusted",
		LastSequence:  7,
		UpdatedAt:     at,
	}, *u.Vault)
}

func TestPlan_LiquidationLifecycle(t *testing.T) {
	id := uuid.New()

	started := projection.Plan(10, &event.LiquidationStarted{
		LiquidationID: id,
		Brand:         "ATOM",
		Vault:         view(4, "liquidating", 100, 80),
		Penalty:       fpmath.Amount{Brand: "RUN", Value: 8},
		Timestamp:     at,
	})
	require.NotNil(t, started.Vault)
	require.Equal(t, "liquidating", started.Vault.Phase)
	require.Equal(t, projection.LiquidationStarted, started.Liquidation.Status)
	require.Equal(t, id.String(), started.Liquidation.LiquidationID)
	require.EqualValues(t, 80, started.Liquidation.Debt)
	require.EqualValues(t, 100, started.Liquidation.CollateralAmt)
	require.EqualValues(t, 8, started.Liquidation.Penalty)

	stalled := projection.Plan(11, &event.LiquidationStalled{
		LiquidationID: id, Brand: "ATOM", Vault: view(4, "liquidating", 100, 80), Reason: "no bids", Timestamp: at,
	})
	require.Equal(t, projection.LiquidationStalled, stalled.Liquidation.Status)
	require.EqualValues(t, 11, stalled.Liquidation.Sequence)

	done := projection.Plan(12, &event.LiquidationCompleted{
		LiquidationID:  id,
		Brand:          "ATOM",
		Vault:          view(4, "liquidated", 0, 0),
		Proceeds:       fpmath.Amount{Brand: "RUN", Value: 70},
		Penalty:        fpmath.Amount{Brand: "RUN", Value: 8},
		Shortfall:      fpmath.Amount{Brand: "RUN", Value: 18},
		CollateralSold: fpmath.Amount{Brand: "ATOM", Value: 100},
		Timestamp:      at,
	})
	require.Equal(t, "liquidated", done.Vault.Phase)
	l := done.Liquidation
	require.Equal(t, projection.LiquidationCompleted, l.Status)
	require.EqualValues(t, 70, l.Proceeds)
	require.EqualValues(t, 18, l.Shortfall)
	require.EqualValues(t, 100, l.CollateralSold)
	require.EqualValues(t, 0, l.Overage)
}

func TestPlan_ManagerEventsOnlyMoveTheWatermark(t *testing.T) {
	for _, ev := range []event.Event{
		&event.InterestCharged{Brand: "ATOM"},
		&event.PriceCheckArmed{Brand: "ATOM"},
	} {
		u := projection.Plan(5, ev)
		require.True(t, u.Empty(), "%s", ev.EventType())
		require.EqualValues(t, 5, u.Sequence)
	}
}
