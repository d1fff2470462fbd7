package state_test

import (
	"VaultLedger/internal/state"
	"encoding/json"
	"testing"
)

func TestPhase_Transitions(t *testing.T) {
	cases := []struct {
		from, to state.Phase
		ok       bool
	}{
		{state.PhaseActive, state.PhaseLiquidating, true},
		{state.PhaseActive, state.PhaseClosed, true},
		{state.PhaseLiquidating, state.PhaseLiquidated, true},
		{state.PhaseLiquidated, state.PhaseClosed, true},
		{state.PhaseLiquidating, state.PhaseActive, false},
		{state.PhaseLiquidated, state.PhaseActive, false},
		{state.PhaseClosed, state.PhaseActive, false},
		{state.PhaseLiquidating, state.PhaseClosed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestPhase_Closeable(t *testing.T) {
	for p, want := range map[state.Phase]bool{
		state.PhaseActive:      true,
		state.PhaseLiquidating: false,
		state.PhaseLiquidated:  true,
		state.PhaseClosed:      false,
	} {
		if p.IsCloseable() != want {
			t.Errorf("%s: expected closeable=%v", p, want)
		}
	}
}

func TestPhase_JSON(t *testing.T) {
	b, err := json.Marshal(state.PhaseLiquidated)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"liquidated"` {
		t.Fatalf("expected \"liquidated\", got %s", b)
	}

	var p state.Phase
	if err := json.Unmarshal([]byte(`"transfer"`), &p); err != nil {
		t.Fatal(err)
	}
	if p != state.PhaseTransferring {
		t.Fatalf("expected transferring, got %s", p)
	}
	if err := json.Unmarshal([]byte(`"frozen"`), &p); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}
