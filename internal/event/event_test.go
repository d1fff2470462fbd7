package event_test

import (
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecode_LiquidationCompleted(t *testing.T) {
	id := uuid.New()
	in := &event.LiquidationCompleted{
		LiquidationID: id,
		Brand:         "ATOM",
		Vault:         event.VaultView{VaultID: 3, Owner: "alice", Phase: "liquidated"},
		Proceeds:      fpmath.MustAmount("RUN", 100),
		Shortfall:     fpmath.MustAmount("RUN", 5),
		Timestamp:     time.Unix(100, 0).UTC(),
	}

	payload, err := event.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := event.Decode(event.EventTypeLiquidationCompleted, payload)
	if err != nil {
		t.Fatal(err)
	}

	got, ok := out.(*event.LiquidationCompleted)
	if !ok {
		t.Fatalf("decoded %T", out)
	}
	if got.IdempotencyKey() != in.IdempotencyKey() {
		t.Errorf("key = %q, want %q", got.IdempotencyKey(), in.IdempotencyKey())
	}
	if got.Shortfall.Value != 5 || got.Vault.VaultID != 3 {
		t.Errorf("decoded %+v", got)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte("{}")); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestRecorder_OfType(t *testing.T) {
	var r event.Recorder
	r.Emit(&event.VaultOpened{Brand: "ATOM"})
	r.Emit(&event.VaultClosed{Brand: "ATOM"})
	r.Emit(&event.VaultOpened{Brand: "ATOM"})

	if n := len(r.OfType(event.EventTypeVaultOpened)); n != 2 {
		t.Errorf("opened events = %d, want 2", n)
	}
	if n := len(r.Events()); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}
}
