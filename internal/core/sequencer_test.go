package core_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

type testSequencer struct {
	seq     *core.Sequencer
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	cancel  context.CancelFunc
	done    chan error
}

func startSequencer(t *testing.T, projCap int, restore func(*core.Sequencer)) *testSequencer {
	t.Helper()
	ts := &testSequencer{
		persist: make(chan core.CoreOutput, 64),
		proj:    make(chan core.CoreOutput, projCap),
		done:    make(chan error, 1),
	}
	ts.seq = core.NewSequencer(core.SequencerConfig{
		PersistChan:    ts.persist,
		ProjectionChan: ts.proj,
		Logger:         zerolog.Nop(),
	})
	if restore != nil {
		restore(ts.seq)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel
	go func() { ts.done <- ts.seq.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-ts.done
	})
	return ts
}

func (ts *testSequencer) next(t *testing.T) core.CoreOutput {
	t.Helper()
	select {
	case out := <-ts.persist:
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for persist output")
		return core.CoreOutput{}
	}
}

func vaultOpened(id uint64, debt int64) *event.VaultOpened {
	return &event.VaultOpened{
		Brand: "ATOM",
		Vault: event.VaultView{
			VaultID:    id,
			Owner:      "alice",
			Phase:      "active",
			Collateral: fpmath.MustAmount("ATOM", 50),
			Debt:       fpmath.MustAmount("RUN", debt),
			Version:    1,
		},
		Loan:      fpmath.MustAmount("RUN", 70),
		Fee:       fpmath.MustAmount("RUN", debt-70),
		Timestamp: time.Date(2026, 1, 1, 0, 0, int(id), 0, time.UTC),
	}
}

// ============================================================================
// Test: Sequencing and hash chain
// ============================================================================

func TestSequencer_AssignsSequenceAndChain(t *testing.T) {
	ts := startSequencer(t, 16, nil)

	for i := uint64(1); i <= 3; i++ {
		ts.seq.Emit(vaultOpened(i, 74))
	}

	var envs []*event.EventEnvelope
	for i := 0; i < 3; i++ {
		out := ts.next(t)
		if out.Envelope == nil {
			t.Fatalf("output %d: expected an envelope", i)
		}
		envs = append(envs, out.Envelope)
	}

	for i, env := range envs {
		if env.Sequence != int64(i+1) {
			t.Errorf("envelope %d: expected sequence %d, got %d", i, i+1, env.Sequence)
		}
		if env.EventType != event.EventTypeVaultOpened {
			t.Errorf("envelope %d: expected VaultOpened, got %s", i, env.EventType)
		}
		if env.Collateral != "ATOM" {
			t.Errorf("envelope %d: expected ATOM, got %s", i, env.Collateral)
		}
	}
	if envs[0].PrevHash != core.GenesisHash() {
		t.Error("first envelope must chain from the genesis hash")
	}
	if envs[1].PrevHash != envs[0].StateHash {
		t.Error("second envelope must chain from the first")
	}

	tip, err := core.VerifyChain(core.GenesisHash(), envs)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if tip != envs[2].StateHash {
		t.Error("VerifyChain must return the last state hash")
	}

	decoded, err := event.Decode(envs[1].EventType, envs[1].Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.(*event.VaultOpened).Vault.VaultID != 2 {
		t.Error("payload must round-trip the emitted event")
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ts := startSequencer(t, 16, nil)
	ts.seq.Emit(vaultOpened(1, 74))
	ts.seq.Emit(vaultOpened(2, 74))

	first := ts.next(t).Envelope
	second := ts.next(t).Envelope

	tampered := *second
	tampered.Payload = append([]byte(nil), second.Payload...)
	tampered.Payload[len(tampered.Payload)-2] ^= 0x01

	if _, err := core.VerifyChain(core.GenesisHash(), []*event.EventEnvelope{first, &tampered}); err == nil {
		t.Fatal("expected tampered payload to break the chain")
	}
	if _, err := core.VerifyChain(core.GenesisHash(), []*event.EventEnvelope{second}); err == nil {
		t.Fatal("expected a skipped envelope to break the chain")
	}
}

func TestStateHashChain_Deterministic(t *testing.T) {
	run := func() [32]byte {
		ts := startSequencer(t, 16, nil)
		ts.seq.OnCommit(&ledger.Batch{BatchID: uuid.New(), Sequence: 1})
		ts.seq.Emit(vaultOpened(1, 74))
		ts.seq.Emit(vaultOpened(2, 80))
		ts.next(t)
		ts.next(t)
		return ts.next(t).Envelope.StateHash
	}

	if run() != run() {
		t.Fatal("identical inputs must produce identical hashes")
	}
}

// ============================================================================
// Test: Ledger commits
// ============================================================================

func TestSequencer_BatchesAdvanceLedgerSequence(t *testing.T) {
	ts := startSequencer(t, 16, nil)

	batch := &ledger.Batch{BatchID: uuid.New(), Sequence: 7}
	ts.seq.OnCommit(batch)
	ts.seq.Emit(vaultOpened(1, 74))

	first := ts.next(t)
	if first.Batch != batch || first.Envelope != nil {
		t.Fatal("expected the batch to be forwarded as-is")
	}
	second := ts.next(t)
	if second.Envelope == nil {
		t.Fatal("expected an envelope after the batch")
	}
	if second.Envelope.LedgerSequence != 7 {
		t.Errorf("expected ledger sequence 7, got %d", second.Envelope.LedgerSequence)
	}
	if second.Envelope.Sequence != 1 {
		t.Errorf("batches must not consume event sequences, got %d", second.Envelope.Sequence)
	}
}

// ============================================================================
// Test: Fan-out and backpressure
// ============================================================================

func TestSequencer_ProjectionDropsWhenFull(t *testing.T) {
	ts := startSequencer(t, 1, nil)

	for i := uint64(1); i <= 3; i++ {
		ts.seq.Emit(vaultOpened(i, 74))
	}
	for i := 0; i < 3; i++ {
		ts.next(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cp, err := ts.seq.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.LastSequence != 3 {
		t.Errorf("expected last sequence 3, got %d", cp.LastSequence)
	}
	if len(ts.proj) != 1 {
		t.Errorf("expected exactly one projection output, got %d", len(ts.proj))
	}
}

func TestSequencer_DrainsOnStop(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	seq := core.NewSequencer(core.SequencerConfig{PersistChan: persist, Logger: zerolog.Nop()})

	// Buffered before Run starts; all must come out even though ctx is
	// already cancelled.
	for i := uint64(1); i <= 4; i++ {
		seq.Emit(vaultOpened(i, 74))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := seq.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(persist) != 4 {
		t.Fatalf("expected 4 drained outputs, got %d", len(persist))
	}

	// After stop, Emit returns immediately.
	emitted := make(chan struct{})
	go func() {
		seq.Emit(vaultOpened(5, 74))
		close(emitted)
	}()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked after the sequencer stopped")
	}

	if _, err := seq.Checkpoint(context.Background()); !errors.Is(err, core.ErrSequencerStopped) {
		t.Fatalf("expected ErrSequencerStopped, got %v", err)
	}
}

// ============================================================================
// Test: Restore
// ============================================================================

func TestSequencer_Restore(t *testing.T) {
	tip := [32]byte{1, 2, 3}
	ts := startSequencer(t, 16, func(s *core.Sequencer) {
		s.Restore(10, tip, 42)
	})

	ts.seq.Emit(vaultOpened(1, 74))
	env := ts.next(t).Envelope

	if env.Sequence != 11 {
		t.Errorf("expected sequence 11, got %d", env.Sequence)
	}
	if env.PrevHash != tip {
		t.Error("expected the chain to resume from the restored tip")
	}
	if env.LedgerSequence != 42 {
		t.Errorf("expected ledger sequence 42, got %d", env.LedgerSequence)
	}
	if _, err := core.VerifyChain(tip, []*event.EventEnvelope{env}); err != nil {
		t.Fatalf("VerifyChain from restored tip: %v", err)
	}
}
