package persistence_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/persistence"
	"VaultLedger/migrations"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Row conversion
// ============================================================================

func TestEventRow_EnvelopeRoundTripKeepsChain(t *testing.T) {
	h := core.NewStateHasher()
	payload := []byte(`{"vault":{"vault_id":1}}`)
	env := &event.EventEnvelope{
		Sequence:       1,
		IdempotencyKey: "ATOM:1:opened",
		EventType:      event.EventTypeVaultOpened,
		Collateral:     "ATOM",
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LedgerSequence: 4,
		Payload:        payload,
		PrevHash:       h.GetPrevHash(),
	}
	env.StateHash = h.ComputeHash(1, core.EnvelopeDigest(env.EventType, env.LedgerSequence, payload))

	row := persistence.EventRowFromEnvelope(env)
	if row.EventType != "VaultOpened" || row.Collateral != "ATOM" || row.LedgerSequence != 4 {
		t.Fatalf("unexpected row: %+v", row)
	}

	back, err := row.Envelope()
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if _, err := core.VerifyChain(core.GenesisHash(), []*event.EventEnvelope{back}); err != nil {
		t.Fatalf("rebuilt envelope must verify: %v", err)
	}

	row.EventType = "TradeFill"
	if _, err := row.Envelope(); err == nil {
		t.Error("expected an unknown event type to fail")
	}
}

func TestJournalRowsFromBatch(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID:  batchID,
		Sequence: 9,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      "open:ATOM:1",
			Sequence:      9,
			DebitAccount:  ledger.VaultAccount("ATOM:1", ledger.SubTypeCollateralEscrow, "ATOM"),
			CreditAccount: ledger.UserAccount("alice", "ATOM"),
			Brand:         "ATOM",
			Amount:        50,
			JournalType:   ledger.JournalTypeCollateralLock,
			Timestamp:     1,
		}},
	}

	rows := persistence.JournalRowsFromBatch(batch)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.BatchID != batchID.String() || r.Sequence != 9 || r.Amount != 50 {
		t.Errorf("unexpected row: %+v", r)
	}
	if r.DebitAccount != "vault:ATOM:1:collateral:ATOM" {
		t.Errorf("debit account: got %s", r.DebitAccount)
	}
	if r.CreditAccount != "user:alice:wallet:ATOM" {
		t.Errorf("credit account: got %s", r.CreditAccount)
	}
	if r.JournalType != "collateral_lock" {
		t.Errorf("journal type: got %s", r.JournalType)
	}
}

// ============================================================================
// Test: Snapshot helpers
// ============================================================================

func TestBalancesFromLedger_SortedAndReversible(t *testing.T) {
	balances := map[ledger.AccountKey]int64{
		ledger.UserAccount("bob", "RUN"):   30,
		ledger.UserAccount("alice", "RUN"): 20,
		ledger.ExternalAccount(ledger.SubTypeIssuance, "RUN"): -50,
	}

	snap := &persistence.SnapshotData{Balances: persistence.BalancesFromLedger(balances)}
	for i := 1; i < len(snap.Balances); i++ {
		if snap.Balances[i-1].Account.AccountPath() > snap.Balances[i].Account.AccountPath() {
			t.Fatal("balances must be sorted by account path")
		}
	}
	if !reflect.DeepEqual(snap.LedgerBalances(), balances) {
		t.Fatalf("round trip mismatch: %v", snap.LedgerBalances())
	}
}

func TestSnapshotData_Checkpoint(t *testing.T) {
	cp, err := (&persistence.SnapshotData{}).Checkpoint()
	if err != nil || cp.StateHash != core.GenesisHash() || cp.LastSequence != 0 {
		t.Fatalf("empty snapshot must resume from genesis: %+v %v", cp, err)
	}

	tip := [32]byte{9}
	cp, err = (&persistence.SnapshotData{Sequence: 5, StateHash: tip[:], LedgerSequence: 12}).Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.StateHash != tip || cp.LastSequence != 5 || cp.LedgerSequence != 12 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}

	if _, err := (&persistence.SnapshotData{Sequence: 5, StateHash: []byte{1}}).Checkpoint(); err == nil {
		t.Error("expected a short hash to fail")
	}
}

// ============================================================================
// Test: Migrations
// ============================================================================

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_projections.up.sql":   {Data: []byte("SELECT 1")},
		"000001_event_log.up.sql":     {Data: []byte("SELECT 1")},
		"000001_event_log.down.sql":   {Data: []byte("SELECT 1")},
		"000003_requests.up.sql":      {Data: []byte("SELECT 1")},
		"README.md":                   {Data: []byte("notes")},
		"000002_projections.down.sql": {Data: []byte("SELECT 1")},
	}

	pending, err := persistence.PendingMigrations(fsys, map[string]bool{"000001": true})
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	want := []string{"000002_projections.up.sql", "000003_requests.up.sql"}
	if !reflect.DeepEqual(pending, want) {
		t.Fatalf("expected %v, got %v", want, pending)
	}

	fsys["000003_other.up.sql"] = &fstest.MapFile{Data: []byte("SELECT 1")}
	if _, err := persistence.PendingMigrations(fsys, nil); err == nil {
		t.Fatal("expected duplicate versions to fail")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := persistence.PendingMigrations(migrations.FS, nil)
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no embedded migrations")
	}
	for _, up := range ups {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := migrations.FS.Open(down); err != nil {
			t.Errorf("%s has no down migration", up)
		}
	}
}
