package persistence

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/state"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotFormatVersion is bumped whenever SnapshotData changes shape.
const SnapshotFormatVersion = 1

var ErrSnapshotMismatch = errors.New("persistence: snapshot does not match the event log")

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds ledger balances, every manager's off-ledger state, the
// sequencer position and the dispatcher's dedup and ordering state.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                   `json:"sequence"`
	StateHash       []byte                  `json:"state_hash"`
	LedgerSequence  int64                   `json:"ledger_sequence"`
	Balances        []BalanceSnapshot       `json:"balances"`
	Managers        []state.ManagerSnapshot `json:"managers"`
	SequenceState   map[string]int64        `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string                `json:"idempotency_keys"` // most recent first
	CreatedAt       time.Time               `json:"created_at"`
}

// BalanceSnapshot is one non-zero ledger balance.
type BalanceSnapshot struct {
	Account ledger.AccountKey `json:"account"`
	Balance int64             `json:"balance"`
}

// BalancesFromLedger orders balances by account path so equal ledgers
// serialize identically.
func BalancesFromLedger(balances map[ledger.AccountKey]int64) []BalanceSnapshot {
	out := make([]BalanceSnapshot, 0, len(balances))
	for k, v := range balances {
		out = append(out, BalanceSnapshot{Account: k, Balance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.AccountPath() < out[j].Account.AccountPath()
	})
	return out
}

// LedgerBalances is the inverse of BalancesFromLedger.
func (s *SnapshotData) LedgerBalances() map[ledger.AccountKey]int64 {
	m := make(map[ledger.AccountKey]int64, len(s.Balances))
	for _, b := range s.Balances {
		m[b.Account] = b.Balance
	}
	return m
}

// Checkpoint returns the sequencer position recorded in the snapshot.
func (s *SnapshotData) Checkpoint() (core.Checkpoint, error) {
	cp := core.Checkpoint{LastSequence: s.Sequence, LedgerSequence: s.LedgerSequence}
	if s.Sequence == 0 && len(s.StateHash) == 0 {
		cp.StateHash = core.GenesisHash()
		return cp, nil
	}
	if len(s.StateHash) != 32 {
		return cp, fmt.Errorf("snapshot %d: state hash length %d", s.Sequence, len(s.StateHash))
	}
	copy(cp.StateHash[:], s.StateHash)
	return cp, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot unverified and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, ledger_sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (sequence) DO UPDATE
			SET ledger_sequence = $3, data = $4, state_hash = $5, size_bytes = $7, verified = FALSE, created_at = $8
	`, uuid.New(), snap.Sequence, snap.LedgerSequence, data, snap.StateHash, SnapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != SnapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format %d, want %d", version, SnapshotFormatVersion)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// VerifySnapshot checks the snapshot's state hash against the persisted
// event at the same sequence and marks it verified on a match. The event
// must already be committed.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, snap *SnapshotData) error {
	if snap.Sequence > 0 {
		var hash []byte
		err := sm.db.QueryRowContext(ctx, `
			SELECT state_hash FROM event_log.events WHERE sequence = $1
		`, snap.Sequence).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: event %d not persisted", ErrSnapshotMismatch, snap.Sequence)
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(hash, snap.StateHash) {
			return fmt.Errorf("%w: state hash differs at sequence %d", ErrSnapshotMismatch, snap.Sequence)
		}
	}
	return sm.MarkVerified(ctx, snap.Sequence)
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	return LoadEventsFrom(ctx, sm.db, fromSequence, limit)
}

// LoadEventsFrom is shared with the projection rebuild.
func LoadEventsFrom(ctx context.Context, db *sql.DB, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, collateral, payload,
		       state_hash, prev_hash, ledger_sequence, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Collateral, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.LedgerSequence, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ChainTip returns the position of the last persisted event, or the genesis
// checkpoint for an empty log.
func (sm *SnapshotManager) ChainTip(ctx context.Context) (core.Checkpoint, error) {
	var (
		seq       int64
		hash      []byte
		ledgerSeq int64
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, ledger_sequence
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash, &ledgerSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Checkpoint{StateHash: core.GenesisHash()}, nil
	}
	if err != nil {
		return core.Checkpoint{}, err
	}
	cp := core.Checkpoint{LastSequence: seq, LedgerSequence: ledgerSeq}
	copy(cp.StateHash[:], hash)
	return cp, nil
}

// VerifyLog replays the hash chain of every event after from. It returns the
// number of events checked.
func (sm *SnapshotManager) VerifyLog(ctx context.Context, from core.Checkpoint, pageSize int) (int, error) {
	tip := from.StateHash
	next := from.LastSequence + 1
	checked := 0
	for {
		rows, err := sm.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return checked, err
		}
		if len(rows) == 0 {
			return checked, nil
		}
		envs := make([]*event.EventEnvelope, 0, len(rows))
		for _, r := range rows {
			env, err := r.Envelope()
			if err != nil {
				return checked, err
			}
			envs = append(envs, env)
		}
		if tip, err = core.VerifyChain(tip, envs); err != nil {
			return checked, err
		}
		checked += len(rows)
		next = rows[len(rows)-1].Sequence + 1
	}
}
