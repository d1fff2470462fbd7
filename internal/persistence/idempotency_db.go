package persistence

import (
	"VaultLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// RequestStore is the durable request log in event_log.requests. It records
// every reply and answers the Postgres tier of request dedup.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

// IsDuplicate reports whether a reply for (kind, requestID) was recorded.
// The caller bounds the lookup with its own timeout.
func (rs *RequestStore) IsDuplicate(ctx context.Context, kind, requestID string) (bool, error) {
	var exists int
	err := rs.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.requests
		WHERE kind = $1 AND request_id = $2
		LIMIT 1
	`, kind, requestID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordReply stores the first reply for a request; later ones are ignored.
func (rs *RequestStore) RecordReply(ctx context.Context, reply core.Reply) error {
	var result []byte
	if reply.Result != nil {
		var err error
		if result, err = json.Marshal(reply.Result); err != nil {
			return fmt.Errorf("marshal reply result: %w", err)
		}
	}

	_, err := rs.db.ExecContext(ctx, `
		INSERT INTO event_log.requests (kind, request_id, status, code, error, result, replied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, request_id) DO NOTHING
	`, string(reply.Kind), reply.RequestID, string(reply.Status), reply.Code, reply.Error, nullJSON(result), reply.At)
	return err
}

// GetReply returns the recorded reply with its result left as raw JSON.
func (rs *RequestStore) GetReply(ctx context.Context, kind, requestID string) (*core.Reply, error) {
	var (
		reply  core.Reply
		k, st  string
		result []byte
	)
	err := rs.db.QueryRowContext(ctx, `
		SELECT kind, request_id, status, code, error, result, replied_at
		FROM event_log.requests
		WHERE kind = $1 AND request_id = $2
	`, kind, requestID).Scan(&k, &reply.RequestID, &st, &reply.Code, &reply.Error, &result, &reply.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reply.Kind = core.RequestKind(k)
	reply.Status = core.ReplyStatus(st)
	if len(result) > 0 {
		reply.Result = json.RawMessage(result)
	}
	return &reply, nil
}

// RecentKeys returns up to limit dedup keys, newest first, for warming the
// LRU on a cold start.
func (rs *RequestStore) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := rs.db.QueryContext(ctx, `
		SELECT kind, request_id
		FROM event_log.requests
		ORDER BY replied_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		keys = append(keys, core.DedupKey(kind, id))
	}
	return keys, rows.Err()
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
