package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("query: not found")

// DefaultListLimit caps list endpoints when the caller gives no limit.
const DefaultListLimit = 100

// Store reads the projection tables.
type Store interface {
	Watermark(ctx context.Context) (int64, error)
	GetVault(ctx context.Context, collateral string, vaultID uint64) (*VaultResponse, error)
	ListVaults(ctx context.Context, collateral string, limit int) ([]VaultResponse, error)
	GetLiquidations(ctx context.Context, collateral, status string, limit int) ([]LiquidationResponse, error)
}

// PostgresStore reads projections written by the projection worker. Every
// response carries the watermark read alongside it as as_of_sequence.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(last_sequence), 0) FROM projections.watermark
	`).Scan(&seq)
	return seq, err
}

const vaultColumns = `
	collateral, vault_id, owner, phase, collateral_amt, debt_amt, debt_brand,
	version, last_event, last_sequence, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVault(row scanner) (VaultResponse, error) {
	var (
		v  VaultResponse
		id int64
	)
	err := row.Scan(
		&v.Collateral, &id, &v.Owner, &v.Phase, &v.Locked.Value, &v.Debt.Value, &v.Debt.Brand,
		&v.Version, &v.LastEvent, &v.LastSequence, &v.UpdatedAt,
	)
	v.VaultID = uint64(id)
	v.Locked.Brand = v.Collateral
	return v, err
}

func (s *PostgresStore) GetVault(ctx context.Context, collateral string, vaultID uint64) (*VaultResponse, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	v, err := scanVault(s.db.QueryRowContext(ctx,
		`SELECT `+vaultColumns+` FROM projections.vaults WHERE collateral = $1 AND vault_id = $2`,
		collateral, int64(vaultID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vault %s/%d", ErrNotFound, collateral, vaultID)
	}
	if err != nil {
		return nil, err
	}
	v.AsOfSequence = asOf
	return &v, nil
}

func (s *PostgresStore) ListVaults(ctx context.Context, collateral string, limit int) ([]VaultResponse, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vaultColumns+` FROM projections.vaults WHERE collateral = $1 ORDER BY vault_id LIMIT $2`,
		collateral, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vaults := []VaultResponse{}
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		v.AsOfSequence = asOf
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

// GetLiquidations returns the newest liquidations first. An empty status
// matches every status.
func (s *PostgresStore) GetLiquidations(ctx context.Context, collateral, status string, limit int) ([]LiquidationResponse, error) {
	asOf, err := s.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT liquidation_id, collateral, vault_id, status, debt, collateral_amt,
		       proceeds, penalty, overage, shortfall, collateral_sold,
		       started_seq, updated_seq, started_at, updated_at
		FROM projections.liquidations
		WHERE collateral = $1
	`
	args := []interface{}{collateral}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += " ORDER BY started_seq DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []LiquidationResponse{}
	for rows.Next() {
		var (
			r  LiquidationResponse
			id int64
		)
		if err := rows.Scan(
			&r.LiquidationID, &r.Collateral, &id, &r.Status, &r.Debt, &r.Locked,
			&r.Proceeds, &r.Penalty, &r.Overage, &r.Shortfall, &r.CollateralSold,
			&r.StartedSequence, &r.UpdatedSequence, &r.StartedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.VaultID = uint64(id)
		r.AsOfSequence = asOf
		results = append(results, r)
	}
	return results, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
