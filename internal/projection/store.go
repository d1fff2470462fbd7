package projection

import (
	"context"
	"database/sql"
	"fmt"
)

// WatermarkName keys this projection's row in projections.watermark.
const WatermarkName = "vaults"

const upsertVaultSQL = `
	INSERT INTO projections.vaults
		(collateral, vault_id, owner, phase, collateral_amt, debt_amt, debt_brand,
		 version, last_event, last_sequence, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (collateral, vault_id) DO UPDATE SET
		owner          = EXCLUDED.owner,
		phase          = EXCLUDED.phase,
		collateral_amt = EXCLUDED.collateral_amt,
		debt_amt       = EXCLUDED.debt_amt,
		debt_brand     = EXCLUDED.debt_brand,
		version        = EXCLUDED.version,
		last_event     = EXCLUDED.last_event,
		last_sequence  = EXCLUDED.last_sequence,
		updated_at     = EXCLUDED.updated_at
	WHERE projections.vaults.last_sequence < EXCLUDED.last_sequence
`

// Debt and collateral keep the values seen when the liquidation started.
const upsertLiquidationSQL = `
	INSERT INTO projections.liquidations
		(liquidation_id, collateral, vault_id, status, debt, collateral_amt,
		 proceeds, penalty, overage, shortfall, collateral_sold,
		 started_seq, updated_seq, started_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $13, $13)
	ON CONFLICT (liquidation_id) DO UPDATE SET
		status          = EXCLUDED.status,
		proceeds        = EXCLUDED.proceeds,
		penalty         = CASE WHEN EXCLUDED.status = 'stalled'
		                       THEN projections.liquidations.penalty
		                       ELSE EXCLUDED.penalty END,
		overage         = EXCLUDED.overage,
		shortfall       = EXCLUDED.shortfall,
		collateral_sold = EXCLUDED.collateral_sold,
		updated_seq     = EXCLUDED.updated_seq,
		updated_at      = EXCLUDED.updated_at
	WHERE projections.liquidations.updated_seq < EXCLUDED.updated_seq
`

const upsertWatermarkSQL = `
	INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (projection_name) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	WHERE projections.watermark.last_sequence < EXCLUDED.last_sequence
`

// ApplyUpdate writes one update and advances the watermark in a single
// transaction. Reapplying an older update is a no-op.
func ApplyUpdate(ctx context.Context, db *sql.DB, u Update) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if v := u.Vault; v != nil {
		if _, err := tx.ExecContext(ctx, upsertVaultSQL,
			v.Collateral, int64(v.VaultID), v.Owner, v.Phase, v.CollateralAmt, v.DebtAmt, v.DebtBrand,
			v.Version, v.LastEvent, v.LastSequence, v.UpdatedAt,
		); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
	}

	if l := u.Liquidation; l != nil {
		if _, err := tx.ExecContext(ctx, upsertLiquidationSQL,
			l.LiquidationID, l.Collateral, int64(l.VaultID), l.Status, l.Debt, l.CollateralAmt,
			l.Proceeds, l.Penalty, l.Overage, l.Shortfall, l.CollateralSold,
			l.Sequence, l.At,
		); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, upsertWatermarkSQL, WatermarkName, u.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// LoadWatermark returns the last applied sequence, or 0 before the first
// event.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`,
		WatermarkName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
