package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

// AlertConfigRepo stores the single-row transaction alert configuration.
type AlertConfigRepo struct {
	db *DB
}

func NewAlertConfigRepo(db *DB) *AlertConfigRepo {
	return &AlertConfigRepo{db: db}
}

func (r *AlertConfigRepo) Get(ctx context.Context) (*model.TransactionAlertConfig, error) {
	var c model.TransactionAlertConfig
	err := r.db.QueryRowContext(ctx, `
		SELECT id, enabled, threshold_usd, direction, token_symbol, updated_at
		FROM transaction_alerts
		WHERE id = 1
	`).Scan(&c.ID, &c.Enabled, &c.ThresholdUSD, &c.Direction, &c.TokenSymbol, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert config: %w", err)
	}
	return &c, nil
}

func (r *AlertConfigRepo) Upsert(ctx context.Context, c *model.TransactionAlertConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transaction_alerts (id, enabled, threshold_usd, direction, token_symbol)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			threshold_usd = EXCLUDED.threshold_usd,
			direction = EXCLUDED.direction,
			token_symbol = EXCLUDED.token_symbol,
			updated_at = now()
	`, c.Enabled, c.ThresholdUSD, string(c.Direction), c.TokenSymbol)
	if err != nil {
		return fmt.Errorf("upsert alert config: %w", err)
	}
	return nil
}
