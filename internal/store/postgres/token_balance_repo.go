package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type TokenBalanceRepo struct {
	db *DB
}

func NewTokenBalanceRepo(db *DB) *TokenBalanceRepo {
	return &TokenBalanceRepo{db: db}
}

// Upsert replaces the (wallet_id, symbol) snapshot row. Re-running a sync
// with identical provider data converges to the same single row.
func (r *TokenBalanceRepo) Upsert(ctx context.Context, b *model.TokenBalance) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_balances (id, wallet_id, symbol, balance, usd_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_id, symbol)
		DO UPDATE SET
			balance = EXCLUDED.balance,
			usd_value = EXCLUDED.usd_value,
			updated_at = now()
	`, b.ID, b.WalletID, b.Symbol, b.Balance, b.USDValue)
	if err != nil {
		return fmt.Errorf("upsert balance %s: %w", b.Symbol, err)
	}
	return nil
}

func (r *TokenBalanceRepo) ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.TokenBalance, error) {
	return r.list(ctx, `
		SELECT id, wallet_id, symbol, balance, usd_value, updated_at
		FROM token_balances
		WHERE wallet_id = $1
		ORDER BY usd_value DESC
	`, walletID)
}

func (r *TokenBalanceRepo) ListAll(ctx context.Context) ([]model.TokenBalance, error) {
	return r.list(ctx, `
		SELECT id, wallet_id, symbol, balance, usd_value, updated_at
		FROM token_balances
		ORDER BY wallet_id, usd_value DESC
	`)
}

func (r *TokenBalanceRepo) list(ctx context.Context, query string, args ...any) ([]model.TokenBalance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []model.TokenBalance
	for rows.Next() {
		var b model.TokenBalance
		if err := rows.Scan(&b.ID, &b.WalletID, &b.Symbol, &b.Balance, &b.USDValue, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
