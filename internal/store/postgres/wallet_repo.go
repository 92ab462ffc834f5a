package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type WalletRepo struct {
	db *DB
}

func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

func (r *WalletRepo) List(ctx context.Context) ([]model.Wallet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, address, chain, name, created_at, updated_at
		FROM wallets
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []model.Wallet
	for rows.Next() {
		var w model.Wallet
		if err := rows.Scan(&w.ID, &w.Address, &w.Chain, &w.Name, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.QueryRowContext(ctx, `
		SELECT id, address, chain, name, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, id).Scan(&w.ID, &w.Address, &w.Chain, &w.Name, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", id, err)
	}
	return &w, nil
}

// Upsert registers a wallet, keyed by (chain, address). Only the display
// name is updated on conflict; the wallet keeps its original ID so ledger
// rows stay attached.
func (r *WalletRepo) Upsert(ctx context.Context, w *model.Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (id, address, chain, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain, address)
		DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`, w.ID, w.Address, string(w.Chain), w.Name)
	if err != nil {
		return fmt.Errorf("upsert wallet: %w", err)
	}
	return nil
}
