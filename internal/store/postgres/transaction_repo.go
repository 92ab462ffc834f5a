package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/store"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Insert appends a ledger row unless tx_hash already exists. The unique
// constraint is the idempotency guard; a conflicting insert is a silent
// no-op and reports false.
func (r *TransactionRepo) Insert(ctx context.Context, t *model.Transaction) (bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO transactions (
			id, wallet_id, tx_hash, direction, token_symbol, token_address,
			amount, usd_value, from_address, to_address, block_number,
			gas_fee, status, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id
	`, t.ID, t.WalletID, t.TxHash, string(t.Direction), t.TokenSymbol, t.TokenAddress,
		t.Amount, t.USDValue, t.FromAddress, t.ToAddress, t.BlockNumber,
		t.GasFee, string(t.Status), t.Timestamp,
	).Scan(&t.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", t.TxHash, err)
	}
	return true, nil
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, txHash string, status model.TxStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE tx_hash = $1
	`, txHash, string(status))
	if err != nil {
		return fmt.Errorf("update transaction status %s: %w", txHash, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update transaction status %s: %w", txHash, sql.ErrNoRows)
	}
	return nil
}

func (r *TransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, wallet_id, tx_hash, direction, token_symbol, token_address,
		       amount, usd_value, from_address, to_address, block_number,
		       gas_fee, status, timestamp, created_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.TxHash, &t.Direction, &t.TokenSymbol, &t.TokenAddress,
			&t.Amount, &t.USDValue, &t.FromAddress, &t.ToAddress, &t.BlockNumber,
			&t.GasFee, &t.Status, &t.Timestamp, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// FindDuplicates audits the ledger for tx_hash values appearing on more than
// one row. The unique constraint should make the result empty; a non-empty
// result means the constraint was bypassed and needs manual repair.
func (r *TransactionRepo) FindDuplicates(ctx context.Context) ([]store.DuplicateGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, count(*), array_agg(id ORDER BY created_at)
		FROM transactions
		GROUP BY tx_hash
		HAVING count(*) > 1
		ORDER BY count(*) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("find duplicate transactions: %w", err)
	}
	defer rows.Close()

	var groups []store.DuplicateGroup
	for rows.Next() {
		var g store.DuplicateGroup
		var ids pq.StringArray
		if err := rows.Scan(&g.TxHash, &g.Count, &ids); err != nil {
			return nil, fmt.Errorf("scan duplicate group: %w", err)
		}
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("parse duplicate id %q: %w", raw, err)
			}
			g.IDs = append(g.IDs, id)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
