package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type TxMetadataRepo struct {
	db *DB
}

func NewTxMetadataRepo(db *DB) *TxMetadataRepo {
	return &TxMetadataRepo{db: db}
}

// Upsert writes the annotation for a transaction, one row per transaction_id.
func (r *TxMetadataRepo) Upsert(ctx context.Context, m *model.TxMetadata) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tx_metadata (id, transaction_id, category, note, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transaction_id)
		DO UPDATE SET
			category = EXCLUDED.category,
			note = EXCLUDED.note,
			tags = EXCLUDED.tags,
			updated_at = now()
	`, m.ID, m.TransactionID, m.Category, m.Note, m.Tags)
	if err != nil {
		return fmt.Errorf("upsert tx metadata: %w", err)
	}
	return nil
}

func (r *TxMetadataRepo) GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*model.TxMetadata, error) {
	var m model.TxMetadata
	err := r.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, category, note, tags, updated_at
		FROM tx_metadata
		WHERE transaction_id = $1
	`, transactionID).Scan(&m.ID, &m.TransactionID, &m.Category, &m.Note, &m.Tags, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tx metadata %s: %w", transactionID, err)
	}
	return &m, nil
}
