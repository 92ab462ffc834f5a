package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type SyncStateRepo struct {
	db *DB
}

func NewSyncStateRepo(db *DB) *SyncStateRepo {
	return &SyncStateRepo{db: db}
}

func (r *SyncStateRepo) Get(ctx context.Context, walletID uuid.UUID) (*model.SyncState, error) {
	var s model.SyncState
	err := r.db.QueryRowContext(ctx, `
		SELECT wallet_id, last_block_synced, last_cursor, last_sync_at, sync_status, error_message
		FROM sync_state
		WHERE wallet_id = $1
	`, walletID).Scan(&s.WalletID, &s.LastBlockSynced, &s.LastCursor, &s.LastSyncAt, &s.SyncStatus, &s.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state %s: %w", walletID, err)
	}
	return &s, nil
}

func (r *SyncStateRepo) Upsert(ctx context.Context, s *model.SyncState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (wallet_id, last_block_synced, last_cursor, last_sync_at, sync_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet_id)
		DO UPDATE SET
			last_block_synced = EXCLUDED.last_block_synced,
			last_cursor = EXCLUDED.last_cursor,
			last_sync_at = EXCLUDED.last_sync_at,
			sync_status = EXCLUDED.sync_status,
			error_message = EXCLUDED.error_message
	`, s.WalletID, s.LastBlockSynced, s.LastCursor, s.LastSyncAt, string(s.SyncStatus), s.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upsert sync state %s: %w", s.WalletID, err)
	}
	return nil
}
