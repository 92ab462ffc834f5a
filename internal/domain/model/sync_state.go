package model

import (
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusOK      SyncStatus = "ok"
	SyncStatusError   SyncStatus = "error"
)

// SyncState is the per-wallet incremental sync cursor. One row per wallet;
// advanced only after that wallet's page of transfers is committed.
type SyncState struct {
	WalletID        uuid.UUID  `db:"wallet_id"`
	LastBlockSynced int64      `db:"last_block_synced"`
	LastCursor      *string    `db:"last_cursor"`
	LastSyncAt      *time.Time `db:"last_sync_at"`
	SyncStatus      SyncStatus `db:"sync_status"`
	ErrorMessage    *string    `db:"error_message"`
}
