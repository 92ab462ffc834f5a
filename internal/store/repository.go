package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

// WalletRepository provides access to the tracked wallet set.
type WalletRepository interface {
	List(ctx context.Context) ([]model.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	Upsert(ctx context.Context, w *model.Wallet) error
}

// TokenBalanceRepository persists point-in-time balance snapshots. Upsert is
// keyed by (wallet_id, symbol); running it twice with the same input leaves
// exactly one row.
type TokenBalanceRepository interface {
	Upsert(ctx context.Context, b *model.TokenBalance) error
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]model.TokenBalance, error)
	ListAll(ctx context.Context) ([]model.TokenBalance, error)
}

// DuplicateGroup is one tx_hash that appears on more than one ledger row.
// The unique constraint should make this impossible; the audit exists to
// prove it.
type DuplicateGroup struct {
	TxHash string
	Count  int
	IDs    []uuid.UUID
}

// TransactionRepository is the append-only transfer ledger.
type TransactionRepository interface {
	// Insert writes the transaction unless its tx_hash already exists.
	// Returns false when the insert was a duplicate no-op.
	Insert(ctx context.Context, t *model.Transaction) (bool, error)
	UpdateStatus(ctx context.Context, txHash string, status model.TxStatus) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]model.Transaction, error)
	FindDuplicates(ctx context.Context) ([]DuplicateGroup, error)
}

// TxMetadataRepository stores human annotations, one per transaction.
type TxMetadataRepository interface {
	Upsert(ctx context.Context, m *model.TxMetadata) error
	GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*model.TxMetadata, error)
}

// SyncStateRepository tracks the per-wallet incremental sync cursor.
type SyncStateRepository interface {
	Get(ctx context.Context, walletID uuid.UUID) (*model.SyncState, error)
	Upsert(ctx context.Context, s *model.SyncState) error
}

// PriceCacheRepository is the persistent price cache. Get returns (nil, nil)
// for a missing row; Put overwrites the row wholesale.
type PriceCacheRepository interface {
	Get(ctx context.Context, id string) (*model.PriceCache, error)
	Put(ctx context.Context, id string, data map[string]decimal.Decimal) error
}

// AlertConfigRepository holds the single transaction alert configuration.
// Get returns (nil, nil) when none is configured.
type AlertConfigRepository interface {
	Get(ctx context.Context) (*model.TransactionAlertConfig, error)
	Upsert(ctx context.Context, c *model.TransactionAlertConfig) error
}

// NotificationRepository persists transaction notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, n *model.Notification) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

// TokenContractRepository manages the allow-listed token contracts per
// chain.
type TokenContractRepository interface {
	ListByChain(ctx context.Context, c model.Chain) ([]model.TokenContract, error)
	Upsert(ctx context.Context, tc *model.TokenContract) error
}
