package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

// ErrUnsupportedAddress marks a wallet whose address does not fit its
// declared chain. The batch loop skips such wallets instead of failing.
var ErrUnsupportedAddress = errors.New("unsupported address format")

// Transfer is a raw on-chain transfer event before ledger normalization.
type Transfer struct {
	Hash         string
	TokenSymbol  string
	TokenAddress string
	From         string
	To           string
	Amount       decimal.Decimal
	BlockNumber  int64
	GasFee       decimal.Decimal
	Status       model.TxStatus
	Timestamp    time.Time
}

// TransferPage is one provider page of transfers plus the resume state for
// the next sync: the provider cursor for token transfers (nil when
// exhausted) and the highest block number seen.
type TransferPage struct {
	Transfers []Transfer
	Cursor    *string
	MaxBlock  int64
}

// BalanceFetcher retrieves the current holdings of one wallet.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, wallet model.Wallet) ([]model.RawTokenBalance, error)
}

// TransferFetcher retrieves new transfer events for one wallet. Token
// transfers resume from the provider cursor; native transactions resume
// from fromBlock (exclusive).
type TransferFetcher interface {
	FetchTransfers(ctx context.Context, wallet model.Wallet, cursor *string, fromBlock int64, limit int) (TransferPage, error)
}
