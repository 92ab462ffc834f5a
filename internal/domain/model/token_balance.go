package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenBalance is the point-in-time holding of one token in one wallet.
// At most one row exists per (wallet_id, symbol); snapshots replace, they
// never append.
type TokenBalance struct {
	ID       uuid.UUID       `db:"id"`
	WalletID uuid.UUID       `db:"wallet_id"`
	Symbol   string          `db:"symbol"`
	Balance  decimal.Decimal `db:"balance"`
	USDValue decimal.Decimal `db:"usd_value"`

	UpdatedAt time.Time `db:"updated_at"`
}

// RawTokenBalance is a provider-reported holding before pricing and
// persistence. ContractAddress is empty for native coins.
type RawTokenBalance struct {
	Symbol          string
	Name            string
	ContractAddress string
	Decimals        int32
	Balance         decimal.Decimal
	Native          bool
}
