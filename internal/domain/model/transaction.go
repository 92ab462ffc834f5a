package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
	TxStatusPending TxStatus = "pending"
)

// Transaction is an append-only ledger entry for one observed on-chain
// transfer. Rows are written once per tx_hash and never mutated except for
// status correction.
type Transaction struct {
	ID           uuid.UUID       `db:"id"`
	WalletID     uuid.UUID       `db:"wallet_id"`
	TxHash       string          `db:"tx_hash"`
	Direction    Direction       `db:"direction"`
	TokenSymbol  string          `db:"token_symbol"`
	TokenAddress string          `db:"token_address"`
	Amount       decimal.Decimal `db:"amount"`
	USDValue     decimal.Decimal `db:"usd_value"`
	FromAddress  string          `db:"from_address"`
	ToAddress    string          `db:"to_address"`
	BlockNumber  int64           `db:"block_number"`
	GasFee       decimal.Decimal `db:"gas_fee"`
	Status       TxStatus        `db:"status"`
	Timestamp    time.Time       `db:"timestamp"`
	CreatedAt    time.Time       `db:"created_at"`
}

// ClassifyDirection maps a transfer's endpoints onto the tracked wallet.
// A self-transfer (both endpoints equal the wallet) is classified IN: funds
// never left the treasury, and inbound is the conservative reading for
// alerting purposes.
func ClassifyDirection(walletAddr, from, to string) Direction {
	w := normalizeAddr(walletAddr)
	if normalizeAddr(to) == w {
		return DirectionIn
	}
	if normalizeAddr(from) == w {
		return DirectionOut
	}
	// Neither endpoint matches; the provider returned a transfer we did not
	// ask for. Treat as inbound so it surfaces rather than disappears.
	return DirectionIn
}

func normalizeAddr(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
