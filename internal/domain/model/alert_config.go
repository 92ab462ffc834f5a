package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AlertDirection string

const (
	AlertDirectionAll AlertDirection = "all"
	AlertDirectionIn  AlertDirection = "in"
	AlertDirectionOut AlertDirection = "out"
)

// TransactionAlertConfig decides whether a newly ingested transaction is
// escalated. A nil TokenSymbol matches every token.
type TransactionAlertConfig struct {
	ID           int64           `db:"id"`
	Enabled      bool            `db:"enabled"`
	ThresholdUSD decimal.Decimal `db:"threshold_usd"`
	Direction    AlertDirection  `db:"direction"`
	TokenSymbol  *string         `db:"token_symbol"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// Matches reports whether a transaction with the given direction, token and
// USD value crosses this config. The threshold is inclusive.
func (c *TransactionAlertConfig) Matches(dir Direction, tokenSymbol string, usdValue decimal.Decimal) bool {
	if c == nil || !c.Enabled {
		return false
	}
	switch c.Direction {
	case AlertDirectionIn:
		if dir != DirectionIn {
			return false
		}
	case AlertDirectionOut:
		if dir != DirectionOut {
			return false
		}
	}
	if c.TokenSymbol != nil && *c.TokenSymbol != "" && *c.TokenSymbol != tokenSymbol {
		return false
	}
	return usdValue.GreaterThanOrEqual(c.ThresholdUSD)
}
