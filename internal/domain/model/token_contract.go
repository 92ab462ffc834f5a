package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenContract is an allow-listed token the fetcher always surfaces for a
// chain, even at zero balance.
type TokenContract struct {
	ID              uuid.UUID `db:"id"`
	Chain           Chain     `db:"chain"`
	ContractAddress string    `db:"contract_address"`
	Symbol          string    `db:"symbol"`
	Decimals        int32     `db:"decimals"`
	CreatedAt       time.Time `db:"created_at"`
}
