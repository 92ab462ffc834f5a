package model

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a treasury-tracked address. Address and chain are immutable once
// transactions reference the wallet; only the display name may change.
type Wallet struct {
	ID        uuid.UUID `db:"id"`
	Address   string    `db:"address"`
	Chain     Chain     `db:"chain"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
