package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TxMetadata is a human-authored annotation of a single transaction.
// Purely descriptive; never participates in balance math.
type TxMetadata struct {
	ID            uuid.UUID      `db:"id"`
	TransactionID uuid.UUID      `db:"transaction_id"`
	Category      string         `db:"category"`
	Note          string         `db:"note"`
	Tags          pq.StringArray `db:"tags"`
	UpdatedAt     time.Time      `db:"updated_at"`
}
