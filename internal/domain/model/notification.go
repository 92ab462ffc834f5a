package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationSeverity string

const (
	SeverityInfo   NotificationSeverity = "info"
	SeverityUrgent NotificationSeverity = "urgent"
)

// Notification is the persisted record of a transaction notice. Urgent rows
// are threshold-alert escalations; info rows are routine transfer notices.
type Notification struct {
	ID            uuid.UUID            `db:"id"`
	TransactionID uuid.UUID            `db:"transaction_id"`
	Severity      NotificationSeverity `db:"severity"`
	Title         string               `db:"title"`
	Body          string               `db:"body"`
	Delivered     bool                 `db:"delivered"`
	CreatedAt     time.Time            `db:"created_at"`
}
