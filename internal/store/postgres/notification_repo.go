package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type NotificationRepo struct {
	db *DB
}

func NewNotificationRepo(db *DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Insert(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, transaction_id, severity, title, body, delivered)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.TransactionID, string(n.Severity), n.Title, n.Body, n.Delivered)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET delivered = true WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification delivered %s: %w", id, err)
	}
	return nil
}
