package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/metrics"
	"github.com/funtreasury/treasury-sync/internal/store"
)

// Notifier turns ingested transactions into persisted notifications and
// channel deliveries. Every error path degrades to a log line: the ledger
// write that triggered the notification has already committed and must not
// be disturbed.
type Notifier struct {
	configs       store.AlertConfigRepository
	notifications store.NotificationRepository
	alerter       Alerter
	logger        *slog.Logger
}

func NewNotifier(
	configs store.AlertConfigRepository,
	notifications store.NotificationRepository,
	alerter Alerter,
	logger *slog.Logger,
) *Notifier {
	return &Notifier{
		configs:       configs,
		notifications: notifications,
		alerter:       alerter,
		logger:        logger.With("component", "notifier"),
	}
}

// NotifyTransaction records and dispatches the notice for a freshly inserted
// ledger row. Severity is urgent when the transaction crosses the configured
// threshold (inclusive), info otherwise.
func (n *Notifier) NotifyTransaction(ctx context.Context, w *model.Wallet, t *model.Transaction) {
	cfg, err := n.configs.Get(ctx)
	if err != nil {
		n.logger.Warn("alert config load failed, treating transaction as routine",
			"tx_hash", t.TxHash, "error", err)
		cfg = nil
	}

	severity := model.SeverityInfo
	title := fmt.Sprintf("%s %s %s", t.Direction, t.Amount.String(), t.TokenSymbol)
	if cfg.Matches(t.Direction, t.TokenSymbol, t.USDValue) {
		severity = model.SeverityUrgent
		title = fmt.Sprintf("Large transfer: %s %s %s ($%s)",
			t.Direction, t.Amount.String(), t.TokenSymbol, t.USDValue.StringFixed(2))
		metrics.AlertsFired.WithLabelValues(string(t.Direction)).Inc()
	}

	notif := &model.Notification{
		TransactionID: t.ID,
		Severity:      severity,
		Title:         title,
		Body: fmt.Sprintf("wallet=%s chain=%s tx=%s from=%s to=%s",
			w.Name, w.Chain, t.TxHash, t.FromAddress, t.ToAddress),
	}
	persisted := true
	if err := n.notifications.Insert(ctx, notif); err != nil {
		n.logger.Warn("notification persist failed", "tx_hash", t.TxHash, "error", err)
		persisted = false
	}

	a := Alert{
		Severity: severity,
		Wallet:   w.Name,
		Chain:    string(w.Chain),
		Title:    title,
		Fields: map[string]string{
			"tx_hash":   t.TxHash,
			"token":     t.TokenSymbol,
			"amount":    t.Amount.String(),
			"usd_value": t.USDValue.StringFixed(2),
			"from":      t.FromAddress,
			"to":        t.ToAddress,
		},
	}
	if err := n.alerter.Send(ctx, a); err != nil {
		if errors.Is(err, ErrSuppressed) {
			n.logger.Debug("notification suppressed by cooldown", "tx_hash", t.TxHash)
		} else {
			n.logger.Warn("notification delivery failed", "tx_hash", t.TxHash, "error", err)
		}
		return
	}
	if persisted {
		if err := n.notifications.MarkDelivered(ctx, notif.ID); err != nil {
			n.logger.Warn("notification delivery flag update failed", "id", notif.ID, "error", err)
		}
	}
}
