// Package alert evaluates newly ingested transactions against the configured
// USD threshold and dispatches notifications. Delivery is best effort:
// a dead Slack webhook never blocks or rolls back transaction ingestion.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/metrics"
)

// ErrSuppressed reports that the cooldown swallowed an alert. No channel
// received it, so callers must not record it as delivered.
var ErrSuppressed = errors.New("alert suppressed by cooldown")

// Alert is one outbound notification event.
type Alert struct {
	Severity model.NotificationSeverity
	Wallet   string
	Chain    string
	Title    string
	Message  string
	Fields   map[string]string
}

// Alerter is a single delivery channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to every configured channel. Urgent alerts
// bypass the cooldown; info-level notices for the same wallet are suppressed
// inside the window so a busy wallet does not flood the channels.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s", a.Chain, a.Wallet)
}

func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.Severity != model.SeverityUrgent {
		key := cooldownKey(alert)
		m.mu.Lock()
		if last, ok := m.lastSent[key]; ok && m.now().Sub(last) < m.cooldown {
			m.mu.Unlock()
			m.logger.Debug("notification suppressed by cooldown", "key", key)
			for _, a := range m.alerters {
				metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a)).Inc()
			}
			return ErrSuppressed
		}
		m.lastSent[key] = m.now()
		m.mu.Unlock()
	}

	var firstErr error
	for _, a := range m.alerters {
		channel := alerterName(a)
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("notification send failed",
				"channel", channel,
				"severity", alert.Severity,
				"error", err,
			)
			metrics.NotificationsFailed.WithLabelValues(channel).Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.NotificationsSent.WithLabelValues(channel).Inc()
	}
	return firstErr
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	default:
		return "unknown"
	}
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji := ":information_source:"
	if alert.Severity == model.SeverityUrgent {
		emoji = ":rotating_light:"
	}

	text := fmt.Sprintf("%s *[%s]* %s: %s\n%s",
		emoji, alert.Chain, alert.Wallet, alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		text += "\n"
		for k, v := range alert.Fields {
			text += fmt.Sprintf("- *%s*: %s\n", k, v)
		}
	}

	payload := map[string]string{"text": text}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookAlerter posts alerts to a generic HTTP endpoint as JSON.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := map[string]any{
		"severity": string(alert.Severity),
		"chain":    alert.Chain,
		"wallet":   alert.Wallet,
		"title":    alert.Title,
		"message":  alert.Message,
		"fields":   alert.Fields,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopAlerter does nothing. Used when no alert channels are configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
