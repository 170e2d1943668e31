package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AlertNotifier delivers alerts triggered by rules: it posts to configured
// webhooks and publishes on JetStream for downstream consumers (dashboard
// stream, Telegram bridge). Delivery transport beyond that is not ours.
type AlertNotifier struct {
	httpClient  *http.Client
	webhookURLs []string
	js          nats.JetStreamContext
	logger      zerolog.Logger
}

// NewAlertNotifier creates an alert dispatcher
func NewAlertNotifier(webhookURLs []string, js nats.JetStreamContext, logger zerolog.Logger) *AlertNotifier {
	return &AlertNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		webhookURLs: webhookURLs,
		js:          js,
		logger:      logger.With().Str("component", "alert-notifier").Logger(),
	}
}

// alertPayload is the wire shape for both webhooks and the NATS subject
type alertPayload struct {
	UserID    string    `json:"user_id"`
	WalletID  string    `json:"wallet_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SendAlert dispatches one alert. The NATS publish is the authoritative
// delivery; webhook failures are logged but do not fail the action, since
// webhooks are an optional mirror.
func (n *AlertNotifier) SendAlert(ctx context.Context, userID, walletID, message string) error {
	payload := alertPayload{
		UserID:    userID,
		WalletID:  walletID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if _, err := n.js.Publish("alerts.triggered", data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	for _, url := range n.webhookURLs {
		if err := n.postWebhook(ctx, url, data); err != nil {
			n.logger.Error().
				Err(err).
				Str("webhook", url).
				Str("user_id", userID).
				Msg("failed to send webhook")
		}
	}

	return nil
}

func (n *AlertNotifier) postWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// EmailNotifier requests email delivery by publishing to the notifications
// stream; a separate delivery worker owns SMTP
type EmailNotifier struct {
	js     nats.JetStreamContext
	logger zerolog.Logger
}

// NewEmailNotifier creates an email dispatch publisher
func NewEmailNotifier(js nats.JetStreamContext, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		js:     js,
		logger: logger.With().Str("component", "email-notifier").Logger(),
	}
}

type emailPayload struct {
	UserID    string    `json:"user_id"`
	WalletID  string    `json:"wallet_id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SendEmail enqueues one email notification request
func (n *EmailNotifier) SendEmail(ctx context.Context, userID, walletID, subject, message string) error {
	payload := emailPayload{
		UserID:    userID,
		WalletID:  walletID,
		Subject:   subject,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	if _, err := n.js.Publish("notifications.email", data); err != nil {
		return fmt.Errorf("publish email request: %w", err)
	}

	n.logger.Debug().
		Str("user_id", userID).
		Str("subject", subject).
		Msg("email notification enqueued")

	return nil
}
