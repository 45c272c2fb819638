// File: internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/config"
	"github.com/xkilldash9x/loginpilot/internal/incident"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Webhook delivers incident alerts to a configured HTTP endpoint. Delivery is
// fire-and-forget: failures are logged at warn and swallowed, per the
// notification contract. A nil or unconfigured Webhook is a no-op.
type Webhook struct {
	logger *zap.Logger
	client *http.Client
	url    string
}

var _ incident.AlertSender = (*Webhook)(nil)

// NewWebhook creates the alert sender. An empty webhook URL disables delivery.
func NewWebhook(cfg config.NotifyConfig, logger *zap.Logger) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		logger: logger.Named("notify"),
		client: &http.Client{Timeout: timeout},
		url:    cfg.WebhookURL,
	}
}

// alertPayload is the wire shape posted to the webhook.
type alertPayload struct {
	Severity  string            `json:"severity"`
	Incident  incident.Incident `json:"incident"`
	Timestamp time.Time         `json:"timestamp"`
}

// SendIncidentAlert posts the incident. It blocks at most the client timeout
// and never returns an error.
func (w *Webhook) SendIncidentAlert(ctx context.Context, inc incident.Incident, severity incident.Severity) {
	if w == nil || w.url == "" {
		return
	}

	body, err := json.Marshal(alertPayload{
		Severity:  string(severity),
		Incident:  inc,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		w.logger.Warn("Failed to encode incident alert.", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("Failed to build incident alert request.", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("Incident alert delivery failed.", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("Incident alert rejected by endpoint.",
			zap.Int("status", resp.StatusCode), zap.String("kind", inc.Kind))
		return
	}
	w.logger.Info("Incident alert delivered.",
		zap.String("kind", inc.Kind), zap.String("severity", string(severity)))
}
