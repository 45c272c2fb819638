// File: internal/notify/webhook_test.go
package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loginpilot/internal/config"
	"github.com/xkilldash9x/loginpilot/internal/incident"
)

func TestSendIncidentAlert(t *testing.T) {
	var received alertPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL}, zaptest.NewLogger(t))
	w.SendIncidentAlert(context.Background(), incident.Incident{
		Kind:      incident.KindSignInBlocked,
		Account:   "user@example.com",
		Details:   []string{"The provider refused the sign-in attempt."},
		NextSteps: []string{"Review recent sign-in activity."},
	}, incident.SeverityHigh)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "high", received.Severity)
	assert.Equal(t, incident.KindSignInBlocked, received.Incident.Kind)
	assert.Equal(t, "user@example.com", received.Incident.Account)
	assert.False(t, received.Timestamp.IsZero())
}

func TestSendIncidentAlert_FailuresAreSwallowed(t *testing.T) {
	t.Run("unreachable endpoint", func(t *testing.T) {
		w := NewWebhook(config.NotifyConfig{WebhookURL: "http://127.0.0.1:1"}, zaptest.NewLogger(t))
		// Must not panic or block beyond the client timeout.
		w.SendIncidentAlert(context.Background(), incident.Incident{Kind: "x"}, incident.SeverityHigh)
	})

	t.Run("rejecting endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		w := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL}, zaptest.NewLogger(t))
		w.SendIncidentAlert(context.Background(), incident.Incident{Kind: "x"}, incident.SeverityCritical)
	})

	t.Run("unconfigured is a no-op", func(t *testing.T) {
		w := NewWebhook(config.NotifyConfig{}, zaptest.NewLogger(t))
		w.SendIncidentAlert(context.Background(), incident.Incident{Kind: "x"}, incident.SeverityHigh)
	})
}
