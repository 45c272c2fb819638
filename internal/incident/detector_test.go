// File: internal/incident/detector_test.go
package incident

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loginpilot/internal/browser/browsertest"
)

// --- Test doubles ---

type recordingAlerts struct {
	incidents  []Incident
	severities []Severity
}

func (r *recordingAlerts) SendIncidentAlert(_ context.Context, inc Incident, severity Severity) {
	r.incidents = append(r.incidents, inc)
	r.severities = append(r.severities, severity)
}

func TestMaskedAddressesMatch(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
		observed string
		want     bool
	}{
		{"same visible prefix and domain", "jo**@example.com", "jo*****@example.com", true},
		{"full address against masked", "john@example.com", "jo*****@example.com", true},
		{"different prefix", "jo**@example.com", "al*****@example.com", false},
		{"different domain", "jo**@example.com", "jo*****@example.org", false},
		{"single visible char suffices", "j***@example.com", "jo*****@example.com", true},
		{"case and whitespace ignored", " JO**@Example.COM ", "jo*****@example.com", true},
		{"fully masked local part matches", "***@example.com", "jo*****@example.com", true},
		{"malformed observed", "jo**@example.com", "not-an-address", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskedAddressesMatch(tc.expected, tc.observed))
		})
	}
}

func TestSignInBlocked(t *testing.T) {
	t.Run("matching heading raises and latches", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		alerts := &recordingAlerts{}
		d := NewDetector(zaptest.NewLogger(t), standby, alerts, nil, "")

		s := &browsertest.FakeSurface{}
		heading := s.AddElement(`#serviceAbuseLandingTitle`)
		heading.TextValue = "We've locked your account"

		require.True(t, d.SignInBlocked(context.Background(), s, "user@example.com"))
		assert.True(t, standby.Active())
		assert.Equal(t, KindSignInBlocked, standby.Reason())

		require.Len(t, alerts.incidents, 1)
		assert.Equal(t, "user@example.com", alerts.incidents[0].Account)
		assert.Equal(t, SeverityHigh, alerts.severities[0])
		assert.NotEmpty(t, alerts.incidents[0].NextSteps)
	})

	t.Run("clean page does not latch", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		d := NewDetector(zaptest.NewLogger(t), standby, nil, nil, "")

		s := &browsertest.FakeSurface{}
		heading := s.AddElement(`h1`)
		heading.TextValue = "Enter password"

		assert.False(t, d.SignInBlocked(context.Background(), s, "user@example.com"))
		assert.False(t, standby.Active())
	})

	t.Run("active latch short-circuits without scanning", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		standby.Activate("earlier incident")
		d := NewDetector(zaptest.NewLogger(t), standby, nil, nil, "")

		// A completely clean surface still reports blocked: the latch is
		// one-way for the process lifetime.
		s := &browsertest.FakeSurface{}
		assert.True(t, d.SignInBlocked(context.Background(), s, "user@example.com"))
	})
}

func TestRecoveryMismatch(t *testing.T) {
	t.Run("disabled without an expected address", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		d := NewDetector(zaptest.NewLogger(t), standby, nil, nil, "")

		s := &browsertest.FakeSurface{Text: "We sent a code to xx*****@attacker.net"}
		assert.False(t, d.RecoveryMismatch(context.Background(), s, "user@example.com"))
	})

	t.Run("matching masked hint passes", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		d := NewDetector(zaptest.NewLogger(t), standby, nil, nil, "jo**@example.com")

		s := &browsertest.FakeSurface{Text: "We sent a code to jo*****@example.com. Enter it below."}
		assert.False(t, d.RecoveryMismatch(context.Background(), s, "user@example.com"))
		assert.False(t, standby.Active())
	})

	t.Run("mismatch raises critical", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		alerts := &recordingAlerts{}
		d := NewDetector(zaptest.NewLogger(t), standby, alerts, nil, "jo**@example.com")

		s := &browsertest.FakeSurface{Text: "We sent a code to al*****@example.com."}
		require.True(t, d.RecoveryMismatch(context.Background(), s, "user@example.com"))
		assert.True(t, standby.Active())
		require.Len(t, alerts.severities, 1)
		assert.Equal(t, SeverityCritical, alerts.severities[0])
	})

	t.Run("no masked hint on the page passes", func(t *testing.T) {
		standby := NewStandby(zaptest.NewLogger(t))
		d := NewDetector(zaptest.NewLogger(t), standby, nil, nil, "jo**@example.com")

		s := &browsertest.FakeSurface{Text: "Enter your password"}
		assert.False(t, d.RecoveryMismatch(context.Background(), s, "user@example.com"))
	})
}

func TestStandbyLatchIsOneWay(t *testing.T) {
	standby := NewStandby(zaptest.NewLogger(t))

	assert.False(t, standby.Active())
	assert.True(t, standby.Activate("first reason"), "first activation wins")
	assert.False(t, standby.Activate("second reason"), "subsequent activations are no-ops")
	assert.True(t, standby.Active())
	assert.Equal(t, "first reason", standby.Reason())
}

func TestStandbyReasonVisibleWithLatch(t *testing.T) {
	standby := NewStandby(zaptest.NewLogger(t))

	// An observer that sees the latch set must never read an empty reason.
	observed := make(chan string)
	go func() {
		for !standby.Active() {
			runtime.Gosched()
		}
		observed <- standby.Reason()
	}()

	standby.Activate("recovery email mismatch")
	assert.Equal(t, "recovery email mismatch", <-observed)
}
