// File: internal/incident/detector.go
package incident

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
)

// Severity classifies how an incident is relayed externally.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Incident kinds.
const (
	KindSignInBlocked    = "sign-in-blocked"
	KindRecoveryMismatch = "recovery-mismatch"
)

// Incident is a structured record of an account-security anomaly.
type Incident struct {
	Kind      string   `json:"kind"`
	Account   string   `json:"account"`
	Details   []string `json:"details"`
	NextSteps []string `json:"nextSteps"`
	DocsURL   string   `json:"docsUrl"`
}

// AlertSender relays an incident to an external channel. Implementations are
// fire-and-forget; failures must be swallowed.
type AlertSender interface {
	SendIncidentAlert(ctx context.Context, inc Incident, severity Severity)
}

// Capturer records diagnostic artifacts for a surface, rate-limited internally.
type Capturer interface {
	Capture(ctx context.Context, s browser.Surface, label string, force bool)
}

// headingSelectors are the elements scanned for block phrases. Kept small on
// purpose; scanning the whole page produces false positives from help text.
var headingSelectors = []string{
	"#serviceAbuseLandingTitle",
	`div[role="heading"]`,
	"h1",
	"title",
}

// blockedPhrases indicate the provider refused the sign-in outright.
var blockedPhrases = []string{
	"too many incorrect",
	"your account has been locked",
	"your account or password is incorrect too many times",
	"sign-in is blocked",
	"we've locked your account",
	"unusual sign-in activity",
	"help us protect your account",
}

// maskedEmailPattern matches provider-masked addresses like k*****@domain.com.
var maskedEmailPattern = regexp.MustCompile(`[a-z0-9][a-z0-9*._-]*\*[a-z0-9*._-]*@[a-z0-9.-]+\.[a-z]{2,}`)

const docsBaseURL = "https://support.microsoft.com/account-billing/unblock-or-recover-a-hacked-account"

// Detector runs the account-security checks at fixed points in the flow. A
// positive match latches the shared Standby state; subsequent calls for the
// same process short-circuit without touching the UI again.
type Detector struct {
	logger  *zap.Logger
	standby *Standby
	alerts  AlertSender
	diags   Capturer

	// expectedRecovery enables the recovery-mismatch check when non-empty.
	// It may itself be partially masked; only the visible prefix and the
	// domain are ever compared.
	expectedRecovery string
}

// NewDetector wires a detector. alerts and diags may be nil; the corresponding
// side effects are skipped.
func NewDetector(logger *zap.Logger, standby *Standby, alerts AlertSender, diags Capturer, expectedRecovery string) *Detector {
	return &Detector{
		logger:           logger.Named("incident_detector"),
		standby:          standby,
		alerts:           alerts,
		diags:            diags,
		expectedRecovery: strings.ToLower(strings.TrimSpace(expectedRecovery)),
	}
}

// SignInBlocked scans heading elements for phrases indicating the provider
// blocked the attempt. Returns true when the account must not be touched
// further (either a fresh match or an already-active latch).
func (d *Detector) SignInBlocked(ctx context.Context, s browser.Surface, account string) bool {
	if d.standby.Active() {
		return true
	}

	for _, selector := range headingSelectors {
		el, ok := s.Locate(ctx, selector)
		if !ok {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		lower := strings.ToLower(text)
		for _, phrase := range blockedPhrases {
			if strings.Contains(lower, phrase) {
				d.raise(ctx, s, Incident{
					Kind:    KindSignInBlocked,
					Account: account,
					Details: []string{
						"The provider refused the sign-in attempt.",
						"Matched phrase: " + phrase,
						"Heading: " + text,
					},
					NextSteps: []string{
						"Review recent sign-in activity for this account.",
						"Complete the provider's account recovery flow manually.",
						"Remove the account from rotation until cleared.",
					},
					DocsURL: docsBaseURL,
				}, SeverityHigh)
				return true
			}
		}
	}
	return false
}

// RecoveryMismatch compares the masked recovery address hinted by the UI with
// the expected one. Only the first one or two visible characters plus the full
// domain participate in the comparison, since the full address is never shown.
// A mismatch is critical: it suggests the account's recovery contact changed.
func (d *Detector) RecoveryMismatch(ctx context.Context, s browser.Surface, account string) bool {
	if d.standby.Active() {
		return true
	}
	if d.expectedRecovery == "" {
		return false
	}

	text, err := s.PageText(ctx)
	if err != nil {
		return false
	}

	candidates := maskedEmailPattern.FindAllString(strings.ToLower(text), -1)
	if len(candidates) == 0 {
		return false
	}

	for _, candidate := range candidates {
		if MaskedAddressesMatch(d.expectedRecovery, candidate) {
			return false
		}
	}

	d.raise(ctx, s, Incident{
		Kind:    KindRecoveryMismatch,
		Account: account,
		Details: []string{
			"The masked recovery address shown by the provider does not match the expected one.",
			"Expected: " + d.expectedRecovery,
			"Observed: " + strings.Join(candidates, ", "),
		},
		NextSteps: []string{
			"Verify the account's recovery contacts immediately.",
			"Change the account password from a trusted device.",
			"Audit recent security events for this account.",
		},
		DocsURL: docsBaseURL,
	}, SeverityCritical)
	return true
}

// raise runs the shared incident pipeline: latch, structured log, diagnostics
// snapshot, external alert. Everything below the latch is best-effort.
func (d *Detector) raise(ctx context.Context, s browser.Surface, inc Incident, severity Severity) {
	first := d.standby.Activate(inc.Kind)

	d.logger.Error("Security incident detected.",
		zap.String("kind", inc.Kind),
		zap.String("account", inc.Account),
		zap.Strings("details", inc.Details),
		zap.Strings("next_steps", inc.NextSteps),
		zap.String("docs_url", inc.DocsURL),
		zap.String("severity", string(severity)),
		zap.Bool("first_detection", first),
	)

	if d.diags != nil {
		d.diags.Capture(ctx, s, inc.Kind, severity == SeverityCritical)
	}
	if d.alerts != nil {
		d.alerts.SendIncidentAlert(ctx, inc, severity)
	}
}

// MaskedAddressesMatch compares two possibly-masked addresses by visible
// prefix (capped at two characters) and full domain. Either side may carry
// mask characters; comparison never considers anything past the first '*'.
func MaskedAddressesMatch(expected, observed string) bool {
	expLocal, expDomain, ok := splitAddress(expected)
	if !ok {
		return false
	}
	obsLocal, obsDomain, ok := splitAddress(observed)
	if !ok {
		return false
	}
	if expDomain != obsDomain {
		return false
	}

	expPrefix := visiblePrefix(expLocal)
	obsPrefix := visiblePrefix(obsLocal)
	if expPrefix == "" || obsPrefix == "" {
		// Nothing visible to compare; treat as matching rather than raising
		// a critical incident on zero signal.
		return true
	}

	n := len(expPrefix)
	if len(obsPrefix) < n {
		n = len(obsPrefix)
	}
	return expPrefix[:n] == obsPrefix[:n]
}

func splitAddress(addr string) (local, domain string, ok bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

// visiblePrefix returns up to the first two unmasked leading characters.
func visiblePrefix(local string) string {
	end := strings.IndexByte(local, '*')
	if end == -1 {
		end = len(local)
	}
	if end > 2 {
		end = 2
	}
	return local[:end]
}
