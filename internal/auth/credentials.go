// File: internal/auth/credentials.go
package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
)

// AccountCredentials is the immutable input for one login attempt. The
// orchestrator holds a transient copy of TOTPSecret only while the login is
// in progress; it is never persisted and never logged in cleartext.
type AccountCredentials struct {
	Email      string
	Password   string
	TOTPSecret string
}

// -- Ordered selector chains for the provider's sign-in UI --

var emailInputSelectors = []string{
	`input[name="loginfmt"]`,
	`#i0116`,
	`input[type="email"]`,
}

// identityMarkerSelectors indicate the provider prefilled the account
// identity; the email step is skipped when one is visible.
var identityMarkerSelectors = []string{
	`#userDisplayName`,
	`.identityText`,
	`div[data-testid="identityMe"]`,
}

var passwordInputSelectors = []string{
	`input[name="passwd"]`,
	`#i0118`,
	`input[type="password"]`,
}

var submitSelectors = []string{
	`#idSIButton9`,
	`button[type="submit"]`,
	`input[type="submit"]`,
}

// skipSecondFactorSelectors are shortcuts that bypass a 2FA offer outright.
var skipSecondFactorSelectors = []string{
	`#idA_PWD_SwitchToPassword`,
	`#iShowSkip`,
}

// sendCodeMarkerSelectors indicate the "get a code to sign in" challenge.
// Ordered most specific first; the generic button-text scan runs as a second
// pass over these phrases.
var sendCodeMarkerSelectors = []string{
	`#idDiv_SAOTCS_Proofs`,
	`div[data-bind*="SendCode"]`,
	`#idA_SAOTCS_ShowProofs`,
}

var sendCodePhrases = []string{
	"get a code to sign in",
	"send code",
	"email code",
}

// switchToPasswordPhrases find the explicit "use your password" affordance.
// Exact-phrase matches are preferred over substring matches so loosely
// related UI text cannot trigger an accidental switch.
var switchToPasswordPhrases = []string{
	"use your password",
	"use your password instead",
	"use my password",
}

// codeInputSelectors match the single combined one-time-code field.
var codeInputSelectors = []string{
	`input[name="otc"]`,
	`#idTxtBx_SAOTCC_OTC`,
	`input[autocomplete="one-time-code"]`,
}

// codeRejectedPhrases are the explicit negative signals after a code submit.
var codeRejectedPhrases = []string{
	"that code didn't work",
	"code is incorrect",
	"the code you entered",
	"enter a valid code",
	"try this code again",
}

var accountLockedPhrases = []string{
	"your account has been locked",
	"account is locked",
}

const clickableScope = `button, a, [role="button"], input[type="submit"]`

// CredentialStage drives the email and password steps of the sign-in flow,
// handing off to the second-factor resolver when the UI demands more proof.
type CredentialStage struct {
	logger   *zap.Logger
	resolver *SecondFactorResolver
	// elementTimeout bounds every interactive wait in this stage.
	elementTimeout time.Duration
}

// NewCredentialStage wires the credential stage.
func NewCredentialStage(logger *zap.Logger, resolver *SecondFactorResolver, elementTimeout time.Duration) *CredentialStage {
	if elementTimeout <= 0 {
		elementTimeout = 10 * time.Second
	}
	return &CredentialStage{
		logger:         logger.Named("credential_stage"),
		resolver:       resolver,
		elementTimeout: elementTimeout,
	}
}

// SubmitEmail fills and submits the account identifier. A missing input or
// submit control is a soft failure; the caller decides whether to retry.
func (c *CredentialStage) SubmitEmail(ctx context.Context, s browser.Surface, email string) error {
	if _, ok := locateAny(ctx, s, identityMarkerSelectors); ok {
		c.logger.Info("Identity prefilled by provider; skipping email entry.")
		return nil
	}

	input, ok := waitAny(ctx, s, emailInputSelectors, c.elementTimeout)
	if !ok {
		c.logger.Warn("Email input did not become interactive.", zap.String("code", string(ErrCodeElementNotFound)))
		return fmt.Errorf("email input not found within %s", c.elementTimeout)
	}

	if err := input.Fill(ctx, email); err != nil {
		return fmt.Errorf("failed to fill email input: %w", err)
	}
	if err := c.submit(ctx, s, input); err != nil {
		c.logger.Warn("Email submit control not found.", zap.Error(err))
		return fmt.Errorf("email step submit failed: %w", err)
	}

	c.logger.Debug("Email submitted.")
	return nil
}

// SubmitPassword runs the password-or-alternate chain. The tri-state outcome
// is folded into a boolean: true means the flow may proceed to post-login
// verification, false means the whole flow must be retried. The only errors
// returned are the fatal classes.
func (c *CredentialStage) SubmitPassword(ctx context.Context, s browser.Surface, creds *AccountCredentials) (bool, error) {
	if pageTextContains(ctx, s, accountLockedPhrases) {
		return false, ErrAccountLocked
	}

	// One extra pass is allowed after clicking a "use your password"
	// affordance re-rendered the form.
	for pass := 0; pass < 2; pass++ {
		// 1. A skip-second-factor shortcut takes priority.
		if el, ok := locateAny(ctx, s, skipSecondFactorSelectors); ok {
			c.logger.Debug("Taking skip-second-factor shortcut.")
			if err := el.Click(ctx); err == nil {
				continue
			}
		}

		// 2. Direct password entry.
		if input, ok := locateAny(ctx, s, passwordInputSelectors); ok {
			return c.enterPassword(ctx, s, input, creds)
		}

		// 3. Explicit switch-to-password affordance, exact phrase preferred.
		if pass == 0 && clickFirstByText(ctx, s, clickableScope, switchToPasswordPhrases) {
			c.logger.Debug("Switched to password entry.")
			if err := sleepCtx(ctx, 2*time.Second); err != nil {
				return false, nil
			}
			continue
		}
		break
	}

	// 4. "Send code" challenge: marker patterns first, then a generic
	// button-text scan as the second pass.
	if c.sendCodeChallengePresent(ctx, s) {
		c.logger.Info("Code challenge detected; resolving via email channel.")
		return c.resolveAndVerify(ctx, s, creds, ChannelEmailOTP)
	}

	// 5. Manual second-factor handling (push approval or console entry).
	c.logger.Info("No password path available; falling back to second-factor handling.")
	return c.resolveAndVerify(ctx, s, creds, "")
}

// enterPassword fills the password, submits, and handles the second round of
// code challenge some variants present even after a correct password.
func (c *CredentialStage) enterPassword(ctx context.Context, s browser.Surface, input browser.Element, creds *AccountCredentials) (bool, error) {
	if err := input.Fill(ctx, creds.Password); err != nil {
		c.logger.Warn("Failed to fill password input.", zap.Error(err))
		return false, nil
	}
	if err := c.submit(ctx, s, input); err != nil {
		c.logger.Warn("Password submit failed.", zap.Error(err))
		return false, nil
	}
	c.logger.Debug("Password submitted.")

	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return false, nil
	}

	if pageTextContains(ctx, s, accountLockedPhrases) {
		return false, ErrAccountLocked
	}

	// Some variants challenge again after the password went through.
	if c.sendCodeChallengePresent(ctx, s) || c.codeEntryPresent(ctx, s) {
		c.logger.Info("Second-round code challenge after password; resolving.")
		return c.resolveAndVerify(ctx, s, creds, ChannelEmailOTP)
	}

	return true, nil
}

// resolveAndVerify hands off to the resolver and applies the post-submission
// verification policy.
func (c *CredentialStage) resolveAndVerify(ctx context.Context, s browser.Surface, creds *AccountCredentials, preferred Channel) (bool, error) {
	channel, err := c.resolver.Resolve(ctx, s, creds, preferred)
	if err != nil {
		c.logger.Warn("Second factor unresolved; retrying whole flow.",
			zap.String("channel", string(channel)),
			zap.String("code", string(ErrCodeChannelExhausted)),
			zap.Error(err),
		)
		return false, nil
	}

	// Same settle wait as the password path: the code input and challenge
	// markers linger in the DOM right after the submit click, so probing
	// immediately would misread an accepted code as a rejection.
	if err := sleepCtx(ctx, 2*time.Second); err != nil {
		return false, nil
	}

	if !c.VerifySecondFactor(ctx, s) {
		c.logger.Warn("Second factor rejected by provider.",
			zap.String("channel", string(channel)),
			zap.String("code", string(ErrCodeSecondFactorRejected)),
		)
		return false, nil
	}
	return true, nil
}

// VerifySecondFactor re-probes for negative signals after a code submission:
// explicit rejection text, surviving code-entry fields, or the original
// challenge markers. Absence of all of them is treated as success. This is
// deliberate: the provider's success markers cannot be enumerated, so the
// sole failure signal is the negative one.
func (c *CredentialStage) VerifySecondFactor(ctx context.Context, s browser.Surface) bool {
	if pageTextContains(ctx, s, codeRejectedPhrases) {
		return false
	}
	if c.codeEntryPresent(ctx, s) {
		return false
	}
	if _, ok := locateAny(ctx, s, sendCodeMarkerSelectors); ok {
		return false
	}
	return true
}

func (c *CredentialStage) sendCodeChallengePresent(ctx context.Context, s browser.Surface) bool {
	if _, ok := locateAny(ctx, s, sendCodeMarkerSelectors); ok {
		return true
	}
	for _, phrase := range sendCodePhrases {
		if el, ok := s.FindByText(ctx, clickableScope, phrase, false); ok && el.Visible(ctx) {
			return true
		}
	}
	return false
}

func (c *CredentialStage) codeEntryPresent(ctx context.Context, s browser.Surface) bool {
	_, ok := locateAny(ctx, s, codeInputSelectors)
	return ok
}

// submit clicks the first submit control, falling back to Enter on the field.
func (c *CredentialStage) submit(ctx context.Context, s browser.Surface, field browser.Element) error {
	if el, ok := locateAny(ctx, s, submitSelectors); ok {
		if err := el.Click(ctx); err == nil {
			return nil
		}
	}
	return field.PressKey(ctx, "Enter")
}
