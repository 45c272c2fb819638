// File: internal/auth/secondfactor.go
package auth

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
	"github.com/xkilldash9x/loginpilot/internal/mailcode"
)

// Channel identifies how the second factor is satisfied. The channel is
// selected by probing the UI, never configured up front.
type Channel string

const (
	ChannelTOTP     Channel = "totp"
	ChannelPush     Channel = "push"
	ChannelSMS      Channel = "sms-manual"
	ChannelEmailOTP Channel = "email-otp"
)

// CodeRetriever fetches a verification code from the linked mailbox.
type CodeRetriever interface {
	Retrieve(ctx context.Context, signin browser.Surface) (*mailcode.ExtractedCode, error)
}

// PromptReader races a console line read against a UI poll; see the console
// package for the contract.
type PromptReader interface {
	ReadLineRace(ctx context.Context, prompt string, poll func(context.Context) bool, cadence time.Duration) (line string, resolved bool, err error)
}

// -- Channel-specific UI markers --

var pushDisplaySignSelectors = []string{
	`#idRemoteNGC_DisplaySign`,
	`div[data-testid="displaySign"]`,
}

var alternativeOptionsSelectors = []string{
	`#signInAnotherWay`,
	`#idA_PWD_SwitchToRemoteNGC`,
}

var authenticatorCodePhrases = []string{
	"use a verification code",
	"use an authenticator code",
	"authenticator app",
}

var resendPhrases = []string{
	"try again",
	"resend",
	"send a new code",
}

// multiBoxSelectorFormats address the "one digit per field" code layout.
var multiBoxSelectorFormats = []string{
	`input[data-testid="codeEntry-%d"]`,
	`#codeEntry-%d`,
	`input[aria-label="Enter code digit %d"]`,
}

var digitsOnly = regexp.MustCompile(`^\d{4,8}$`)

// strategy pairs a channel probe with its handler. Probes run in the fixed
// order the returning slice defines; the first applicable one handles the
// challenge, and a failed handler is reported upward as retry-whole-flow
// because a rejected code usually invalidates the server-side code token.
type strategy struct {
	channel Channel
	applies func(ctx context.Context, s browser.Surface, creds *AccountCredentials) bool
	handle  func(ctx context.Context, s browser.Surface, creds *AccountCredentials) error
}

// SecondFactorResolver dispatches the presented challenge to the matching
// channel handler.
type SecondFactorResolver struct {
	logger    *zap.Logger
	cfg       config.LoginConfig
	retriever CodeRetriever
	prompter  PromptReader
	now       func() time.Time
}

// NewSecondFactorResolver wires the resolver. retriever and prompter may be
// nil, which disables the corresponding channels.
func NewSecondFactorResolver(logger *zap.Logger, cfg config.LoginConfig, retriever CodeRetriever, prompter PromptReader) *SecondFactorResolver {
	return &SecondFactorResolver{
		logger:    logger.Named("second_factor"),
		cfg:       cfg,
		retriever: retriever,
		prompter:  prompter,
		now:       time.Now,
	}
}

// strategies returns the dispatch list in its fixed order.
func (r *SecondFactorResolver) strategies() []strategy {
	return []strategy{
		{
			channel: ChannelTOTP,
			applies: func(_ context.Context, _ browser.Surface, creds *AccountCredentials) bool {
				return creds.TOTPSecret != ""
			},
			handle: r.handleTOTP,
		},
		{
			channel: ChannelPush,
			applies: func(ctx context.Context, s browser.Surface, _ *AccountCredentials) bool {
				_, ok := locateAny(ctx, s, pushDisplaySignSelectors)
				return ok
			},
			handle: r.handlePush,
		},
		{
			channel: ChannelSMS,
			applies: func(ctx context.Context, s browser.Surface, _ *AccountCredentials) bool {
				_, ok := locateAny(ctx, s, codeInputSelectors)
				return ok && r.prompter != nil
			},
			handle: r.handleManual,
		},
		{
			channel: ChannelEmailOTP,
			applies: func(_ context.Context, _ browser.Surface, _ *AccountCredentials) bool {
				return r.retriever != nil
			},
			handle: r.handleEmailOTP,
		},
	}
}

// Resolve dispatches the challenge. A non-empty preferred channel (set when
// the credential stage already identified the challenge type) is tried first;
// otherwise the fixed probe order decides.
func (r *SecondFactorResolver) Resolve(ctx context.Context, s browser.Surface, creds *AccountCredentials, preferred Channel) (Channel, error) {
	all := r.strategies()

	if preferred != "" {
		for _, st := range all {
			if st.channel == preferred && st.applies(ctx, s, creds) {
				r.logger.Info("Resolving second factor.", zap.String("channel", string(st.channel)))
				return st.channel, st.handle(ctx, s, creds)
			}
		}
	}

	for _, st := range all {
		if !st.applies(ctx, s, creds) {
			continue
		}
		r.logger.Info("Resolving second factor.", zap.String("channel", string(st.channel)))
		return st.channel, st.handle(ctx, s, creds)
	}
	return "", fmt.Errorf("no second-factor channel applicable")
}

// -- TOTP --

// handleTOTP reveals the one-time-code input (which may hide behind the
// "other ways to verify" affordances), computes the code from the configured
// secret and submits it.
func (r *SecondFactorResolver) handleTOTP(ctx context.Context, s browser.Surface, creds *AccountCredentials) error {
	var input browser.Element
	for attempt := 0; attempt < 4; attempt++ {
		if el, ok := waitAny(ctx, s, codeInputSelectors, 3*time.Second); ok {
			input = el
			break
		}
		if el, ok := locateAny(ctx, s, alternativeOptionsSelectors); ok {
			_ = el.Click(ctx)
		} else {
			clickFirstByText(ctx, s, clickableScope, authenticatorCodePhrases)
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
	if input == nil {
		return fmt.Errorf("authenticator code input could not be revealed")
	}

	code, err := GenerateTOTP(creds.TOTPSecret, r.now())
	if err != nil {
		return err
	}
	if err := input.Fill(ctx, code); err != nil {
		return fmt.Errorf("failed to fill authenticator code: %w", err)
	}
	return r.submitCode(ctx, s, input)
}

// -- Push approval --

// handlePush waits for the operator (or the account owner's device) to
// approve the displayed number. In parallel mode the challenge is actively
// refreshed on a 60-second cadence for up to 6 cycles, fetching the new
// number each time the old one expires.
func (r *SecondFactorResolver) handlePush(ctx context.Context, s browser.Surface, _ *AccountCredentials) error {
	sign := r.displaySign(ctx, s)
	r.logger.Info("Push approval pending.", zap.String("display_sign", sign))

	if !r.cfg.Parallel {
		// Sequential mode: a single long poll until the challenge clears.
		return r.awaitChallengeCleared(ctx, s, 5*time.Minute)
	}

	for cycle := 0; cycle < 6; cycle++ {
		if err := r.awaitChallengeCleared(ctx, s, time.Minute); err == nil {
			return nil
		}
		// Expired; request a fresh challenge number and go again.
		clickFirstByText(ctx, s, clickableScope, resendPhrases)
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return err
		}
		if next := r.displaySign(ctx, s); next != "" && next != sign {
			sign = next
			r.logger.Info("New push approval number issued.", zap.String("display_sign", sign))
		}
	}
	return fmt.Errorf("push approval not granted after 6 cycles")
}

func (r *SecondFactorResolver) displaySign(ctx context.Context, s browser.Surface) string {
	el, ok := locateAny(ctx, s, pushDisplaySignSelectors)
	if !ok {
		return ""
	}
	text, err := el.Text(ctx)
	if err != nil {
		return ""
	}
	return text
}

// awaitChallengeCleared polls every 2 seconds until the push markers vanish.
func (r *SecondFactorResolver) awaitChallengeCleared(ctx context.Context, s browser.Surface, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if r.challengeCleared(ctx, s) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("challenge still pending after %s", timeout)
		}
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return err
		}
	}
}

// challengeCleared reports that neither push markers nor code inputs remain.
func (r *SecondFactorResolver) challengeCleared(ctx context.Context, s browser.Surface) bool {
	if _, ok := locateAny(ctx, s, pushDisplaySignSelectors); ok {
		return false
	}
	if _, ok := locateAny(ctx, s, codeInputSelectors); ok {
		return false
	}
	return true
}

// -- Manual console entry --

// handleManual blocks on an operator-entered code while concurrently polling
// whether the UI progressed past the challenge on its own; whichever happens
// first wins and the loser is abandoned.
func (r *SecondFactorResolver) handleManual(ctx context.Context, s browser.Surface, _ *AccountCredentials) error {
	line, resolved, err := r.prompter.ReadLineRace(ctx,
		"Enter the verification code shown on your device: ",
		func(pollCtx context.Context) bool { return r.challengeCleared(pollCtx, s) },
		2*time.Second,
	)
	if err != nil {
		return fmt.Errorf("manual code entry failed: %w", err)
	}
	if resolved {
		r.logger.Info("Challenge solved directly in the browser; skipping console code.")
		return nil
	}
	if !digitsOnly.MatchString(line) {
		return fmt.Errorf("entered code %q is not a 4-8 digit value", line)
	}
	return r.enterCode(ctx, s, line)
}

// -- Email OTP --

// handleEmailOTP requests the code mail if an explicit proof affordance is
// shown, retrieves the code from the mailbox and distributes the digits over
// the discovered input layout.
func (r *SecondFactorResolver) handleEmailOTP(ctx context.Context, s browser.Surface, _ *AccountCredentials) error {
	// Clicking the proof entry triggers the provider to send the mail.
	if el, ok := locateAny(ctx, s, sendCodeMarkerSelectors); ok {
		_ = el.Click(ctx)
		if err := sleepCtx(ctx, 2*time.Second); err != nil {
			return err
		}
	} else {
		clickFirstByText(ctx, s, clickableScope, sendCodePhrases)
	}

	code, err := r.retriever.Retrieve(ctx, s)
	if err != nil {
		return fmt.Errorf("code retrieval failed: %w", err)
	}
	if !digitsOnly.MatchString(code.Value) {
		return fmt.Errorf("retrieved code %q is not a 4-8 digit value", code.Value)
	}
	return r.enterCode(ctx, s, code.Value)
}

// enterCode fills a retrieved code into either a single combined field or a
// multi-box one-digit-per-field layout, then submits.
func (r *SecondFactorResolver) enterCode(ctx context.Context, s browser.Surface, code string) error {
	if input, ok := locateAny(ctx, s, codeInputSelectors); ok {
		if err := input.Fill(ctx, code); err != nil {
			return fmt.Errorf("failed to fill code input: %w", err)
		}
		return r.submitCode(ctx, s, input)
	}

	// Multi-box layout: one digit per field.
	var last browser.Element
	for i, digit := range code {
		box, ok := r.locateDigitBox(ctx, s, i)
		if !ok {
			return fmt.Errorf("code input layout not recognized (missing box %d)", i)
		}
		if err := box.Fill(ctx, string(digit)); err != nil {
			return fmt.Errorf("failed to fill code digit %d: %w", i, err)
		}
		last = box
	}
	if last == nil {
		return fmt.Errorf("empty code")
	}
	return r.submitCode(ctx, s, last)
}

func (r *SecondFactorResolver) locateDigitBox(ctx context.Context, s browser.Surface, index int) (browser.Element, bool) {
	for _, format := range multiBoxSelectorFormats {
		if el, ok := s.Locate(ctx, fmt.Sprintf(format, index)); ok && el.Visible(ctx) {
			return el, true
		}
	}
	return nil, false
}

func (r *SecondFactorResolver) submitCode(ctx context.Context, s browser.Surface, field browser.Element) error {
	if el, ok := locateAny(ctx, s, submitSelectors); ok {
		if err := el.Click(ctx); err == nil {
			return nil
		}
	}
	return field.PressKey(ctx, "Enter")
}
