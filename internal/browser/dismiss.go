// File: internal/browser/dismiss.go
package browser

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// knownPromptSelectors lists dismissal controls for the interstitials the
// provider is known to inject: cookie banners, passkey offers, "stay signed
// in" dialogs and onboarding tours. Order matters; earlier entries are the
// ones that block the flow most often.
var knownPromptSelectors = []string{
	`#acceptButton`,
	`button[id="iLandingViewAction"]`,
	`#iShowSkip`,
	`#iNext`,
	`#iLooksGood`,
	`#idSIButton9`,
	`button[data-testid="secondaryButton"]`,
	`#bnp_btn_accept`,
	`#reward_pivot_earn`,
	`button[aria-label="Close"]`,
	`#wcpConsentBannerCtrl button:first-of-type`,
}

// DismissKnownPrompts clicks through any known interstitial currently shown.
// Best-effort by contract: every failure is swallowed, it never returns an
// error and it never waits for prompts that are not already present.
func DismissKnownPrompts(ctx context.Context, s Surface, logger *zap.Logger) {
	log := logger.Named("dismiss")
	for _, selector := range knownPromptSelectors {
		el, ok := s.Locate(ctx, selector)
		if !ok || !el.Visible(ctx) {
			continue
		}
		if err := el.Click(ctx); err != nil {
			log.Debug("Prompt dismissal click failed.", zap.String("selector", selector), zap.Error(err))
			continue
		}
		log.Debug("Dismissed prompt.", zap.String("selector", selector))

		// Give the page a beat to settle before probing the next prompt.
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}
