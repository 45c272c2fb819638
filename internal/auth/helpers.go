// File: internal/auth/helpers.go
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/loginpilot/internal/browser"
)

// locateAny resolves the first selector in the ordered list that matches a
// visible element. Absence across the whole list is reported as not found.
func locateAny(ctx context.Context, s browser.Surface, selectors []string) (browser.Element, bool) {
	for _, selector := range selectors {
		if el, ok := s.Locate(ctx, selector); ok && el.Visible(ctx) {
			return el, true
		}
	}
	return nil, false
}

// waitAny polls the ordered selector list until one matches a visible element
// or the timeout elapses. A timed-out wait is absence, not an error.
func waitAny(ctx context.Context, s browser.Surface, selectors []string, timeout time.Duration) (browser.Element, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if el, ok := locateAny(ctx, s, selectors); ok {
			return el, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// pageTextContains reports whether the page's visible text contains any of
// the phrases (case-insensitive). Read failures report false.
func pageTextContains(ctx context.Context, s browser.Surface, phrases []string) bool {
	text, err := s.PageText(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// clickFirstByText tries each phrase over the scope, exact matches in a first
// pass and substring matches in a second, clicking the first hit.
func clickFirstByText(ctx context.Context, s browser.Surface, scope string, phrases []string) bool {
	for _, exact := range []bool{true, false} {
		for _, phrase := range phrases {
			if el, ok := s.FindByText(ctx, scope, phrase, exact); ok && el.Visible(ctx) {
				if el.Click(ctx) == nil {
					return true
				}
			}
		}
	}
	return false
}

// sleepCtx is an interruptible sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
