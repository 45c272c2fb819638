// File: internal/browser/cdp.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/config"
)

// CDPSurface implements Surface on top of a chromedp tab context.
type CDPSurface struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	closeOnce sync.Once
	onClose   func(id string)
}

var _ Surface = (*CDPSurface)(nil)

// newCDPSurface wraps an already-created chromedp context. The caller is
// responsible for having materialized the target (a blank Run).
func newCDPSurface(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger, onClose func(id string)) *CDPSurface {
	id := uuid.New().String()
	return &CDPSurface{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("surface_id", id)),
		cfg:     cfg,
		onClose: onClose,
	}
}

// ID returns the surface identifier.
func (s *CDPSurface) ID() string { return s.id }

// runActions executes chromedp actions under the combined session/operation context.
func (s *CDPSurface) runActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

// Navigate loads the URL and waits for the body to be ready.
func (s *CDPSurface) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("Navigating surface.", zap.String("url", url))
	if err := s.runActions(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// isXPath reports whether a selector should be handled by the XPath engine.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(")
}

// queryOption picks the chromedp query strategy for a selector.
func queryOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// locatorJS resolves a selector to a node inside the page, for existence and
// visibility probes that must not block like chromedp's Wait* actions do.
const locatorJS = `(() => {
	const sel = %q;
	let el = null;
	if (sel.startsWith('/') || sel.startsWith('(')) {
		el = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else {
		el = document.querySelector(sel);
	}
	if (!el) return {found: false, visible: false};
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	const visible = rect.width > 0 && rect.height > 0 &&
		style.visibility !== 'hidden' && style.display !== 'none';
	return {found: true, visible: visible};
})()`

type locateResult struct {
	Found   bool `json:"found"`
	Visible bool `json:"visible"`
}

func (s *CDPSurface) probe(ctx context.Context, selector string) (locateResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var res locateResult
	err := s.runActions(opCtx, chromedp.Evaluate(fmt.Sprintf(locatorJS, selector), &res))
	return res, err
}

// Locate resolves a selector to an element handle. Absence and probe errors
// both report "not found"; the fallback chains upstream decide what to do.
func (s *CDPSurface) Locate(ctx context.Context, selector string) (Element, bool) {
	res, err := s.probe(ctx, selector)
	if err != nil || !res.Found {
		return nil, false
	}
	return &cdpElement{surface: s, selector: selector}, true
}

// WaitFor polls for the element to exist and become visible. A timed-out wait
// is absence, not an error.
func (s *CDPSurface) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if res, err := s.probe(ctx, selector); err == nil && res.Found && res.Visible {
			return &cdpElement{surface: s, selector: selector}, true
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

// textSearchJS tags the first element under the scope selector whose trimmed
// text matches the phrase, so a stable selector can address it afterwards.
const textSearchJS = `(() => {
	const phrase = %q.toLowerCase();
	const exact = %t;
	const token = %q;
	for (const el of document.querySelectorAll(%q)) {
		const text = (el.innerText || el.value || '').trim().toLowerCase();
		if (exact ? text === phrase : text.includes(phrase)) {
			el.setAttribute('data-lp-hit', token);
			return true;
		}
	}
	return false;
})()`

// FindByText scans elements under the scope selector for a phrase. Matches are
// tagged in the DOM so that the returned handle stays addressable.
func (s *CDPSurface) FindByText(ctx context.Context, scope, phrase string, exact bool) (Element, bool) {
	opCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	token := uuid.New().String()
	var found bool
	js := fmt.Sprintf(textSearchJS, phrase, exact, token, scope)
	if err := s.runActions(opCtx, chromedp.Evaluate(js, &found)); err != nil || !found {
		return nil, false
	}
	return &cdpElement{surface: s, selector: fmt.Sprintf(`[data-lp-hit=%q]`, token)}, true
}

// CurrentURL returns the document location.
func (s *CDPSurface) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var url string
	if err := s.runActions(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// PageText returns the visible text of the page body.
func (s *CDPSurface) PageText(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var text string
	if err := s.runActions(opCtx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// HTML returns the serialized document.
func (s *CDPSurface) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var html string
	if err := s.runActions(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to serialize document: %w", err)
	}
	return html, nil
}

// Screenshot captures a full-page PNG.
func (s *CDPSurface) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := s.runActions(opCtx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Cookies harvests browser cookies for session persistence.
func (s *CDPSurface) Cookies(ctx context.Context) ([]Cookie, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var out []Cookie
	err := s.runActions(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  float64(c.Expires),
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: c.SameSite.String(),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to harvest cookies: %w", err)
	}
	return out, nil
}

// OpenSibling creates a new tab sharing this surface's browser profile.
func (s *CDPSurface) OpenSibling(ctx context.Context) (Surface, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.ctx)

	// A blank run materializes the target.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open sibling surface: %w", err)
	}

	sibling := newCDPSurface(tabCtx, tabCancel, s.cfg, s.logger, s.onClose)
	s.logger.Debug("Opened sibling surface.", zap.String("sibling_id", sibling.id))
	return sibling, nil
}

// Close tears the surface down. Safe to call more than once.
func (s *CDPSurface) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing surface.")
		s.cancel()
		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
	return nil
}

// cdpElement is an Element addressed by selector within its surface.
type cdpElement struct {
	surface  *CDPSurface
	selector string
}

var _ Element = (*cdpElement)(nil)

func (e *cdpElement) Selector() string { return e.selector }

// Visible re-probes the node; errors count as not visible.
func (e *cdpElement) Visible(ctx context.Context) bool {
	res, err := e.surface.probe(ctx, e.selector)
	return err == nil && res.Found && res.Visible
}

func (e *cdpElement) Click(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := e.surface.runActions(opCtx, chromedp.Click(e.selector, queryOption(e.selector))); err != nil {
		return fmt.Errorf("click on %q failed: %w", e.selector, err)
	}
	return nil
}

// Fill focuses the node, clears any prefilled value and types the text.
func (e *cdpElement) Fill(ctx context.Context, text string) error {
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	opt := queryOption(e.selector)
	if err := e.surface.runActions(opCtx,
		chromedp.Focus(e.selector, opt),
		chromedp.SetValue(e.selector, "", opt),
		chromedp.SendKeys(e.selector, text, opt),
	); err != nil {
		return fmt.Errorf("fill of %q failed: %w", e.selector, err)
	}
	return nil
}

// PressKey dispatches a named key or a literal rune to the focused node.
func (e *cdpElement) PressKey(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keys := key
	switch key {
	case "Enter":
		keys = kb.Enter
	case "Tab":
		keys = kb.Tab
	case "Backspace":
		keys = kb.Backspace
	}

	if err := e.surface.runActions(opCtx,
		chromedp.Focus(e.selector, queryOption(e.selector)),
		chromedp.KeyEvent(keys),
	); err != nil {
		return fmt.Errorf("key press %q on %q failed: %w", key, e.selector, err)
	}
	return nil
}

func (e *cdpElement) Text(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var text string
	if err := e.surface.runActions(opCtx, chromedp.Text(e.selector, &text, queryOption(e.selector))); err != nil {
		return "", fmt.Errorf("text read of %q failed: %w", e.selector, err)
	}
	return strings.TrimSpace(text), nil
}
