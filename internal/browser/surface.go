// File: internal/browser/surface.go
package browser

import (
	"context"
	"time"
)

// Surface is a single browsing context (tab) capable of navigation, element
// lookup and input simulation. The authentication core depends only on this
// interface; the chromedp implementation lives in cdp.go.
type Surface interface {
	// ID returns the stable identifier for this surface, used in logs.
	ID() string

	// Navigate loads the given URL and waits for the load to settle.
	Navigate(ctx context.Context, url string) error

	// Locate resolves a selector (CSS, or XPath when it starts with "/" or
	// "(") to an element handle. The boolean is false when no node matches;
	// lookup failures are treated as absence, never as errors.
	Locate(ctx context.Context, selector string) (Element, bool)

	// WaitFor polls Locate until the element exists and is visible, or the
	// timeout elapses. A timed-out wait reports absence.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, bool)

	// FindByText scans elements matching the scope selector (e.g. "button")
	// for the given phrase. With exact set, the trimmed text must equal the
	// phrase; otherwise a substring match suffices.
	FindByText(ctx context.Context, scope, phrase string, exact bool) (Element, bool)

	// CurrentURL returns the document location.
	CurrentURL(ctx context.Context) (string, error)

	// PageText returns the visible text of the page body.
	PageText(ctx context.Context) (string, error)

	// HTML returns the serialized document, used for diagnostic dumps.
	HTML(ctx context.Context) (string, error)

	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Cookies harvests cookies for session persistence.
	Cookies(ctx context.Context) ([]Cookie, error)

	// OpenSibling creates a new surface sharing this surface's browser
	// profile (cookies, storage), like opening a new tab.
	OpenSibling(ctx context.Context) (Surface, error)

	// Close tears the surface down. Safe to call more than once.
	Close(ctx context.Context) error
}

// Element is a handle over a located DOM node.
type Element interface {
	// Selector returns the selector this handle was resolved from.
	Selector() string

	// Visible reports whether the node is currently rendered. Errors during
	// the check are treated as not visible.
	Visible(ctx context.Context) bool

	Click(ctx context.Context) error

	// Fill focuses the node, clears its current value and types the text.
	Fill(ctx context.Context, text string) error

	// PressKey dispatches a named key ("Enter", "Tab") or a literal rune.
	PressKey(ctx context.Context, key string) error

	// Text returns the node's inner text, trimmed.
	Text(ctx context.Context) (string, error)
}

// Cookie mirrors the fields needed to restore a browser session later.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}
