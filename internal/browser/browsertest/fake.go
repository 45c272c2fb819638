// File: internal/browser/browsertest/fake.go

// Package browsertest provides scriptable in-memory implementations of the
// browser interfaces for tests in the packages that drive surfaces.
package browsertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/loginpilot/internal/browser"
)

// FakeElement is a scriptable Element. Zero value is a visible, inert node.
type FakeElement struct {
	Sel       string
	TextValue string
	Hidden    bool

	ClickErr error
	FillErr  error

	// OnClick and OnFill run outside the surface lock, so they may call the
	// surface mutators to simulate page transitions.
	OnClick func()
	OnFill  func(value string)

	Clicks int
	Fills  []string
	Keys   []string
}

func (e *FakeElement) Selector() string                   { return e.Sel }
func (e *FakeElement) Visible(context.Context) bool       { return !e.Hidden }
func (e *FakeElement) Text(context.Context) (string, error) { return e.TextValue, nil }

func (e *FakeElement) Click(context.Context) error {
	e.Clicks++
	if e.OnClick != nil {
		e.OnClick()
	}
	return e.ClickErr
}

func (e *FakeElement) Fill(_ context.Context, value string) error {
	e.Fills = append(e.Fills, value)
	if e.OnFill != nil {
		e.OnFill(value)
	}
	return e.FillErr
}

func (e *FakeElement) PressKey(_ context.Context, key string) error {
	e.Keys = append(e.Keys, key)
	return nil
}

var _ browser.Element = (*FakeElement)(nil)

// FakeSurface is a scriptable Surface backed by selector and phrase maps.
type FakeSurface struct {
	mu sync.Mutex

	Name      string
	URL       string
	Text      string
	HTMLValue string
	// HTMLByURL, when set, overrides HTMLValue per navigated URL so one fake
	// can serve a multi-page flow.
	HTMLByURL map[string]string

	// Elements maps exact selectors to elements. Removing an entry makes
	// the element disappear mid-test.
	Elements map[string]*FakeElement
	// TextHits maps phrases to elements for FindByText lookups.
	TextHits map[string]*FakeElement

	NavigateErr error
	SiblingFn   func(ctx context.Context) (browser.Surface, error)
	CookieJar   []browser.Cookie

	Navigations []string
	Closed      bool
}

var _ browser.Surface = (*FakeSurface)(nil)

func (s *FakeSurface) ID() string {
	if s.Name == "" {
		return "fake"
	}
	return s.Name
}

func (s *FakeSurface) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Navigations = append(s.Navigations, url)
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.URL = url
	return nil
}

func (s *FakeSurface) Locate(_ context.Context, selector string) (browser.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.Elements[selector]
	if !ok || el == nil {
		return nil, false
	}
	return el, true
}

func (s *FakeSurface) WaitFor(ctx context.Context, selector string, _ time.Duration) (browser.Element, bool) {
	el, ok := s.Locate(ctx, selector)
	if !ok {
		return nil, false
	}
	if !el.Visible(ctx) {
		return nil, false
	}
	return el, true
}

func (s *FakeSurface) FindByText(_ context.Context, _ string, phrase string, exact bool) (browser.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for text, el := range s.TextHits {
		if el == nil {
			continue
		}
		if exact && strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(phrase)) {
			return el, true
		}
		if !exact && strings.Contains(strings.ToLower(text), strings.ToLower(phrase)) {
			return el, true
		}
	}
	return nil, false
}

func (s *FakeSurface) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.URL, nil
}

func (s *FakeSurface) PageText(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Text, nil
}

func (s *FakeSurface) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.HTMLByURL[s.URL]; ok {
		return doc, nil
	}
	return s.HTMLValue, nil
}

func (s *FakeSurface) Screenshot(context.Context) ([]byte, error) {
	return []byte("fake-png"), nil
}

func (s *FakeSurface) Cookies(context.Context) ([]browser.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.Cookie(nil), s.CookieJar...), nil
}

func (s *FakeSurface) OpenSibling(ctx context.Context) (browser.Surface, error) {
	if s.SiblingFn != nil {
		return s.SiblingFn(ctx)
	}
	return &FakeSurface{Name: s.ID() + "-sibling"}, nil
}

func (s *FakeSurface) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SetText swaps the visible page text, simulating a render.
func (s *FakeSurface) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Text = text
}

// AddElement registers an element under its selector and returns it.
func (s *FakeSurface) AddElement(selector string) *FakeElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Elements == nil {
		s.Elements = map[string]*FakeElement{}
	}
	el := &FakeElement{Sel: selector}
	s.Elements[selector] = el
	return el
}

// RemoveElement drops an element, simulating it leaving the DOM.
func (s *FakeSurface) RemoveElement(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Elements, selector)
}

// AddTextHit registers a phrase-addressed element and returns it.
func (s *FakeSurface) AddTextHit(text string) *FakeElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TextHits == nil {
		s.TextHits = map[string]*FakeElement{}
	}
	el := &FakeElement{TextValue: text}
	s.TextHits[text] = el
	return el
}
