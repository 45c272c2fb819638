// File: internal/auth/helpers_test.go
package auth

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/mailcode"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Test doubles ---

type fakeRetriever struct {
	code string
	err  error

	calls int
}

func (f *fakeRetriever) Retrieve(context.Context, browser.Surface) (*mailcode.ExtractedCode, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &mailcode.ExtractedCode{Value: f.code}, nil
}

type fakePrompter struct {
	line     string
	resolved bool
	err      error

	calls int
}

func (f *fakePrompter) ReadLineRace(ctx context.Context, _ string, poll func(context.Context) bool, _ time.Duration) (string, bool, error) {
	f.calls++
	if f.resolved || (poll != nil && poll(ctx)) {
		return "", true, nil
	}
	return f.line, false, f.err
}

type fakeProvider struct {
	surfaces []browser.Surface
	err      error

	issued    []browser.Surface
	closedAll int
}

func (f *fakeProvider) NewSurface(context.Context) (browser.Surface, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.surfaces) == 0 {
		return nil, context.Canceled
	}
	next := f.surfaces[0]
	f.surfaces = f.surfaces[1:]
	f.issued = append(f.issued, next)
	return next, nil
}

func (f *fakeProvider) CloseAll(ctx context.Context) {
	f.closedAll++
	for _, s := range f.issued {
		_ = s.Close(ctx)
	}
}

type fakeRegistry struct {
	marked []string
	err    error
}

func (f *fakeRegistry) MarkDoLater(_ context.Context, email string) error {
	f.marked = append(f.marked, email)
	return f.err
}

type fakeSessions struct {
	saved []string
	err   error
}

func (f *fakeSessions) SaveSession(_ context.Context, _ browser.Surface, account, _ string) error {
	f.saved = append(f.saved, account)
	return f.err
}
