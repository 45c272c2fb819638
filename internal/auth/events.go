// File: internal/auth/events.go
package auth

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoginErrorEventType classifies soft-failure events delivered to listeners.
type LoginErrorEventType string

const (
	EventMobileAuthFailure LoginErrorEventType = "mobile-auth-failure"
	EventLoginFailure      LoginErrorEventType = "login-failure"
	EventAccountLocked     LoginErrorEventType = "account-locked"
)

// LoginErrorEvent is the out-of-band failure report. Soft failures are
// reported here instead of being returned from Login.
type LoginErrorEvent struct {
	Type    LoginErrorEventType
	Email   string
	Message string
	// RetryAfter suggests how long the caller should wait before retrying
	// this account. Zero means no suggestion.
	RetryAfter time.Duration
	// ShouldRestartBrowsers asks the caller to recycle its browser pool
	// before the next attempt.
	ShouldRestartBrowsers bool
}

// eventBus fans login error events out to registered listeners. Listeners are
// best-effort: a panicking listener is caught and logged, never propagated.
type eventBus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []func(LoginErrorEvent)
}

func newEventBus(logger *zap.Logger) *eventBus {
	return &eventBus{logger: logger.Named("events")}
}

func (b *eventBus) subscribe(fn func(LoginErrorEvent)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

func (b *eventBus) emit(event LoginErrorEvent) {
	b.mu.RLock()
	listeners := make([]func(LoginErrorEvent), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	b.logger.Warn("Login error event.",
		zap.String("type", string(event.Type)),
		zap.String("email", event.Email),
		zap.String("message", event.Message),
		zap.Duration("retry_after", event.RetryAfter),
		zap.Bool("restart_browsers", event.ShouldRestartBrowsers),
	)

	for _, fn := range listeners {
		b.dispatch(fn, event)
	}
}

func (b *eventBus) dispatch(fn func(LoginErrorEvent), event LoginErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked.", zap.Any("panic", r))
		}
	}()
	fn(event)
}
