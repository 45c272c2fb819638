// File: internal/auth/oauth.go
package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

// TokenFlow drives the authorization-code exchange for the mobile device
// scope on an already-authenticated surface.
type TokenFlow struct {
	logger *zap.Logger
	cfg    config.OAuthConfig
	events *eventBus
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTokenFlow wires a standalone flow with its own event bus.
func NewTokenFlow(logger *zap.Logger, cfg config.OAuthConfig) *TokenFlow {
	log := logger.Named("token_flow")
	return &TokenFlow{
		logger: log,
		cfg:    cfg,
		events: newEventBus(log),
		sleep:  sleepCtx,
	}
}

// OnError registers a listener for token failure events.
func (f *TokenFlow) OnError(fn func(LoginErrorEvent)) { f.events.subscribe(fn) }

func (f *TokenFlow) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    f.cfg.ClientID,
		RedirectURL: f.cfg.RedirectURL,
		Scopes:      []string{f.cfg.Scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.cfg.AuthURL,
			TokenURL: f.cfg.TokenURL,
		},
	}
}

// GetSecondFactorToken navigates the surface through the authorization
// endpoint, waits for the redirect carrying the code and exchanges it. The
// surface must already hold an authenticated session, so the provider
// redirects without showing UI; any interactive prompt here means the session
// is not usable and the flow fails after the poll window.
func (f *TokenFlow) GetSecondFactorToken(ctx context.Context, s browser.Surface, account string) (*oauth2.Token, error) {
	conf := f.oauthConfig()
	state := uuid.NewString()

	if err := s.Navigate(ctx, conf.AuthCodeURL(state)); err != nil {
		return nil, f.fail(account, fmt.Errorf("authorization navigation failed: %w", err))
	}

	code, err := f.awaitCode(ctx, s, state)
	if err != nil {
		return nil, f.fail(account, err)
	}

	token, err := f.exchange(ctx, conf, code)
	if err != nil {
		return nil, f.fail(account, err)
	}

	f.logExpiry(token)
	return token, nil
}

// awaitCode polls the surface URL until it lands on the redirect URL with a
// code parameter.
func (f *TokenFlow) awaitCode(ctx context.Context, s browser.Surface, state string) (string, error) {
	deadline := time.Now().Add(90 * time.Second)
	for {
		current, err := s.CurrentURL(ctx)
		if err == nil {
			if code, ok := f.codeFromURL(current, state); ok {
				return code, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("authorization redirect did not arrive within the poll window")
		}
		if err := f.sleep(ctx, time.Second); err != nil {
			return "", err
		}
	}
}

func (f *TokenFlow) codeFromURL(raw, state string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	q := u.Query()
	code := q.Get("code")
	if code == "" {
		return "", false
	}
	if got := q.Get("state"); got != "" && got != state {
		f.logger.Warn("Redirect carried a mismatched state parameter; ignoring it.")
		return "", false
	}
	return code, true
}

// exchange retries the code exchange a few times with capped exponential
// backoff; the token endpoint occasionally 5xxes right after sign-in.
func (f *TokenFlow) exchange(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
	var lastErr error
	wait := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
			wait *= 4
			if wait > 10*time.Second {
				wait = 10 * time.Second
			}
		}
		token, err := conf.Exchange(ctx, code)
		if err == nil {
			return token, nil
		}
		lastErr = err
		f.logger.Warn("Token exchange failed.", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("token exchange exhausted retries: %w", lastErr)
}

// logExpiry decodes the access token without verifying its signature, purely
// to log the embedded expiry for operators watching token lifetimes.
func (f *TokenFlow) logExpiry(token *oauth2.Token) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err != nil {
		f.logger.Debug("Access token is not a decodable JWT; skipping expiry log.")
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	f.logger.Info("Device-scope token acquired.",
		zap.Time("expires_at", exp.Time),
		zap.Duration("valid_for", time.Until(exp.Time).Round(time.Second)),
	)
}

func (f *TokenFlow) fail(account string, err error) error {
	f.logger.Warn("Mobile-scope token acquisition failed.", zap.Error(err))
	f.events.emit(LoginErrorEvent{
		Type:    EventMobileAuthFailure,
		Email:   account,
		Message: err.Error(),
	})
	return err
}
