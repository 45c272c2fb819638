// File: internal/auth/orchestrator.go
package auth

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
	"github.com/xkilldash9x/loginpilot/internal/incident"
)

// SurfaceProvider hands out fresh browsing surfaces and sweeps the ones it
// has issued. Satisfied by *browser.Manager.
type SurfaceProvider interface {
	NewSurface(ctx context.Context) (browser.Surface, error)
	CloseAll(ctx context.Context)
}

// SessionSaver persists the authenticated browser state after a successful
// run. Satisfied by *sessionstore.Store.
type SessionSaver interface {
	SaveSession(ctx context.Context, s browser.Surface, account, deviceClass string) error
}

// AccountRegistry marks accounts for deferred processing. Satisfied by the
// registry package implementations.
type AccountRegistry interface {
	MarkDoLater(ctx context.Context, email string) error
}

// Orchestrator owns the attempt loop around the credential stage: navigation,
// incident checks, retry backoff, surface rotation and terminal reporting.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      config.LoginConfig
	surfaces SurfaceProvider
	stage    *CredentialStage
	detector *incident.Detector
	standby  *incident.Standby
	registry AccountRegistry
	sessions SessionSaver
	events   *eventBus

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the attempt loop. registry and sessions may be nil;
// the corresponding best-effort steps are then skipped.
func NewOrchestrator(
	logger *zap.Logger,
	cfg config.LoginConfig,
	surfaces SurfaceProvider,
	stage *CredentialStage,
	detector *incident.Detector,
	standby *incident.Standby,
	reg AccountRegistry,
	sessions SessionSaver,
) *Orchestrator {
	log := logger.Named("orchestrator")
	return &Orchestrator{
		logger:   log,
		cfg:      cfg,
		surfaces: surfaces,
		stage:    stage,
		detector: detector,
		standby:  standby,
		registry: reg,
		sessions: sessions,
		events:   newEventBus(log),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
	}
}

// OnError registers a listener for out-of-band failure events.
func (o *Orchestrator) OnError(fn func(LoginErrorEvent)) {
	o.events.subscribe(fn)
}

// TokenFlow builds a token flow that reports failures on this orchestrator's
// event bus, so one listener sees both credential and token failures.
func (o *Orchestrator) TokenFlow(cfg config.OAuthConfig) *TokenFlow {
	return &TokenFlow{
		logger: o.logger.Named("token_flow"),
		cfg:    cfg,
		events: o.events,
		sleep:  sleepCtx,
	}
}

// Login runs the full sign-in flow for one account on the given surface. Soft
// failures retry internally and, when exhausted, surface as events rather
// than errors; the returned error is reserved for the fatal classes (account
// locked, context cancellation). On success the returned surface holds the
// authenticated session; retries rotate to fresh surfaces and close the old
// ones, so it is not necessarily the surface passed in. A nil surface with a
// nil error means no session was established and every handle is closed.
func (o *Orchestrator) Login(ctx context.Context, s browser.Surface, creds AccountCredentials) (browser.Surface, error) {
	log := o.logger.With(zap.String("email", creds.Email))

	if o.standby.Active() {
		log.Warn("Standby active; refusing to start sign-in.",
			zap.String("code", string(ErrCodeStandbyActive)),
			zap.String("reason", o.standby.Reason()),
		)
		return nil, nil
	}

	// The secret never leaves this frame; the copy is wiped on exit.
	defer func() { creds.TOTPSecret = "" }()

	for attempt := 1; attempt <= o.maxAttempts(); attempt++ {
		alog := log.With(zap.Int("attempt", attempt))

		ok, err := o.runAttempt(ctx, s, &creds, alog)
		if err != nil {
			if errors.Is(err, ErrAccountLocked) {
				alog.Error("Account locked by provider.", zap.String("code", string(ErrCodeAccountLocked)))
				o.events.emit(LoginErrorEvent{
					Type:    EventAccountLocked,
					Email:   creds.Email,
					Message: "provider reports the account as locked",
				})
				return nil, err
			}
			return nil, err
		}
		if ok {
			o.persistSession(ctx, s, creds.Email, alog)
			alog.Info("Sign-in completed.")
			return s, nil
		}

		// An incident raised during the attempt latches standby; no retry
		// can help, and the incident pipeline already reported it.
		if o.standby.Active() {
			alog.Warn("Standby latched during attempt; abandoning account.",
				zap.String("reason", o.standby.Reason()))
			o.closeSurface(s)
			return nil, nil
		}

		if attempt == o.maxAttempts() {
			break
		}

		if err := o.backoff(ctx, alog); err != nil {
			return nil, err
		}
		fresh, rotated := o.rotateSurface(ctx, s, alog)
		if rotated {
			s = fresh
		}
	}

	// Exhausted. Every open surface in the session is closed, the account is
	// parked, and the caller is asked to recycle its browser pool; the run
	// itself ends cleanly.
	log.Warn("All attempts exhausted.", zap.Int("attempts", o.maxAttempts()))
	o.closeSurface(s)
	o.closeAllSurfaces()
	o.markDoLater(ctx, creds.Email, log)
	o.events.emit(LoginErrorEvent{
		Type:                  EventLoginFailure,
		Email:                 creds.Email,
		Message:               "sign-in failed after all attempts",
		RetryAfter:            10 * time.Minute,
		ShouldRestartBrowsers: true,
	})
	return nil, nil
}

// runAttempt performs one pass of the flow. The boolean reports success;
// false with a nil error means retry.
func (o *Orchestrator) runAttempt(ctx context.Context, s browser.Surface, creds *AccountCredentials, log *zap.Logger) (bool, error) {
	if err := s.Navigate(ctx, o.cfg.SignInURL); err != nil {
		log.Warn("Navigation to sign-in page failed.", zap.Error(err))
		return false, ctx.Err()
	}
	browser.DismissKnownPrompts(ctx, s, log)

	if err := o.stage.SubmitEmail(ctx, s, creds.Email); err != nil {
		log.Warn("Email step failed.",
			zap.String("code", string(ErrCodeEmailStepFailed)), zap.Error(err))
		return false, ctx.Err()
	}

	// The moment after identity submission is when the provider shows abuse
	// interstitials or unexpected recovery hints; probe before going on.
	if o.detector.SignInBlocked(ctx, s, creds.Email) {
		return false, nil
	}
	if o.detector.RecoveryMismatch(ctx, s, creds.Email) {
		return false, nil
	}

	ok, err := o.stage.SubmitPassword(ctx, s, creds)
	if err != nil || !ok {
		return false, err
	}

	// One more blocked-page probe before declaring victory; a few variants
	// only reveal the lockout after the second factor.
	if o.detector.SignInBlocked(ctx, s, creds.Email) {
		return false, nil
	}
	return true, nil
}

// rotateSurface opens a replacement surface on the landing page and lets the
// old one settle before closing it, so any in-flight provider bookkeeping on
// the old session finishes. Keeps the current surface when the provider
// cannot supply a new one.
func (o *Orchestrator) rotateSurface(ctx context.Context, old browser.Surface, log *zap.Logger) (browser.Surface, bool) {
	fresh, err := o.surfaces.NewSurface(ctx)
	if err != nil {
		log.Warn("Could not open a fresh surface; reusing the current one.", zap.Error(err))
		return nil, false
	}
	if url := o.landingURL(); url != "" {
		if err := fresh.Navigate(ctx, url); err != nil {
			log.Debug("Landing navigation on fresh surface failed.", zap.Error(err))
		}
	}

	settle := o.window(o.cfg.SurfaceSettleMin, o.cfg.SurfaceSettleMax, 40*time.Second, 60*time.Second)
	log.Debug("Letting previous surface settle.", zap.Duration("settle", settle))
	if err := o.sleep(ctx, settle); err != nil {
		o.closeSurface(fresh)
		return nil, false
	}
	o.closeSurface(old)
	return fresh, true
}

// backoff waits a randomized interval between attempts.
func (o *Orchestrator) backoff(ctx context.Context, log *zap.Logger) error {
	wait := o.window(o.cfg.BackoffMin, o.cfg.BackoffMax, 10*time.Minute, 15*time.Minute)
	log.Info("Backing off before next attempt.", zap.Duration("wait", wait))
	return o.sleep(ctx, wait)
}

// window picks a uniform duration in [min, max], with fallbacks for an unset
// or inverted configuration.
func (o *Orchestrator) window(min, max, defMin, defMax time.Duration) time.Duration {
	if min <= 0 {
		min = defMin
	}
	if max < min {
		max = min + (defMax - defMin)
	}
	if max == min {
		return min
	}
	return min + time.Duration(o.rng.Int63n(int64(max-min)))
}

func (o *Orchestrator) maxAttempts() int {
	if o.cfg.MaxAttempts <= 0 {
		return 3
	}
	return o.cfg.MaxAttempts
}

func (o *Orchestrator) landingURL() string {
	if o.cfg.LandingURL != "" {
		return o.cfg.LandingURL
	}
	return o.cfg.SignInURL
}

// persistSession saves the authenticated state; failures are logged only.
func (o *Orchestrator) persistSession(ctx context.Context, s browser.Surface, email string, log *zap.Logger) {
	if o.sessions == nil {
		return
	}
	if err := o.sessions.SaveSession(ctx, s, email, "desktop"); err != nil {
		log.Warn("Session persistence failed.", zap.Error(err))
	}
}

// markDoLater parks the account in the registry; failures are logged only.
func (o *Orchestrator) markDoLater(ctx context.Context, email string, log *zap.Logger) {
	if o.registry == nil {
		return
	}
	if err := o.registry.MarkDoLater(ctx, email); err != nil {
		log.Warn("Could not mark account for later processing.", zap.Error(err))
	}
}

// closeAllSurfaces sweeps every surface the provider still tracks, so the
// exhaustion cleanup does not depend on the host's restart listener.
func (o *Orchestrator) closeAllSurfaces() {
	ctx, cancel := context.WithTimeout(browser.Detach(context.Background()), 10*time.Second)
	defer cancel()
	o.surfaces.CloseAll(ctx)
}

// closeSurface tears a surface down outside the caller's cancellation scope
// so cleanup survives an already-cancelled context.
func (o *Orchestrator) closeSurface(s browser.Surface) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(browser.Detach(context.Background()), 10*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		o.logger.Debug("Surface close failed.", zap.String("surface", s.ID()), zap.Error(err))
	}
}
