// File: internal/auth/credentials_test.go
package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loginpilot/internal/browser/browsertest"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

func newTestStage(t *testing.T) (*CredentialStage, *SecondFactorResolver) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	resolver := NewSecondFactorResolver(logger, config.LoginConfig{}, nil, nil)
	return NewCredentialStage(logger, resolver, 100*time.Millisecond), resolver
}

func TestSubmitEmail(t *testing.T) {
	t.Run("fills and submits the identifier", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{}
		input := s.AddElement(`input[name="loginfmt"]`)
		submit := s.AddElement(`#idSIButton9`)

		err := stage.SubmitEmail(context.Background(), s, "user@example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"user@example.com"}, input.Fills)
		assert.Equal(t, 1, submit.Clicks)
	})

	t.Run("skips entry when identity is prefilled", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{}
		s.AddElement(`#userDisplayName`)

		require.NoError(t, stage.SubmitEmail(context.Background(), s, "user@example.com"))
	})

	t.Run("missing input is a soft failure", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{}

		assert.Error(t, stage.SubmitEmail(context.Background(), s, "user@example.com"))
	})

	t.Run("falls back to enter when no submit control exists", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{}
		input := s.AddElement(`input[name="loginfmt"]`)

		require.NoError(t, stage.SubmitEmail(context.Background(), s, "user@example.com"))
		assert.Equal(t, []string{"Enter"}, input.Keys)
	})
}

func TestSubmitPassword_DirectPath(t *testing.T) {
	stage, _ := newTestStage(t)
	s := &browsertest.FakeSurface{}
	password := s.AddElement(`input[name="passwd"]`)
	s.AddElement(`#idSIButton9`)

	// No second-factor markers anywhere: the plain password path must complete
	// without the resolver ever being consulted (an empty resolver would fail
	// loudly if it were).
	ok, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{
		Email:    "user@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"hunter2"}, password.Fills)
}

func TestSubmitPassword_AccountLocked(t *testing.T) {
	t.Run("locked before entry", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{Text: "Your account has been locked. Verify your identity."}

		_, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{Password: "x"})
		assert.ErrorIs(t, err, ErrAccountLocked)
	})

	t.Run("locked revealed after submit", func(t *testing.T) {
		stage, _ := newTestStage(t)
		s := &browsertest.FakeSurface{}
		s.AddElement(`input[name="passwd"]`)
		submit := s.AddElement(`#idSIButton9`)
		submit.OnClick = func() { s.SetText("Sorry, your account has been locked.") }

		_, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{Password: "x"})
		assert.ErrorIs(t, err, ErrAccountLocked)
	})
}

func TestSubmitPassword_SecondRoundChallenge(t *testing.T) {
	stage, resolver := newTestStage(t)
	fixed := time.Unix(1111111109, 0).UTC()
	resolver.now = func() time.Time { return fixed }

	s := &browsertest.FakeSurface{}
	s.AddElement(`input[name="passwd"]`)
	submit := s.AddElement(`#idSIButton9`)

	// First submit renders the code challenge; the second (the code submit)
	// clears it, which is the success signal the verifier looks for.
	var code *browsertest.FakeElement
	submit.OnClick = func() {
		if code == nil {
			code = s.AddElement(`input[name="otc"]`)
		} else {
			s.RemoveElement(`input[name="otc"]`)
		}
	}

	ok, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{
		Password:   "hunter2",
		TOTPSecret: rfcSecret,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	want, err := GenerateTOTP(rfcSecret, fixed)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, code.Fills)
}

func TestSubmitPassword_ChallengeClearsAsynchronously(t *testing.T) {
	stage, resolver := newTestStage(t)
	fixed := time.Unix(1111111109, 0).UTC()
	resolver.now = func() time.Time { return fixed }

	s := &browsertest.FakeSurface{}
	s.AddElement(`input[name="passwd"]`)
	submit := s.AddElement(`#idSIButton9`)

	// The accepted code clears the challenge only after the page transition,
	// well after the submit click returns. The verifier must wait it out
	// instead of reading the lingering input as a rejection.
	var code *browsertest.FakeElement
	done := make(chan struct{})
	submit.OnClick = func() {
		if code == nil {
			code = s.AddElement(`input[name="otc"]`)
			return
		}
		go func() {
			time.Sleep(150 * time.Millisecond)
			s.RemoveElement(`input[name="otc"]`)
			close(done)
		}()
	}

	ok, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{
		Password:   "hunter2",
		TOTPSecret: rfcSecret,
	})
	require.NoError(t, err)
	assert.True(t, ok, "an accepted code must verify as success even when the page settles asynchronously")
	<-done
}

func TestSubmitPassword_SwitchToPasswordAffordance(t *testing.T) {
	stage, _ := newTestStage(t)
	s := &browsertest.FakeSurface{}
	s.AddElement(`#idSIButton9`)
	link := s.AddTextHit("Use your password")
	link.OnClick = func() { s.AddElement(`input[name="passwd"]`) }

	ok, err := stage.SubmitPassword(context.Background(), s, &AccountCredentials{Password: "hunter2"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, link.Clicks)
}

func TestVerifySecondFactor(t *testing.T) {
	stage, _ := newTestStage(t)
	ctx := context.Background()

	t.Run("clean page counts as success", func(t *testing.T) {
		s := &browsertest.FakeSurface{Text: "Welcome back"}
		assert.True(t, stage.VerifySecondFactor(ctx, s))
	})

	t.Run("rejection text fails", func(t *testing.T) {
		s := &browsertest.FakeSurface{Text: "That code didn't work. Try again."}
		assert.False(t, stage.VerifySecondFactor(ctx, s))
	})

	t.Run("surviving code input fails", func(t *testing.T) {
		s := &browsertest.FakeSurface{}
		s.AddElement(`input[name="otc"]`)
		assert.False(t, stage.VerifySecondFactor(ctx, s))
	})

	t.Run("surviving challenge marker fails", func(t *testing.T) {
		s := &browsertest.FakeSurface{}
		s.AddElement(`#idDiv_SAOTCS_Proofs`)
		assert.False(t, stage.VerifySecondFactor(ctx, s))
	})
}
