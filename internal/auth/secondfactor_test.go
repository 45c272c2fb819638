// File: internal/auth/secondfactor_test.go
package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loginpilot/internal/browser/browsertest"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

func TestResolve_NoChannelApplicable(t *testing.T) {
	resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, nil, nil)
	s := &browsertest.FakeSurface{}

	_, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, "")
	assert.Error(t, err)
}

func TestResolve_TOTPTakesPrecedence(t *testing.T) {
	retriever := &fakeRetriever{code: "999999"}
	resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, retriever, nil)
	fixed := time.Unix(59, 0).UTC()
	resolver.now = func() time.Time { return fixed }

	s := &browsertest.FakeSurface{}
	code := s.AddElement(`input[name="otc"]`)
	submit := s.AddElement(`#idSIButton9`)

	channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{TOTPSecret: rfcSecret}, "")
	require.NoError(t, err)
	assert.Equal(t, ChannelTOTP, channel)
	assert.Zero(t, retriever.calls, "a configured secret outranks the mailbox channel")

	want, err := GenerateTOTP(rfcSecret, fixed)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, code.Fills)
	assert.Equal(t, 1, submit.Clicks)
}

func TestResolve_TOTPRevealsHiddenInput(t *testing.T) {
	resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, nil, nil)
	resolver.now = func() time.Time { return time.Unix(59, 0).UTC() }

	s := &browsertest.FakeSurface{}
	reveal := s.AddElement(`#signInAnotherWay`)
	reveal.OnClick = func() { s.AddElement(`input[name="otc"]`) }

	channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{TOTPSecret: rfcSecret}, "")
	require.NoError(t, err)
	assert.Equal(t, ChannelTOTP, channel)
	assert.Equal(t, 1, reveal.Clicks)
}

func TestResolve_EmailOTP(t *testing.T) {
	t.Run("single combined field", func(t *testing.T) {
		retriever := &fakeRetriever{code: "483921"}
		resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, retriever, nil)

		s := &browsertest.FakeSurface{}
		proofs := s.AddElement(`#idDiv_SAOTCS_Proofs`)
		code := s.AddElement(`input[name="otc"]`)
		s.AddElement(`#idSIButton9`)

		channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, ChannelEmailOTP)
		require.NoError(t, err)
		assert.Equal(t, ChannelEmailOTP, channel)
		assert.Equal(t, 1, proofs.Clicks, "clicking the proof entry requests the mail")
		assert.Equal(t, []string{"483921"}, code.Fills)
	})

	t.Run("one digit per box layout", func(t *testing.T) {
		retriever := &fakeRetriever{code: "123456"}
		resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, retriever, nil)

		s := &browsertest.FakeSurface{}
		boxes := make([]*browsertest.FakeElement, 6)
		for i := range boxes {
			boxes[i] = s.AddElement(fmt.Sprintf(`#codeEntry-%d`, i))
		}

		channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, ChannelEmailOTP)
		require.NoError(t, err)
		assert.Equal(t, ChannelEmailOTP, channel)
		for i, box := range boxes {
			assert.Equal(t, []string{string(rune('1' + i))}, box.Fills)
		}
		assert.Equal(t, []string{"Enter"}, boxes[5].Keys, "no submit button, enter on the last box")
	})

	t.Run("retrieval failure surfaces", func(t *testing.T) {
		retriever := &fakeRetriever{err: fmt.Errorf("mailbox unreachable")}
		resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, retriever, nil)

		s := &browsertest.FakeSurface{}
		_, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, ChannelEmailOTP)
		assert.ErrorContains(t, err, "mailbox unreachable")
	})
}

func TestResolve_ManualConsoleEntry(t *testing.T) {
	t.Run("operator enters the code", func(t *testing.T) {
		prompter := &fakePrompter{line: "12345"}
		resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, nil, prompter)

		s := &browsertest.FakeSurface{}
		code := s.AddElement(`input[name="otc"]`)

		channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, "")
		require.NoError(t, err)
		assert.Equal(t, ChannelSMS, channel)
		assert.Equal(t, []string{"12345"}, code.Fills)
	})

	t.Run("non-numeric entry is rejected", func(t *testing.T) {
		prompter := &fakePrompter{line: "not-a-code"}
		resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, nil, prompter)

		s := &browsertest.FakeSurface{}
		s.AddElement(`input[name="otc"]`)

		_, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, "")
		assert.Error(t, err)
	})
}

func TestResolve_PushApproval(t *testing.T) {
	resolver := NewSecondFactorResolver(zaptest.NewLogger(t), config.LoginConfig{}, nil, nil)

	s := &browsertest.FakeSurface{}
	sign := s.AddElement(`#idRemoteNGC_DisplaySign`)
	sign.TextValue = "42"

	// Approval lands shortly after the handler starts polling.
	go func() {
		time.Sleep(300 * time.Millisecond)
		s.RemoveElement(`#idRemoteNGC_DisplaySign`)
	}()

	channel, err := resolver.Resolve(context.Background(), s, &AccountCredentials{}, "")
	require.NoError(t, err)
	assert.Equal(t, ChannelPush, channel)
}
