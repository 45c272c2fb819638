// File: internal/mailcode/retriever_test.go
package mailcode

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/browser/browsertest"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

const webmailBase = "https://mail.example.com"

func listingDoc(href, subject, when string) string {
	return fmt.Sprintf(`
	<html><body>
	  <div data-thread-id="t1">
	    <a href="%s">%s</a>
	    <time datetime="%s"></time>
	  </div>
	</body></html>`, href, subject, when)
}

func threadDoc(body string) string {
	return fmt.Sprintf(`<html><body><div class="message-body">%s</div></body></html>`, body)
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	r := NewRetriever(config.MailboxConfig{
		WebmailURL:    webmailBase,
		Address:       "inbox@example.com",
		SearchRounds:  1,
		RoundCooldown: time.Millisecond,
	}, zaptest.NewLogger(t), nil)
	r.now = func() time.Time { return time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRetrieve_SearchHit(t *testing.T) {
	mail := &browsertest.FakeSurface{Name: "mail"}
	mail.HTMLByURL = map[string]string{
		// The first query (the sender address) already yields the thread.
		searchURLFor(senderAddress): listingDoc("/thread/1", "Microsoft account security code", "2026-03-14T10:00:00Z"),
		webmailBase + "/thread/1":   threadDoc("Your Microsoft single-use code is 483921."),
	}

	signin := &browsertest.FakeSurface{
		Name:      "signin",
		SiblingFn: func(context.Context) (browser.Surface, error) { return mail, nil },
	}

	r := newTestRetriever(t)
	code, err := r.Retrieve(context.Background(), signin)
	require.NoError(t, err)

	assert.Equal(t, "483921", code.Value)
	assert.Equal(t, senderAddress, code.SearchTermUsed)
	assert.True(t, mail.Closed, "mail surface is closed after retrieval")
}

func TestRetrieve_FallsBackToInboxScan(t *testing.T) {
	mail := &browsertest.FakeSurface{Name: "mail"}
	// Every search query returns an empty listing; only the plain inbox holds
	// the thread.
	mail.HTMLByURL = map[string]string{
		webmailBase:              listingDoc("/thread/9", "Security alert", "2026-03-14T09:00:00Z"),
		webmailBase + "/thread/9": threadDoc("security code: 112233"),
	}

	signin := &browsertest.FakeSurface{
		SiblingFn: func(context.Context) (browser.Surface, error) { return mail, nil },
	}

	r := newTestRetriever(t)
	code, err := r.Retrieve(context.Background(), signin)
	require.NoError(t, err)
	assert.Equal(t, "112233", code.Value)
	assert.Equal(t, "inbox-scan", code.SearchTermUsed)
}

func TestRetrieve_NoCodeAnywhere(t *testing.T) {
	mail := &browsertest.FakeSurface{Name: "mail"}
	signin := &browsertest.FakeSurface{
		SiblingFn: func(context.Context) (browser.Surface, error) { return mail, nil },
	}

	r := newTestRetriever(t)
	_, err := r.Retrieve(context.Background(), signin)
	assert.Error(t, err)
}

func TestRetrieve_DerivesMailboxFromSignInPage(t *testing.T) {
	mail := &browsertest.FakeSurface{Name: "mail"}
	signin := &browsertest.FakeSurface{
		Text:      "We sent a code to linked.inbox@example.net. Enter it below.",
		SiblingFn: func(context.Context) (browser.Surface, error) { return mail, nil },
	}

	r := NewRetriever(config.MailboxConfig{
		WebmailURL:   webmailBase,
		SearchRounds: 1,
	}, zaptest.NewLogger(t), nil)

	// No code in the mailbox, but the address derivation must get far enough
	// to actually search instead of failing on a missing address.
	_, err := r.Retrieve(context.Background(), signin)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "no mailbox address")
}

func TestRetrieve_NoAddressVisible(t *testing.T) {
	signin := &browsertest.FakeSurface{Text: "Enter your password"}
	r := NewRetriever(config.MailboxConfig{WebmailURL: webmailBase}, zaptest.NewLogger(t), nil)

	_, err := r.Retrieve(context.Background(), signin)
	assert.ErrorContains(t, err, "no mailbox address")
}

func TestRetrieve_FactoryFallback(t *testing.T) {
	mail := &browsertest.FakeSurface{Name: "standalone"}
	mail.HTMLByURL = map[string]string{
		searchURLFor(senderAddress): listingDoc("/t/1", "code mail", "2026-03-14T10:00:00Z"),
		webmailBase + "/t/1":        threadDoc("Your Microsoft single-use code is 5566."),
	}

	signin := &browsertest.FakeSurface{
		SiblingFn: func(context.Context) (browser.Surface, error) {
			return nil, fmt.Errorf("browser context unhealthy")
		},
	}

	factoryCalls := 0
	r := NewRetriever(config.MailboxConfig{
		WebmailURL:   webmailBase,
		Address:      "inbox@example.com",
		SearchRounds: 1,
	}, zaptest.NewLogger(t), func(context.Context) (browser.Surface, error) {
		factoryCalls++
		return mail, nil
	})

	code, err := r.Retrieve(context.Background(), signin)
	require.NoError(t, err)
	assert.Equal(t, "5566", code.Value)
	assert.Equal(t, 1, factoryCalls)
}

// searchURLFor mirrors the retriever's search location for assertions.
func searchURLFor(query string) string {
	r := &Retriever{cfg: config.MailboxConfig{WebmailURL: webmailBase}}
	return r.searchURL(query)
}
