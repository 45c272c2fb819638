// File: internal/mailcode/retriever.go
package mailcode

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/browser"
	"github.com/xkilldash9x/loginpilot/internal/config"
)

// SurfaceFactory produces a standalone surface when the sign-in surface
// cannot spawn a sibling (e.g. its browser context is already unhealthy).
type SurfaceFactory func(ctx context.Context) (browser.Surface, error)

// senderAddress is the provider's verification-mail sender, tried as the
// first search term.
const senderAddress = "account-security-noreply@accountprotection.microsoft.com"

// emailTokenPattern finds an email-shaped token in the sign-in UI's visible
// text, used to derive the target mailbox.
var emailTokenPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Retriever locates the newest verification mail in the linked mailbox and
// extracts its code. The webmail UI is driven through a surface in the same
// browser session; an IMAP path (imap.go) bypasses the UI when configured.
type Retriever struct {
	logger  *zap.Logger
	cfg     config.MailboxConfig
	factory SurfaceFactory
	imap    *IMAPRetriever
	now     func() time.Time
}

// NewRetriever wires the retriever. factory may be nil; then only sibling
// surfaces are used.
func NewRetriever(cfg config.MailboxConfig, logger *zap.Logger, factory SurfaceFactory) *Retriever {
	r := &Retriever{
		logger:  logger.Named("mailcode"),
		cfg:     cfg,
		factory: factory,
		now:     time.Now,
	}
	if cfg.IMAP.Enabled {
		r.imap = NewIMAPRetriever(cfg.IMAP, logger)
	}
	return r
}

// Retrieve finds a 4-8 digit verification code for the account whose sign-in
// flow is displayed on signin. Returns nil, error when no code could be found;
// the caller treats that as a soft failure requiring a whole-flow retry.
func (r *Retriever) Retrieve(ctx context.Context, signin browser.Surface) (*ExtractedCode, error) {
	address := r.mailboxAddress(ctx, signin)
	if address == "" {
		return nil, fmt.Errorf("no mailbox address visible on the sign-in surface")
	}
	r.logger.Info("Retrieving verification code.", zap.String("mailbox", address))

	// Direct IMAP access skips the webmail UI entirely when configured.
	if r.imap != nil {
		code, err := r.imap.Retrieve(ctx)
		if err == nil {
			return code, nil
		}
		r.logger.Warn("IMAP retrieval failed; falling back to webmail UI.", zap.Error(err))
	}

	mail, err := r.openMailSurface(ctx, signin)
	if err != nil {
		return nil, err
	}
	defer mail.Close(browser.Detach(ctx))

	if r.cfg.Password == "" {
		// No credentials configured: proceed read-only and hope the webmail
		// session is already authenticated in this browser profile.
		r.logger.Warn("No mailbox credentials configured; attempting unauthenticated read.")
	}

	rounds := r.cfg.SearchRounds
	if rounds <= 0 {
		rounds = 3
	}

	for round := 1; round <= rounds; round++ {
		if code := r.searchRound(ctx, mail); code != nil {
			return code, nil
		}
		if round < rounds {
			r.logger.Debug("Search round exhausted; cooling down.", zap.Int("round", round))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RoundCooldown):
			}
		}
	}

	// Last resort: plain scan of the most recent inbox threads.
	if code := r.inboxScan(ctx, mail); code != nil {
		return code, nil
	}
	return nil, fmt.Errorf("no verification code found after %d search rounds", rounds)
}

// mailboxAddress scans the sign-in UI's visible text for an email token.
func (r *Retriever) mailboxAddress(ctx context.Context, signin browser.Surface) string {
	if r.cfg.Address != "" {
		return r.cfg.Address
	}
	text, err := signin.PageText(ctx)
	if err != nil {
		return ""
	}
	return emailTokenPattern.FindString(text)
}

// openMailSurface prefers a sibling tab in the same session, falling back to
// a standalone temporary surface when the factory allows it.
func (r *Retriever) openMailSurface(ctx context.Context, signin browser.Surface) (browser.Surface, error) {
	mail, err := signin.OpenSibling(ctx)
	if err == nil {
		return mail, nil
	}
	r.logger.Warn("Could not open sibling surface for webmail.", zap.Error(err))
	if r.factory == nil {
		return nil, fmt.Errorf("no webmail surface available: %w", err)
	}
	return r.factory(ctx)
}

// searchQueries is the ordered list of search terms: sender address first,
// then the subject phrase, then the generic brand term.
func (r *Retriever) searchQueries() []string {
	return []string{
		senderAddress,
		"single-use code",
		"Microsoft account",
	}
}

// searchRound issues each search query and works through the ranked threads.
func (r *Retriever) searchRound(ctx context.Context, mail browser.Surface) *ExtractedCode {
	for _, query := range r.searchQueries() {
		if err := mail.Navigate(ctx, r.searchURL(query)); err != nil {
			r.logger.Debug("Webmail search navigation failed.", zap.String("query", query), zap.Error(err))
			continue
		}

		listing, err := mail.HTML(ctx)
		if err != nil {
			continue
		}
		threads := RankThreads(ParseThreads(listing, r.now()))
		if len(threads) == 0 {
			continue
		}

		if code := r.scanThreads(ctx, mail, threads, query); code != nil {
			return code
		}
	}
	return nil
}

// scanThreads opens ranked candidates newest-first and extracts from each.
func (r *Retriever) scanThreads(ctx context.Context, mail browser.Surface, threads []Thread, query string) *ExtractedCode {
	base, _ := mail.CurrentURL(ctx)

	const maxCandidates = 5
	for i, thread := range threads {
		if i >= maxCandidates {
			break
		}
		if thread.Href == "" {
			continue
		}
		if err := mail.Navigate(ctx, resolveHref(base, thread.Href)); err != nil {
			continue
		}
		doc, err := mail.HTML(ctx)
		if err != nil {
			continue
		}

		if code := r.extractFromThread(doc, thread, query); code != nil {
			return code
		}
	}
	return nil
}

// extractFromThread ranks the messages of an opened thread and applies the
// pattern extraction to the best-ranked message first, then its neighbors.
func (r *Retriever) extractFromThread(doc string, thread Thread, query string) *ExtractedCode {
	messages := RankMessages(ParseMessages(doc, r.now()))
	for _, msg := range messages {
		value, ok := ExtractCode(msg.Body)
		if !ok {
			continue
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = thread.Timestamp
		}
		r.logger.Info("Verification code extracted.",
			zap.String("search_term", query),
			zap.Time("thread_timestamp", ts),
		)
		return &ExtractedCode{
			Value:                 value,
			SourceThreadTimestamp: ts,
			SearchTermUsed:        query,
		}
	}
	return nil
}

// inboxScan walks the most recent inbox threads without a search query.
func (r *Retriever) inboxScan(ctx context.Context, mail browser.Surface) *ExtractedCode {
	depth := r.cfg.InboxScanDepth
	if depth <= 0 {
		depth = 10
	}
	r.logger.Debug("Falling back to plain inbox scan.", zap.Int("depth", depth))

	if err := mail.Navigate(ctx, r.cfg.WebmailURL); err != nil {
		return nil
	}
	listing, err := mail.HTML(ctx)
	if err != nil {
		return nil
	}

	threads := RankThreads(ParseThreads(listing, r.now()))
	if len(threads) > depth {
		threads = threads[:depth]
	}
	return r.scanThreads(ctx, mail, threads, "inbox-scan")
}

// searchURL builds the webmail search location for a query.
func (r *Retriever) searchURL(query string) string {
	base := strings.TrimRight(r.cfg.WebmailURL, "/")
	return base + "/#search=" + url.QueryEscape(query)
}

// resolveHref resolves a possibly-relative thread link against the listing URL.
func resolveHref(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
