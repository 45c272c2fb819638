// File: internal/mailcode/imap.go
package mailcode

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loginpilot/internal/config"
)

// IMAPRetriever reads verification codes straight from the mailbox over IMAP,
// skipping the webmail UI. Used when direct credentials are configured; the
// UI path remains the fallback.
type IMAPRetriever struct {
	logger *zap.Logger
	cfg    config.IMAPConfig
	now    func() time.Time

	// dial is swappable in tests.
	dial func(addr string) (*imapclient.Client, error)
}

// NewIMAPRetriever creates the IMAP code reader.
func NewIMAPRetriever(cfg config.IMAPConfig, logger *zap.Logger) *IMAPRetriever {
	r := &IMAPRetriever{
		logger: logger.Named("imap"),
		cfg:    cfg,
		now:    time.Now,
	}
	r.dial = func(addr string) (*imapclient.Client, error) {
		if cfg.TLS {
			return imapclient.DialTLS(addr, nil)
		}
		return imapclient.DialStartTLS(addr, nil)
	}
	return r
}

// Retrieve searches the inbox for recent verification mail and extracts a
// code from the newest match. Search terms follow the same order as the
// webmail path: sender address first, then subject phrase. The IMAP protocol
// calls are not context-aware; cancellation is honored between passes.
func (r *IMAPRetriever) Retrieve(ctx context.Context) (*ExtractedCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	client, err := r.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial IMAP server %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(r.cfg.Username, r.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	defer func() {
		if err := client.Logout().Wait(); err != nil {
			r.logger.Debug("IMAP logout failed.", zap.Error(err))
		}
	}()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	since := r.now().Add(-30 * time.Minute)
	criteriaList := []*imap.SearchCriteria{
		{
			Since:  since,
			Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: senderAddress}},
		},
		{
			Since:  since,
			Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "single-use code"}},
		},
	}

	for i, criteria := range criteriaList {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		code, err := r.searchAndExtract(client, criteria)
		if err != nil {
			r.logger.Debug("IMAP search pass failed.", zap.Int("pass", i), zap.Error(err))
			continue
		}
		if code != nil {
			return code, nil
		}
	}
	return nil, fmt.Errorf("no verification mail found over IMAP")
}

func (r *IMAPRetriever) searchAndExtract(client *imapclient.Client, criteria *imap.SearchCriteria) (*ExtractedCode, error) {
	data, err := client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("IMAP search failed: %w", err)
	}
	nums := data.AllSeqNums()
	if len(nums) == 0 {
		return nil, nil
	}

	// Newest messages carry the highest sequence numbers; fetch the last few.
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })
	if len(nums) > 3 {
		nums = nums[:3]
	}

	var seqSet imap.SeqSet
	seqSet.AddNum(nums...)

	bodySection := &imap.FetchItemBodySection{}
	messages, err := client.Fetch(seqSet, &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("IMAP fetch failed: %w", err)
	}

	// Rank by envelope date descending, same policy as the webmail path.
	sort.SliceStable(messages, func(i, j int) bool {
		return envelopeDate(messages[i]).After(envelopeDate(messages[j]))
	})

	for _, msg := range messages {
		body := msg.FindBodySection(bodySection)
		if len(body) == 0 {
			continue
		}
		if value, ok := ExtractCode(string(body)); ok {
			return &ExtractedCode{
				Value:                 value,
				SourceThreadTimestamp: envelopeDate(msg),
				SearchTermUsed:        "imap",
			}, nil
		}
	}
	return nil, nil
}

func envelopeDate(msg *imapclient.FetchMessageBuffer) time.Time {
	if msg.Envelope == nil {
		return time.Time{}
	}
	return msg.Envelope.Date
}
