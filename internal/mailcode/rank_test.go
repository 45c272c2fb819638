// File: internal/mailcode/rank_test.go
package mailcode

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func TestParseThreads(t *testing.T) {
	doc := `
	<html><body>
	  <div data-thread-id="t1">
	    <a href="/mail/t1">Your Microsoft account</a>
	    <time datetime="2026-03-14T09:00:00Z">9:00 AM</time>
	  </div>
	  <div class="mail-item">
	    <a href="/mail/t2">Weekly newsletter</a>
	    <span title="2026-03-13T08:30:00Z">yesterday</span>
	  </div>
	  <div data-uid="u3">
	    <a href="/mail/t3">No timestamp here</a>
	  </div>
	</body></html>`

	threads := ParseThreads(doc, rankNow)
	require.Len(t, threads, 3)

	assert.Equal(t, "/mail/t1", threads[0].Href)
	assert.Equal(t, "Your Microsoft account", threads[0].Subject)
	assert.Equal(t, time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC), threads[0].Timestamp)

	assert.Equal(t, "/mail/t2", threads[1].Href)
	assert.True(t, threads[2].Timestamp.IsZero(), "row without timestamp gets zero time")

	for i, th := range threads {
		assert.Equal(t, i, th.DOMOrder)
	}
}

func TestRankThreads(t *testing.T) {
	older := rankNow.Add(-2 * time.Hour)
	newer := rankNow.Add(-5 * time.Minute)
	threads := []Thread{
		{Href: "a", Timestamp: older, DOMOrder: 0},
		{Href: "b", Timestamp: newer, DOMOrder: 1},
		{Href: "c", Timestamp: newer, DOMOrder: 2},
		{Href: "d", DOMOrder: 3},
	}

	ranked := RankThreads(threads)
	require.Len(t, ranked, 4)
	assert.Equal(t, "b", ranked[0].Href, "newest first")
	assert.Equal(t, "c", ranked[1].Href, "tie keeps DOM order")
	assert.Equal(t, "a", ranked[2].Href)
	assert.Equal(t, "d", ranked[3].Href, "zero timestamp ranks last")

	// Ranking is a pure function: re-ranking the ranked slice changes nothing,
	// and the input is left untouched.
	assert.Empty(t, cmp.Diff(ranked, RankThreads(ranked)))
	assert.Equal(t, "a", threads[0].Href)
}

func TestParseMessages(t *testing.T) {
	t.Run("recognized body containers", func(t *testing.T) {
		doc := `
		<html><body>
		  <div class="message-body">Your Microsoft single-use code is 111222
		    <time datetime="2026-03-14T08:00:00Z"></time>
		  </div>
		  <div class="message-body">Your Microsoft single-use code is 333444
		    <time datetime="2026-03-14T11:00:00Z"></time>
		  </div>
		</body></html>`

		messages := RankMessages(ParseMessages(doc, rankNow))
		require.Len(t, messages, 2)
		assert.Contains(t, messages[0].Body, "333444", "newest message ranks first")

		code, ok := ExtractCode(messages[0].Body)
		require.True(t, ok)
		assert.Equal(t, "333444", code)
	})

	t.Run("falls back to whole document", func(t *testing.T) {
		doc := `<html><body><p>Security code: 987654</p></body></html>`
		messages := ParseMessages(doc, rankNow)
		require.Len(t, messages, 1)

		code, ok := ExtractCode(messages[0].Body)
		require.True(t, ok)
		assert.Equal(t, "987654", code)
	})
}

func TestParseTimestamp(t *testing.T) {
	t.Run("day only resolves against reference year", func(t *testing.T) {
		ts, ok := parseTimestamp("Mar 2", rankNow)
		require.True(t, ok)
		assert.Equal(t, 2026, ts.Year())
		assert.Equal(t, time.March, ts.Month())
	})

	t.Run("future day rolls back a year", func(t *testing.T) {
		ts, ok := parseTimestamp("Dec 25", rankNow)
		require.True(t, ok)
		assert.Equal(t, 2025, ts.Year())
	})

	t.Run("clock only resolves to reference day", func(t *testing.T) {
		ts, ok := parseTimestamp("9:15 AM", rankNow)
		require.True(t, ok)
		assert.Equal(t, rankNow.Day(), ts.Day())
		assert.Equal(t, 9, ts.Hour())
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, ok := parseTimestamp("not a date", rankNow)
		assert.False(t, ok)
	})
}
