// File: internal/mailcode/rank.go
package mailcode

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Thread is one result row in a webmail search or inbox listing.
type Thread struct {
	Href      string
	Subject   string
	Timestamp time.Time
	// DOMOrder is the position in the listing, used to break timestamp ties
	// deterministically (first seen wins).
	DOMOrder int
}

// Message is one extracted message body inside an opened thread.
type Message struct {
	Body      string
	Timestamp time.Time
	DOMOrder  int
}

// threadRowAttrs marks elements that represent a thread row across the webmail
// frontends we have seen. Attribute presence is enough; values vary.
var threadRowAttrs = []string{"data-thread-id", "data-uid", "data-convid", "data-message-id"}

// threadRowClassHints matches class fragments of thread rows.
var threadRowClassHints = []string{"thread", "mail-item", "message-row", "zA", "conversation"}

// messageBodyClassHints matches class fragments of message body containers.
var messageBodyClassHints = []string{"message-body", "mail-body", "msg-body", "email-body", "a3s", "allowTextSelection"}

// ParseThreads walks a listing document and returns candidate threads in DOM
// order. Rows without a parsable timestamp get the zero time and therefore
// rank last.
func ParseThreads(doc string, now time.Time) []Thread {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var threads []Thread
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || !isThreadRow(n) {
			return
		}
		t := Thread{
			Href:     findHref(n),
			Subject:  firstNonEmptyText(n),
			DOMOrder: len(threads),
		}
		if ts, ok := findTimestamp(n, now); ok {
			t.Timestamp = ts
		}
		threads = append(threads, t)
	})
	return threads
}

// RankThreads orders threads newest-first; timestamp ties keep DOM order.
// The sort is stable so an identical candidate set always yields the same
// "best" thread.
func RankThreads(threads []Thread) []Thread {
	ranked := make([]Thread, len(threads))
	copy(ranked, threads)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Timestamp.After(ranked[j].Timestamp)
	})
	return ranked
}

// ParseMessages extracts message bodies from an opened thread document. When
// no recognizable body container exists, the whole document text is returned
// as a single message so extraction still gets a chance.
func ParseMessages(doc string, now time.Time) []Message {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var messages []Message
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || !isMessageBody(n) {
			return
		}
		m := Message{
			Body:     collectText(n),
			DOMOrder: len(messages),
		}
		if ts, ok := findTimestamp(n, now); ok {
			m.Timestamp = ts
		}
		messages = append(messages, m)
	})

	if len(messages) == 0 {
		if text := collectText(root); strings.TrimSpace(text) != "" {
			messages = append(messages, Message{Body: text})
		}
	}
	return messages
}

// RankMessages orders messages newest-first with stable tie-breaking, same
// policy as RankThreads.
func RankMessages(messages []Message) []Message {
	ranked := make([]Message, len(messages))
	copy(ranked, messages)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Timestamp.After(ranked[j].Timestamp)
	})
	return ranked
}

// -- DOM helpers --

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isThreadRow(n *html.Node) bool {
	for _, key := range threadRowAttrs {
		if _, ok := attr(n, key); ok {
			return true
		}
	}
	if class, ok := attr(n, "class"); ok {
		lower := strings.ToLower(class)
		for _, hint := range threadRowClassHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}

func isMessageBody(n *html.Node) bool {
	class, ok := attr(n, "class")
	if !ok {
		return false
	}
	lower := strings.ToLower(class)
	for _, hint := range messageBodyClassHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func findHref(n *html.Node) string {
	if n.Data == "a" {
		if href, ok := attr(n, "href"); ok {
			return href
		}
	}
	var href string
	walk(n, func(c *html.Node) {
		if href == "" && c.Type == html.ElementNode && c.Data == "a" {
			if h, ok := attr(c, "href"); ok {
				href = h
			}
		}
	})
	return href
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteString(" ")
		}
	})
	return strings.TrimSpace(sb.String())
}

func firstNonEmptyText(n *html.Node) string {
	var text string
	walk(n, func(c *html.Node) {
		if text == "" && c.Type == html.TextNode {
			if t := strings.TrimSpace(c.Data); t != "" {
				text = t
			}
		}
	})
	return text
}

// findTimestamp looks for a parsable timestamp in <time datetime=...>, title
// attributes, or short text nodes under the element.
func findTimestamp(n *html.Node, now time.Time) (time.Time, bool) {
	var found time.Time
	var ok bool
	walk(n, func(c *html.Node) {
		if ok {
			return
		}
		if c.Type == html.ElementNode {
			if c.Data == "time" {
				if dt, has := attr(c, "datetime"); has {
					if ts, parsed := parseTimestamp(dt, now); parsed {
						found, ok = ts, true
						return
					}
				}
			}
			if title, has := attr(c, "title"); has {
				if ts, parsed := parseTimestamp(title, now); parsed {
					found, ok = ts, true
					return
				}
			}
		}
		if c.Type == html.TextNode {
			t := strings.TrimSpace(c.Data)
			if t != "" && len(t) <= 32 {
				if ts, parsed := parseTimestamp(t, now); parsed {
					found, ok = ts, true
				}
			}
		}
	})
	return found, ok
}

// timestampLayouts covers the display formats webmail listings use. Layouts
// without a year or date are resolved against the reference time.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"2 Jan 2006 15:04",
	"02.01.2006 15:04",
}

var dayOnlyLayouts = []string{"Jan 2", "2 Jan"}

var clockOnlyLayouts = []string{"3:04 PM", "15:04"}

func parseTimestamp(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	for _, layout := range dayOnlyLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			// Listing shows no year; assume the current one, rolling back a
			// year if that puts the message in the future.
			ts = ts.AddDate(now.Year(), 0, 0)
			if ts.After(now.AddDate(0, 0, 1)) {
				ts = ts.AddDate(-1, 0, 0)
			}
			return ts, true
		}
	}
	for _, layout := range clockOnlyLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return time.Date(now.Year(), now.Month(), now.Day(), ts.Hour(), ts.Minute(), 0, 0, now.Location()), true
		}
	}
	return time.Time{}, false
}
