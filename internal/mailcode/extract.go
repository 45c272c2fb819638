// File: internal/mailcode/extract.go
package mailcode

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ExtractedCode is a verification code pulled out of a mailbox message. It is
// consumed exactly once by the second-factor flow and then discarded.
type ExtractedCode struct {
	Value                 string
	SourceThreadTimestamp time.Time
	SearchTermUsed        string
}

// codeValuePattern is the shape every returned code must satisfy.
var codeValuePattern = regexp.MustCompile(`^\d{4,8}$`)

// phrasePatterns is the ordered extraction list, most specific first. The
// brand-qualified pattern must come before the generic ones so promotional
// digits elsewhere in the same message cannot win.
var phrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)your\s+microsoft\s+(?:account\s+)?single-use\s+code\s+is[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)microsoft\s+(?:account\s+)?(?:security|verification)\s+code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)single-use\s+code\s+is[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)single-use\s+code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)security\s+code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)verification\s+code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)\bcode\s+is[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)\bcode[:\s]+(\d{4,8})`),
}

// digitRunPattern finds candidate runs for the permissive fallback.
var digitRunPattern = regexp.MustCompile(`\d{4,8}`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeText collapses line breaks and runs of whitespace so phrase
// patterns can match across the soft-wrapped lines mail clients produce.
func normalizeText(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// ExtractCode applies the ordered phrase patterns to the message text and
// returns the first match. When no phrase matches it falls back to the last
// 4-8 digit run in the text. The fallback is deliberately permissive, with one
// explicit boundary: a bare 4-digit run that parses as a plausible calendar
// year (1900-2099) is skipped, so marketing copy like "2024 offer" does not
// masquerade as a code. Longer runs are accepted as-is.
func ExtractCode(text string) (string, bool) {
	normalized := normalizeText(text)
	if normalized == "" {
		return "", false
	}

	for _, pattern := range phrasePatterns {
		if m := pattern.FindStringSubmatch(normalized); m != nil {
			if codeValuePattern.MatchString(m[1]) {
				return m[1], true
			}
		}
	}

	runs := digitRunPattern.FindAllString(normalized, -1)
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if len(run) == 4 && looksLikeYear(run) {
			continue
		}
		return run, true
	}
	return "", false
}

func looksLikeYear(run string) bool {
	n, err := strconv.Atoi(run)
	if err != nil {
		return false
	}
	return n >= 1900 && n <= 2099
}
