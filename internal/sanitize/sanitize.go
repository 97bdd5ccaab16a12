// Package sanitize strips markup from client-controlled strings before they
// are stored or rendered. Security events record raw request headers, and the
// admin event list renders them, so anything a client can send goes through
// here first.
package sanitize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxUserAgentLength is the longest user agent kept in the security log.
const MaxUserAgentLength = 512

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared strict policy, which removes every element
// and attribute and keeps only text.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText removes all HTML, control characters and surrounding whitespace
// from input, then truncates it to maxLen runes. A maxLen of zero or less
// disables truncation.
func PlainText(input string, maxLen int) string {
	if input == "" {
		return ""
	}

	out := getPolicy().Sanitize(input)
	// bluemonday escapes the text it keeps; the log stores plain text and
	// templ escapes again on render.
	out = unescape(out)
	out = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, out)
	out = strings.TrimSpace(out)

	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		out = string([]rune(out)[:maxLen])
	}
	return out
}

// UserAgent sanitizes a User-Agent header for storage.
func UserAgent(ua string) string {
	return PlainText(ua, MaxUserAgentLength)
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&#34;", `"`,
	"&#39;", "'",
	"&quot;", `"`,
)

func unescape(s string) string {
	return entityReplacer.Replace(s)
}
