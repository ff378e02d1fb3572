// Package sanitize hardens text crossing trust boundaries: user queries
// going into LLM prompts, and error messages going back to clients.
package sanitize

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxQueryLength is the cap applied to sanitized query input.
const MaxQueryLength = 500

// MaxErrorLength is the cap applied to sanitized error messages.
const MaxErrorLength = 500

// Escape-decoding patterns. Attackers hide injection phrases behind
// unicode escapes and HTML entities, so decode before matching.
var (
	unicodeEscapePattern = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	hexEntityPattern     = regexp.MustCompile(`&#x([0-9a-fA-F]+);`)
	decEntityPattern     = regexp.MustCompile(`&#(\d+);`)
)

// Prompt-injection patterns removed from query input.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)\b(system|assistant|user)\s*:`),
	regexp.MustCompile("(?s)```.*?```"),
	regexp.MustCompile(`(?i)forget\s+(everything|all|previous)`),
	regexp.MustCompile(`(?i)do\s+not\s+follow`),
	regexp.MustCompile(`(?i)new\s+instructions?`),
}

// Query removes prompt-injection patterns from user input. The result is
// decoded, trimmed, truncated to MaxQueryLength, and stripped of known
// injection phrasing. Safe to interpolate into an LLM prompt.
func Query(input string) string {
	s := decodeEscapes(input)
	s = strings.TrimSpace(s)
	if len(s) > MaxQueryLength {
		s = s[:MaxQueryLength]
	}
	for _, p := range injectionPatterns {
		s = p.ReplaceAllString(s, " ")
	}
	// Collapse whitespace left behind by removals.
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// decodeEscapes resolves \uXXXX, &#xH; and &#D; escapes to their runes.
func decodeEscapes(s string) string {
	s = unicodeEscapePattern.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseInt(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	s = hexEntityPattern.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseInt(m[3:len(m)-1], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	s = decEntityPattern.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseInt(m[2:len(m)-1], 10, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	return s
}

// Redaction patterns for error messages. Full details stay in server logs;
// clients only ever see redacted text.
var (
	apiKeyPattern    = regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`)
	absPathPattern   = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[\w.\-]+){2,}`)
	ipPattern        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	internalURL      = regexp.MustCompile(`\bhttps?://[\w.\-]+\.(?:internal|local|corp|intranet)\b[^\s]*`)
	stackLinePattern = regexp.MustCompile(`(?m)^\s+(?:at\s+.*|goroutine\s+\d+.*|[\w./\-]+\.go:\d+.*)$`)
)

// Error redacts secrets, paths, addresses and stack frames from an error
// message and truncates it to MaxErrorLength.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return ErrorMessage(err.Error())
}

// ErrorMessage is Error for a raw message string.
func ErrorMessage(msg string) string {
	s := apiKeyPattern.ReplaceAllString(msg, "[redacted]")
	s = bearerPattern.ReplaceAllString(s, "[redacted]")
	s = internalURL.ReplaceAllString(s, "[redacted-url]")
	s = ipPattern.ReplaceAllString(s, "[redacted-ip]")
	s = absPathPattern.ReplaceAllString(s, "[path]")
	s = stackLinePattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(s) > MaxErrorLength {
		s = s[:MaxErrorLength]
	}
	return s
}
