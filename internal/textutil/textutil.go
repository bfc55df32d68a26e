// Package textutil holds the text helpers shared by the listing and enrichment
// passes: whitespace collapsing, conservative sanitization, URL checks and date
// normalization.
package textutil

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NotAvailable stands in for any field the page did not provide.
const NotAvailable = "N/A"

// DateLayout is the canonical calendar-date form written to datePosted.
const DateLayout = "2006-01-02"

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	placeholders = map[string]struct{}{
		"":                    {},
		"#":                   {},
		"n/a":                 {},
		"na":                  {},
		"null":                {},
		"undefined":           {},
		"none":                {},
		"-":                   {},
		"javascript:void(0)":  {},
		"javascript:void(0);": {},
		"javascript:;":        {},
	}

	dateLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		DateLayout,
		"2006/01/02",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
		"2 Jan 2006",
		"02 Jan 2006",
		"Jan. 2, 2006",
	}
)

// CollapseWhitespace folds every run of whitespace (including NBSP) into a
// single space and trims the ends.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Sanitize NFC-normalizes s, strips control characters and collapses
// whitespace. It never removes printable content.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = norm.NFC.String(s)
	s = controlChars.ReplaceAllString(s, "")
	return CollapseWhitespace(s)
}

// IsPlaceholder reports whether s carries no real value ("", "#", "N/A", ...).
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// OrNotAvailable returns the sanitized value, or NotAvailable when it is a placeholder.
func OrNotAvailable(s string) string {
	s = Sanitize(s)
	if IsPlaceholder(s) {
		return NotAvailable
	}
	return s
}

// IsValidURL reports whether raw is an absolute http(s) URL with a host.
func IsValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if IsPlaceholder(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// ResolveURL resolves href against base. It returns "" when href is a
// placeholder or cannot be parsed.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if IsPlaceholder(href) || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// NormalizeDate reduces a machine-readable date or timestamp to YYYY-MM-DD.
// Unparsable input is returned unchanged apart from whitespace cleanup.
func NormalizeDate(raw string) string {
	cleaned := CollapseWhitespace(raw)
	if cleaned == "" {
		return cleaned
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format(DateLayout)
		}
	}
	// Timestamps with trailing zone names or fractional noise still start
	// with a usable calendar date.
	if len(cleaned) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, cleaned[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout)
		}
	}
	return cleaned
}

// StripLabel removes a leading label such as "Closes: " (case-insensitive).
func StripLabel(s, label string) string {
	s = CollapseWhitespace(s)
	if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
		return strings.TrimSpace(s[len(label):])
	}
	return s
}
