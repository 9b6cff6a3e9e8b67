// Package util holds small shared helpers that have no domain home.
package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking. Used
// when logging token prefixes so the full credential never reaches the log.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so resource identifiers and audiences
// compare equal regardless of a trailing slash.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
