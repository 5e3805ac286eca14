package service

import (
	"strings"
	"unicode/utf8"
)

// ExcerptLength is the maximum length, in runes, of the list-view excerpt.
const ExcerptLength = 100

// SanitizeText strips lone (unpaired) UTF-16 surrogate code units from text
// before storage. Providers occasionally emit them in display names and
// message bodies, and they corrupt downstream storage encoding. In a Go
// string a lone surrogate is an invalid UTF-8 sequence, so stripping invalid
// bytes removes exactly the offending code units; everything else passes
// through untouched.
func SanitizeText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// Excerpt truncates sanitized text to ExcerptLength runes for list views.
func Excerpt(s string) string {
	if utf8.RuneCountInString(s) <= ExcerptLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:ExcerptLength])
}
