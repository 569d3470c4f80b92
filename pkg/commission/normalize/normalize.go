/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package normalize holds the pure normalization functions shared by the import and
// matching pipelines. All functions are total and idempotent.
package normalize

import (
	"strings"
	"unicode"
)

var umlauts = strings.NewReplacer( //nolint:gochecknoglobals
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

// VSNR normalizes a policy number: strip everything that is not a digit, strip all zero
// digits, and fall back to "0" when nothing remains. Matching always compares
// normalized forms.
func VSNR(s string) string {
	var b strings.Builder

	for _, r := range s {
		if r >= '1' && r <= '9' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "0"
	}

	return b.String()
}

// Intermediary normalizes a carrier-side intermediary name: lowercase, German umlauts
// transliterated, non-alphanumeric characters stripped, whitespace collapsed.
func Intermediary(s string) string {
	s = umlauts.Replace(strings.ToLower(s))

	var b strings.Builder

	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// DBName normalizes like Intermediary but keeps parenthesized content as a separate,
// space-prefixed word: "Smith(John)" becomes "smith john".
func DBName(s string) string {
	s = strings.NewReplacer("(", " ", ")", " ").Replace(s)

	return Intermediary(s)
}

// VBName rewrites the "SURNAME (FIRSTNAME)" form one carrier emits into
// "Surname Firstname". Inputs in any other shape pass through unchanged. The result
// still goes through Intermediary before matching.
func VBName(s string) string {
	trimmed := strings.TrimSpace(s)

	open := strings.IndexByte(trimmed, '(')
	if open <= 0 || !strings.HasSuffix(trimmed, ")") {
		return s
	}

	surname := strings.TrimSpace(trimmed[:open])
	firstname := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1])

	if surname == "" || firstname == "" || surname != strings.ToUpper(surname) {
		return s
	}

	return titleCase(surname) + " " + titleCase(firstname)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))

	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}
