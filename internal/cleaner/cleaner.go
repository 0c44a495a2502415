// Package cleaner strips markdown decoration from model output so the report
// can be shown as plain text.
package cleaner

import (
	"regexp"
	"strings"
)

var (
	headingRe    = regexp.MustCompile(`(?m)^#+\s*`)
	boldRe       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe     = regexp.MustCompile(`\*(.*?)\*`)
	ruleRe       = regexp.MustCompile(`(?m)^-{3,}$`)
	bulletRe     = regexp.MustCompile(`(?m)^-+\s*`)
	blankLinesRe = regexp.MustCompile(`\n{2,}`)
)

// Clean removes headings, emphasis markers, bullets and horizontal rules,
// collapses blank lines and trims the result.
//
// Clean is idempotent: the pass is repeated until the text stops changing,
// since removing a marker can expose another one (e.g. "**# x**").
func Clean(text string) string {
	for {
		next := clean(text)
		if next == text {
			return next
		}
		text = next
	}
}

// clean applies a single pass. Every substitution only deletes characters,
// so repeated passes terminate.
func clean(text string) string {
	if text == "" {
		return text
	}
	text = headingRe.ReplaceAllString(text, "")
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = ruleRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = blankLinesRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
