package bible

import (
	"regexp"
	"strings"
)

var (
	leadingVerseRe = regexp.MustCompile(`(?m)^\d+\s+`)
	inlineVerseRe  = regexp.MustCompile(`\s+\d+\s+`)
	footnoteRe     = regexp.MustCompile(`(?i)\[[a-z]\]`)
	crossRefRe     = regexp.MustCompile(`\([A-Z][a-z]*\s+\d+:\d+[^)]*\)`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	headingRe      = regexp.MustCompile(`(?i)^(Chapter \d+|Psalm \d+)\s*`)
	trailerRe      = regexp.MustCompile(`(?i)\s*(Read full chapter|Full Chapter|Continue reading)`)
	sentenceGapRe  = regexp.MustCompile(`([.!?])\s*([A-Z])`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]+`)
)

// CleanText strips verse numbers, footnote and cross-reference markers and
// page artifacts from scraped passage text, leaving single-spaced prose.
func CleanText(raw string) string {
	text := leadingVerseRe.ReplaceAllString(raw, "")
	text = inlineVerseRe.ReplaceAllString(text, " ")
	text = footnoteRe.ReplaceAllString(text, "")
	text = crossRefRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = headingRe.ReplaceAllString(text, "")
	text = trailerRe.ReplaceAllString(text, "")
	text = sentenceGapRe.ReplaceAllString(text, "$1 $2")
	return strings.TrimSpace(text)
}

// CountSentences counts non-blank segments between sentence punctuation.
func CountSentences(text string) int {
	n := 0
	for _, s := range sentenceEndRe.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
