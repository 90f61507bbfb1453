// Package chunker splits chapter text into segments small enough for a
// single speech synthesis request.
package chunker

import (
	"regexp"
	"strings"
)

// DefaultMaxChars is the character budget used when no sentence limit is set.
const DefaultMaxChars = 4500

var (
	pauseRe    = regexp.MustCompile(`/+`)
	strongRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	moderateRe = regexp.MustCompile(`\*(.*?)\*`)
	reducedRe  = regexp.MustCompile(`_(.*?)_`)
)

// Options selects the chunking policy. MaxSentences > 0 enables
// sentence-bounded chunking, otherwise chunks are bounded by MaxChars.
type Options struct {
	MaxSentences int
	MaxChars     int
}

// Normalize rewrites pause and emphasis markers into synthesis markup.
// A run of slashes becomes one break: "/" 0.5s, "//" 1s, three or more 1.5s.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	out := pauseRe.ReplaceAllStringFunc(text, func(m string) string {
		switch len(m) {
		case 1:
			return `<break time="0.5s"/>`
		case 2:
			return `<break time="1s"/>`
		default:
			return `<break time="1.5s"/>`
		}
	})

	out = strongRe.ReplaceAllString(out, `<emphasis level="strong">$1</emphasis>`)
	out = moderateRe.ReplaceAllString(out, `<emphasis level="moderate">$1</emphasis>`)
	out = reducedRe.ReplaceAllString(out, `<emphasis level="reduced">$1</emphasis>`)

	return out
}

// Split normalizes text and groups its sentences into chunks.
func Split(text string, opts Options) []string {
	sentences := Sentences(Normalize(text))

	if opts.MaxSentences > 0 {
		return bySentences(sentences, opts.MaxSentences)
	}

	limit := opts.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}
	return byChars(sentences, limit)
}

func bySentences(sentences []string, max int) []string {
	var chunks []string
	var current strings.Builder
	count := 0

	for _, s := range sentences {
		if count >= max && current.Len() > 0 {
			chunks = appendChunk(chunks, current.String())
			current.Reset()
			count = 0
		}
		current.WriteString(s)
		count++
	}

	return appendChunk(chunks, current.String())
}

func byChars(sentences []string, limit int) []string {
	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len()+len(s) > limit && current.Len() > 0 {
			chunks = appendChunk(chunks, current.String())
			current.Reset()
		}
		current.WriteString(s)
	}

	return appendChunk(chunks, current.String())
}

func appendChunk(chunks []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return chunks
	}
	return append(chunks, chunk)
}

// Sentences splits text after each run of sentence punctuation, keeping the
// punctuation and trailing whitespace with the sentence. Punctuation inside
// the markup Normalize emits (e.g. time="1.5s") never ends a sentence; any
// other '<' is plain text. A trailing fragment without punctuation is closed
// with a period.
func Sentences(text string) []string {
	var sentences []string
	var current strings.Builder
	inTag := false

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		switch {
		case !inTag && r == '<' && markupAt(runes, i):
			inTag = true
			continue
		case inTag && r == '>':
			inTag = false
			continue
		case inTag || !isTerminal(r):
			continue
		}

		for i+1 < len(runes) && isTerminal(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		for i+1 < len(runes) && isSpace(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}

		sentences = pushSentence(sentences, current.String())
		current.Reset()
	}

	if strings.TrimSpace(current.String()) != "" {
		sentences = pushSentence(sentences, current.String()+".")
	}

	return sentences
}

var markupPrefixes = []string{"<break", "<emphasis", "</emphasis"}

// markupAt reports whether a complete synthesis tag starts at runes[i].
func markupAt(runes []rune, i int) bool {
	rest := string(runes[i:])
	for _, prefix := range markupPrefixes {
		if strings.HasPrefix(rest, prefix) && strings.ContainsRune(rest, '>') {
			return true
		}
	}
	return false
}

// pushSentence folds punctuation-only fragments into the previous sentence.
func pushSentence(sentences []string, s string) []string {
	if strings.TrimFunc(s, func(r rune) bool { return isTerminal(r) || isSpace(r) }) == "" {
		if len(sentences) == 0 {
			return sentences
		}
		sentences[len(sentences)-1] += s
		return sentences
	}
	return append(sentences, s)
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
