package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short pause", "Wait/ then", `Wait<break time="0.5s"/> then`},
		{"long pause", "Wait// then", `Wait<break time="1s"/> then`},
		{"longest pause", "Wait//// then", `Wait<break time="1.5s"/> then`},
		{"strong", "**Holy** ground", `<emphasis level="strong">Holy</emphasis> ground`},
		{"moderate", "a *still* voice", `a <emphasis level="moderate">still</emphasis> voice`},
		{"reduced", "a _quiet_ word", `a <emphasis level="reduced">quiet</emphasis> word`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("In the beginning. God created! Was it good?  Yes")
	assert.Equal(t, []string{
		"In the beginning. ",
		"God created! ",
		"Was it good?  ",
		"Yes.",
	}, got)
}

func TestSentencesIgnoresPunctuationInsideMarkup(t *testing.T) {
	got := Sentences(Normalize("Be still/// and know. Amen."))
	require.Len(t, got, 2)
	assert.Equal(t, `Be still<break time="1.5s"/> and know. `, got[0])
}

func TestSentencesTreatsBareAngleBracketsAsText(t *testing.T) {
	got := Sentences("One < two. Three > one. <b>Bold? Yes. <break")
	assert.Equal(t, []string{"One < two. ", "Three > one. ", "<b>Bold? ", "Yes. ", "<break."}, got)

	chunks := Split("One < two. Three is here. Four is here.", Options{MaxSentences: 1})
	assert.Equal(t, []string{"One < two.", "Three is here.", "Four is here."}, chunks)
}

func TestSentencesFoldsLeadingPunctuation(t *testing.T) {
	got := Sentences("Hello... World.")
	assert.Equal(t, []string{"Hello... ", "World."}, got)
}

func TestSplitBySentenceCount(t *testing.T) {
	text := "One. Two. Three. Four. Five. Six. Seven."

	chunks := Split(text, Options{MaxSentences: 3})

	assert.Equal(t, []string{
		"One. Two. Three.",
		"Four. Five. Six.",
		"Seven.",
	}, chunks)
}

func TestSplitByCharacterBudget(t *testing.T) {
	text := "Aaaa. Bbbb. Cccc. Dddd."

	chunks := Split(text, Options{MaxChars: 12})

	assert.Equal(t, []string{"Aaaa. Bbbb.", "Cccc. Dddd."}, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
	}
}

func TestSplitOversizedSentenceStandsAlone(t *testing.T) {
	long := strings.Repeat("word ", 20) + "end."
	chunks := Split("Short. "+long+" Tail.", Options{MaxChars: 30})

	require.Len(t, chunks, 3)
	assert.Equal(t, "Short.", chunks[0])
	assert.Equal(t, strings.TrimSpace(long), chunks[1])
	assert.Equal(t, "Tail.", chunks[2])
}

func TestSplitDefaultsToCharacterBudget(t *testing.T) {
	chunks := Split("A short chapter. With two sentences.", Options{})
	assert.Equal(t, []string{"A short chapter. With two sentences."}, chunks)
}

func TestSplitReproducesInput(t *testing.T) {
	text := "For God so loved the world. That he gave his only Son! " +
		"Whoever believes in him? Shall not perish. But have eternal life."

	for k := 1; k <= 6; k++ {
		chunks := Split(text, Options{MaxSentences: k})

		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")), "k=%d", k)
		for _, c := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(c))
			assert.LessOrEqual(t, len(Sentences(c)), k)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split("", Options{MaxSentences: 5}))
	assert.Empty(t, Split("   ", Options{}))
}
