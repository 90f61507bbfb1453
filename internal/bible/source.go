// Package bible provides the book table and the chapter text sources used
// by the narration pipeline.
package bible

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type Metadata struct {
	Book           string `json:"book"`
	Chapter        int    `json:"chapter"`
	Version        string `json:"version"`
	SentenceCount  int    `json:"sentenceCount"`
	CharacterCount int    `json:"characterCount"`
	VerseCount     int    `json:"verseCount,omitempty"`
	Source         string `json:"source,omitempty"`
}

type Chapter struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// TextSource fetches the plain text of one chapter.
type TextSource interface {
	FetchChapter(ctx context.Context, book string, chapter int, version string) (*Chapter, error)
}

type SourceConfig struct {
	Kind            string
	GatewayURL      string
	LocalURL        string
	RequestInterval time.Duration
	Timeout         time.Duration
}

// NewSource builds the configured text source: "gateway" (default) or "local".
func NewSource(cfg SourceConfig) (TextSource, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		client.Timeout = 30 * time.Second
	}

	switch cfg.Kind {
	case "", "gateway":
		return NewGatewaySource(cfg.GatewayURL, cfg.RequestInterval, client), nil
	case "local":
		return NewLocalSource(cfg.LocalURL, client), nil
	default:
		return nil, fmt.Errorf("unknown bible source: %s", cfg.Kind)
	}
}

func newMetadata(book string, chapter int, version, text, source string) Metadata {
	return Metadata{
		Book:           book,
		Chapter:        chapter,
		Version:        version,
		SentenceCount:  CountSentences(text),
		CharacterCount: len(text),
		Source:         source,
	}
}
