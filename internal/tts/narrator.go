package tts

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// ProgressFunc receives sub-progress in percent and a status line.
type ProgressFunc func(percent int, message string)

type speaker interface {
	SynthesizeToFile(ctx context.Context, text string, creds Credentials, path string) error
}

// Narrator produces the intro and chunk audio files for a chapter.
type Narrator struct {
	speaker speaker
}

type ChunkResult struct {
	AudioPaths []string
	Warnings   []string
}

func NewNarrator(s speaker) *Narrator {
	return &Narrator{speaker: s}
}

func IntroText(book string, chapter int) string {
	return fmt.Sprintf("%s, Chapter %d", book, chapter)
}

func (n *Narrator) GenerateIntroduction(ctx context.Context, book string, chapter int, creds Credentials, dir string) (string, error) {
	path := filepath.Join(dir, "intro.mp3")
	if err := n.speaker.SynthesizeToFile(ctx, IntroText(book, chapter), creds, path); err != nil {
		return "", err
	}
	return path, nil
}

// GenerateChunks synthesizes every chunk in order. Individual failures are
// collected as warnings; the call only fails when no chunk succeeded.
func (n *Narrator) GenerateChunks(ctx context.Context, chunks []string, creds Credentials, dir string, onProgress ProgressFunc) (*ChunkResult, error) {
	result := &ChunkResult{}
	total := len(chunks)

	for i, chunk := range chunks {
		if onProgress != nil {
			pct := int(math.Round(float64(i) / float64(total) * 100))
			onProgress(pct, fmt.Sprintf("Generating audio for chunk %d/%d...", i+1, total))
		}

		path := filepath.Join(dir, fmt.Sprintf("chunk_%d.mp3", i+1))
		if err := n.speaker.SynthesizeToFile(ctx, chunk, creds, path); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("Chunk %d: %v", i+1, err))
			continue
		}
		result.AudioPaths = append(result.AudioPaths, path)
	}

	if onProgress != nil {
		onProgress(100, "All chunks processed")
	}

	if len(result.AudioPaths) == 0 {
		if len(result.Warnings) == 0 {
			return nil, fmt.Errorf("no text chunks to synthesize")
		}
		return nil, fmt.Errorf("All chunks failed: %s", strings.Join(result.Warnings, "; "))
	}

	return result, nil
}
