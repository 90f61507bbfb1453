package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/chunker"
	"github.com/audibible/narrator/internal/db"
	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/media"
	"github.com/audibible/narrator/internal/tts"
)

type Synthesizer interface {
	GenerateIntroduction(ctx context.Context, book string, chapter int, creds tts.Credentials, dir string) (string, error)
	GenerateChunks(ctx context.Context, chunks []string, creds tts.Credentials, dir string, onProgress tts.ProgressFunc) (*tts.ChunkResult, error)
}

type AudioAssembler interface {
	ProcessChapterAudio(ctx context.Context, intro string, chunks []string, book string, chapter int, version string, onProgress media.ProgressFunc) (*media.AudioResult, error)
}

type VideoComposer interface {
	CreateChapterVideo(ctx context.Context, imagePath, audioPath, book string, chapter int, version string, onProgress media.ProgressFunc) (*media.VideoResult, error)
}

type ArtifactRecorder interface {
	Create(ctx context.Context, a *db.Artifact) error
}

type PipelineDeps struct {
	Source      bible.TextSource
	Synthesizer Synthesizer
	Assembler   AudioAssembler
	Composer    VideoComposer
	Publisher   Publisher
	Artifacts   ArtifactRecorder // optional
}

type PipelineConfig struct {
	TempDir             string
	PersistentImageDir  string
	MaxChars            int
	DefaultMaxSentences int
	StageTimeout        time.Duration // 0 disables
}

type ArtifactRef struct {
	Kind        string `json:"kind"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
}

type ChapterMetadata struct {
	media.AudioMetadata
	TextMetadata    bible.Metadata `json:"textMetadata"`
	ChunkCount      int            `json:"chunkCount"`
	HasIntroduction bool           `json:"hasIntroduction"`
	TotalParts      int            `json:"totalParts"`
	ProcessingTime  int64          `json:"processingTime"` // ms since submission
}

type VideoInfo struct {
	Filename    string              `json:"filename"`
	DownloadURL string              `json:"downloadUrl"`
	Metadata    media.VideoMetadata `json:"metadata"`
}

// ChapterResult is the payload of a chapter's completed event.
type ChapterResult struct {
	Success              bool            `json:"success"`
	Message              string          `json:"message"`
	Filename             string          `json:"filename"`
	DownloadURL          string          `json:"downloadUrl"`
	Artifacts            []ArtifactRef   `json:"artifacts"`
	AudioDeletedForVideo bool            `json:"audioDeletedForVideo,omitempty"`
	Metadata             ChapterMetadata `json:"metadata"`
	Video                *VideoInfo      `json:"video,omitempty"`
	VideoError           string          `json:"videoError,omitempty"`
	Warnings             []string        `json:"warnings,omitempty"`
}

type BookResult struct {
	Success           bool          `json:"success"`
	Book              string        `json:"book"`
	TotalChapters     int           `json:"totalChapters"`
	CompletedChapters int           `json:"completedChapters"`
	FailedChapters    []int         `json:"failedChapters"`
	Artifacts         []ArtifactRef `json:"artifacts"`
}

func DownloadURL(filename string) string {
	return "/api/download/" + filename
}

// Pipeline turns one job into narrated audio, and optionally video, while
// reporting progress on the job's channel.
type Pipeline struct {
	source    bible.TextSource
	synth     Synthesizer
	assembler AudioAssembler
	composer  VideoComposer
	publisher Publisher
	artifacts ArtifactRecorder
	cfg       PipelineConfig

	now       func() time.Time
	stat      func(name string) (os.FileInfo, error)
	remove    func(name string) error
	removeAll func(path string) error
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = "./uploads"
	}
	if cfg.PersistentImageDir == "" {
		cfg.PersistentImageDir = filepath.Join(cfg.TempDir, "persistent_images")
	}
	if cfg.DefaultMaxSentences <= 0 {
		cfg.DefaultMaxSentences = 5
	}
	return &Pipeline{
		source:    deps.Source,
		synth:     deps.Synthesizer,
		assembler: deps.Assembler,
		composer:  deps.Composer,
		publisher: deps.Publisher,
		artifacts: deps.Artifacts,
		cfg:       cfg,
		now:       time.Now,
		stat:      os.Stat,
		remove:    os.Remove,
		removeAll: os.RemoveAll,
	}
}

func (p *Pipeline) Run(ctx context.Context, job Job) (any, error) {
	if job.Params.TranscribeFullBook {
		return p.runBook(ctx, job)
	}
	em := newEmitter(p.publisher, job.ID, nil)
	res, err := p.runChapter(ctx, job, job.Params.Chapter, filepath.Join(p.cfg.TempDir, job.ID), em)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) runChapter(ctx context.Context, job Job, chapter int, dir string, em *emitter) (*ChapterResult, error) {
	params := job.Params
	book, version := params.Book, params.Version
	logger := logx.FromCtx(ctx).With().Str("book", book).Int("chapter", chapter).Logger()

	em.progress("fetch_text", 5,
		fmt.Sprintf("Fetching %s %d (%s)...", book, chapter, version),
		"Downloading chapter text and cleaning verse numbers")

	var text *bible.Chapter
	err := p.stage(ctx, func(ctx context.Context) (err error) {
		text, err = p.source.FetchChapter(ctx, book, chapter, version)
		return err
	})
	if err != nil {
		return nil, p.abort(ctx, em, dir, "fetch_text", 5, "Failed to fetch Bible text", err)
	}
	logger.Debug().Int("chars", len(text.Text)).Int("sentences", text.Metadata.SentenceCount).Msg("chapter text fetched")

	em.progress("chunk_text", 10, "Processing chapter text...",
		fmt.Sprintf("Processing %d sentences, %d characters", text.Metadata.SentenceCount, len(text.Text)))

	maxSentences := params.MaxSentences
	if maxSentences <= 0 {
		maxSentences = p.cfg.DefaultMaxSentences
	}
	chunks := chunker.Split(text.Text, chunker.Options{MaxSentences: maxSentences, MaxChars: p.cfg.MaxChars})
	if len(chunks) == 0 {
		return nil, p.abort(ctx, em, dir, "chunk_text", 10, "Chapter text is empty", errors.New("no sentences to narrate"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, p.abort(ctx, em, dir, "chunk_text", 10, "Failed to create working directory", err)
	}

	em.progress("generate_intro", 15, "Creating chapter introduction...",
		fmt.Sprintf("Generating %q with Fish.Audio", tts.IntroText(book, chapter)))

	var intro string
	err = p.stage(ctx, func(ctx context.Context) (err error) {
		intro, err = p.synth.GenerateIntroduction(ctx, book, chapter, params.Credentials, dir)
		return err
	})
	if err != nil {
		return nil, p.abort(ctx, em, dir, "generate_intro", 15, "Chapter introduction generation failed", err)
	}

	em.progress("generate_chunks", 20,
		fmt.Sprintf("Generating audio for %d text chunks...", len(chunks)),
		"Creating speech audio with Fish.Audio TTS")

	var speech *tts.ChunkResult
	err = p.stage(ctx, func(ctx context.Context) (err error) {
		speech, err = p.synth.GenerateChunks(ctx, chunks, params.Credentials, dir, func(pct int, msg string) {
			em.progress("generate_chunks", scale(pct, 20, 0.5, 20, 70), msg, "Processing chunk audio with Fish.Audio")
		})
		return err
	})
	if err != nil {
		return nil, p.abort(ctx, em, dir, "generate_chunks", 20, "Content audio generation failed", err)
	}
	for _, w := range speech.Warnings {
		em.warning("generate_chunks", w, "Chunk skipped, narration continues without it")
	}

	em.progress("merge_audio", 70, "Merging audio files...",
		fmt.Sprintf("Combining introduction + %d parts into single MP3", len(speech.AudioPaths)))

	var audio *media.AudioResult
	err = p.stage(ctx, func(ctx context.Context) (err error) {
		audio, err = p.assembler.ProcessChapterAudio(ctx, intro, speech.AudioPaths, book, chapter, version, func(pct int, msg string) {
			em.progress("merge_audio", scale(pct, 70, 0.15, 70, 85), msg, "Merging audio with FFmpeg")
		})
		return err
	})
	if err != nil {
		return nil, p.abort(ctx, em, dir, "merge_audio", 70, "Audio processing failed", err)
	}

	result := &ChapterResult{
		Success:     true,
		Message:     "Transcription completed successfully",
		Filename:    audio.Filename,
		DownloadURL: DownloadURL(audio.Filename),
		Metadata: ChapterMetadata{
			AudioMetadata:   audio.Metadata,
			TextMetadata:    text.Metadata,
			ChunkCount:      len(chunks),
			HasIntroduction: true,
			TotalParts:      len(chunks) + 1,
		},
		Warnings: speech.Warnings,
	}

	var video *media.VideoResult
	if params.CreateVideo && params.BackgroundImagePath != "" {
		video = p.createVideo(ctx, params, chapter, audio, result, em)
	}

	em.progress("cleanup", 95, "Cleaning up temporary files...", "Removing temporary audio chunks and processing files")
	if err := p.removeAll(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove working directory")
	}

	if !result.AudioDeletedForVideo {
		result.Artifacts = append(result.Artifacts, ArtifactRef{Kind: db.KindAudio, Filename: audio.Filename, DownloadURL: DownloadURL(audio.Filename)})
		p.record(ctx, &db.Artifact{
			JobID: job.ID, Filename: audio.Filename, Kind: db.KindAudio,
			Book: book, Chapter: chapter, Version: version,
			DurationSeconds: audio.Metadata.Duration, SizeBytes: audio.Metadata.FileSize,
			CreatedAt: audio.Metadata.CreatedAt,
		})
	}
	details := "Files ready for download: " + audio.Filename
	if video != nil {
		result.Artifacts = append(result.Artifacts, ArtifactRef{Kind: db.KindVideo, Filename: video.Filename, DownloadURL: DownloadURL(video.Filename)})
		p.record(ctx, &db.Artifact{
			JobID: job.ID, Filename: video.Filename, Kind: db.KindVideo,
			Book: book, Chapter: chapter, Version: version,
			DurationSeconds: video.Metadata.Duration, SizeBytes: video.Metadata.FileSize,
			CreatedAt: video.Metadata.CreatedAt,
		})
		details += " and " + video.Filename
	}

	if submitted, ok := JobEpoch(job.ID); ok {
		result.Metadata.ProcessingTime = p.now().Sub(submitted).Milliseconds()
	}

	em.complete(result.Message, details, result)
	logger.Info().Str("file", audio.Filename).Int("chunks", len(chunks)).Msg("chapter narrated")

	return result, nil
}

// createVideo runs the optional video stage. Its failures never fail the
// chapter: a missing image is a warning and an encoder error ends up in
// result.VideoError.
func (p *Pipeline) createVideo(ctx context.Context, params JobParams, chapter int, audio *media.AudioResult, result *ChapterResult, em *emitter) *media.VideoResult {
	logger := logx.FromCtx(ctx)
	image := params.BackgroundImagePath

	em.progress("create_video", 85, "Creating video with background image...",
		"Combining audio with static image to create MP4 video")

	if _, err := p.stat(image); err != nil {
		logger.Warn().Str("image", image).Msg("background image missing, skipping video")
		em.warning("create_video", "Background image not found, skipping video creation",
			"Video will not be created, but audio is complete")
		return nil
	}

	var video *media.VideoResult
	err := p.stage(ctx, func(ctx context.Context) (err error) {
		video, err = p.composer.CreateChapterVideo(ctx, image, audio.Path, params.Book, chapter, params.Version, func(pct int, msg string) {
			em.progress("create_video", scale(pct, 85, 0.1, 85, 95), msg, "Creating HD video with FFmpeg")
		})
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("video creation failed")
		result.VideoError = err.Error()
		em.warning("create_video", "Video creation failed, audio is still available", err.Error())
		return nil
	}

	result.Message = "Transcription and video creation completed successfully"
	result.Video = &VideoInfo{
		Filename:    video.Filename,
		DownloadURL: DownloadURL(video.Filename),
		Metadata:    video.Metadata,
	}

	// A book reuses the image for every chapter; runBook removes it at the end.
	if em.book == nil {
		p.removeImage(ctx, image)
	}
	if err := p.remove(audio.Path); err != nil {
		logger.Warn().Err(err).Msg("failed to remove audio merged into video")
	} else {
		result.AudioDeletedForVideo = true
	}

	return video
}

// stage runs fn under the per-stage timeout.
func (p *Pipeline) stage(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}
	return fn(ctx)
}

// abort reports a fatal stage failure and removes the working directory.
func (p *Pipeline) abort(ctx context.Context, em *emitter, dir, step string, pct int, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", step, p.cfg.StageTimeout, err)
	}
	em.fail(step, pct, message, err)
	if rmErr := p.removeAll(dir); rmErr != nil {
		logx.FromCtx(ctx).Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove working directory")
	}
	return &StageError{Step: step, Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

func (p *Pipeline) record(ctx context.Context, a *db.Artifact) {
	if p.artifacts == nil {
		return
	}
	if err := p.artifacts.Create(ctx, a); err != nil {
		logx.FromCtx(ctx).Warn().Err(err).Str("file", a.Filename).Msg("failed to catalog artifact")
	}
}

// removeImage deletes a one-shot uploaded image. Persistent copies stay.
func (p *Pipeline) removeImage(ctx context.Context, path string) {
	if path == "" || p.isPersistentImage(path) {
		return
	}
	if err := p.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.FromCtx(ctx).Warn().Err(err).Str("image", path).Msg("failed to remove background image")
	}
}

func (p *Pipeline) isPersistentImage(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	dir, err := filepath.Abs(p.cfg.PersistentImageDir)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, dir+string(filepath.Separator))
}

// scale maps a collaborator's sub-progress into [lo, hi] as base+p*weight.
func scale(pct, base int, weight float64, lo, hi int) int {
	v := float64(base) + float64(clamp(pct, 0, 100))*weight
	return clamp(int(math.Round(v)), lo, hi)
}
