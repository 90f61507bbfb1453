package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/db"
	"github.com/audibible/narrator/internal/media"
	"github.com/audibible/narrator/internal/progress"
	"github.com/audibible/narrator/internal/tts"
)

const genesisText = "In the beginning God created the heavens and the earth. The earth was formless and empty. And God said, let there be light."

func credsFixture() tts.Credentials {
	return tts.Credentials{APIKey: "key", VoiceModelID: "voice"}
}

type fakeSource struct {
	text    string
	fail    map[int]error
	block   bool
	onFetch func(chapter int)
}

func (f *fakeSource) FetchChapter(ctx context.Context, book string, chapter int, version string) (*bible.Chapter, error) {
	if f.onFetch != nil {
		f.onFetch(chapter)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.fail[chapter]; err != nil {
		return nil, err
	}
	return &bible.Chapter{
		Text:     f.text,
		Metadata: bible.Metadata{Book: book, Chapter: chapter, Version: version, SentenceCount: bible.CountSentences(f.text), CharacterCount: len(f.text)},
	}, nil
}

type fakeSynth struct {
	mu        sync.Mutex
	chunks    [][]string
	introErr  error
	warnings  []string
	overshoot bool
}

func (f *fakeSynth) GenerateIntroduction(ctx context.Context, book string, chapter int, creds tts.Credentials, dir string) (string, error) {
	if f.introErr != nil {
		return "", f.introErr
	}
	path := filepath.Join(dir, "intro.mp3")
	return path, os.WriteFile(path, []byte("intro"), 0644)
}

func (f *fakeSynth) GenerateChunks(ctx context.Context, chunks []string, creds tts.Credentials, dir string, onProgress tts.ProgressFunc) (*tts.ChunkResult, error) {
	f.mu.Lock()
	f.chunks = append(f.chunks, chunks)
	f.mu.Unlock()

	res := &tts.ChunkResult{Warnings: f.warnings}
	for i := range chunks {
		onProgress(i*100/len(chunks), fmt.Sprintf("Generating audio for chunk %d/%d...", i+1, len(chunks)))
		path := filepath.Join(dir, fmt.Sprintf("chunk_%d.mp3", i+1))
		if err := os.WriteFile(path, []byte("chunk"), 0644); err != nil {
			return nil, err
		}
		res.AudioPaths = append(res.AudioPaths, path)
	}
	if f.overshoot {
		onProgress(140, "over")
		onProgress(-20, "under")
	}
	onProgress(100, "All chunks processed")
	return res, nil
}

type fakeAssembler struct {
	outDir string
	err    error
}

func (f *fakeAssembler) ProcessChapterAudio(ctx context.Context, intro string, chunks []string, book string, chapter int, version string, onProgress media.ProgressFunc) (*media.AudioResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	onProgress(0, "Starting audio merge...")
	onProgress(60, "Merging audio: 60%")
	onProgress(180, "Merging audio: 180%")
	onProgress(100, "Audio merge completed")

	name := fmt.Sprintf("%s_%d_%s_test.mp3", book, chapter, version)
	path := filepath.Join(f.outDir, name)
	if err := os.WriteFile(path, []byte("merged"), 0644); err != nil {
		return nil, err
	}
	return &media.AudioResult{
		Path:     path,
		Filename: name,
		Metadata: media.AudioMetadata{Book: book, Chapter: chapter, Version: version, Duration: 42, FileSize: 6, Bitrate: "128k"},
	}, nil
}

type fakeComposer struct {
	outDir string
	err    error
	calls  int
}

func (f *fakeComposer) CreateChapterVideo(ctx context.Context, imagePath, audioPath, book string, chapter int, version string, onProgress media.ProgressFunc) (*media.VideoResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	onProgress(10, "Creating video from image and audio...")
	onProgress(130, "Creating video: 130%")
	name := fmt.Sprintf("%s_%d_%s_VIDEO_test.mp4", book, chapter, version)
	return &media.VideoResult{
		Path:     filepath.Join(f.outDir, name),
		Filename: name,
		Metadata: media.VideoMetadata{Book: book, Chapter: chapter, Duration: 42, Type: "video"},
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Publish(jobID string, e progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]progress.Event(nil), l.events...)
}

func (l *eventLog) ofType(t progress.EventType) []progress.Event {
	var out []progress.Event
	for _, e := range l.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) steps() []string {
	var out []string
	for _, e := range l.all() {
		out = append(out, e.Step)
	}
	return out
}

type memCatalog struct {
	mu        sync.Mutex
	artifacts []*db.Artifact
}

func (m *memCatalog) Create(ctx context.Context, a *db.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
	return nil
}

type pipelineFixture struct {
	pipeline  *Pipeline
	source    *fakeSource
	synth     *fakeSynth
	assembler *fakeAssembler
	composer  *fakeComposer
	events    *eventLog
	catalog   *memCatalog
	tempDir   string
	outDir    string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	f := &pipelineFixture{
		source:  &fakeSource{text: genesisText},
		synth:   &fakeSynth{},
		events:  &eventLog{},
		catalog: &memCatalog{},
		tempDir: filepath.Join(root, "uploads"),
		outDir:  filepath.Join(root, "output"),
	}
	require.NoError(t, os.MkdirAll(f.tempDir, 0755))
	require.NoError(t, os.MkdirAll(f.outDir, 0755))
	f.assembler = &fakeAssembler{outDir: f.outDir}
	f.composer = &fakeComposer{outDir: f.outDir}
	f.pipeline = NewPipeline(PipelineDeps{
		Source:      f.source,
		Synthesizer: f.synth,
		Assembler:   f.assembler,
		Composer:    f.composer,
		Publisher:   f.events,
		Artifacts:   f.catalog,
	}, PipelineConfig{TempDir: f.tempDir, MaxChars: 4500, StageTimeout: time.Minute})
	return f
}

func chapterJob(p JobParams) Job {
	if p.Version == "" {
		p.Version = "WEB"
	}
	p.Credentials = credsFixture()
	return Job{ID: NewJobID(p, time.Now().Add(-time.Second)), Params: p}
}

func assertMonotonic(t *testing.T, events []progress.Event) {
	t.Helper()
	last := 0
	for _, e := range events {
		if e.Type != progress.TypeProgress && e.Type != progress.TypeCompleted {
			continue
		}
		require.GreaterOrEqual(t, e.Progress, last, "event %s %q went backwards", e.Step, e.Message)
		require.LessOrEqual(t, e.Progress, 100)
		last = e.Progress
	}
}

func TestGenesisScenario(t *testing.T) {
	f := newPipelineFixture(t)
	job := chapterJob(JobParams{Book: "Genesis", Chapter: 1, MaxSentences: 5})

	out, err := f.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	res := out.(*ChapterResult)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Metadata.ChunkCount)
	assert.Equal(t, 2, res.Metadata.TotalParts)
	assert.True(t, res.Metadata.HasIntroduction)
	assert.Equal(t, 42, res.Metadata.Duration)
	assert.Equal(t, "/api/download/Genesis_1_WEB_test.mp3", res.DownloadURL)
	assert.GreaterOrEqual(t, res.Metadata.ProcessingTime, int64(1000))
	require.Len(t, f.synth.chunks, 1)
	assert.Len(t, f.synth.chunks[0], 1)

	assert.Contains(t, f.events.steps(), "generate_intro")
	completed := f.events.ofType(progress.TypeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 100, completed[0].Progress)
	assert.Equal(t, "completed", completed[0].Step)
	assert.Same(t, res, completed[0].Result)

	require.Len(t, f.catalog.artifacts, 1)
	assert.Equal(t, db.KindAudio, f.catalog.artifacts[0].Kind)
	assert.Equal(t, job.ID, f.catalog.artifacts[0].JobID)

	_, statErr := os.Stat(filepath.Join(f.tempDir, job.ID))
	assert.True(t, os.IsNotExist(statErr), "working directory removed")
}

func TestStagesRunInOrder(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Genesis", Chapter: 1}))
	require.NoError(t, err)

	var order []string
	for _, s := range f.events.steps() {
		if len(order) == 0 || order[len(order)-1] != s {
			order = append(order, s)
		}
	}
	assert.Equal(t, []string{"fetch_text", "chunk_text", "generate_intro", "generate_chunks", "merge_audio", "cleanup", "completed"}, order)
}

func TestProgressIsMonotonicAndClamped(t *testing.T) {
	f := newPipelineFixture(t)
	f.synth.overshoot = true
	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Genesis", Chapter: 1, MaxSentences: 1}))
	require.NoError(t, err)

	events := f.events.all()
	assertMonotonic(t, events)

	for _, e := range events {
		switch e.Step {
		case "generate_chunks":
			assert.True(t, e.Progress >= 20 && e.Progress <= 70, "chunk progress %d", e.Progress)
		case "merge_audio":
			assert.True(t, e.Progress >= 70 && e.Progress <= 85, "merge progress %d", e.Progress)
		}
	}
}

func TestStageFailureAbortsAndCleansUp(t *testing.T) {
	f := newPipelineFixture(t)
	f.synth.introErr = errors.New("Invalid Fish.Audio API key")
	job := chapterJob(JobParams{Book: "Genesis", Chapter: 1})

	_, err := f.pipeline.Run(context.Background(), job)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "generate_intro", stageErr.Step)
	assert.Contains(t, err.Error(), "Invalid Fish.Audio API key")

	errs := f.events.ofType(progress.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "generate_intro", errs[0].Step)
	assert.Equal(t, "Invalid Fish.Audio API key", errs[0].Error)
	assert.Empty(t, f.events.ofType(progress.TypeCompleted))
	assert.Empty(t, f.synth.chunks, "later stages never run")

	_, statErr := os.Stat(filepath.Join(f.tempDir, job.ID))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, f.catalog.artifacts)
}

func TestFetchFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.fail = map[int]error{3: bible.ErrPassageNotFound}

	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "John", Chapter: 3}))

	require.ErrorIs(t, err, bible.ErrPassageNotFound)
	errs := f.events.ofType(progress.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "fetch_text", errs[0].Step)
	assert.Equal(t, "Failed to fetch Bible text", errs[0].Message)
}

func TestStageTimeout(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.block = true
	f.pipeline.cfg.StageTimeout = 20 * time.Millisecond

	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "John", Chapter: 1}))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	errs := f.events.ofType(progress.TypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "timed out")
}

func TestChunkWarningsAreReported(t *testing.T) {
	f := newPipelineFixture(t)
	f.synth.warnings = []string{"Chunk 2: Rate limit exceeded. Please try again later."}

	out, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Genesis", Chapter: 1}))
	require.NoError(t, err)

	warnings := f.events.ofType(progress.TypeWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "generate_chunks", warnings[0].Step)
	assert.Equal(t, f.synth.warnings, out.(*ChapterResult).Warnings)
}

func TestMissingImageSkipsVideo(t *testing.T) {
	f := newPipelineFixture(t)
	job := chapterJob(JobParams{Book: "Genesis", Chapter: 1, CreateVideo: true, BackgroundImagePath: filepath.Join(f.tempDir, "gone.png")})

	out, err := f.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	res := out.(*ChapterResult)
	assert.Nil(t, res.Video)
	assert.Equal(t, 0, f.composer.calls)
	assert.False(t, res.AudioDeletedForVideo)

	warnings := f.events.ofType(progress.TypeWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "create_video", warnings[0].Step)
	assert.Equal(t, "Background image not found, skipping video creation", warnings[0].Message)
	require.Len(t, f.events.ofType(progress.TypeCompleted), 1)
}

func TestVideoReplacesAudio(t *testing.T) {
	f := newPipelineFixture(t)
	image := filepath.Join(f.tempDir, "upload.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0644))
	job := chapterJob(JobParams{Book: "Genesis", Chapter: 1, CreateVideo: true, BackgroundImagePath: image})

	out, err := f.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	res := out.(*ChapterResult)
	require.NotNil(t, res.Video)
	assert.True(t, res.AudioDeletedForVideo)
	assert.Equal(t, "Transcription and video creation completed successfully", res.Message)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, db.KindVideo, res.Artifacts[0].Kind)

	_, err = os.Stat(filepath.Join(f.outDir, res.Filename))
	assert.True(t, os.IsNotExist(err), "audio deleted")
	_, err = os.Stat(image)
	assert.True(t, os.IsNotExist(err), "temporary upload deleted")

	require.Len(t, f.catalog.artifacts, 1)
	assert.Equal(t, db.KindVideo, f.catalog.artifacts[0].Kind)

	for _, e := range f.events.all() {
		if e.Step == "create_video" && e.Type == progress.TypeProgress {
			assert.True(t, e.Progress >= 85 && e.Progress <= 95, "video progress %d", e.Progress)
		}
	}
	assertMonotonic(t, f.events.all())
}

func TestPersistentImageIsKept(t *testing.T) {
	f := newPipelineFixture(t)
	dir := filepath.Join(f.tempDir, "persistent_images")
	require.NoError(t, os.MkdirAll(dir, 0755))
	image := filepath.Join(dir, "bg.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0644))

	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Genesis", Chapter: 1, CreateVideo: true, BackgroundImagePath: image}))
	require.NoError(t, err)

	_, err = os.Stat(image)
	assert.NoError(t, err)
}

func TestVideoFailureKeepsAudio(t *testing.T) {
	f := newPipelineFixture(t)
	f.composer.err = errors.New("Video creation failed: encoder missing")
	image := filepath.Join(f.tempDir, "upload.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0644))

	out, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Genesis", Chapter: 1, CreateVideo: true, BackgroundImagePath: image}))
	require.NoError(t, err)

	res := out.(*ChapterResult)
	assert.Equal(t, "Video creation failed: encoder missing", res.VideoError)
	assert.False(t, res.AudioDeletedForVideo)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, db.KindAudio, res.Artifacts[0].Kind)
	_, err = os.Stat(image)
	assert.NoError(t, err, "image kept when no video was made")
}

func TestFullBookRescalesAndToleratesChapterFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.fail = map[int]error{2: errors.New("upstream 503")}
	job := chapterJob(JobParams{Book: "Ruth", TranscribeFullBook: true})

	out, err := f.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	res := out.(*BookResult)
	assert.Equal(t, 4, res.TotalChapters)
	assert.Equal(t, 3, res.CompletedChapters)
	assert.Equal(t, []int{2}, res.FailedChapters)
	assert.Len(t, res.Artifacts, 3)

	events := f.events.all()
	assertMonotonic(t, events)

	completed := f.events.ofType(progress.TypeCompleted)
	require.Len(t, completed, 1, "only the book completes the stream")
	assert.Equal(t, "book_complete", completed[0].Step)
	assert.Equal(t, 100, completed[0].Progress)

	assert.Empty(t, f.events.ofType(progress.TypeError))
	var chapterErrors []progress.Event
	var bookSteps, chapterCompletes int
	for _, e := range events {
		switch e.Step {
		case "chapter_error":
			chapterErrors = append(chapterErrors, e)
		case "book_progress":
			bookSteps++
		case "chapter_complete":
			chapterCompletes++
			assert.Equal(t, progress.TypeProgress, e.Type)
		}
	}
	assert.Equal(t, 4, bookSteps)
	assert.Equal(t, 3, chapterCompletes)
	require.Len(t, chapterErrors, 1)
	assert.Equal(t, progress.TypeWarning, chapterErrors[0].Type)
	assert.Contains(t, chapterErrors[0].Details, "fetch_text")
	assert.Contains(t, chapterErrors[0].Message, "Chapter 2/4: ")

	for _, e := range events {
		if e.Step == "fetch_text" {
			assert.Regexp(t, `^Chapter \d/4: `, e.Message)
		}
	}

	_, statErr := os.Stat(filepath.Join(f.tempDir, job.ID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFullBookReusesBackgroundImage(t *testing.T) {
	f := newPipelineFixture(t)
	image := filepath.Join(f.tempDir, "upload.png")
	require.NoError(t, os.WriteFile(image, []byte("png"), 0644))

	out, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Ruth", TranscribeFullBook: true, CreateVideo: true, BackgroundImagePath: image}))
	require.NoError(t, err)

	res := out.(*BookResult)
	assert.Equal(t, 4, res.CompletedChapters)
	assert.Equal(t, 4, f.composer.calls, "every chapter gets a video")
	assert.Empty(t, f.events.ofType(progress.TypeWarning))

	_, err = os.Stat(image)
	assert.True(t, os.IsNotExist(err), "upload removed once the book is done")
}

func TestFullBookInterruptedEndsStream(t *testing.T) {
	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.source.onFetch = func(chapter int) {
		if chapter == 2 {
			cancel()
		}
	}
	job := chapterJob(JobParams{Book: "Ruth", TranscribeFullBook: true})

	_, err := f.pipeline.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, f.events.ofType(progress.TypeCompleted))
	errs := f.events.ofType(progress.TypeError)
	require.Len(t, errs, 1, "the book stream ends with one terminal error")
	assert.Equal(t, "book_progress", errs[0].Step)
	assert.Equal(t, 50, errs[0].Progress)
	assert.Equal(t, "Full book interrupted: Ruth (1 of 4 chapters processed)", errs[0].Message)
	assert.Contains(t, errs[0].Error, "before chapter 3")

	events := f.events.all()
	assert.Equal(t, progress.TypeError, events[len(events)-1].Type)
}

func TestFullBookUnknownBook(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.Run(context.Background(), chapterJob(JobParams{Book: "Hezekiah", TranscribeFullBook: true}))

	require.ErrorIs(t, err, bible.ErrUnknownBook)
	errs := f.events.ofType(progress.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "validation", errs[0].Step)
	assert.Equal(t, 0, errs[0].Progress)
	assert.Equal(t, "Invalid book: Hezekiah", errs[0].Message)
}

func TestSchedulerDrivesPipelineThroughChannel(t *testing.T) {
	f := newPipelineFixture(t)
	ch := progress.NewChannel(10 * time.Millisecond)
	f.pipeline.publisher = ch

	s := NewScheduler(f.pipeline, nil, queueConfig(50, 5))
	s.Start()
	defer s.Stop()

	p := JobParams{Book: "Genesis", Chapter: 1, Version: "WEB", MaxSentences: 5, Credentials: credsFixture()}
	id := NewJobID(p, time.Now())
	sink := progress.NewStreamSink(128)
	ch.Subscribe(id, sink)
	s.Submit(id, p)

	select {
	case <-sink.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream never closed")
	}
	events := sink.Drain()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.TypeCompleted, last.Type)
	assert.Equal(t, 100, last.Progress)
	assertMonotonic(t, events)

	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, JobStatusCompleted, s.History()[0].Status)
	assert.Equal(t, 0, ch.Active())
}
