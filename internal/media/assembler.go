package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNoInputs = errors.New("no audio files provided for merging")

type Config struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
	WorkDir     string
}

type AudioMetadata struct {
	Book      string    `json:"book"`
	Chapter   int       `json:"chapter"`
	Version   string    `json:"version"`
	Duration  int       `json:"duration"`
	FileSize  int64     `json:"fileSize"`
	Bitrate   string    `json:"bitrate"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type AudioResult struct {
	Path     string
	Filename string
	Metadata AudioMetadata
}

// Assembler concatenates the intro and chunk files of a chapter into one MP3.
type Assembler struct {
	ffmpegPath string
	outputDir  string
	runner     commandRunner
	probe      *prober
	now        func() time.Time
	mkdirAll   func(path string, perm os.FileMode) error
	remove     func(name string) error
	stat       func(name string) (os.FileInfo, error)
}

func NewAssembler(cfg Config) *Assembler {
	cfg = withDefaults(cfg)
	runner := &execRunner{}
	return newAssembler(cfg, runner)
}

func newAssembler(cfg Config, runner commandRunner) *Assembler {
	return &Assembler{
		ffmpegPath: cfg.FFmpegPath,
		outputDir:  cfg.OutputDir,
		runner:     runner,
		probe:      &prober{path: cfg.FFprobePath, runner: runner},
		now:        time.Now,
		mkdirAll:   os.MkdirAll,
		remove:     os.Remove,
		stat:       os.Stat,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./output"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "narrator-images")
	}
	return cfg
}

// OutputName builds "{book}_{chapter}_{version}[_VIDEO]_{timestamp}.{ext}".
func OutputName(book string, chapter int, version string, video bool, t time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	name := strings.ReplaceAll(book, " ", "_")
	if video {
		return fmt.Sprintf("%s_%d_%s_VIDEO_%s.mp4", name, chapter, version, stamp)
	}
	return fmt.Sprintf("%s_%d_%s_%s.mp3", name, chapter, version, stamp)
}

// ProcessChapterAudio merges intro + chunks into the output directory,
// probes the result and removes the merged inputs.
func (a *Assembler) ProcessChapterAudio(ctx context.Context, intro string, chunks []string, book string, chapter int, version string, onProgress ProgressFunc) (*AudioResult, error) {
	filename := OutputName(book, chapter, version, false, a.now())
	output := filepath.Join(a.outputDir, filename)

	inputs := append([]string{intro}, chunks...)
	if err := a.Merge(ctx, inputs, output, onProgress); err != nil {
		return nil, err
	}

	meta := AudioMetadata{
		Book:      book,
		Chapter:   chapter,
		Version:   version,
		Bitrate:   "128k",
		CreatedAt: a.now(),
	}
	if fi, err := a.stat(output); err == nil {
		meta.FileSize = fi.Size()
	}
	if info, err := a.probe.Probe(ctx, output); err == nil {
		meta.Duration = int(info.DurationSeconds + 0.5)
		meta.Bitrate = info.Bitrate()
		meta.Format = info.FormatName
	}

	for _, in := range inputs {
		a.remove(in)
	}

	return &AudioResult{Path: output, Filename: filename, Metadata: meta}, nil
}

// Merge writes the concatenation of inputs to output. The concat filter is
// tried first, then the concat demuxer. A single input is copied.
func (a *Assembler) Merge(ctx context.Context, inputs []string, output string, onProgress ProgressFunc) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	if onProgress == nil {
		onProgress = func(int, string) {}
	}
	if err := a.mkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if len(inputs) == 1 {
		onProgress(0, "Copying audio file...")
		if err := copyFile(inputs[0], output); err != nil {
			return fmt.Errorf("failed to copy audio file: %w", err)
		}
		onProgress(100, "Audio file copied")
		return nil
	}

	total := a.totalDuration(ctx, inputs)

	err := a.mergeWithFilter(ctx, inputs, output, total, onProgress)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if fbErr := a.mergeWithDemuxer(ctx, inputs, output, total, onProgress); fbErr != nil {
		return fmt.Errorf("Audio merge failed: %v. Fallback also failed: %v", err, fbErr)
	}
	return nil
}

func (a *Assembler) mergeWithFilter(ctx context.Context, inputs []string, output string, total float64, onProgress ProgressFunc) error {
	args := []string{"-y", "-hide_banner", "-nostats", "-progress", "pipe:1"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	args = append(args,
		"-filter_complex", fmt.Sprintf("concat=n=%d:v=0:a=1[out]", len(inputs)),
		"-map", "[out]",
		"-c:a", "libmp3lame",
		"-b:a", "128k",
		"-ac", "1",
		"-ar", "22050",
		"-f", "mp3",
		output,
	)

	onProgress(0, "Starting audio merge...")
	tracker := &progressTracker{totalSeconds: total, report: func(p int) {
		onProgress(p, fmt.Sprintf("Merging audio: %d%%", p))
	}}
	if _, err := a.runner.Run(ctx, command{Name: a.ffmpegPath, Args: args, OnLine: tracker.onLine}); err != nil {
		return err
	}
	onProgress(100, "Audio merge completed")
	return nil
}

func (a *Assembler) mergeWithDemuxer(ctx context.Context, inputs []string, output string, total float64, onProgress ProgressFunc) error {
	listFile := filepath.Join(filepath.Dir(inputs[0]), "concat_list.txt")
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer a.remove(listFile)

	args := []string{
		"-y", "-hide_banner", "-nostats", "-progress", "pipe:1",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c:a", "libmp3lame",
		"-b:a", "128k",
		output,
	}

	onProgress(0, "Starting simple audio merge...")
	tracker := &progressTracker{totalSeconds: total, report: func(p int) {
		onProgress(p, fmt.Sprintf("Simple merging: %d%%", p))
	}}
	if _, err := a.runner.Run(ctx, command{Name: a.ffmpegPath, Args: args, OnLine: tracker.onLine}); err != nil {
		return fmt.Errorf("Simple audio merge failed: %w", err)
	}
	onProgress(100, "Simple audio merge completed")
	return nil
}

func (a *Assembler) totalDuration(ctx context.Context, inputs []string) float64 {
	var total float64
	for _, in := range inputs {
		if info, err := a.probe.Probe(ctx, in); err == nil {
			total += info.DurationSeconds
		}
	}
	return total
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CheckFFmpeg reports the first line of `ffmpeg -version`.
func (a *Assembler) CheckFFmpeg(ctx context.Context) (string, error) {
	res, err := a.runner.Run(ctx, command{Name: a.ffmpegPath, Args: []string{"-version"}})
	if err != nil {
		return "", fmt.Errorf("ffmpeg not available: %w", err)
	}
	first, _, _ := strings.Cut(res.Stdout, "\n")
	return strings.TrimSpace(first), nil
}
